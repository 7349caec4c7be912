package lexer

import "strings"

// MaskInfo describes what Mask removed or observed.
type MaskInfo struct {
	Unterminated bool
	HasComment   bool
	Literals     []string // contents of string literals, in order
}

// Mask returns src with the contents of string literals and quoted identifiers
// replaced by empty quotes. Whitespace, comments and every other token are kept in
// place, so structural patterns can be matched without tripping on literal text.
func Mask(src string) (string, MaskInfo) {
	var (
		info MaskInfo
		b    strings.Builder
		last int
	)
	b.Grow(len(src))
	l := New(src)
	for {
		t, ok := l.Next()
		if !ok {
			break
		}
		b.WriteString(src[last:t.Pos])
		last = t.Pos + len(t.Text)
		switch t.Kind {
		case String:
			q := t.Text[0]
			b.WriteByte(q)
			b.WriteByte(q)
			info.Literals = append(info.Literals, t.Text[1:len(t.Text)-1])
		case QuotedIdent:
			b.WriteString("``")
		case LineComment, BlockComment:
			info.HasComment = true
			b.WriteString(t.Text)
		case Invalid:
			info.Unterminated = true
			if strings.HasPrefix(t.Text, "/*") {
				info.HasComment = true
				b.WriteString(t.Text)
			} else {
				b.WriteByte(t.Text[0])
			}
		default:
			b.WriteString(t.Text)
		}
	}
	b.WriteString(src[last:])
	return b.String(), info
}
