package query

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalized is the result of folding raw query text.
type Normalized struct {
	// Text has zero-width, bidi and control code points removed and is NFC composed.
	Text string
	// Skeleton is Text after compatibility decomposition, combining-mark removal,
	// confusable folding and lower-casing. It is only ever matched against.
	Skeleton string

	ZeroWidth       bool
	Bidi            bool
	Control         bool
	Confusable      bool
	InvalidEncoding bool
	// SyntaxFolded is set when a non-ASCII code point folds to a quote, escape,
	// comment or statement delimiter. Literal boundaries in Skeleton then differ
	// from the ones the store sees in Text.
	SyntaxFolded bool
}

// HasHiddenChars reports whether any stripped code point was present.
func (n Normalized) HasHiddenChars() bool {
	return n.ZeroWidth || n.Bidi || n.Control
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\u2060', '\uFEFF', '\u180E', '\u00AD':
		return true
	}
	return false
}

func isBidi(r rune) bool {
	switch {
	case r >= '\u202A' && r <= '\u202E':
		return true
	case r >= '\u2066' && r <= '\u2069':
		return true
	case r == '\u200E', r == '\u200F', r == '\u061C':
		return true
	}
	return false
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r < 0x20 || (r >= 0x7F && r <= 0x9F)
}

func isHidden(r rune) bool {
	return isZeroWidth(r) || isBidi(r) || isControl(r)
}

// syntaxChars delimit literals, comments and statements.
const syntaxChars = "'\"`\\;/*"

// foldsToSyntax reports whether r is a non-ASCII stand-in for a syntax character.
func foldsToSyntax(r rune) bool {
	if r < utf8.RuneSelf {
		return false
	}
	if c, ok := confusables[r]; ok && strings.ContainsRune(syntaxChars, c) {
		return true
	}
	return strings.ContainsAny(norm.NFKD.String(string(r)), syntaxChars)
}

var (
	stripHidden = runes.Remove(runes.Predicate(isHidden))
	stripMarks  = runes.Remove(runes.In(unicode.Mn))
)

// Normalize classifies and folds raw. It never fails: invalid UTF-8 is reported
// and replaced by U+FFFD.
func Normalize(raw string) Normalized {
	var n Normalized
	for i, r := range raw {
		switch {
		case r == utf8.RuneError:
			if _, size := utf8.DecodeRuneInString(raw[i:]); size <= 1 {
				n.InvalidEncoding = true
			}
		case isZeroWidth(r):
			n.ZeroWidth = true
		case isBidi(r):
			n.Bidi = true
		case isControl(r):
			n.Control = true
		}
	}
	if n.InvalidEncoding {
		raw = strings.ToValidUTF8(raw, "\uFFFD")
	}

	text, _, err := transform.String(transform.Chain(stripHidden, norm.NFC), raw)
	if err != nil {
		text = norm.NFC.String(raw)
	}
	n.Text = text
	for _, r := range text {
		if foldsToSyntax(r) {
			n.SyntaxFolded = true
			break
		}
	}

	if norm.NFKC.String(text) != text {
		n.Confusable = true
	}
	decomposed, _, err := transform.String(transform.Chain(norm.NFKD, stripMarks), text)
	if err != nil {
		decomposed = norm.NFKD.String(text)
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if c, ok := confusables[r]; ok {
			n.Confusable = true
			r = c
		}
		b.WriteRune(unicode.ToLower(r))
	}
	n.Skeleton = b.String()
	return n
}
