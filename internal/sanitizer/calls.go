package sanitizer

import (
	"strings"

	"github.com/straja-ai/graphgate/internal/lexer"
)

// callSite is a procedure or function invocation found in the token stream.
type callSite struct {
	name string   // dotted, lower-cased, backticks removed
	args []string // contents of string literal arguments
}

// findCalls collects call targets: a dotted name preceded by CALL, or any name
// immediately followed by "(". Quoted identifier segments are unwrapped so that
// `dbms`.`components` is seen as dbms.components.
func findCalls(toks []lexer.Token) []callSite {
	var out []callSite
	for i := 0; i < len(toks); i++ {
		if !isNamePart(toks[i]) || (i > 0 && toks[i-1].IsPunct(".")) {
			continue
		}
		afterCall := i > 0 && toks[i-1].Is("CALL")

		var b strings.Builder
		b.WriteString(namePart(toks[i]))
		j := i + 1
		dotted := false
		for j+1 < len(toks) && toks[j].IsPunct(".") && isNamePart(toks[j+1]) {
			b.WriteByte('.')
			b.WriteString(namePart(toks[j+1]))
			dotted = true
			j += 2
		}
		open := j < len(toks) && toks[j].IsPunct("(")
		if !(afterCall || (open && (dotted || toks[i].Kind != lexer.Keyword))) {
			i = j - 1
			continue
		}

		site := callSite{name: b.String()}
		if open {
			depth := 0
			for k := j; k < len(toks); k++ {
				switch {
				case toks[k].IsPunct("("):
					depth++
				case toks[k].IsPunct(")"):
					depth--
				case toks[k].Kind == lexer.String:
					site.args = append(site.args, toks[k].Text[1:len(toks[k].Text)-1])
				}
				if depth == 0 {
					break
				}
			}
		}
		out = append(out, site)
		i = j - 1
	}
	return out
}

func isNamePart(t lexer.Token) bool {
	return t.Kind == lexer.Ident || t.Kind == lexer.QuotedIdent || t.Kind == lexer.Keyword
}

func namePart(t lexer.Token) string {
	if t.Kind == lexer.QuotedIdent {
		inner := t.Text[1 : len(t.Text)-1]
		return strings.ToLower(strings.ReplaceAll(inner, "``", "`"))
	}
	return strings.ToLower(t.Text)
}

func hasPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
