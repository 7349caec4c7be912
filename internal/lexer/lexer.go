// Package lexer tokenizes Cypher text in a single forward pass.
//
// The lexer never backtracks and never allocates per character, so it is safe to
// run on every request, including hostile ones. It is deliberately shallow: it knows
// enough about literals, comments, parameters and punctuation for the sanitizer and
// the complexity analyzer, and nothing about grammar.
package lexer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type Kind int

const (
	Invalid Kind = iota
	Ident
	Keyword
	Number
	String
	QuotedIdent
	Param
	Punct
	Semicolon
	LineComment
	BlockComment
)

func (k Kind) String() string {
	switch k {
	case Ident:
		return "ident"
	case Keyword:
		return "keyword"
	case Number:
		return "number"
	case String:
		return "string"
	case QuotedIdent:
		return "quoted_ident"
	case Param:
		return "param"
	case Punct:
		return "punct"
	case Semicolon:
		return "semicolon"
	case LineComment:
		return "line_comment"
	case BlockComment:
		return "block_comment"
	default:
		return "invalid"
	}
}

// Token is a slice of the source. Text aliases the input; Upper is only set for
// keywords.
type Token struct {
	Kind  Kind
	Text  string
	Upper string
	Pos   int
}

// Is reports whether t is the keyword kw (upper case).
func (t Token) Is(kw string) bool {
	return t.Kind == Keyword && t.Upper == kw
}

// IsPunct reports whether t is the punctuation p.
func (t Token) IsPunct(p string) bool {
	return t.Kind == Punct && t.Text == p
}

var keywords = map[string]struct{}{
	"MATCH": {}, "OPTIONAL": {}, "WHERE": {}, "RETURN": {}, "WITH": {}, "UNWIND": {},
	"ORDER": {}, "BY": {}, "SKIP": {}, "LIMIT": {}, "UNION": {}, "ALL": {}, "DISTINCT": {},
	"CREATE": {}, "MERGE": {}, "DELETE": {}, "DETACH": {}, "SET": {}, "REMOVE": {},
	"DROP": {}, "ALTER": {}, "RENAME": {}, "FOREACH": {}, "CALL": {}, "YIELD": {},
	"LOAD": {}, "CSV": {}, "FROM": {}, "USING": {}, "PERIODIC": {}, "COMMIT": {},
	"IN": {}, "TRANSACTIONS": {}, "AND": {}, "OR": {}, "XOR": {}, "NOT": {}, "AS": {},
	"CASE": {}, "WHEN": {}, "THEN": {}, "ELSE": {}, "END": {}, "EXISTS": {},
	"ON": {}, "INDEX": {}, "CONSTRAINT": {}, "DATABASE": {}, "USER": {}, "ROLE": {},
	"GRANT": {}, "REVOKE": {}, "DENY": {}, "SHOW": {}, "START": {}, "STOP": {},
	"IS": {}, "NULL": {}, "ASC": {}, "DESC": {}, "ASCENDING": {}, "DESCENDING": {},
}

// IsKeyword reports whether word (any case) is a recognized keyword.
func IsKeyword(word string) bool {
	_, ok := keywords[strings.ToUpper(word)]
	return ok
}

// Lexer yields tokens from src. The zero value is not usable; call New.
type Lexer struct {
	src string
	pos int
}

func New(src string) *Lexer {
	return &Lexer{src: src}
}

// Next returns the next token and false once the input is exhausted.
func (l *Lexer) Next() (Token, bool) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return Token{}, false
	}
	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '/' && l.peek(1) == '/':
		end := strings.IndexByte(l.src[l.pos:], '\n')
		if end < 0 {
			l.pos = len(l.src)
		} else {
			l.pos += end
		}
		return l.tok(LineComment, start), true
	case c == '/' && l.peek(1) == '*':
		end := strings.Index(l.src[l.pos+2:], "*/")
		if end < 0 {
			l.pos = len(l.src)
			return l.tok(Invalid, start), true
		}
		l.pos += end + 4
		return l.tok(BlockComment, start), true
	case c == '\'' || c == '"':
		if !l.scanQuoted(c, true) {
			return l.tok(Invalid, start), true
		}
		return l.tok(String, start), true
	case c == '`':
		if !l.scanQuoted('`', false) {
			return l.tok(Invalid, start), true
		}
		return l.tok(QuotedIdent, start), true
	case c == '$':
		l.pos++
		l.scanWord()
		return l.tok(Param, start), true
	case c == ';':
		l.pos++
		return l.tok(Semicolon, start), true
	case isDigit(c):
		l.scanNumber()
		return l.tok(Number, start), true
	case isWordStart(l.src[l.pos:]):
		l.scanWord()
		t := l.tok(Ident, start)
		upper := strings.ToUpper(t.Text)
		if _, ok := keywords[upper]; ok {
			t.Kind = Keyword
			t.Upper = upper
		}
		return t, true
	}

	if l.pos+1 < len(l.src) {
		switch l.src[l.pos : l.pos+2] {
		case "..", "<=", ">=", "<>", "=~", "+=":
			l.pos += 2
			return l.tok(Punct, start), true
		}
	}
	_, size := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += size
	return l.tok(Punct, start), true
}

// All tokenizes src completely.
func All(src string) []Token {
	l := New(src)
	out := make([]Token, 0, len(src)/4+1)
	for {
		t, ok := l.Next()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

func (l *Lexer) tok(k Kind, start int) Token {
	return Token{Kind: k, Text: l.src[start:l.pos], Pos: start}
}

func (l *Lexer) peek(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

// scanQuoted consumes a quoted run starting at the opening quote. Backslash escapes
// apply to string literals; backtick identifiers escape by doubling.
func (l *Lexer) scanQuoted(q byte, escapes bool) bool {
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case escapes && c == '\\':
			l.pos += 2
		case c == q:
			if !escapes && l.peek(1) == q {
				l.pos += 2
				continue
			}
			l.pos++
			return true
		default:
			l.pos++
		}
	}
	l.pos = len(l.src)
	return false
}

func (l *Lexer) scanNumber() {
	if l.src[l.pos] == '0' && (l.peek(1) == 'x' || l.peek(1) == 'X' || l.peek(1) == 'o') {
		l.pos += 2
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || isHexLetter(l.src[l.pos])) {
			l.pos++
		}
		return
	}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isDigit(c), c == '_':
			l.pos++
		case c == '.' && isDigit(l.peek(1)):
			l.pos++
		case (c == 'e' || c == 'E') && (isDigit(l.peek(1)) || l.peek(1) == '-'):
			l.pos += 2
		default:
			return
		}
	}
}

func (l *Lexer) scanWord() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return
		}
		l.pos += size
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexLetter(c byte) bool {
	return (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isWordStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}
