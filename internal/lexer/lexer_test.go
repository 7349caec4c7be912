package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, 0, len(toks))
	for _, t := range toks {
		out = append(out, t.Kind)
	}
	return out
}

func TestAll_BasicMatch(t *testing.T) {
	toks := All("MATCH (n:Person {name: 'Ann'}) RETURN n")
	require.Len(t, toks, 13)
	assert.True(t, toks[0].Is("MATCH"))
	assert.Equal(t, Ident, toks[2].Kind)
	assert.Equal(t, "n", toks[2].Text)
	assert.Equal(t, String, toks[8].Kind)
	assert.Equal(t, "'Ann'", toks[8].Text)
	assert.True(t, toks[11].Is("RETURN"))
}

func TestAll_RangeDoesNotLexAsFloat(t *testing.T) {
	toks := All("*1..5")
	assert.Equal(t, []Kind{Punct, Number, Punct, Number}, kinds(toks))
	assert.Equal(t, "..", toks[2].Text)

	toks = All("RETURN 1.5")
	require.Len(t, toks, 2)
	assert.Equal(t, "1.5", toks[1].Text)
}

func TestAll_CommentsParamsAndSemicolons(t *testing.T) {
	toks := All("MATCH (n) // trailing\nWHERE n.id = $id; /* block */")
	var got []Kind
	for _, tk := range toks {
		if tk.Kind == LineComment || tk.Kind == BlockComment || tk.Kind == Param || tk.Kind == Semicolon {
			got = append(got, tk.Kind)
		}
	}
	assert.Equal(t, []Kind{LineComment, Param, Semicolon, BlockComment}, got)
}

func TestAll_EscapedQuotes(t *testing.T) {
	toks := All(`RETURN 'it\'s; fine', "a\"b"`)
	require.Len(t, toks, 4)
	assert.Equal(t, String, toks[1].Kind)
	assert.Equal(t, String, toks[3].Kind)
}

func TestAll_UnterminatedString(t *testing.T) {
	toks := All("RETURN 'open")
	require.Len(t, toks, 2)
	assert.Equal(t, Invalid, toks[1].Kind)
}

func TestMask(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		want   string
		unterm bool
		cmt    bool
	}{
		{name: "literal with semicolon", input: "MATCH (n {name: 'a;DROP'}) RETURN n", want: "MATCH (n {name: ''}) RETURN n"},
		{name: "backtick ident", input: "MATCH (n:`DELETE`) RETURN n", want: "MATCH (n:``) RETURN n"},
		{name: "comment kept", input: "RETURN 1 // x", want: "RETURN 1 // x", cmt: true},
		{name: "unterminated", input: "RETURN 'x; DROP", want: "RETURN '", unterm: true},
		{name: "whitespace preserved", input: "MATCH  (n)\n\tRETURN n", want: "MATCH  (n)\n\tRETURN n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, info := Mask(tc.input)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.unterm, info.Unterminated)
			assert.Equal(t, tc.cmt, info.HasComment)
		})
	}
}

func TestMask_CollectsLiterals(t *testing.T) {
	_, info := Mask(`RETURN 'a', "b c"`)
	assert.Equal(t, []string{"a", "b c"}, info.Literals)
}
