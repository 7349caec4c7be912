package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/straja-ai/graphgate/internal/query"
)

func TestReadOnly(t *testing.T) {
	tests := []struct {
		name  string
		query string
		ok    bool
		code  string
	}{
		{"plain read", "MATCH (n:Person) RETURN n.name LIMIT 5", true, ""},
		{"create", "CREATE (n:Person {name: 'x'})", false, CodeReadOnly},
		{"lower case merge", "merge (n:Person {id: 1}) return n", false, CodeReadOnly},
		{"set after match", "MATCH (n) SET n.flag = true", false, CodeReadOnly},
		{"detach delete", "MATCH (n) DETACH DELETE n", false, CodeReadOnly},
		{"keyword in string", "MATCH (n) WHERE n.note = 'CREATE later' RETURN n", true, ""},
		{"keyword as property", "MATCH (n) RETURN n.set, n.delete", true, ""},
		{"keyword as map key", "RETURN {set: 1, create: 2} AS m", true, ""},
		{"keyword as label", "MATCH (n:Merge) RETURN n", true, ""},
		{"keyword in comment", "MATCH (n) RETURN n // CREATE", true, ""},
		{"write procedure", "CALL apoc.create.node(['X'], {})", false, CodeWriteProcedure},
		{"quoted write procedure", "CALL `apoc`.`merge`.node(['X'], {})", false, CodeWriteProcedure},
		{"read procedure", "CALL db.labels() YIELD label RETURN label", true, ""},
		{"homoglyph create", "MATCH (n) CR\u0415ATE (m)", false, CodeReadOnly},
		{"fullwidth quote inside literal", "MATCH (n) WHERE n.x <> '\uFF07' DETACH DELETE n //'", false, CodeReadOnly},
		{"fullwidth backslash inside literal", "MATCH (n) WHERE n.x = 'a\uFE68' SET n.y = 1 //'", false, CodeReadOnly},
	}
	p := NewReadOnly()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Check(context.Background(), query.New(tt.query, nil))
			assert.Equal(t, tt.ok, d.Allowed, d.Reason)
			assert.Equal(t, tt.code, d.Code)
			assert.Equal(t, "read_only", d.Policy)
		})
	}
}

func TestAllowAll(t *testing.T) {
	d := AllowAll().Check(context.Background(), query.New("CREATE (n)", nil))
	assert.True(t, d.Allowed)
	assert.Equal(t, "allow_all", d.Policy)
}
