package sanitizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/query"
)

func newSanitizer(t *testing.T, mutate func(*config.Config)) *Sanitizer {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func eval(s *Sanitizer, raw string) Verdict {
	return s.Evaluate(query.New(raw, nil))
}

func TestEvaluate_ScenarioA(t *testing.T) {
	s := newSanitizer(t, nil)
	v := eval(s, "MATCH (n) RETURN n; DROP DATABASE neo4j")

	assert.False(t, v.Safe)
	assert.Equal(t, []RuleID{RuleStatementChaining, RuleSchemaCommand, RuleAdminCommand}, v.Rules())
	assert.Equal(t, RuleStatementChaining, v.Code())
	assert.Contains(t, v.Reason(), "multiple statements")
	assert.NotContains(t, v.Reason(), `\s`)
	assert.Equal(t, "query", v.Violations[0].Location)
}

func TestEvaluate_StatementChainingAlwaysFlagged(t *testing.T) {
	s := newSanitizer(t, func(c *config.Config) { c.Query.Mode = config.ModeReadWrite })
	bases := []string{"MATCH (n) RETURN n", "RETURN 1", "MATCH (a)-[:R]->(b) RETURN a, b LIMIT 5"}
	tails := []string{"MATCH (m) RETURN m", "CREATE (x)", "CALL db.labels()", "RETURN 2", "  ;  MATCH (z) RETURN z"}
	for _, b := range bases {
		for _, tail := range tails {
			for _, sep := range []string{";", "; ", ";\n"} {
				raw := b + sep + tail
				v := eval(s, raw)
				assert.False(t, v.Safe, raw)
				assert.True(t, v.Has(RuleStatementChaining), raw)
			}
		}
	}
}

func TestEvaluate_SafeQueries(t *testing.T) {
	s := newSanitizer(t, nil)
	cases := []string{
		"MATCH (n:Person {name: 'a;DROP DATABASE x'}) RETURN n LIMIT 1",
		"MATCH (p:Page {url: 'https://example.com/a'}) RETURN p LIMIT 1",
		"RETURN '// not a comment' LIMIT 1",
		"MATCH (n) WHERE n.set = 1 RETURN n LIMIT 1",
		"MATCH (n:Delete) RETURN n LIMIT 1",
		"MATCH (n:`DROP`) RETURN n LIMIT 1",
		"CALL db.labels() YIELD label RETURN label LIMIT 5",
		"MATCH (n) WHERE n.created > 1 RETURN count(n) LIMIT 1",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			v := eval(s, raw)
			assert.True(t, v.Safe, "%v", v.Violations)
			assert.Empty(t, v.Warnings)
			assert.Equal(t, raw, v.NormalizedText)
		})
	}
}

func TestEvaluate_HiddenCharactersExposed(t *testing.T) {
	s := newSanitizer(t, nil)
	plain := "MATCH (n) RETURN n; DROP DATABASE neo4j"
	cases := []struct {
		name string
		raw  string
		rule RuleID
	}{
		{name: "zero width space", raw: "MATCH (n) RETURN n; DR\u200BOP DATABASE neo4j", rule: RuleZeroWidth},
		{name: "zero width joiner", raw: "MATCH (n) RETURN n;\u200D DROP DATA\u200DBASE neo4j", rule: RuleZeroWidth},
		{name: "rtl override", raw: "MATCH (n) RETURN n; \u202EDROP\u202C DATABASE neo4j", rule: RuleBidiOverride},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := eval(s, tc.raw)
			assert.False(t, v.Safe)
			assert.Equal(t, tc.rule, v.Code())
			assert.True(t, v.Has(RuleStatementChaining))
			assert.True(t, v.Has(RuleAdminCommand))
			assert.Equal(t, query.Normalize(plain).Text, v.NormalizedText)
		})
	}
}

func TestEvaluate_HiddenKeywordExposedWhenCharClassAllowed(t *testing.T) {
	s := newSanitizer(t, func(c *config.Config) { c.Sanitizer.DeniedCharClasses = []string{} })
	v := eval(s, "MATCH (n) DE\u200BTACH DEL\u200DETE n")
	assert.Equal(t, []RuleID{RuleWriteClause}, v.Rules())
}

func TestEvaluate_HomoglyphKeywordExposed(t *testing.T) {
	raw := "MATCH (n) CR\u0415ATE (m)" // cyrillic capital ie
	s := newSanitizer(t, nil)
	v := eval(s, raw)
	assert.Equal(t, []RuleID{RuleWriteClause}, v.Rules())
	assert.Contains(t, v.Warnings, WarnConfusableFolded)
	assert.Equal(t, raw, v.NormalizedText)

	strict := newSanitizer(t, func(c *config.Config) {
		c.Sanitizer.DeniedCharClasses = append(c.Sanitizer.DeniedCharClasses, config.CharClassConfusable)
	})
	v = eval(strict, raw)
	assert.Equal(t, []RuleID{RuleConfusable, RuleWriteClause}, v.Rules())
}

func TestEvaluate_Comments(t *testing.T) {
	s := newSanitizer(t, nil)
	assert.Equal(t, []RuleID{RuleCommentInjection}, eval(s, "MATCH (n) // note\nRETURN n LIMIT 1").Rules())
	assert.Equal(t, []RuleID{RuleCommentInjection}, eval(s, "MATCH (n) /* x */ RETURN n LIMIT 1").Rules())

	off := newSanitizer(t, func(c *config.Config) { c.Sanitizer.DisabledRules = []string{"comment_injection"} })
	assert.True(t, eval(off, "MATCH (n) // note\nRETURN n LIMIT 1").Safe)
}

func TestEvaluate_ReadOnlyMode(t *testing.T) {
	ro := newSanitizer(t, nil)
	rw := newSanitizer(t, func(c *config.Config) { c.Query.Mode = config.ModeReadWrite })
	cases := []struct {
		raw    string
		ro, rw []RuleID
	}{
		{raw: "CREATE (n:Person)", ro: []RuleID{RuleWriteClause}},
		{raw: "MATCH (n) SET n.x = 1", ro: []RuleID{RuleWriteClause}},
		{raw: "MATCH (n) DETACH DELETE n", ro: []RuleID{RuleWriteClause}},
		{raw: "MERGE (n {id: 1})", ro: []RuleID{RuleWriteClause}},
		{raw: "MATCH (n) REMOVE n:Tmp", ro: []RuleID{RuleWriteClause}},
		{raw: "MATCH (n) FOREACH (x IN [1] | SET n.x = x)", ro: []RuleID{RuleWriteClause}},
		{raw: "CREATE INDEX idx FOR (n:P) ON (n.x)", ro: []RuleID{RuleWriteClause, RuleSchemaCommand}},
		{raw: "DROP INDEX idx", ro: []RuleID{RuleSchemaCommand}},
		{raw: "DROP DATABASE neo4j", ro: []RuleID{RuleSchemaCommand, RuleAdminCommand}, rw: []RuleID{RuleAdminCommand}},
		{raw: "SHOW USERS", ro: []RuleID{RuleAdminCommand}, rw: []RuleID{RuleAdminCommand}},
		{raw: "GRANT ROLE reader TO bob", ro: []RuleID{RuleAdminCommand}, rw: []RuleID{RuleAdminCommand}},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.ro, eval(ro, tc.raw).Rules(), "read_only")
			assert.Equal(t, tc.rw, nilIfEmpty(eval(rw, tc.raw).Rules()), "read_write")
		})
	}
}

func TestEvaluate_CallInTransactions(t *testing.T) {
	v := eval(newSanitizer(t, nil), "CALL { MATCH (n) RETURN n } IN TRANSACTIONS")
	assert.Equal(t, []RuleID{RuleWriteClause}, v.Rules())
	assert.Contains(t, v.Warnings, WarnMissingLimit)
}

func TestEvaluate_Procedures(t *testing.T) {
	s := newSanitizer(t, nil)
	cases := []struct {
		raw  string
		want []RuleID
	}{
		{raw: "CALL dbms.components() YIELD name RETURN name LIMIT 1", want: []RuleID{RuleDeniedProcedure}},
		{raw: "CALL dbms.security.listUsers", want: []RuleID{RuleDeniedProcedure}},
		{raw: "CALL `dbms`.`components`() YIELD name RETURN name LIMIT 1", want: []RuleID{RuleDeniedProcedure}},
		{raw: "RETURN apoc.cypher.runFirstColumn('MATCH (n) DETACH DELETE n', {}) AS x LIMIT 1", want: []RuleID{RuleDeniedProcedure}},
		{raw: "CALL apoc.periodic.iterate('MATCH (n) RETURN n', 'DELETE n', {})", want: []RuleID{RuleDeniedProcedure}},
		{raw: "CALL db.createLabel('X')", want: []RuleID{RuleDeniedProcedure}},
		{raw: "LOAD CSV FROM 'file:///etc/passwd' AS row RETURN row LIMIT 1", want: []RuleID{RuleFileNetworkAccess}},
		{raw: "CALL apoc.load.json('https://evil.example/x') YIELD value RETURN value LIMIT 1", want: []RuleID{RuleFileNetworkAccess}},
		{raw: "RETURN apoc.text.join(['file:/etc/hosts'], ',') AS x LIMIT 1", want: []RuleID{RuleFileNetworkAccess}},
		{raw: "CALL gds.graph.export('g', {})", want: []RuleID{RuleFileNetworkAccess}},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, eval(s, tc.raw).Rules())
		})
	}
}

func TestEvaluate_CustomDeniedProcedures(t *testing.T) {
	s := newSanitizer(t, func(c *config.Config) { c.Sanitizer.DeniedProcedures = []string{"custom.danger"} })
	assert.True(t, eval(s, "CALL custom.dangerZone()").Has(RuleDeniedProcedure))
	assert.True(t, eval(s, "CALL dbms.components() YIELD name RETURN name LIMIT 1").Safe)
}

func TestEvaluate_Params(t *testing.T) {
	s := newSanitizer(t, nil)
	q := query.New("MATCH (n) WHERE n.name = $name RETURN n LIMIT 1", map[string]any{
		"name":     "Grant Smith",
		"ids":      []any{1, 2, "x"},
		"bad-name": 1,
		"nested":   []any{[]any{1}},
		"obj":      map[string]any{"a": 1},
		"inj":      "x'; DROP DATABASE neo4j",
		"zw":       "DR\u200BOP",
	})
	v := s.Evaluate(q)
	assert.False(t, v.Safe)
	assert.Equal(t, []Violation{
		{Rule: RuleParamInvalidName, Location: "param:bad-name", Message: "parameter name is not a valid identifier"},
		{Rule: RuleStatementChaining, Location: "param:inj", Message: "multiple statements are not allowed"},
		{Rule: RuleAdminCommand, Location: "param:inj", Message: "administration commands are not allowed"},
		{Rule: RuleParamInvalidType, Location: "param:nested", Message: "parameter must be a scalar or a list of scalars"},
		{Rule: RuleParamInvalidType, Location: "param:obj", Message: "parameter must be a scalar or a list of scalars"},
		{Rule: RuleZeroWidth, Location: "param:zw", Message: "zero-width characters are not allowed"},
	}, v.Violations)
}

func TestEvaluate_ParamValues(t *testing.T) {
	s := newSanitizer(t, nil)
	cases := []struct {
		name  string
		value any
		want  RuleID
	}{
		{name: "procedure name", value: "apoc.cypher.run", want: RuleDeniedProcedure},
		{name: "file url", value: "file:///etc/passwd", want: RuleFileNetworkAccess},
		{name: "load csv", value: "x LOAD CSV FROM y", want: RuleFileNetworkAccess},
		{name: "block comment", value: "a /* b", want: RuleCommentInjection},
		{name: "in list", value: []string{"ok", "1; MATCH (n) DETACH DELETE n"}, want: RuleStatementChaining},
		{name: "create user", value: "create user mallory", want: RuleAdminCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := s.Evaluate(query.New("RETURN $p LIMIT 1", map[string]any{"p": tc.value}))
			assert.True(t, v.Has(tc.want), "%v", v.Violations)
			assert.Equal(t, "param:p", v.Violations[0].Location)
		})
	}

	ok := s.Evaluate(query.New("RETURN $p LIMIT 1", map[string]any{"p": "https://example.com/page"}))
	assert.True(t, ok.Safe, "%v", ok.Violations)

	// parameter values are never parsed, so look-alike quotes are only folded
	ok = s.Evaluate(query.New("RETURN $p LIMIT 1", map[string]any{"p": "O\uFF07Brien"}))
	assert.True(t, ok.Safe, "%v", ok.Violations)
}

func TestEvaluate_ParamLimits(t *testing.T) {
	s := newSanitizer(t, func(c *config.Config) {
		c.Query.MaxParams = 2
		c.Query.MaxParamLength = 8
	})
	v := s.Evaluate(query.New("RETURN $a, $b, $c LIMIT 1", map[string]any{"a": 1, "b": 2, "c": 3}))
	assert.Equal(t, []RuleID{RuleParamLimit}, v.Rules())

	v = s.Evaluate(query.New("RETURN $a LIMIT 1", map[string]any{"a": "abcdefghij"}))
	assert.Equal(t, []RuleID{RuleParamTooLong}, v.Rules())
}

func TestEvaluate_TruncatesViolations(t *testing.T) {
	s := newSanitizer(t, func(c *config.Config) { c.Sanitizer.MaxViolations = 2 })
	v := eval(s, "MATCH (n) RETURN n; DROP DATABASE neo4j")
	assert.Len(t, v.Violations, 2)
	assert.True(t, v.Truncated)
	assert.Contains(t, v.Reason(), "1+ more")
}

func TestEvaluate_QueryTooLongIsExclusive(t *testing.T) {
	s := newSanitizer(t, func(c *config.Config) { c.Query.MaxLength = 16 })
	v := eval(s, "MATCH (n) RETURN n; DROP DATABASE neo4j")
	assert.Equal(t, []RuleID{RuleQueryTooLong}, v.Rules())
	assert.Empty(t, v.Warnings)
	assert.Empty(t, v.NormalizedText)

	v = s.Evaluate(query.NewClamped(strings.Repeat("x", 1<<16), nil))
	assert.Equal(t, []RuleID{RuleQueryTooLong}, v.Rules())
}

func TestEvaluate_UnterminatedLiteral(t *testing.T) {
	v := eval(newSanitizer(t, nil), "MATCH (n {name: 'abc}) RETURN n")
	assert.Equal(t, []RuleID{RuleUnterminatedLiteral}, v.Rules())
}

func TestEvaluate_SyntaxLookalikesInsideLiterals(t *testing.T) {
	s := newSanitizer(t, nil)
	cases := []struct {
		name string
		raw  string
		want []RuleID
	}{
		{
			name: "fullwidth apostrophe hides chaining",
			raw:  "MATCH (n) RETURN '\uFF07' ; DROP DATABASE neo4j //'",
			want: []RuleID{RuleSyntaxConfusable, RuleStatementChaining, RuleCommentInjection},
		},
		{
			name: "fullwidth apostrophe hides delete",
			raw:  "MATCH (n) WHERE n.x <> '\uFF07' DETACH DELETE n //'",
			want: []RuleID{RuleSyntaxConfusable, RuleCommentInjection, RuleWriteClause},
		},
		{name: "fullwidth quotation mark", raw: "RETURN \"\uFF02\" LIMIT 1", want: []RuleID{RuleSyntaxConfusable}},
		{name: "fullwidth grave accent", raw: "RETURN `\uFF40` LIMIT 1", want: []RuleID{RuleSyntaxConfusable}},
		{name: "small reverse solidus", raw: "RETURN 'a\uFE68' LIMIT 1", want: []RuleID{RuleSyntaxConfusable}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := eval(s, tc.raw)
			assert.False(t, v.Safe)
			for _, id := range tc.want {
				assert.Contains(t, v.Rules(), id)
			}
		})
	}

	v := eval(s, "MATCH (n) WHERE n.name = '\uFF21\uFF22' RETURN n LIMIT 1")
	assert.True(t, v.Safe, "fullwidth letters fold without moving literal boundaries")
	assert.Contains(t, v.Warnings, WarnConfusableFolded)
}

func TestEvaluate_Warnings(t *testing.T) {
	s := newSanitizer(t, nil)
	v := eval(s, "MATCH (n) RETURN n LIMIT 1;")
	assert.True(t, v.Safe)
	assert.Equal(t, []string{WarnTrailingSemicolon}, v.Warnings)

	v = eval(s, "MATCH (n) RETURN n")
	assert.True(t, v.Safe)
	assert.Equal(t, []string{WarnMissingLimit}, v.Warnings)

	off := false
	quiet := newSanitizer(t, func(c *config.Config) { c.Sanitizer.WarnMissingLimit = &off })
	assert.Empty(t, eval(quiet, "MATCH (n) RETURN n").Warnings)
}

func TestEvaluate_Deterministic(t *testing.T) {
	s := newSanitizer(t, nil)
	q := query.New("MATCH (n) RETURN n; CALL dbms.killQuery('x') // bye", map[string]any{"x": "a;MATCH (m) RETURN m"})
	first := s.Evaluate(q)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Evaluate(q))
	}
}

func TestExtraRules(t *testing.T) {
	rule := config.RuleConfig{ID: "no_ssn_literals", Pattern: `\d{3}-\d{2}-\d{4}`, Message: "literal looks like an SSN", Scope: "text"}
	s := newSanitizer(t, func(c *config.Config) { c.Sanitizer.ExtraRules = []config.RuleConfig{rule} })
	v := eval(s, "MATCH (p {ssn: '123-45-6789'}) RETURN p LIMIT 1")
	assert.Equal(t, []RuleID{"no_ssn_literals"}, v.Rules())
	assert.Equal(t, "literal looks like an SSN", v.Reason())

	rule.Scope = "structure"
	s = newSanitizer(t, func(c *config.Config) { c.Sanitizer.ExtraRules = []config.RuleConfig{rule} })
	assert.True(t, eval(s, "MATCH (p {ssn: '123-45-6789'}) RETURN p LIMIT 1").Safe)
}

func TestExtraRules_CaseInsensitive(t *testing.T) {
	rule := config.RuleConfig{ID: "no_secret_label", Pattern: `:Secret\b`}
	s := newSanitizer(t, func(c *config.Config) { c.Sanitizer.ExtraRules = []config.RuleConfig{rule} })
	v := eval(s, "MATCH (s:Secret) RETURN s LIMIT 1")
	assert.False(t, v.Safe)
	assert.Equal(t, []RuleID{"no_secret_label"}, v.Rules())
	assert.True(t, eval(s, "MATCH (s:Public) RETURN s LIMIT 1").Safe)
}

func TestNew_ConfigErrors(t *testing.T) {
	cases := []struct {
		name  string
		rules []config.RuleConfig
	}{
		{name: "bad pattern", rules: []config.RuleConfig{{ID: "bad", Pattern: "(unclosed"}}},
		{name: "duplicate of embedded id", rules: []config.RuleConfig{{ID: "comment_injection", Pattern: "x"}}},
		{name: "no matcher", rules: []config.RuleConfig{{ID: "empty"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Sanitizer.ExtraRules = tc.rules
			_, err := New(cfg)
			require.Error(t, err)
			assert.True(t, config.IsConfigError(err))
		})
	}
}

func TestRules(t *testing.T) {
	ro := newSanitizer(t, nil).Rules()
	require.NotEmpty(t, ro)
	assert.Equal(t, RuleStatementChaining, ro[0].ID)
	assert.Equal(t, "embedded", ro[0].Source)

	var ids []RuleID
	for _, r := range newSanitizer(t, func(c *config.Config) { c.Query.Mode = config.ModeReadWrite }).Rules() {
		ids = append(ids, r.ID)
	}
	assert.NotContains(t, ids, RuleWriteClause)
	assert.NotContains(t, ids, RuleSchemaCommand)
	assert.Contains(t, ids, RuleAdminCommand)

	assert.True(t, strings.HasPrefix(Fingerprint(), "sha256:"))
}

func nilIfEmpty(ids []RuleID) []RuleID {
	if len(ids) == 0 {
		return nil
	}
	return ids
}
