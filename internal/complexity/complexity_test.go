package complexity

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/graphgate/internal/config"
)

func defaults() Thresholds {
	return ThresholdsFrom(config.Default().Complexity)
}

func TestAnalyze_VariableLengthScore(t *testing.T) {
	th := defaults()
	th.MaxRange = 4

	m, v := EvaluateWith("MATCH (u)-[:EDGE*1..5]->(f) RETURN f", th)
	assert.Equal(t, 1, m.PatternCount)
	assert.Equal(t, 1, m.RelationshipCount)
	assert.Equal(t, 1, m.MaxDepth)
	assert.Equal(t, 4, m.MaxRangeSpan)
	assert.Equal(t, 5, m.MaxHops)
	assert.Equal(t, 0, m.CartesianProducts)
	assert.Equal(t, 50, m.Score)
	assert.True(t, v.Allowed)
	assert.Empty(t, v.Breaches)

	th.MaxRange = 3
	_, v = EvaluateWith("MATCH (u)-[:EDGE*1..5]->(f) RETURN f", th)
	require.False(t, v.Allowed)
	require.Len(t, v.Breaches, 1)
	assert.Equal(t, BreachRange, v.Code())
	assert.Equal(t, 4, v.Breaches[0].Value)
	assert.Equal(t, 3, v.Breaches[0].Limit)
	assert.Contains(t, v.Reason, "max_range_span 4 exceeds limit 3")
}

func TestAnalyze_Cartesian(t *testing.T) {
	q := "MATCH (a:User) MATCH (b:Order) MATCH (c:Product) MATCH (d:Region) RETURN a, b, c, d"
	m, v := EvaluateWith(q, defaults())
	assert.Equal(t, 4, m.PatternCount)
	assert.GreaterOrEqual(t, m.CartesianProducts, 3)
	require.False(t, v.Allowed)
	assert.Equal(t, BreachCartesian, v.Code())

	th := defaults()
	th.AllowCartesian = true
	_, v = EvaluateWith(q, th)
	assert.True(t, v.Allowed)
}

func TestAnalyze_Linking(t *testing.T) {
	tests := []struct {
		name      string
		q         string
		cartesian int
	}{
		{"single path", "MATCH (a)-[:R]->(b) RETURN b", 0},
		{"comma unlinked", "MATCH (a), (b) RETURN a, b", 1},
		{"comma shared var", "MATCH (a)-->(b), (b)-->(c) RETURN c", 0},
		{"clauses shared var", "MATCH (a:User) MATCH (a)-[:OWNS]->(o) RETURN o", 0},
		{"where links", "MATCH (a:User), (b:User) WHERE a.id = b.manager RETURN a", 0},
		{"where unrelated predicates", "MATCH (a), (b) WHERE a.x = 1 AND b.y = 2 RETURN a", 1},
		{"where one predicate links", "MATCH (a), (b), (c) WHERE a.x = b.x AND c.y = 2 RETURN a", 1},
		{"path variable", "MATCH p = (a)-->(b) MATCH (c) RETURN p, c", 1},
		{"union scopes", "MATCH (a) RETURN a UNION MATCH (b) RETURN b", 0},
		{"union each side", "MATCH (a), (b) RETURN a UNION MATCH (c), (d) RETURN c", 2},
		{"labels are not variables", "MATCH (a:X), (b:X) RETURN a", 1},
		{"map keys are not variables", "MATCH (a {name: 'x'}), (b {name: 'y'}) RETURN a", 1},
		{"property links", "MATCH (a), (b {owner: a.id}) RETURN b", 0},
		{"map value links", "MATCH (a), (b {owner: a}) RETURN b", 0},
		{"label after map", "MATCH (a:X), (b {owner: 1}) RETURN a", 1},
		{"variables are case sensitive", "MATCH (n), (N) RETURN n", 1},
		{"same case links", "MATCH (Node), (Node)-->(m) RETURN m", 0},
		{"optional match", "MATCH (a) OPTIONAL MATCH (a)-->(b) RETURN b", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Analyze(tt.q)
			assert.Equal(t, tt.cartesian, m.CartesianProducts)
		})
	}
}

func TestAnalyze_Ranges(t *testing.T) {
	tests := []struct {
		name      string
		q         string
		span      int
		hops      int
		unbounded int
	}{
		{"fixed", "MATCH (a)-[:R]->(b) RETURN b", 0, 0, 0},
		{"star", "MATCH (a)-[*]->(b) RETURN b", 0, 0, 1},
		{"exact", "MATCH (a)-[:R*3]->(b) RETURN b", 0, 3, 0},
		{"upper only", "MATCH (a)-[*..5]->(b) RETURN b", 4, 5, 0},
		{"lower only", "MATCH (a)-[*2..]->(b) RETURN b", 0, 0, 1},
		{"both", "MATCH (a)-[r:R*2..6]-(b) RETURN r", 4, 6, 0},
		{"max of several", "MATCH (a)-[*1..2]->(b)<-[*1..4]-(c) RETURN c", 3, 4, 0},
		{"not in relationship", "MATCH (a) RETURN count(*)", 0, 0, 0},
		{"max int upper", "MATCH (a)-[*0..9223372036854775807]->(b) RETURN b", maxRangeBound, maxRangeBound, 0},
		{"overflowing upper", "MATCH (a)-[*1..99999999999999999999]->(b) RETURN b", maxRangeBound - 1, maxRangeBound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Analyze(tt.q)
			assert.Equal(t, tt.span, m.MaxRangeSpan, "span")
			assert.Equal(t, tt.hops, m.MaxHops, "hops")
			assert.Equal(t, tt.unbounded, m.UnboundedRanges, "unbounded")
		})
	}
}

func TestAnalyze_Unbounded(t *testing.T) {
	_, v := EvaluateWith("MATCH (a)-[*]->(b) RETURN b LIMIT 10", defaults())
	require.False(t, v.Allowed)
	assert.Contains(t, codes(v), BreachUnbounded)

	th := defaults()
	th.AllowUnbounded = true
	_, v = EvaluateWith("MATCH (a)-[*]->(b) RETURN b LIMIT 10", th)
	assert.True(t, v.Allowed)
}

func TestAnalyze_Features(t *testing.T) {
	m := Analyze("MATCH (a)-[:R]->(b)<-[:S]-(c)--(d) RETURN count(a), collect(b.name), max(c.age), a.count")
	assert.Equal(t, 3, m.RelationshipCount)
	assert.Equal(t, 3, m.AggregationCount)
	assert.Equal(t, 1, m.PatternCount)

	m = Analyze("RETURN apoc.coll.max([1, 2])")
	assert.Equal(t, 0, m.AggregationCount)

	m = Analyze("MATCH (a) WHERE exists { MATCH (a)-->(b) WHERE b.x IN [1, [2, [3]]] } RETURN a")
	assert.Equal(t, 4, m.MaxDepth)
}

func TestAnalyze_IgnoresLiteralsAndComments(t *testing.T) {
	m := Analyze("MATCH (a) WHERE a.name = 'MATCH (x) MATCH (y) (((()))' RETURN a // MATCH (z)")
	assert.Equal(t, 1, m.PatternCount)
	assert.Equal(t, 1, m.MaxDepth)
	assert.Equal(t, 0, m.CartesianProducts)
}

func TestScore_ExtremeRangeStaysPositive(t *testing.T) {
	m, v := EvaluateWith("MATCH (a)-[*0..9223372036854775807]->(b) RETURN b", defaults())
	assert.Positive(t, m.Score)
	require.False(t, v.Allowed)
	assert.Contains(t, codes(v), BreachScore)
	assert.Contains(t, codes(v), BreachRange)

	huge := Weights{Range: math.MaxInt, Pattern: math.MaxInt}
	assert.Equal(t, math.MaxInt, huge.Score(Metrics{PatternCount: 2, MaxRangeSpan: 3}))
	assert.Equal(t, 0, huge.Score(Metrics{}))
}

func TestScore_Monotonic(t *testing.T) {
	th := defaults()
	q := "MATCH (a)-[:R*1..2]->(b)"
	prev := -1
	for i := range 10 {
		m, _ := EvaluateWith(q+" RETURN b", th)
		assert.GreaterOrEqual(t, m.Score, prev, "iteration %d", i)
		prev = m.Score
		q += " MATCH (x" + strings.Repeat("y", i) + ")"
	}
}

func TestJudge_Order(t *testing.T) {
	th := Thresholds{MaxScore: 1, MaxDepth: 1, MaxRange: 1, MaxHops: 2}
	m := Metrics{Score: 5, MaxDepth: 3, MaxRangeSpan: 2, MaxHops: 5, UnboundedRanges: 1, CartesianProducts: 2}
	v := Judge(m, th)
	require.False(t, v.Allowed)
	assert.Equal(t, []string{BreachScore, BreachDepth, BreachRange, BreachHops, BreachUnbounded, BreachCartesian}, codes(v))
	assert.True(t, strings.HasPrefix(v.Reason, "query too complex: score 5 exceeds limit 1"))

	th.MaxHops = 0
	v = Judge(Metrics{MaxHops: 100}, th)
	assert.True(t, v.Allowed)
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	cfg.Complexity.MaxScore = 7
	a := New(cfg)
	assert.Equal(t, 7, a.Thresholds().MaxScore)

	_, v := a.Evaluate("MATCH (a)-->(b) RETURN b")
	assert.False(t, v.Allowed)
	assert.Equal(t, BreachScore, v.Code())

	assert.Panics(t, func() { New(nil) })
}

func TestAnalyze_Deterministic(t *testing.T) {
	q := "MATCH (a), (b) WHERE a.x = b.y MATCH (c)-[*1..3]-(d) RETURN count(c)"
	first := Analyze(q)
	for range 20 {
		assert.Equal(t, first, Analyze(q))
	}
}

func codes(v Verdict) []string {
	out := make([]string, len(v.Breaches))
	for i, b := range v.Breaches {
		out[i] = b.Code
	}
	return out
}
