// Package complexity computes a static cost estimate for a query and rejects
// queries predicted to be disproportionately expensive.
//
// The analysis is a single linear pass over lexer tokens with a small amount of
// state. It never parses the query and never backtracks, so its own cost is linear
// in the input. Cartesian-product detection is conservative: it may flag benign
// multi-pattern queries but should not miss unlinked ones.
package complexity

import (
	"fmt"
	"math"
	"strings"

	"github.com/straja-ai/graphgate/internal/config"
)

// Metrics are the counted features of a query.
type Metrics struct {
	PatternCount      int `json:"pattern_count"`
	RelationshipCount int `json:"relationship_count"`
	MaxDepth          int `json:"max_depth"`
	CartesianProducts int `json:"cartesian_products"`
	MaxRangeSpan      int `json:"max_range_span"`
	AggregationCount  int `json:"aggregation_count"`
	MaxHops           int `json:"max_hops"`
	UnboundedRanges   int `json:"unbounded_ranges"`
	Score             int `json:"score"`
}

// Weights multiply each feature into the score. All weights are non-negative, so
// the score never decreases when a feature grows.
type Weights struct {
	Pattern      int
	Relationship int
	Depth        int
	Cartesian    int
	Range        int
	Aggregation  int
	Unbounded    int
}

// Thresholds bound the accepted metrics.
type Thresholds struct {
	MaxScore       int
	MaxDepth       int
	MaxRange       int
	MaxHops        int // 0 disables
	AllowCartesian bool
	AllowUnbounded bool
	Weights        Weights
}

// ThresholdsFrom converts the config section.
func ThresholdsFrom(c config.ComplexityConfig) Thresholds {
	w := c.Weights
	return Thresholds{
		MaxScore:       c.MaxScore,
		MaxDepth:       c.MaxDepth,
		MaxRange:       c.MaxRange,
		MaxHops:        c.MaxHops,
		AllowCartesian: c.AllowCartesian,
		AllowUnbounded: c.AllowUnbounded,
		Weights: Weights{
			Pattern:      w.Pattern,
			Relationship: w.Relationship,
			Depth:        w.Depth,
			Cartesian:    w.Cartesian,
			Range:        w.Range,
			Aggregation:  w.Aggregation,
			Unbounded:    w.Unbounded,
		},
	}
}

// Score is the weighted sum of the features in m.
// Weights and features are non-negative; the sum saturates at math.MaxInt.
func (w Weights) Score(m Metrics) int {
	terms := [...][2]int{
		{w.Pattern, m.PatternCount},
		{w.Relationship, m.RelationshipCount},
		{w.Depth, m.MaxDepth},
		{w.Cartesian, m.CartesianProducts},
		{w.Range, m.MaxRangeSpan},
		{w.Aggregation, m.AggregationCount},
		{w.Unbounded, m.UnboundedRanges},
	}
	total := 0
	for _, t := range terms {
		p := math.MaxInt
		if t[0] == 0 || t[1] == 0 {
			p = 0
		} else if t[1] <= math.MaxInt/t[0] {
			p = t[0] * t[1]
		}
		if total > math.MaxInt-p {
			return math.MaxInt
		}
		total += p
	}
	return total
}

// Breach codes.
const (
	BreachScore     = "score_exceeded"
	BreachDepth     = "depth_exceeded"
	BreachRange     = "range_exceeded"
	BreachHops      = "hops_exceeded"
	BreachUnbounded = "unbounded_range"
	BreachCartesian = "cartesian_product"
)

// Breach is one exceeded threshold.
type Breach struct {
	Code   string `json:"code"`
	Metric string `json:"metric"`
	Value  int    `json:"value"`
	Limit  int    `json:"limit"`
}

func (b Breach) String() string {
	switch b.Code {
	case BreachUnbounded:
		return fmt.Sprintf("%d unbounded variable-length relationship(s) not allowed", b.Value)
	case BreachCartesian:
		return fmt.Sprintf("%d cartesian product(s) between unlinked patterns not allowed", b.Value)
	default:
		return fmt.Sprintf("%s %d exceeds limit %d", b.Metric, b.Value, b.Limit)
	}
}

// Verdict is the analyzer decision.
type Verdict struct {
	Allowed  bool     `json:"allowed"`
	Breaches []Breach `json:"breaches,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Code is the first breach code, or "" when allowed.
func (v Verdict) Code() string {
	if len(v.Breaches) == 0 {
		return ""
	}
	return v.Breaches[0].Code
}

// Analyzer holds thresholds bound at construction.
type Analyzer struct {
	th Thresholds
}

func New(cfg *config.Config) *Analyzer {
	if cfg == nil {
		panic("complexity: nil config")
	}
	return &Analyzer{th: ThresholdsFrom(cfg.Complexity)}
}

// NewWithThresholds builds an analyzer without a config.
func NewWithThresholds(th Thresholds) *Analyzer {
	return &Analyzer{th: th}
}

func (a *Analyzer) Thresholds() Thresholds { return a.th }

// Evaluate scores text against the bound thresholds.
func (a *Analyzer) Evaluate(text string) (Metrics, Verdict) {
	return EvaluateWith(text, a.th)
}

// EvaluateWith scores text against th.
func EvaluateWith(text string, th Thresholds) (Metrics, Verdict) {
	m := Analyze(text)
	m.Score = th.Weights.Score(m)
	return m, Judge(m, th)
}

// Judge compares already computed metrics with th.
func Judge(m Metrics, th Thresholds) Verdict {
	var br []Breach
	if m.Score > th.MaxScore {
		br = append(br, Breach{Code: BreachScore, Metric: "score", Value: m.Score, Limit: th.MaxScore})
	}
	if m.MaxDepth > th.MaxDepth {
		br = append(br, Breach{Code: BreachDepth, Metric: "max_depth", Value: m.MaxDepth, Limit: th.MaxDepth})
	}
	if m.MaxRangeSpan > th.MaxRange {
		br = append(br, Breach{Code: BreachRange, Metric: "max_range_span", Value: m.MaxRangeSpan, Limit: th.MaxRange})
	}
	if th.MaxHops > 0 && m.MaxHops > th.MaxHops {
		br = append(br, Breach{Code: BreachHops, Metric: "max_hops", Value: m.MaxHops, Limit: th.MaxHops})
	}
	if m.UnboundedRanges > 0 && !th.AllowUnbounded {
		br = append(br, Breach{Code: BreachUnbounded, Metric: "unbounded_ranges", Value: m.UnboundedRanges})
	}
	if m.CartesianProducts > 0 && !th.AllowCartesian {
		br = append(br, Breach{Code: BreachCartesian, Metric: "cartesian_products", Value: m.CartesianProducts})
	}
	if len(br) == 0 {
		return Verdict{Allowed: true}
	}
	parts := make([]string, len(br))
	for i, b := range br {
		parts[i] = b.String()
	}
	return Verdict{Breaches: br, Reason: "query too complex: " + strings.Join(parts, "; ")}
}
