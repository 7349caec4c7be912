// Package sanitizer classifies query text as safe or unsafe against an ordered
// deny-rule table, after defeating unicode obfuscation.
//
// A Sanitizer is built once from an immutable config and evaluated concurrently
// without synchronization. Evaluate performs no I/O.
package sanitizer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/lexer"
	"github.com/straja-ai/graphgate/internal/query"
)

// Violation is one matched rule.
type Violation struct {
	Rule     RuleID `json:"rule"`
	Location string `json:"location"` // "query" or "param:<name>"
	Message  string `json:"message"`
}

// Verdict is the outcome of Evaluate. It is a pure function of the query.
type Verdict struct {
	Safe           bool        `json:"safe"`
	Violations     []Violation `json:"violations,omitempty"`
	Warnings       []string    `json:"warnings,omitempty"`
	NormalizedText string      `json:"normalized_text,omitempty"`
	Truncated      bool        `json:"truncated,omitempty"`
}

// Rules returns the violated rule ids in order.
func (v Verdict) Rules() []RuleID {
	out := make([]RuleID, len(v.Violations))
	for i, vi := range v.Violations {
		out[i] = vi.Rule
	}
	return out
}

// Has reports whether id was violated.
func (v Verdict) Has(id RuleID) bool {
	for _, vi := range v.Violations {
		if vi.Rule == id {
			return true
		}
	}
	return false
}

// Code is the first violated rule, the stable reason code for the request.
func (v Verdict) Code() RuleID {
	if len(v.Violations) == 0 {
		return ""
	}
	return v.Violations[0].Rule
}

// Reason is a human-readable summary. It never contains pattern text.
func (v Verdict) Reason() string {
	switch n := len(v.Violations); n {
	case 0:
		return ""
	case 1:
		return v.Violations[0].Message
	default:
		extra := n - 1
		if v.Truncated {
			return fmt.Sprintf("%s (and %d+ more)", v.Violations[0].Message, extra)
		}
		return fmt.Sprintf("%s (and %d more)", v.Violations[0].Message, extra)
	}
}

var (
	returnRe = regexp.MustCompile(`\breturn\b`)
	limitRe  = regexp.MustCompile(`\blimit\b`)
)

// Sanitizer evaluates queries against a compiled rule table.
type Sanitizer struct {
	rules          []*rule
	maxLength      int
	maxParams      int
	maxParamLength int
	maxViolations  int
	denyZeroWidth  bool
	denyBidi       bool
	denyControl    bool
	denyConfusable bool
	warnLimit      bool
}

// New compiles the rule table. An unparsable pattern or duplicate rule id is a
// *config.Error.
func New(cfg *config.Config) (*Sanitizer, error) {
	if cfg == nil {
		panic("sanitizer: nil config")
	}
	rules, err := compileRules(cfg)
	if err != nil {
		return nil, err
	}
	s := &Sanitizer{
		rules:          rules,
		maxLength:      cfg.Query.MaxLength,
		maxParams:      cfg.Query.MaxParams,
		maxParamLength: cfg.Query.MaxParamLength,
		maxViolations:  cfg.Sanitizer.MaxViolations,
		warnLimit:      cfg.Sanitizer.WarnMissingLimit == nil || *cfg.Sanitizer.WarnMissingLimit,
	}
	for _, c := range cfg.Sanitizer.DeniedCharClasses {
		switch c {
		case config.CharClassZeroWidth:
			s.denyZeroWidth = true
		case config.CharClassBidi:
			s.denyBidi = true
		case config.CharClassControl:
			s.denyControl = true
		case config.CharClassConfusable:
			s.denyConfusable = true
		}
	}
	return s, nil
}

// Rules describes the compiled rule table in evaluation order.
func (s *Sanitizer) Rules() []RuleInfo {
	out := make([]RuleInfo, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.info()
	}
	return out
}

// MaxLength is the configured raw-length limit.
func (s *Sanitizer) MaxLength() int { return s.maxLength }

type collector struct {
	max        int
	violations []Violation
	truncated  bool
}

func (c *collector) add(id RuleID, loc, msg string) {
	if c.max > 0 && len(c.violations) >= c.max {
		c.truncated = true
		return
	}
	c.violations = append(c.violations, Violation{Rule: id, Location: loc, Message: msg})
}

const locQuery = "query"

// Evaluate classifies q. Every matched rule is reported, up to max_violations.
func (s *Sanitizer) Evaluate(q *query.Query) Verdict {
	if s.maxLength > 0 && len(q.Raw()) > s.maxLength {
		return Verdict{Violations: []Violation{{
			Rule:     RuleQueryTooLong,
			Location: locQuery,
			Message:  fmt.Sprintf("query exceeds maximum length of %d bytes", s.maxLength),
		}}}
	}

	c := &collector{max: s.maxViolations}
	var warnings []string
	n := q.Normalized()

	s.checkChars(c, n, locQuery, &warnings)
	if n.SyntaxFolded {
		c.add(RuleSyntaxConfusable, locQuery, "look-alike quote, comment or delimiter characters are not allowed")
	}

	toks := lexer.All(n.Skeleton)
	masked, info := lexer.Mask(n.Skeleton)
	// Text is what the store parses. Its literal spans are authoritative, so
	// rules also run over its masked, lower-cased form.
	textMasked, textInfo := lexer.Mask(n.Text)
	textMasked = strings.ToLower(textMasked)
	if info.Unterminated || textInfo.Unterminated {
		c.add(RuleUnterminatedLiteral, locQuery, "query contains an unterminated string, identifier or comment")
	}

	calls := findCalls(toks)
	if n.Text != n.Skeleton {
		calls = append(calls, findCalls(lexer.All(n.Text))...)
	}
	for _, r := range s.rules {
		if s.matchQuery(r, n.Skeleton, masked, calls) ||
			(!r.fullText && r.pattern != nil && r.pattern.MatchString(textMasked)) {
			c.add(r.id, locQuery, r.message)
		}
	}

	s.checkParams(c, q, &warnings)

	trimmed := strings.TrimRight(masked, " \t\r\n")
	if strings.HasSuffix(trimmed, ";") {
		warnings = appendOnce(warnings, WarnTrailingSemicolon)
	}
	if s.warnLimit && returnRe.MatchString(masked) && !limitRe.MatchString(masked) {
		warnings = appendOnce(warnings, WarnMissingLimit)
	}

	v := Verdict{
		Safe:       len(c.violations) == 0,
		Violations: c.violations,
		Warnings:   warnings,
		Truncated:  c.truncated,
	}
	v.NormalizedText = n.Text
	return v
}

func (s *Sanitizer) matchQuery(r *rule, skeleton, masked string, calls []callSite) bool {
	if r.pattern != nil {
		target := masked
		if r.fullText {
			target = skeleton
		}
		if r.pattern.MatchString(target) {
			return true
		}
	}
	for _, cs := range calls {
		if len(r.prefixes) > 0 && hasPrefix(cs.name, r.prefixes) {
			return true
		}
		if r.callArg != nil {
			for _, a := range cs.args {
				if r.callArg.MatchString(a) {
					return true
				}
			}
		}
	}
	return false
}

func (s *Sanitizer) checkChars(c *collector, n query.Normalized, loc string, warnings *[]string) {
	if n.Bidi && s.denyBidi {
		c.add(RuleBidiOverride, loc, "bidirectional control characters are not allowed")
	}
	if n.ZeroWidth && s.denyZeroWidth {
		c.add(RuleZeroWidth, loc, "zero-width characters are not allowed")
	}
	if n.Control && s.denyControl {
		c.add(RuleControlCharacters, loc, "control characters are not allowed")
	}
	if n.InvalidEncoding {
		c.add(RuleInvalidEncoding, loc, "text is not valid UTF-8")
	}
	if n.Confusable {
		*warnings = appendOnce(*warnings, WarnConfusableFolded)
		if s.denyConfusable {
			c.add(RuleConfusable, loc, "look-alike characters are not allowed")
		}
	}
}

func appendOnce(list []string, w string) []string {
	for _, x := range list {
		if x == w {
			return list
		}
	}
	return append(list, w)
}
