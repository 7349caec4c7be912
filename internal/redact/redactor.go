package redact

import (
	"fmt"
	"regexp"
)

// Redactor scrubs personal data and secrets. It is immutable after New and safe for
// concurrent use.
type Redactor struct {
	patterns []piiPattern
}

type piiPattern struct {
	name string
	re   *regexp.Regexp
}

// Placeholder written in place of a match of a custom pattern.
const Placeholder = "[REDACTED]"

// defaultPII are the entity patterns applied by every Redactor, in order.
var defaultPII = []piiPattern{
	{name: "EMAIL", re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{name: "IBAN", re: regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)},
	{name: "CARD", re: regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`)},
	{name: "SSN", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{name: "PHONE", re: regexp.MustCompile(`\+\d{1,3}[\s\-]?\(?\d{1,4}\)?(?:[\s\-]?\d{2,4}){2,4}\b`)},
	{name: "IP", re: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// New builds a Redactor with the default PII patterns plus extra. An extra pattern
// that does not compile is an error.
func New(extra []string) (*Redactor, error) {
	r := &Redactor{patterns: append([]piiPattern(nil), defaultPII...)}
	for i, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %d: %w", i, err)
		}
		r.patterns = append(r.patterns, piiPattern{re: re})
	}
	return r, nil
}

// Default returns a Redactor with only the built-in patterns.
func Default() *Redactor {
	r, _ := New(nil)
	return r
}

// String removes secrets (see the package-level String) and then personal data.
// A nil Redactor applies only the secret patterns.
func (r *Redactor) String(s string) string {
	s = String(s)
	if r == nil || s == "" {
		return s
	}
	for _, p := range r.patterns {
		repl := Placeholder
		if p.name != "" {
			repl = "[REDACTED_" + p.name + "]"
		}
		s = p.re.ReplaceAllLiteralString(s, repl)
	}
	return s
}

// Strings redacts each element into a new slice.
func (r *Redactor) Strings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = r.String(s)
	}
	return out
}
