// Package query holds the immutable per-request query value and its unicode
// normalization.
package query

import (
	"crypto/sha256"
	"encoding/hex"
)

// Query is a raw query plus its bound parameters. It is built once per request and
// never mutated; accessors return copies where mutation would leak.
type Query struct {
	raw    string
	norm   Normalized
	params map[string]any
}

// New normalizes raw once and takes a shallow copy of params (list values are
// copied too, so the caller cannot mutate them after construction).
func New(raw string, params map[string]any) *Query {
	q := &Query{raw: raw, norm: Normalize(raw)}
	if len(params) > 0 {
		q.params = make(map[string]any, len(params))
		for k, v := range params {
			q.params[k] = copyValue(v)
		}
	}
	return q
}

// NewClamped builds a query without normalizing it. Used when the raw text is
// already known to exceed the configured length and must not be processed.
func NewClamped(raw string, params map[string]any) *Query {
	q := New("", params)
	q.raw = raw
	return q
}

func (q *Query) Raw() string { return q.raw }

// Text is the NFC-composed text with invisible and control characters removed. This
// is the form forwarded downstream.
func (q *Query) Text() string { return q.norm.Text }

// Skeleton is the confusable-folded, lower-cased form used for matching only.
func (q *Query) Skeleton() string { return q.norm.Skeleton }

// Normalized exposes the full normalization result.
func (q *Query) Normalized() Normalized { return q.norm }

// Params returns a copy of the bound parameters.
func (q *Query) Params() map[string]any {
	if len(q.params) == 0 {
		return nil
	}
	out := make(map[string]any, len(q.params))
	for k, v := range q.params {
		out[k] = copyValue(v)
	}
	return out
}

// ParamCount avoids copying when only the count is needed.
func (q *Query) ParamCount() int { return len(q.params) }

// Hash returns the stable content hash of a raw query. It is computed on the text
// exactly as received, before redaction or normalization.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func copyValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		copy(out, val)
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []int:
		out := make([]int, len(val))
		copy(out, val)
		return out
	case []int64:
		out := make([]int64, len(val))
		copy(out, val)
		return out
	case []float64:
		out := make([]float64, len(val))
		copy(out, val)
		return out
	case []bool:
		out := make([]bool, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
