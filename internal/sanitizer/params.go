package sanitizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/straja-ai/graphgate/internal/query"
)

var paramNameRe = regexp.MustCompile(`^(?:[A-Za-z_][A-Za-z0-9_]*|[0-9]+)$`)

// checkParams validates parameter names, shapes and string contents. Parameters
// are checked in name order so the verdict is deterministic.
func (s *Sanitizer) checkParams(c *collector, q *query.Query, warnings *[]string) {
	if q.ParamCount() == 0 {
		return
	}
	params := q.Params()
	if s.maxParams > 0 && len(params) > s.maxParams {
		c.add(RuleParamLimit, "params", fmt.Sprintf("too many parameters (maximum %d)", s.maxParams))
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		loc := "param:" + name
		if !paramNameRe.MatchString(name) {
			c.add(RuleParamInvalidName, loc, "parameter name is not a valid identifier")
			continue
		}
		strs, ok := paramStrings(params[name])
		if !ok {
			c.add(RuleParamInvalidType, loc, "parameter must be a scalar or a list of scalars")
			continue
		}
		for _, v := range strs {
			if s.maxParamLength > 0 && len(v) > s.maxParamLength {
				c.add(RuleParamTooLong, loc, fmt.Sprintf("parameter exceeds maximum length of %d bytes", s.maxParamLength))
				break
			}
			if s.paramMatches(c, loc, v, warnings) {
				break
			}
		}
	}
}

// paramMatches runs a string value through the character checks and the rules
// marked for parameters. It reports whether any violation was recorded.
func (s *Sanitizer) paramMatches(c *collector, loc, v string, warnings *[]string) bool {
	before := len(c.violations)
	n := query.Normalize(v)
	s.checkChars(c, n, loc, warnings)
	for _, r := range s.rules {
		if r.params != nil && r.params.MatchString(n.Skeleton) {
			c.add(r.id, loc, r.message)
		}
	}
	return len(c.violations) > before || c.truncated
}

// paramStrings reports whether v has an allowed shape and returns the string
// values it holds.
func paramStrings(v any) ([]string, bool) {
	switch val := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return nil, true
	case string:
		return []string{val}, true
	case []string:
		return val, true
	case []int, []int64, []float64, []bool:
		return nil, true
	case []any:
		var out []string
		for _, e := range val {
			switch ev := e.(type) {
			case string:
				out = append(out, ev)
			case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
				float32, float64, json.Number:
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}
