package telemetry

import (
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// AttrPrefix namespaces every stage attribute.
const AttrPrefix = "graphgate."

const (
	maxAttrString = 256
	maxAttrSlice  = 32
)

// sensitive key segments. Query text, parameter values and caller identities stay
// in the audit trail only.
var sensitive = map[string]struct{}{
	"query": {}, "text": {}, "statement": {}, "param": {}, "params": {}, "value": {}, "values": {},
	"caller": {}, "authorization": {}, "key": {}, "password": {}, "token": {}, "email": {},
}

// countSuffixes mark numeric summaries, which are safe whatever they count.
var countSuffixes = []string{"_count", "_len", "_total"}

// SafeAttributes converts values into span attributes under AttrPrefix, in key
// order. Keys with a sensitive segment, unsupported types and strings longer
// than 256 bytes are dropped; slices are cut to 32 elements.
func SafeAttributes(values map[string]any) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if allowedKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		name := AttrPrefix + k
		switch v := values[k].(type) {
		case string:
			if len(v) <= maxAttrString {
				attrs = append(attrs, attribute.String(name, v))
			}
		case bool:
			attrs = append(attrs, attribute.Bool(name, v))
		case int:
			attrs = append(attrs, attribute.Int(name, v))
		case int64:
			attrs = append(attrs, attribute.Int64(name, v))
		case uint64:
			attrs = append(attrs, attribute.Int64(name, int64(v)))
		case float64:
			attrs = append(attrs, attribute.Float64(name, v))
		case []string:
			attrs = append(attrs, attribute.StringSlice(name, head(v)))
		case []int:
			attrs = append(attrs, attribute.IntSlice(name, head(v)))
		}
	}
	return attrs
}

func allowedKey(k string) bool {
	lk := strings.ToLower(k)
	for _, s := range countSuffixes {
		if strings.HasSuffix(lk, s) {
			return true
		}
	}
	for _, seg := range strings.FieldsFunc(lk, func(r rune) bool { return r == '_' || r == '.' || r == '-' }) {
		if _, bad := sensitive[seg]; bad {
			return false
		}
	}
	return true
}

func head[T any](in []T) []T {
	if len(in) <= maxAttrSlice {
		return in
	}
	return in[:maxAttrSlice]
}
