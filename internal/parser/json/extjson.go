package json

import (
	"encoding/json"
	"fmt"
)

// Unwrap replaces Mongo extended-JSON scalar wrappers inside v, recursively:
//
//	{"$oid": "5f..."}          -> "5f..."
//	{"$numberInt": "7"}        -> json.Number("7")
//	{"$numberLong": "1600..."} -> json.Number("1600...")
//	{"$numberDouble": "1.5"}   -> json.Number("1.5")
//
// {"$date": ...} is left as an object (its payload is unwrapped) so that
// flattened paths read "<field>.$date".
func Unwrap(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			for k, inner := range x {
				if s, ok := scalarWrapper(k, inner); ok {
					return s
				}
			}
		}
		for k, inner := range x {
			x[k] = Unwrap(inner)
		}
		return x
	case []any:
		for i := range x {
			x[i] = Unwrap(x[i])
		}
		return x
	default:
		return v
	}
}

func scalarWrapper(key string, v any) (any, bool) {
	switch key {
	case "$oid", "$symbol":
		if s, ok := v.(string); ok {
			return s, true
		}
	case "$numberInt", "$numberLong", "$numberDouble", "$numberDecimal":
		switch n := v.(type) {
		case string:
			return json.Number(n), true
		case json.Number:
			return n, true
		default:
			return json.Number(fmt.Sprint(n)), true
		}
	}
	return nil, false
}
