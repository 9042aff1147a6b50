// Package ejson implements the subset of Extended JSON used by the DDP
// wire protocol: plain JSON values plus reserved-key typed values for
// Date and Binary. There is no registry for custom types: any other
// reserved-key object passes through as a plain map.
package ejson

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Marshal encodes v as an EJSON text frame. Maps are walked recursively so
// time.Time and Binary values are rewritten to their EJSON reserved-key form
// before the final json.Marshal pass.
func Marshal(v interface{}) ([]byte, error) {
	converted := convertOut(v)
	return json.Marshal(converted)
}

// Unmarshal decodes an EJSON text frame into a generic document shape
// (map[string]interface{}, []interface{}, or a scalar), restoring Date and
// Binary reserved-key values to time.Time and Binary respectively. Custom
// typed values such as `{$type:..., $value:...}` are left in their raw map
// form; this package does not convert them.
func Unmarshal(data []byte) (interface{}, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return convertIn(raw), nil
}

// Binary is an EJSON binary blob, encoded on the wire as {"$binary": "<base64>"}.
type Binary []byte

const (
	dateKey   = "$date"
	binaryKey = "$binary"
)

func convertOut(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return map[string]interface{}{dateKey: t.UnixMilli()}
	case Binary:
		return map[string]interface{}{binaryKey: base64.StdEncoding.EncodeToString(t)}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = convertOut(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = convertOut(val)
		}
		return out
	default:
		return v
	}
}

func convertIn(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 1 {
			if raw, ok := t[dateKey]; ok {
				if ms, ok := asNumber(raw); ok {
					return time.UnixMilli(int64(ms)).UTC()
				}
			}
			if raw, ok := t[binaryKey]; ok {
				if s, ok := raw.(string); ok {
					if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
						return Binary(decoded)
					}
				}
			}
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = convertIn(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = convertIn(val)
		}
		return out
	default:
		return v
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Equals reports whether a and b are structurally identical after EJSON
// normalization. It underlies both selector matching in the collection
// store's Subset matcher and the reactive "no-op rewrite" short circuit.
func Equals(a, b interface{}) bool {
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
	return na == nb
}

// Clone returns a deep copy of v made by round-tripping it through EJSON.
// Subscription params are cloned this way before being stashed on the
// Subscription record, per spec §3.
func Clone(v interface{}) (interface{}, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

func normalize(v interface{}) (string, error) {
	data, err := Marshal(sortedCopy(v))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sortedCopy recursively rebuilds maps with sorted keys isn't required by
// encoding/json (it already sorts map keys), but nested slices of maps need
// stable comparison only up to value equality, which json.Marshal gives us.
func sortedCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(t))
		for _, k := range keys {
			out[k] = sortedCopy(t[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sortedCopy(val)
		}
		return out
	default:
		return v
	}
}
