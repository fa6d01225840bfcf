package main

import (
	"encoding/json"
	"math"
	"strconv"
)

// CallData is the structured record exchanged with the host on both the
// procedure bus and the signal bus. Values arrive as decoded JSON, so numbers
// may be float64 or json.Number depending on the decoder.
type CallData map[string]any

// String returns the string stored at key, or "" if missing or not a string.
func (d CallData) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Int returns the integer stored at key, or 0 if missing or not numeric.
func (d CallData) Int(key string) int64 {
	switch v := d[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return 0
		}
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Bool returns the boolean stored at key. Missing keys read as false, which
// is how the host reports a failed procedure that never set "success".
func (d CallData) Bool(key string) bool {
	v, _ := d[key].(bool)
	return v
}

// Has reports whether key is present.
func (d CallData) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Set stores value at key and returns d for chaining.
func (d CallData) Set(key string, value any) CallData {
	d[key] = value
	return d
}

// Clone returns a shallow copy.
func (d CallData) Clone() CallData {
	out := make(CallData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
