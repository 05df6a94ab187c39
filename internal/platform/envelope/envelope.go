// Package envelope normalizes the inconsistent response shapes of the
// commerce API and extracts payloads from candidate locations.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"
)

// Kind records which shape rule matched during normalization.
type Kind string

const (
	KindFlagged Kind = "flagged" // explicit success flag
	KindData    Kind = "data"    // {data: ...}
	KindRecord  Kind = "record"  // single record with attributes/user/token
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindScalar  Kind = "scalar"
	KindEmpty   Kind = "empty"
)

// Envelope is the consistent view over any response body.
type Envelope struct {
	Success bool
	Data    any
	Message string
	Error   string
	Kind    Kind
	// Raw keeps the original decoded body so extra keys stay reachable.
	Raw any
}

// Decode parses a JSON body and normalizes it.
func Decode(body []byte) (Envelope, error) {
	if len(body) == 0 {
		return Normalize(nil), nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	return Normalize(v), nil
}

// Normalize applies the shape rules in priority order: explicit success flag,
// then {data: ...}, then single-record keys, then array passthrough, then
// generic object passthrough.
func Normalize(v any) Envelope {
	switch t := v.(type) {
	case nil:
		return Envelope{Kind: KindEmpty, Error: "empty response"}
	case map[string]any:
		env := Envelope{Raw: t, Message: str(t["message"]), Error: str(t["error"])}
		if flag, ok := t["success"]; ok {
			env.Kind = KindFlagged
			env.Success = cast.ToBool(flag)
			env.Data = t["data"]
			return env
		}
		if data, ok := t["data"]; ok {
			env.Kind = KindData
			env.Success = true
			env.Data = data
			return env
		}
		env.Success = true
		env.Data = t
		env.Kind = KindObject
		for _, key := range []string{"attributes", "user", "token"} {
			if _, ok := t[key]; ok {
				env.Kind = KindRecord
				break
			}
		}
		return env
	case []any:
		return Envelope{Success: true, Data: t, Kind: KindArray, Raw: t}
	default:
		return Envelope{Success: true, Data: t, Kind: KindScalar, Raw: t}
	}
}

func str(v any) string {
	if v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}
