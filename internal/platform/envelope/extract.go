package envelope

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Result is a typed extraction outcome. Path names the candidate that matched.
type Result[T any] struct {
	Value T
	Path  string
	OK    bool
}

// Extract returns the first candidate path whose value is non-nil and of type T.
func Extract[T any](v any, paths ...string) Result[T] {
	for _, p := range candidates(paths) {
		node, ok := walk(v, p)
		if !ok || node == nil {
			continue
		}
		if typed, ok := node.(T); ok {
			return Result[T]{Value: typed, Path: p, OK: true}
		}
	}
	return Result[T]{}
}

// ExtractData walks dot-notation paths in order and returns the first
// defined, non-nil value. An empty path addresses the root.
func ExtractData(v any, paths ...string) (any, bool) {
	for _, p := range candidates(paths) {
		if node, ok := walk(v, p); ok && node != nil {
			return node, true
		}
	}
	return nil, false
}

// ExtractArrayData behaves like ExtractData but only accepts arrays. When no
// path yields one it falls back to the root itself or an array-valued
// property of the root object. JSON objects carry no key order once decoded,
// so the fallback takes the first non-empty array by sorted key, then the
// first empty one. An "errors" list is never taken as data.
func ExtractArrayData(v any, paths ...string) ([]any, bool) {
	for _, p := range paths {
		if node, ok := walk(v, p); ok {
			if arr, ok := node.([]any); ok {
				return arr, true
			}
		}
	}
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if k != "errors" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var empty []any
		found := false
		for _, k := range keys {
			arr, ok := t[k].([]any)
			if !ok {
				continue
			}
			if len(arr) > 0 {
				return arr, true
			}
			if !found {
				empty, found = arr, true
			}
		}
		if found {
			return empty, true
		}
	}
	return nil, false
}

func candidates(paths []string) []string {
	if len(paths) == 0 {
		return []string{""}
	}
	return paths
}

func walk(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Lookup reads field from a record, falling back to record.attributes.field.
func Lookup(rec map[string]any, field string) (any, bool) {
	if rec == nil {
		return nil, false
	}
	if v, ok := rec[field]; ok && v != nil {
		return v, true
	}
	if attrs, ok := rec["attributes"].(map[string]any); ok {
		if v, ok := attrs[field]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first present field as a string, or def.
func String(rec map[string]any, def string, fields ...string) string {
	for _, f := range fields {
		v, ok := Lookup(rec, f)
		if !ok {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		return s
	}
	return def
}

// Float returns the first present field coerced to a number; unparseable
// values yield 0.
func Float(rec map[string]any, fields ...string) float64 {
	for _, f := range fields {
		v, ok := Lookup(rec, f)
		if !ok {
			continue
		}
		n, err := cast.ToFloat64E(v)
		if err != nil {
			if s, ok := v.(string); ok {
				n, err = cast.ToFloat64E(strings.TrimSpace(s))
			}
		}
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// Int is Float truncated to an int.
func Int(rec map[string]any, fields ...string) int {
	return int(Float(rec, fields...))
}

// ID returns the record id as a string, or "" when absent.
func ID(rec map[string]any) string {
	return String(rec, "", "id")
}
