// Package dialect converts single request and response payloads between the
// three wire dialects the proxy speaks: Messages (Claude), Chat Completions
// (OpenAI Chat) and Responses (OpenAI Responses).
//
// Transformers are pure functions over decoded JSON and never fail: missing
// fields map to absent output, unknown content items are dropped, and
// tool-use-shaped entries are preserved best-effort.
package dialect

import "encoding/json"

// GetString returns m[key] when it holds a string.
func GetString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// GetMap returns m[key] when it holds a JSON object.
func GetMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// GetSlice returns m[key] when it holds a JSON array.
func GetSlice(m map[string]any, key string) []any {
	v, _ := m[key].([]any)
	return v
}

// GetNumber returns m[key] as a float64 when it holds a JSON number.
func GetNumber(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}

	return 0, false
}

// GetInt returns m[key] truncated to int, or 0.
func GetInt(m map[string]any, key string) int {
	f, ok := GetNumber(m, key)
	if !ok {
		return 0
	}

	return int(f)
}

// Stringify renders a value the way tool arguments travel on the wire:
// strings pass through, everything else is JSON-encoded.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}

	return string(raw)
}

// ParseArguments decodes a tool-call arguments string. Unparseable
// arguments are kept as the raw string.
func ParseArguments(raw string) any {
	if raw == "" {
		return map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}

	return decoded
}

// FlattenText collapses a string-or-block-list value to plain text. Block
// lists concatenate their text fields; non-text entries are skipped.
func FlattenText(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case []any:
		var out string
		for _, item := range value {
			switch block := item.(type) {
			case string:
				out += block
			case map[string]any:
				out += GetString(block, "text")
			}
		}

		return out
	case map[string]any:
		return GetString(value, "text")
	}

	return ""
}

func copyIfPresent(dst, src map[string]any, keys ...string) {
	for _, key := range keys {
		if v, ok := src[key]; ok {
			dst[key] = v
		}
	}
}
