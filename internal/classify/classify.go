// Package classify assigns a content class to an incoming request. The
// class drives rule selection: an explicit client override always wins,
// heuristics over the request body fill in the rest.
package classify

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
)

// Override locations, in precedence order.
var (
	overrideHeaders = []string{
		"x-aicodeswitch-content-type",
		"x-content-type",
		"x-request-type",
		"x-object-type",
	}

	overrideFields = []string{
		"contentType", "content_type",
		"requestType", "request_type",
		"objectType", "object_type",
		"mode",
	}
)

const (
	longContextTokenThreshold = 8000
	longContextTextThreshold  = 12000
)

// Classify resolves the content class of a request. First match wins:
// explicit override, image detection, thinking, long-context, background,
// default.
func Classify(header http.Header, query url.Values, body map[string]any) config.ContentType {
	if ct, ok := override(header, query, body); ok {
		return ct
	}

	if hasImage(body) {
		return config.ContentImage
	}

	if isThinking(body) {
		return config.ContentThinking
	}

	if isLongContext(body) {
		return config.ContentLongContext
	}

	if isBackground(body) {
		return config.ContentBackground
	}

	return config.ContentDefault
}

func override(header http.Header, query url.Values, body map[string]any) (config.ContentType, bool) {
	for _, name := range overrideHeaders {
		if ct, ok := normalize(header.Get(name)); ok {
			return ct, true
		}
	}

	for _, field := range overrideFields {
		if ct, ok := normalize(query.Get(field)); ok {
			return ct, true
		}

		if value, ok := body[field].(string); ok {
			if ct, ok := normalize(value); ok {
				return ct, true
			}
		}
	}

	for _, container := range []string{"metadata", "meta"} {
		meta := dialect.GetMap(body, container)
		if meta == nil {
			continue
		}

		for _, field := range overrideFields {
			if value, ok := meta[field].(string); ok {
				if ct, ok := normalize(value); ok {
					return ct, true
				}
			}
		}
	}

	return "", false
}

// normalize maps an override value onto its canonical content class.
// Values that do not normalize are skipped, not errors.
func normalize(value string) (config.ContentType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "bg", "background":
		return config.ContentBackground, true
	case "reasoning", "thinking":
		return config.ContentThinking, true
	case "long", "long_context", "long-context":
		return config.ContentLongContext, true
	case "image", "vision", "image_understanding", "image-understanding":
		return config.ContentImage, true
	case "default":
		return config.ContentDefault, true
	}

	return "", false
}

var imageBlockTypes = map[string]bool{
	"image":       true,
	"image_url":   true,
	"input_image": true,
}

func hasImage(body map[string]any) bool {
	return containsImage(body["messages"]) || containsImage(body["input"])
}

func containsImage(v any) bool {
	switch value := v.(type) {
	case []any:
		for _, item := range value {
			if containsImage(item) {
				return true
			}
		}
	case map[string]any:
		if imageBlockTypes[dialect.GetString(value, "type")] {
			return true
		}

		if present(value["image_url"]) {
			return true
		}

		for _, nested := range value {
			if containsImage(nested) {
				return true
			}
		}
	}

	return false
}

// present reports whether an image_url value carries anything: objects and
// arrays count by being non-empty, scalars by truthiness.
func present(v any) bool {
	switch value := v.(type) {
	case map[string]any:
		return len(value) > 0
	case []any:
		return len(value) > 0
	}

	return truthy(v)
}

func isThinking(body map[string]any) bool {
	// Messages extended thinking sends an object:
	// {"type":"enabled","budget_tokens":n}.
	if thinking, ok := body["thinking"].(map[string]any); ok && len(thinking) > 0 &&
		!strings.EqualFold(dialect.GetString(thinking, "type"), "disabled") {
		return true
	}

	for _, field := range []string{"reasoning", "thinking", "reasoning_effort"} {
		if truthy(body[field]) {
			return true
		}
	}

	if reasoning := dialect.GetMap(body, "reasoning"); reasoning != nil {
		if truthy(reasoning["effort"]) || truthy(reasoning["enabled"]) {
			return true
		}
	}

	return false
}

func isLongContext(body map[string]any) bool {
	if truthy(body["long_context"]) || truthy(body["longContext"]) {
		return true
	}

	if meta := dialect.GetMap(body, "metadata"); meta != nil {
		if truthy(meta["long_context"]) || truthy(meta["longContext"]) {
			return true
		}
	}

	for _, field := range []string{"max_tokens", "max_output_tokens", "max_completion_tokens", "max_context_tokens"} {
		if n, ok := dialect.GetNumber(body, field); ok && n >= longContextTokenThreshold {
			return true
		}
	}

	return textLength(body["messages"])+
		textLength(body["input"])+
		textLength(body["system"])+
		textLength(body["instructions"])+
		textLength(body["prompt"]) >= longContextTextThreshold
}

// textLength estimates the prompt size: string content and text fields
// count, structural fields do not.
func textLength(v any) int {
	switch value := v.(type) {
	case string:
		return len(value)
	case []any:
		total := 0
		for _, item := range value {
			total += textLength(item)
		}

		return total
	case map[string]any:
		total := 0
		if text, ok := value["text"].(string); ok {
			total += len(text)
		}

		if content, ok := value["content"]; ok {
			total += textLength(content)
		}

		return total
	}

	return 0
}

func isBackground(body map[string]any) bool {
	if flag, ok := body["background"].(bool); ok && flag {
		return true
	}

	candidates := []any{body["priority"], body["mode"]}
	for _, container := range []string{"metadata", "meta"} {
		if meta := dialect.GetMap(body, container); meta != nil {
			candidates = append(candidates, meta["background"], meta["priority"])
		}
	}

	for _, v := range candidates {
		if isBackgroundValue(v) {
			return true
		}
	}

	return false
}

func isBackgroundValue(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		return strings.ToLower(strings.TrimSpace(value)) == "background"
	}

	return false
}

// truthy follows JSON-ish truthiness: true booleans, non-zero numbers and
// non-empty strings other than "false"/"0". Objects and arrays are never
// truthy themselves; their relevant sub-fields are probed explicitly.
func truthy(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		s := strings.ToLower(strings.TrimSpace(value))
		return s != "" && s != "false" && s != "0"
	case float64:
		return value != 0
	case int:
		return value != 0
	case json.Number:
		f, err := value.Float64()
		return err == nil && f != 0
	}

	return false
}
