package dialect

import (
	"github.com/google/uuid"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
)

// MessagesToChatRequest converts a Messages-dialect request body to the
// Chat Completions dialect. The upstream source type decides the role given
// to the system prompt: deepseek-chat expects developer.
func MessagesToChatRequest(req map[string]any, source config.SourceType) map[string]any {
	out := map[string]any{}
	if model := GetString(req, "model"); model != "" {
		out["model"] = model
	}

	messages := make([]any, 0, len(GetSlice(req, "messages"))+1)

	// The system prompt leads the conversation.
	if system, ok := req["system"]; ok {
		if text := FlattenText(system); text != "" {
			role := "system"
			if source == config.SourceDeepSeekChat {
				role = "developer"
			}

			messages = append(messages, map[string]any{"role": role, "content": text})
		}
	}

	for _, raw := range GetSlice(req, "messages") {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		messages = append(messages, messageToChat(msg)...)
	}

	out["messages"] = messages

	copyIfPresent(out, req, "temperature", "top_p", "max_tokens")

	if stops, ok := req["stop_sequences"]; ok {
		out["stop"] = stops
	}

	if tools := GetSlice(req, "tools"); len(tools) > 0 {
		out["tools"] = chatToolsFromMessages(tools)
	}

	if choice, ok := req["tool_choice"]; ok {
		if normalized := normalizeToolChoice(choice); normalized != nil {
			out["tool_choice"] = normalized
		}
	}

	if stream, ok := req["stream"].(bool); ok {
		out["stream"] = stream
		if stream {
			out["stream_options"] = map[string]any{"include_usage": true}
		}
	}

	return out
}

// messageToChat maps one Messages message onto one or more Chat messages:
// tool results split into their own role=tool messages.
func messageToChat(msg map[string]any) []any {
	role := GetString(msg, "role")
	if role == "" {
		role = "user"
	}

	content, isBlocks := msg["content"].([]any)
	if !isBlocks {
		if text, ok := msg["content"].(string); ok {
			return []any{map[string]any{"role": role, "content": text}}
		}

		return nil
	}

	var (
		out       []any
		parts     []any
		text      string
		hasImage  bool
		toolCalls []any
	)

	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		switch {
		case GetString(block, "type") == "text":
			text += GetString(block, "text")
			parts = append(parts, map[string]any{"type": "text", "text": GetString(block, "text")})
		case GetString(block, "type") == "image":
			hasImage = true
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": imageURLFromSource(block)},
			})
		case isToolUseBlock(block):
			toolCalls = append(toolCalls, map[string]any{
				"id":   GetString(block, "id"),
				"type": "function",
				"function": map[string]any{
					"name":      GetString(block, "name"),
					"arguments": Stringify(block["input"]),
				},
			})
		case GetString(block, "type") == "tool_result":
			out = append(out, map[string]any{
				"role":         "tool",
				"tool_call_id": GetString(block, "tool_use_id"),
				"content":      Stringify(block["content"]),
			})
		}
		// Anything else is dropped.
	}

	if len(toolCalls) > 0 {
		out = append(out, map[string]any{
			"role":       "assistant",
			"content":    text,
			"tool_calls": toolCalls,
		})

		return out
	}

	switch {
	case hasImage:
		out = append(out, map[string]any{"role": role, "content": parts})
	case text != "":
		out = append(out, map[string]any{"role": role, "content": text})
	}

	return out
}

// isToolUseBlock also accepts unknown tool-use-shaped entries, which are
// preserved best-effort rather than dropped.
func isToolUseBlock(block map[string]any) bool {
	if GetString(block, "type") == "tool_use" {
		return true
	}

	_, hasInput := block["input"]

	return GetString(block, "id") != "" && GetString(block, "name") != "" && hasInput
}

// imageURLFromSource renders a Messages image source as a Chat image URL:
// base64 sources become data URIs, URL sources pass through.
func imageURLFromSource(block map[string]any) string {
	source := GetMap(block, "source")
	if source == nil {
		return ""
	}

	switch GetString(source, "type") {
	case "base64":
		return "data:" + GetString(source, "media_type") + ";base64," + GetString(source, "data")
	case "url":
		return GetString(source, "url")
	}

	return GetString(source, "url")
}

// chatToolsFromMessages wraps Messages tool definitions in the Chat
// function envelope.
func chatToolsFromMessages(tools []any) []any {
	out := make([]any, 0, len(tools))

	for _, raw := range tools {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		// Already Chat-shaped tools pass through.
		if GetString(tool, "type") == "function" && GetMap(tool, "function") != nil {
			out = append(out, tool)
			continue
		}

		name := GetString(tool, "name")
		if name == "" {
			continue
		}

		fn := map[string]any{"name": name}
		if desc := GetString(tool, "description"); desc != "" {
			fn["description"] = desc
		}

		if schema, ok := tool["input_schema"]; ok {
			fn["parameters"] = schema
		}

		out = append(out, map[string]any{"type": "function", "function": fn})
	}

	return out
}

// normalizeToolChoice maps a Messages tool_choice onto the Chat values
// auto, required or a named function. Unknown shapes are dropped.
func normalizeToolChoice(choice any) any {
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			return "auto"
		case "any", "required":
			return "required"
		}
	case map[string]any:
		switch GetString(v, "type") {
		case "auto":
			return "auto"
		case "any":
			return "required"
		case "tool":
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": GetString(v, "name")},
			}
		}
	}

	return nil
}

// ChatToMessagesResponse converts a Chat Completions response body to the
// Messages dialect.
func ChatToMessagesResponse(resp map[string]any) map[string]any {
	out := map[string]any{
		"id":            responseID(resp, "msg_"),
		"type":          "message",
		"role":          "assistant",
		"stop_sequence": nil,
	}

	if model := GetString(resp, "model"); model != "" {
		out["model"] = model
	}

	content := make([]any, 0, 1)

	var stopReason any

	if choices := GetSlice(resp, "choices"); len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)

		message := GetMap(choice, "message")
		if message == nil {
			message = GetMap(choice, "delta")
		}

		if message != nil {
			if text := GetString(message, "content"); text != "" {
				content = append(content, map[string]any{"type": "text", "text": text})
			}

			for _, raw := range GetSlice(message, "tool_calls") {
				call, ok := raw.(map[string]any)
				if !ok {
					continue
				}

				fn := GetMap(call, "function")
				if fn == nil {
					continue
				}

				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    GetString(call, "id"),
					"name":  GetString(fn, "name"),
					"input": ParseArguments(GetString(fn, "arguments")),
				})
			}
		}

		if reason := GetString(choice, "finish_reason"); reason != "" {
			stopReason = StopReasonFromFinish(reason)
		}
	}

	if len(content) == 0 {
		content = append(content, map[string]any{"type": "text", "text": ""})
	}

	out["content"] = content
	out["stop_reason"] = stopReason

	if usage := GetMap(resp, "usage"); usage != nil {
		out["usage"] = UsageFromChat(usage).MessagesMap()
	}

	return out
}

func responseID(resp map[string]any, prefix string) string {
	if id := GetString(resp, "id"); id != "" {
		return id
	}

	return prefix + uuid.NewString()
}
