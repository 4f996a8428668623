package dialect

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessagesToResponsesRequest converts a Messages-dialect request body to
// the Responses dialect: messages become input items, the system prompt
// becomes instructions, max_tokens becomes max_output_tokens.
func MessagesToResponsesRequest(req map[string]any) map[string]any {
	out := map[string]any{}
	if model := GetString(req, "model"); model != "" {
		out["model"] = model
	}

	if system, ok := req["system"]; ok {
		if text := FlattenText(system); text != "" {
			out["instructions"] = text
		}
	}

	input := make([]any, 0, len(GetSlice(req, "messages")))
	for _, raw := range GetSlice(req, "messages") {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		input = append(input, messageToResponsesItems(msg)...)
	}

	out["input"] = input

	copyIfPresent(out, req, "temperature", "top_p", "stream")

	if maxTokens, ok := req["max_tokens"]; ok {
		out["max_output_tokens"] = maxTokens
	}

	if tools := GetSlice(req, "tools"); len(tools) > 0 {
		out["tools"] = chatToolsFromMessages(tools)
	}

	if choice, ok := req["tool_choice"]; ok {
		if normalized := normalizeToolChoice(choice); normalized != nil {
			out["tool_choice"] = normalized
		}
	}

	return out
}

// messageToResponsesItems maps one Messages message onto Responses input
// items. Tool use and tool results become standalone function_call /
// function_call_output items.
func messageToResponsesItems(msg map[string]any) []any {
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

	textType := "input_text"
	if role == "assistant" {
		textType = "output_text"
	}

	var (
		out   []any
		parts []any
	)

	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		switch {
		case GetString(block, "type") == "text":
			parts = append(parts, map[string]any{"type": textType, "text": GetString(block, "text")})
		case GetString(block, "type") == "image":
			parts = append(parts, map[string]any{
				"type":      "input_image",
				"image_url": imageURLFromSource(block),
			})
		case isToolUseBlock(block):
			out = append(out, map[string]any{
				"type":      "function_call",
				"call_id":   GetString(block, "id"),
				"name":      GetString(block, "name"),
				"arguments": Stringify(block["input"]),
			})
		case GetString(block, "type") == "tool_result":
			out = append(out, map[string]any{
				"type":    "function_call_output",
				"call_id": GetString(block, "tool_use_id"),
				"output":  Stringify(block["content"]),
			})
		}
	}

	if len(parts) > 0 {
		out = append(out, map[string]any{"role": role, "content": parts})
	}

	return out
}

// ResponsesToMessagesRequest converts a Responses-dialect request body to
// the Messages dialect, for Codex clients routed to Claude upstreams.
func ResponsesToMessagesRequest(req map[string]any) map[string]any {
	out := map[string]any{}
	if model := GetString(req, "model"); model != "" {
		out["model"] = model
	}

	if instructions := GetString(req, "instructions"); instructions != "" {
		out["system"] = instructions
	}

	messages := make([]any, 0, 4)

	switch input := req["input"].(type) {
	case string:
		messages = append(messages, map[string]any{"role": "user", "content": input})
	case []any:
		for _, raw := range input {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}

			if msg := responsesItemToMessage(item); msg != nil {
				messages = append(messages, msg)
			}
		}
	}

	out["messages"] = messages

	copyIfPresent(out, req, "temperature", "top_p", "stream")

	if maxTokens, ok := req["max_output_tokens"]; ok {
		out["max_tokens"] = maxTokens
	}

	if tools := GetSlice(req, "tools"); len(tools) > 0 {
		out["tools"] = messagesToolsFromResponses(tools)
	}

	if choice, ok := req["tool_choice"]; ok {
		if normalized := messagesToolChoice(choice); normalized != nil {
			out["tool_choice"] = normalized
		}
	}

	return out
}

func responsesItemToMessage(item map[string]any) map[string]any {
	typ := GetString(item, "type")

	switch {
	case strings.Contains(typ, "function_call_output"):
		return map[string]any{
			"role": "user",
			"content": []any{map[string]any{
				"type":        "tool_result",
				"tool_use_id": GetString(item, "call_id"),
				"content":     GetString(item, "output"),
			}},
		}
	case strings.Contains(typ, "function_call") || strings.Contains(typ, "tool_call"):
		id := GetString(item, "call_id")
		if id == "" {
			id = GetString(item, "id")
		}

		return map[string]any{
			"role": "assistant",
			"content": []any{map[string]any{
				"type":  "tool_use",
				"id":    id,
				"name":  GetString(item, "name"),
				"input": ParseArguments(GetString(item, "arguments")),
			}},
		}
	case typ == "message" || (typ == "" && item["role"] != nil):
		role := GetString(item, "role")
		if role == "" {
			role = "user"
		}

		if text, ok := item["content"].(string); ok {
			return map[string]any{"role": role, "content": text}
		}

		blocks := make([]any, 0, 1)
		for _, raw := range GetSlice(item, "content") {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}

			switch GetString(part, "type") {
			case "input_text", "output_text", "text":
				blocks = append(blocks, map[string]any{"type": "text", "text": GetString(part, "text")})
			case "input_image":
				blocks = append(blocks, imageBlockFromURL(imageURLOf(part)))
			}
		}

		if len(blocks) == 0 {
			return nil
		}

		return map[string]any{"role": role, "content": blocks}
	}

	return nil
}

// imageURLOf reads a Responses image part, whose image_url may be a plain
// string or a Chat-style object.
func imageURLOf(part map[string]any) string {
	if url, ok := part["image_url"].(string); ok {
		return url
	}

	if obj := GetMap(part, "image_url"); obj != nil {
		return GetString(obj, "url")
	}

	return GetString(part, "url")
}

// imageBlockFromURL builds a Messages image block: data URIs decompose
// back into base64 sources, anything else becomes a URL source.
func imageBlockFromURL(url string) map[string]any {
	if rest, ok := strings.CutPrefix(url, "data:"); ok {
		if mediaType, data, found := strings.Cut(rest, ";base64,"); found {
			return map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": mediaType,
					"data":       data,
				},
			}
		}
	}

	return map[string]any{
		"type":   "image",
		"source": map[string]any{"type": "url", "url": url},
	}
}

// messagesToolsFromResponses unwraps tool definitions back to the Messages
// shape. Both the function envelope and the flat Responses form are
// accepted.
func messagesToolsFromResponses(tools []any) []any {
	out := make([]any, 0, len(tools))

	for _, raw := range tools {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		fn := GetMap(tool, "function")
		if fn == nil {
			fn = tool
		}

		name := GetString(fn, "name")
		if name == "" {
			continue
		}

		converted := map[string]any{"name": name}
		if desc := GetString(fn, "description"); desc != "" {
			converted["description"] = desc
		}

		if schema, ok := fn["parameters"]; ok {
			converted["input_schema"] = schema
		}

		out = append(out, converted)
	}

	return out
}

// messagesToolChoice maps a Chat/Responses tool_choice onto the Messages
// shape.
func messagesToolChoice(choice any) any {
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			return map[string]any{"type": "auto"}
		case "required":
			return map[string]any{"type": "any"}
		}
	case map[string]any:
		fn := GetMap(v, "function")
		if fn == nil {
			fn = v
		}

		if name := GetString(fn, "name"); name != "" {
			return map[string]any{"type": "tool", "name": name}
		}
	}

	return nil
}

// ResponsesToChatRequest converts a Responses-dialect request body to the
// Chat Completions dialect, for Codex clients routed to Chat upstreams.
// Message content is flattened to plain text.
func ResponsesToChatRequest(req map[string]any) map[string]any {
	out := map[string]any{}
	if model := GetString(req, "model"); model != "" {
		out["model"] = model
	}

	messages := make([]any, 0, 4)

	if instructions := GetString(req, "instructions"); instructions != "" {
		messages = append(messages, map[string]any{"role": "system", "content": instructions})
	}

	switch input := req["input"].(type) {
	case string:
		messages = append(messages, map[string]any{"role": "user", "content": input})
	case []any:
		for _, raw := range input {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}

			if msg := responsesItemToChatMessage(item); msg != nil {
				messages = append(messages, msg)
			}
		}
	}

	out["messages"] = messages

	copyIfPresent(out, req, "temperature", "top_p")

	if maxTokens, ok := req["max_output_tokens"]; ok {
		out["max_tokens"] = maxTokens
	}

	if tools := GetSlice(req, "tools"); len(tools) > 0 {
		out["tools"] = chatToolsFromResponses(tools)
	}

	if choice, ok := req["tool_choice"]; ok {
		out["tool_choice"] = choice
	}

	if stream, ok := req["stream"].(bool); ok {
		out["stream"] = stream
		if stream {
			out["stream_options"] = map[string]any{"include_usage": true}
		}
	}

	return out
}

func responsesItemToChatMessage(item map[string]any) map[string]any {
	typ := GetString(item, "type")

	switch {
	case strings.Contains(typ, "function_call_output"):
		return map[string]any{
			"role":         "tool",
			"tool_call_id": GetString(item, "call_id"),
			"content":      GetString(item, "output"),
		}
	case strings.Contains(typ, "function_call") || strings.Contains(typ, "tool_call"):
		id := GetString(item, "call_id")
		if id == "" {
			id = GetString(item, "id")
		}

		return map[string]any{
			"role":    "assistant",
			"content": "",
			"tool_calls": []any{map[string]any{
				"id":   id,
				"type": "function",
				"function": map[string]any{
					"name":      GetString(item, "name"),
					"arguments": GetString(item, "arguments"),
				},
			}},
		}
	case typ == "message" || (typ == "" && item["role"] != nil):
		role := GetString(item, "role")
		if role == "" {
			role = "user"
		}

		text := FlattenText(item["content"])
		if text == "" {
			return nil
		}

		return map[string]any{"role": role, "content": text}
	}

	return nil
}

// chatToolsFromResponses normalizes tool definitions to the Chat function
// envelope, accepting both the enveloped and the flat Responses form.
func chatToolsFromResponses(tools []any) []any {
	out := make([]any, 0, len(tools))

	for _, raw := range tools {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		if GetMap(tool, "function") != nil {
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

		if schema, ok := tool["parameters"]; ok {
			fn["parameters"] = schema
		}

		out = append(out, map[string]any{"type": "function", "function": fn})
	}

	return out
}

// ResponsesToMessagesResponse converts a Responses response body to the
// Messages dialect by walking its output items.
func ResponsesToMessagesResponse(resp map[string]any) map[string]any {
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
	hasToolUse := false

	for _, raw := range GetSlice(resp, "output") {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		typ := GetString(item, "type")

		switch {
		case typ == "message":
			for _, partRaw := range GetSlice(item, "content") {
				part, ok := partRaw.(map[string]any)
				if !ok {
					continue
				}

				if t := GetString(part, "type"); t == "output_text" || t == "text" {
					content = append(content, map[string]any{"type": "text", "text": GetString(part, "text")})
				}
			}
		case typ == "output_text":
			content = append(content, map[string]any{"type": "text", "text": GetString(item, "text")})
		case strings.Contains(typ, "function_call_output"):
			// Request-side items; never part of a response output.
		case strings.Contains(typ, "tool_call") || strings.Contains(typ, "function_call"):
			id := GetString(item, "call_id")
			if id == "" {
				id = GetString(item, "id")
			}

			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    id,
				"name":  GetString(item, "name"),
				"input": ParseArguments(GetString(item, "arguments")),
			})
			hasToolUse = true
		}
	}

	if len(content) == 0 {
		content = append(content, map[string]any{"type": "text", "text": ""})
	}

	out["content"] = content
	out["stop_reason"] = messagesStopFromResponses(resp, hasToolUse)

	if usage := GetMap(resp, "usage"); usage != nil {
		out["usage"] = UsageFromResponses(usage).MessagesMap()
	}

	return out
}

func messagesStopFromResponses(resp map[string]any, hasToolUse bool) string {
	if GetString(resp, "status") == "incomplete" {
		if details := GetMap(resp, "incomplete_details"); details != nil {
			if GetString(details, "reason") == "max_output_tokens" {
				return "max_tokens"
			}
		}
	}

	if hasToolUse {
		return "tool_use"
	}

	return "end_turn"
}

// MessagesToResponsesResponse converts a Messages response body to the
// Responses dialect. Text blocks concatenate into one message item;
// tool_use blocks become tool_call items.
func MessagesToResponsesResponse(resp map[string]any) map[string]any {
	var (
		text      strings.Builder
		toolItems []any
	)

	for _, raw := range GetSlice(resp, "content") {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		switch {
		case GetString(block, "type") == "text":
			text.WriteString(GetString(block, "text"))
		case isToolUseBlock(block):
			toolItems = append(toolItems, map[string]any{
				"type":      "tool_call",
				"id":        GetString(block, "id"),
				"call_id":   GetString(block, "id"),
				"name":      GetString(block, "name"),
				"arguments": Stringify(block["input"]),
				"status":    "completed",
			})
		}
	}

	output := make([]any, 0, 1+len(toolItems))
	output = append(output, map[string]any{
		"id":     messageItemID(resp),
		"type":   "message",
		"role":   "assistant",
		"status": "completed",
		"content": []any{
			map[string]any{"type": "output_text", "text": text.String()},
		},
	})
	output = append(output, toolItems...)

	status, incompleteReason := ResponsesStatus(GetString(resp, "stop_reason"))

	out := map[string]any{
		"id":         responseID(resp, "resp_"),
		"object":     "response",
		"created_at": time.Now().Unix(),
		"status":     status,
		"output":     output,
	}

	if model := GetString(resp, "model"); model != "" {
		out["model"] = model
	}

	if incompleteReason != "" {
		out["incomplete_details"] = map[string]any{"reason": incompleteReason}
	}

	if usage := GetMap(resp, "usage"); usage != nil {
		out["usage"] = UsageFromMessages(usage).ResponsesMap()
	}

	return out
}

func messageItemID(resp map[string]any) string {
	if id := GetString(resp, "id"); strings.HasPrefix(id, "msg_") {
		return id
	}

	return "msg_" + uuid.NewString()
}

// ChatToResponsesResponse chains Chat to Messages to Responses, for Codex
// clients routed to Chat upstreams.
func ChatToResponsesResponse(resp map[string]any) map[string]any {
	return MessagesToResponsesResponse(ChatToMessagesResponse(resp))
}
