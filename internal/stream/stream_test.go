package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/sse"
)

func feed(tr Transformer, events ...sse.Event) []sse.Event {
	var out []sse.Event
	for _, ev := range events {
		out = append(out, tr.OnEvent(ev)...)
	}

	return out
}

func eventNames(events []sse.Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}

	return names
}

func payload(t *testing.T, ev sse.Event) map[string]any {
	t.Helper()

	data, ok := ev.DataMap()
	require.True(t, ok, "event %q should carry an object payload", ev.Name)

	return data
}

func chatChunk(choices ...map[string]any) sse.Event {
	list := make([]any, 0, len(choices))
	for _, c := range choices {
		list = append(list, c)
	}

	return sse.Event{Data: map[string]any{
		"id":      "chatcmpl-1",
		"model":   "gpt-4o",
		"choices": list,
	}}
}

func assertBlockBalance(t *testing.T, events []sse.Event) {
	t.Helper()

	open := map[int]int{}
	for _, ev := range events {
		data, ok := ev.DataMap()
		if !ok {
			continue
		}

		switch ev.Name {
		case "content_block_start":
			open[dialect.GetInt(data, "index")]++
		case "content_block_stop":
			open[dialect.GetInt(data, "index")]--
		}
	}

	for index, count := range open {
		assert.Zero(t, count, "block %d should be closed exactly once", index)
	}
}

func TestChatToMessages_TextStream(t *testing.T) {
	tr := NewChatToMessages()

	out := feed(tr,
		chatChunk(map[string]any{"delta": map[string]any{"content": "he"}}),
		chatChunk(map[string]any{"delta": map[string]any{"content": "llo"}}),
		chatChunk(map[string]any{"delta": map[string]any{}, "finish_reason": "stop"}),
		sse.Event{Done: true},
	)

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(out))

	start := payload(t, out[0])
	msg := dialect.GetMap(start, "message")
	require.NotNil(t, msg)
	assert.Equal(t, "chatcmpl-1", msg["id"])
	assert.Equal(t, "gpt-4o", msg["model"])
	assert.Equal(t, "assistant", msg["role"])

	blockStart := payload(t, out[1])
	assert.Equal(t, 0, blockStart["index"])
	assert.Equal(t, "text", dialect.GetString(dialect.GetMap(blockStart, "content_block"), "type"))

	assert.Equal(t, "he", dialect.GetString(dialect.GetMap(payload(t, out[2]), "delta"), "text"))
	assert.Equal(t, "llo", dialect.GetString(dialect.GetMap(payload(t, out[3]), "delta"), "text"))
	assert.Equal(t, 0, payload(t, out[4])["index"])

	messageDelta := payload(t, out[5])
	assert.Equal(t, "end_turn", dialect.GetString(dialect.GetMap(messageDelta, "delta"), "stop_reason"))
	assert.NotContains(t, messageDelta, "usage", "no usage was observed upstream")

	assertBlockBalance(t, out)
}

func TestChatToMessages_ToolCalls(t *testing.T) {
	tr := NewChatToMessages()

	out := feed(tr,
		chatChunk(map[string]any{"delta": map[string]any{"content": "checking"}}),
		chatChunk(map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{
				"index":    0,
				"id":       "call_1",
				"function": map[string]any{"name": "get_weather", "arguments": ""},
			},
		}}}),
		chatChunk(map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"index": 0, "function": map[string]any{"arguments": `{"city":`}},
		}}}),
		chatChunk(map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"index": 0, "function": map[string]any{"arguments": `"SF"}`}},
		}}}),
		chatChunk(map[string]any{"delta": map[string]any{}, "finish_reason": "tool_calls"}),
		sse.Event{Done: true},
	)

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(out))

	toolStart := payload(t, out[3])
	assert.Equal(t, 1, toolStart["index"])
	block := dialect.GetMap(toolStart, "content_block")
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "call_1", block["id"])
	assert.Equal(t, "get_weather", block["name"])

	first := dialect.GetMap(payload(t, out[4]), "delta")
	assert.Equal(t, "input_json_delta", first["type"])
	assert.Equal(t, `{"city":`, first["partial_json"])
	assert.Equal(t, `"SF"}`, dialect.GetMap(payload(t, out[5]), "delta")["partial_json"])

	// Tool block closes before the text block.
	assert.Equal(t, 1, payload(t, out[6])["index"])
	assert.Equal(t, 0, payload(t, out[7])["index"])

	delta := dialect.GetMap(payload(t, out[8]), "delta")
	assert.Equal(t, "tool_use", delta["stop_reason"])

	assertBlockBalance(t, out)
}

func TestChatToMessages_ToolArgumentsBeforeName(t *testing.T) {
	tr := NewChatToMessages()

	out := feed(tr,
		chatChunk(map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"index": 0, "id": "call_7", "function": map[string]any{"arguments": `{"q":`}},
		}}}),
		chatChunk(map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"index": 0, "function": map[string]any{"name": "search", "arguments": `"go"}`}},
		}}}),
		sse.Event{Done: true},
	)

	// The block opens once the name arrives; buffered arguments flush as
	// the first fragment, in arrival order.
	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(out))

	assert.Equal(t, `{"q":`, dialect.GetMap(payload(t, out[2]), "delta")["partial_json"])
	assert.Equal(t, `"go"}`, dialect.GetMap(payload(t, out[3]), "delta")["partial_json"])
}

func TestChatToMessages_ThinkingDelta(t *testing.T) {
	tr := NewChatToMessages()

	out := feed(tr,
		chatChunk(map[string]any{"delta": map[string]any{"reasoning_content": "hmm"}}),
		chatChunk(map[string]any{"delta": map[string]any{"content": "answer"}}),
		sse.Event{Done: true},
	)

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(out))

	thinkingStart := payload(t, out[1])
	assert.Equal(t, "thinking", dialect.GetString(dialect.GetMap(thinkingStart, "content_block"), "type"))
	assert.Equal(t, "hmm", dialect.GetMap(payload(t, out[2]), "delta")["thinking"])

	assertBlockBalance(t, out)
}

func TestChatToMessages_UsageAndIdempotentFinalize(t *testing.T) {
	tr := NewChatToMessages()

	feed(tr,
		chatChunk(map[string]any{"delta": map[string]any{"content": "hi"}}),
	)
	tr.OnEvent(sse.Event{Data: map[string]any{
		"choices": []any{},
		"usage": map[string]any{
			"prompt_tokens":         5,
			"completion_tokens":     2,
			"total_tokens":          7,
			"prompt_tokens_details": map[string]any{"cached_tokens": 3},
		},
	}})

	out := tr.Finalize()
	require.NotEmpty(t, out)

	var messageDelta map[string]any
	for _, ev := range out {
		if ev.Name == "message_delta" {
			messageDelta = payload(t, ev)
		}
	}

	require.NotNil(t, messageDelta)
	assert.Equal(t, map[string]any{
		"input_tokens":            5,
		"output_tokens":           2,
		"cache_read_input_tokens": 3,
	}, dialect.GetMap(messageDelta, "usage"))

	assert.Equal(t, dialect.TokenUsage{
		InputTokens:          5,
		OutputTokens:         2,
		TotalTokens:          7,
		CacheReadInputTokens: 3,
	}, tr.Usage())

	assert.Empty(t, tr.Finalize(), "finalize must be idempotent")
	assert.Empty(t, tr.OnEvent(chatChunk(map[string]any{"delta": map[string]any{"content": "late"}})),
		"no events after finalization")
}

func TestResponsesToMessages_TextStream(t *testing.T) {
	tr := NewResponsesToMessages()

	out := feed(tr,
		sse.Event{Name: "response.created", Data: map[string]any{
			"type":     "response.created",
			"response": map[string]any{"id": "resp_abc", "model": "gpt-5"},
		}},
		sse.Event{Name: "response.output_text.delta", Data: map[string]any{"delta": "hel"}},
		sse.Event{Name: "response.output_text.delta", Data: map[string]any{"delta": "lo"}},
		sse.Event{Name: "response.output_text.done", Data: map[string]any{"text": "hello"}},
		sse.Event{Name: "response.completed", Data: map[string]any{
			"response": map[string]any{
				"status": "completed",
				"usage": map[string]any{
					"input_tokens":  9,
					"output_tokens": 2,
					"total_tokens":  11,
				},
			},
		}},
	)

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(out))

	msg := dialect.GetMap(payload(t, out[0]), "message")
	assert.Equal(t, "msg_abc", msg["id"])
	assert.Equal(t, "gpt-5", msg["model"])

	assert.Equal(t, "hel", dialect.GetMap(payload(t, out[2]), "delta")["text"])
	assert.Equal(t, "lo", dialect.GetMap(payload(t, out[3]), "delta")["text"])

	messageDelta := payload(t, out[5])
	assert.Equal(t, "end_turn", dialect.GetString(dialect.GetMap(messageDelta, "delta"), "stop_reason"))
	assert.Equal(t, map[string]any{
		"input_tokens":            9,
		"output_tokens":           2,
		"cache_read_input_tokens": 0,
	}, dialect.GetMap(messageDelta, "usage"))

	assertBlockBalance(t, out)
}

func TestResponsesToMessages_FunctionCallFamily(t *testing.T) {
	tr := NewResponsesToMessages()

	out := feed(tr,
		sse.Event{Name: "response.created", Data: map[string]any{
			"response": map[string]any{"id": "resp_1", "model": "gpt-5"},
		}},
		sse.Event{Name: "response.output_item.added", Data: map[string]any{
			"item": map[string]any{
				"id":      "fc_1",
				"type":    "function_call",
				"call_id": "call_9",
				"name":    "lookup",
			},
		}},
		sse.Event{Name: "response.function_call_arguments.delta", Data: map[string]any{
			"item_id": "fc_1",
			"delta":   `{"q":"go"}`,
		}},
		sse.Event{Name: "response.function_call_arguments.done", Data: map[string]any{
			"item_id":   "fc_1",
			"arguments": `{"q":"go"}`,
		}},
		sse.Event{Name: "response.completed", Data: map[string]any{
			"response": map[string]any{"status": "completed"},
		}},
	)

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(out))

	block := dialect.GetMap(payload(t, out[1]), "content_block")
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "call_9", block["id"])
	assert.Equal(t, "lookup", block["name"])

	assert.Equal(t, `{"q":"go"}`, dialect.GetMap(payload(t, out[2]), "delta")["partial_json"])

	delta := dialect.GetMap(payload(t, out[4]), "delta")
	assert.Equal(t, "tool_use", delta["stop_reason"])

	assertBlockBalance(t, out)
}

func TestResponsesToMessages_MaxTokensIncomplete(t *testing.T) {
	tr := NewResponsesToMessages()

	out := feed(tr,
		sse.Event{Name: "response.created", Data: map[string]any{
			"response": map[string]any{"id": "resp_1"},
		}},
		sse.Event{Name: "response.output_text.delta", Data: map[string]any{"delta": "trunc"}},
		sse.Event{Name: "response.completed", Data: map[string]any{
			"response": map[string]any{
				"status":             "incomplete",
				"incomplete_details": map[string]any{"reason": "max_output_tokens"},
			},
		}},
	)

	var stopReason string
	for _, ev := range out {
		if ev.Name == "message_delta" {
			stopReason = dialect.GetString(dialect.GetMap(payload(t, ev), "delta"), "stop_reason")
		}
	}

	assert.Equal(t, "max_tokens", stopReason)
}

func TestResponsesToMessages_DisconnectFinalize(t *testing.T) {
	tr := NewResponsesToMessages()

	feed(tr,
		sse.Event{Name: "response.created", Data: map[string]any{
			"response": map[string]any{"id": "resp_1"},
		}},
		sse.Event{Name: "response.output_text.delta", Data: map[string]any{"delta": "cut "}},
	)

	out := tr.Finalize()

	require.Equal(t, []string{
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(out))

	delta := dialect.GetMap(payload(t, out[1]), "delta")
	assert.Equal(t, "end_turn", delta["stop_reason"])

	assert.Empty(t, tr.Finalize())
	assert.Empty(t, tr.OnEvent(sse.Event{Name: "response.output_text.delta", Data: map[string]any{"delta": "late"}}))
}

func TestMessagesToResponses_TextStream(t *testing.T) {
	tr := NewMessagesToResponses()

	out := feed(tr,
		sse.Event{Name: "message_start", Data: map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":    "msg_7",
				"model": "claude-sonnet",
				"usage": map[string]any{"input_tokens": 16, "output_tokens": 1, "cache_read_input_tokens": 20},
			},
		}},
		sse.Event{Name: "content_block_start", Data: map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]any{"type": "text", "text": ""},
		}},
		sse.Event{Name: "content_block_delta", Data: map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": "hi"},
		}},
		sse.Event{Name: "content_block_stop", Data: map[string]any{"type": "content_block_stop", "index": 0}},
		sse.Event{Name: "message_delta", Data: map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
			"usage": map[string]any{"output_tokens": 4},
		}},
		sse.Event{Name: "message_stop", Data: map[string]any{"type": "message_stop"}},
	)

	require.Equal(t, []string{
		"response.created",
		"response.output_text.delta",
		"response.output_text.done",
		"response.completed",
	}, eventNames(out))

	created := dialect.GetMap(payload(t, out[0]), "response")
	assert.Equal(t, "resp_7", created["id"])
	assert.Equal(t, "in_progress", created["status"])
	assert.Equal(t, "claude-sonnet", created["model"])

	textDelta := payload(t, out[1])
	assert.Equal(t, "msg_7", textDelta["item_id"])
	assert.Equal(t, 0, textDelta["output_index"])
	assert.Equal(t, "hi", textDelta["delta"])

	assert.Equal(t, "hi", payload(t, out[2])["text"])

	completed := dialect.GetMap(payload(t, out[3]), "response")
	assert.Equal(t, "completed", completed["status"])

	output := dialect.GetSlice(completed, "output")
	require.Len(t, output, 1)
	item := output[0].(map[string]any)
	assert.Equal(t, "message", item["type"])
	content := dialect.GetSlice(item, "content")
	require.Len(t, content, 1)
	assert.Equal(t, "hi", dialect.GetString(content[0].(map[string]any), "text"))

	// Input tokens are cache-inclusive on the Responses side.
	assert.Equal(t, map[string]any{
		"input_tokens":  36,
		"output_tokens": 4,
		"total_tokens":  40,
	}, dialect.GetMap(completed, "usage"))
}

func TestMessagesToResponses_ToolBlocksAndThinking(t *testing.T) {
	tr := NewMessagesToResponses()

	out := feed(tr,
		sse.Event{Name: "message_start", Data: map[string]any{
			"message": map[string]any{"id": "msg_1", "model": "claude-sonnet"},
		}},
		sse.Event{Name: "content_block_start", Data: map[string]any{
			"index":         0,
			"content_block": map[string]any{"type": "thinking", "thinking": ""},
		}},
		sse.Event{Name: "content_block_delta", Data: map[string]any{
			"index": 0,
			"delta": map[string]any{"type": "thinking_delta", "thinking": "pondering"},
		}},
		sse.Event{Name: "content_block_stop", Data: map[string]any{"index": 0}},
		sse.Event{Name: "content_block_start", Data: map[string]any{
			"index":         1,
			"content_block": map[string]any{"type": "tool_use", "id": "toolu_1", "name": "search", "input": map[string]any{}},
		}},
		sse.Event{Name: "content_block_delta", Data: map[string]any{
			"index": 1,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": `{"q":`},
		}},
		sse.Event{Name: "content_block_delta", Data: map[string]any{
			"index": 1,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": `"go"}`},
		}},
		sse.Event{Name: "content_block_stop", Data: map[string]any{"index": 1}},
		sse.Event{Name: "message_delta", Data: map[string]any{
			"delta": map[string]any{"stop_reason": "tool_use"},
		}},
		sse.Event{Name: "message_stop", Data: map[string]any{}},
	)

	// Thinking has no Responses rendering.
	require.Equal(t, []string{
		"response.created",
		"response.output_tool_call.delta",
		"response.output_tool_call.delta",
		"response.output_tool_call.done",
		"response.completed",
	}, eventNames(out))

	first := payload(t, out[1])
	assert.Equal(t, "toolu_1", first["item_id"])
	assert.Equal(t, 1, first["output_index"])
	assert.Equal(t, "search", first["name"])
	assert.Equal(t, `{"q":`, first["delta"])

	done := payload(t, out[3])
	assert.Equal(t, `{"q":"go"}`, done["arguments"])

	completed := dialect.GetMap(payload(t, out[4]), "response")
	output := dialect.GetSlice(completed, "output")
	require.Len(t, output, 2)

	tool := output[1].(map[string]any)
	assert.Equal(t, "tool_call", tool["type"])
	assert.Equal(t, "toolu_1", tool["call_id"])
	assert.Equal(t, "search", tool["name"])
	assert.Equal(t, `{"q":"go"}`, tool["arguments"])
}

func TestMessagesToResponses_MaxTokensIncomplete(t *testing.T) {
	tr := NewMessagesToResponses()

	out := feed(tr,
		sse.Event{Name: "message_start", Data: map[string]any{
			"message": map[string]any{"id": "msg_1", "model": "claude-sonnet"},
		}},
		sse.Event{Name: "content_block_delta", Data: map[string]any{
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": "cut"},
		}},
		sse.Event{Name: "message_delta", Data: map[string]any{
			"delta": map[string]any{"stop_reason": "max_tokens"},
		}},
		sse.Event{Name: "message_stop", Data: map[string]any{}},
	)

	completed := dialect.GetMap(payload(t, out[len(out)-1]), "response")
	assert.Equal(t, "incomplete", completed["status"])
	assert.Equal(t, map[string]any{"reason": "max_output_tokens"},
		dialect.GetMap(completed, "incomplete_details"))
}

func TestChatToResponses_Chain(t *testing.T) {
	tr := NewChatToResponses()

	out := feed(tr,
		sse.Event{Data: map[string]any{
			"id":    "chatcmpl-9",
			"model": "gpt-4o-mini",
			"choices": []any{
				map[string]any{"delta": map[string]any{"content": "hi"}},
			},
		}},
		sse.Event{Data: map[string]any{
			"choices": []any{
				map[string]any{"delta": map[string]any{}, "finish_reason": "stop"},
			},
		}},
		sse.Event{Data: map[string]any{
			"choices": []any{},
			"usage": map[string]any{
				"prompt_tokens":         7,
				"completion_tokens":     1,
				"total_tokens":          8,
				"prompt_tokens_details": map[string]any{"cached_tokens": 3},
			},
		}},
		sse.Event{Done: true},
	)

	require.Equal(t, []string{
		"response.created",
		"response.output_text.delta",
		"response.output_text.done",
		"response.completed",
	}, eventNames(out))

	assert.Equal(t, "hi", payload(t, out[1])["delta"])
	assert.Equal(t, "hi", payload(t, out[2])["text"])

	completed := dialect.GetMap(payload(t, out[3]), "response")
	assert.Equal(t, "completed", completed["status"])
	assert.Equal(t, map[string]any{
		"input_tokens":  10,
		"output_tokens": 1,
		"total_tokens":  11,
	}, dialect.GetMap(completed, "usage"), "input tokens include cache reads")

	assert.Equal(t, dialect.TokenUsage{
		InputTokens:          7,
		OutputTokens:         1,
		TotalTokens:          8,
		CacheReadInputTokens: 3,
	}, tr.Usage())

	assert.Empty(t, tr.Finalize(), "finalize after [DONE] must be a no-op")
}

func TestCollector_ChunksAndUsage(t *testing.T) {
	c := NewCollector()

	c.Observe(sse.Event{Name: "message_start", Data: map[string]any{"type": "message_start"}})
	c.Observe(sse.Event{Data: "not json"})
	c.Observe(sse.Event{Data: map[string]any{
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
	}})
	c.Observe(sse.Event{Done: true})

	chunks := c.Chunks()
	require.Len(t, chunks, 4)
	assert.Equal(t, "event: message_start\ndata: {\"type\":\"message_start\"}", chunks[0],
		"framing lines survive in the log")
	assert.Equal(t, "data: not json", chunks[1])
	assert.Equal(t, "data: "+sse.DoneLiteral, chunks[3])

	usage, ok := c.Usage()
	require.True(t, ok)
	assert.Equal(t, dialect.TokenUsage{InputTokens: 12, OutputTokens: 4, TotalTokens: 16}, usage)
}

func TestCollector_NestedUsage(t *testing.T) {
	tests := []struct {
		name  string
		chunk map[string]any
		want  dialect.TokenUsage
	}{
		{
			name: "under response envelope",
			chunk: map[string]any{
				"type": "response.completed",
				"response": map[string]any{
					"usage": map[string]any{"input_tokens": 5, "output_tokens": 2, "total_tokens": 7},
				},
			},
			want: dialect.TokenUsage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7},
		},
		{
			name: "under message envelope",
			chunk: map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"usage": map[string]any{"input_tokens": 9, "output_tokens": 1},
				},
			},
			want: dialect.TokenUsage{InputTokens: 9, OutputTokens: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector()
			c.Observe(sse.Event{Data: tt.chunk})

			usage, ok := c.Usage()
			require.True(t, ok)
			assert.Equal(t, tt.want, usage)
		})
	}
}

func TestCollector_NoUsage(t *testing.T) {
	c := NewCollector()
	c.Observe(sse.Event{Data: map[string]any{"choices": []any{}}})

	_, ok := c.Usage()
	assert.False(t, ok)
}
