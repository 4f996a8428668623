package stream

import (
	"strings"

	"github.com/google/uuid"

	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/sse"
)

// ChatToMessages rewrites a Chat Completions delta stream into the
// Messages event protocol: message_start, content_block_start/delta/stop
// per block, message_delta with the mapped stop reason, message_stop.
type ChatToMessages struct {
	messageID string
	model     string

	started   bool
	finalized bool

	contentIndex  int
	textIndex     int
	thinkingIndex int

	tools     map[int]*chatToolState
	toolOrder []int

	stopReason string
	usage      dialect.TokenUsage
}

// chatToolState tracks one upstream tool call and the content block it
// maps to. Argument fragments arriving before both id and name are known
// are buffered and flushed with the block's first input_json_delta.
type chatToolState struct {
	blockIndex int
	id         string
	name       string
	started    bool
	pending    strings.Builder
	arguments  strings.Builder
}

func NewChatToMessages() *ChatToMessages {
	return &ChatToMessages{
		textIndex:     -1,
		thinkingIndex: -1,
		tools:         map[int]*chatToolState{},
	}
}

func (t *ChatToMessages) OnEvent(ev sse.Event) []sse.Event {
	if t.finalized {
		return nil
	}

	if ev.Done {
		return t.Finalize()
	}

	chunk, ok := ev.DataMap()
	if !ok {
		// Non-JSON payloads carry nothing the Messages protocol can use.
		return nil
	}

	if t.messageID == "" {
		t.messageID = dialect.GetString(chunk, "id")
	}

	if t.model == "" {
		t.model = dialect.GetString(chunk, "model")
	}

	if usage := dialect.GetMap(chunk, "usage"); usage != nil {
		t.usage = dialect.UsageFromChat(usage)
	}

	var out []sse.Event

	for _, raw := range dialect.GetSlice(chunk, "choices") {
		choice, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		if delta := dialect.GetMap(choice, "delta"); delta != nil {
			out = append(out, t.onDelta(delta)...)
		}

		if reason := dialect.GetString(choice, "finish_reason"); reason != "" {
			t.stopReason = dialect.StopReasonFromFinish(reason)
		}
	}

	return out
}

func (t *ChatToMessages) onDelta(delta map[string]any) []sse.Event {
	var out []sse.Event

	if text, ok := delta["content"].(string); ok && text != "" {
		out = append(out, t.ensureStart()...)
		out = append(out, t.onTextDelta(text)...)
	}

	if thinking := thinkingDelta(delta); thinking != "" {
		out = append(out, t.ensureStart()...)
		out = append(out, t.onThinkingDelta(thinking)...)
	}

	if calls := dialect.GetSlice(delta, "tool_calls"); len(calls) > 0 {
		out = append(out, t.ensureStart()...)

		for _, raw := range calls {
			if call, ok := raw.(map[string]any); ok {
				out = append(out, t.onToolCall(call)...)
			}
		}
	}

	return out
}

// thinkingDelta reads a reasoning fragment from the delta. Upstreams ship
// it either as a thinking object or as a flat reasoning_content string.
func thinkingDelta(delta map[string]any) string {
	if thinking := dialect.GetMap(delta, "thinking"); thinking != nil {
		return dialect.GetString(thinking, "content")
	}

	return dialect.GetString(delta, "reasoning_content")
}

func (t *ChatToMessages) ensureStart() []sse.Event {
	if t.started {
		return nil
	}

	t.started = true

	if t.messageID == "" {
		t.messageID = "msg_" + uuid.NewString()
	}

	model := t.model
	if model == "" {
		model = "unknown"
	}

	return []sse.Event{event("message_start", map[string]any{
		"message": map[string]any{
			"id":            t.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})}
}

func (t *ChatToMessages) onTextDelta(text string) []sse.Event {
	var out []sse.Event

	if t.textIndex < 0 {
		t.textIndex = t.contentIndex
		t.contentIndex++

		out = append(out, event("content_block_start", map[string]any{
			"index":         t.textIndex,
			"content_block": map[string]any{"type": "text", "text": ""},
		}))
	}

	return append(out, event("content_block_delta", map[string]any{
		"index": t.textIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	}))
}

func (t *ChatToMessages) onThinkingDelta(thinking string) []sse.Event {
	var out []sse.Event

	if t.thinkingIndex < 0 {
		t.thinkingIndex = t.contentIndex
		t.contentIndex++

		out = append(out, event("content_block_start", map[string]any{
			"index":         t.thinkingIndex,
			"content_block": map[string]any{"type": "thinking", "thinking": ""},
		}))
	}

	return append(out, event("content_block_delta", map[string]any{
		"index": t.thinkingIndex,
		"delta": map[string]any{"type": "thinking_delta", "thinking": thinking},
	}))
}

func (t *ChatToMessages) onToolCall(call map[string]any) []sse.Event {
	state := t.toolState(call)
	if state == nil {
		return nil
	}

	if id := dialect.GetString(call, "id"); id != "" {
		state.id = id
	}

	fn := dialect.GetMap(call, "function")
	if fn != nil {
		if name := dialect.GetString(fn, "name"); name != "" {
			state.name = name
		}
	}

	var out []sse.Event

	if !state.started && state.id != "" && state.name != "" {
		state.started = true
		out = append(out, event("content_block_start", map[string]any{
			"index": state.blockIndex,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    state.id,
				"name":  state.name,
				"input": map[string]any{},
			},
		}))

		if buffered := state.pending.String(); buffered != "" {
			state.pending.Reset()
			out = append(out, t.argumentsDelta(state, buffered))
		}
	}

	if fn != nil {
		if fragment := dialect.GetString(fn, "arguments"); fragment != "" {
			if state.started {
				out = append(out, t.argumentsDelta(state, fragment))
			} else {
				state.pending.WriteString(fragment)
			}
		}
	}

	return out
}

// toolState finds the tracked tool call for an upstream fragment, keyed by
// the tool_calls index when present and by id otherwise. A new state is
// allocated only when the fragment carries an id.
func (t *ChatToMessages) toolState(call map[string]any) *chatToolState {
	index, hasIndex := dialect.GetNumber(call, "index")
	if hasIndex {
		if state, ok := t.tools[int(index)]; ok {
			return state
		}
	}

	id := dialect.GetString(call, "id")
	if id != "" {
		for _, state := range t.tools {
			if state.id == id {
				return state
			}
		}
	}

	if id == "" {
		return nil
	}

	key := int(index)
	if !hasIndex {
		key = -1 - len(t.tools)
	}

	state := &chatToolState{blockIndex: t.contentIndex, id: id}
	t.contentIndex++
	t.tools[key] = state
	t.toolOrder = append(t.toolOrder, key)

	return state
}

func (t *ChatToMessages) argumentsDelta(state *chatToolState, fragment string) sse.Event {
	state.arguments.WriteString(fragment)

	return event("content_block_delta", map[string]any{
		"index": state.blockIndex,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": fragment},
	})
}

// Finalize closes every open block, tool blocks first, then thinking, then
// text, and emits the terminal message_delta and message_stop.
func (t *ChatToMessages) Finalize() []sse.Event {
	if t.finalized {
		return nil
	}

	t.finalized = true

	out := t.ensureStart()

	for _, key := range t.toolOrder {
		if state := t.tools[key]; state.started {
			out = append(out, event("content_block_stop", map[string]any{"index": state.blockIndex}))
		}
	}

	if t.thinkingIndex >= 0 {
		out = append(out, event("content_block_stop", map[string]any{"index": t.thinkingIndex}))
	}

	if t.textIndex >= 0 {
		out = append(out, event("content_block_stop", map[string]any{"index": t.textIndex}))
	}

	stopReason := t.stopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}

	messageDelta := map[string]any{
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
	}
	if !t.usage.IsZero() {
		messageDelta["usage"] = t.usage.MessagesMap()
	}

	out = append(out, event("message_delta", messageDelta))

	return append(out, event("message_stop", map[string]any{}))
}

// Usage returns the token usage observed on the upstream stream.
func (t *ChatToMessages) Usage() dialect.TokenUsage {
	return t.usage
}
