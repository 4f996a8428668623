package stream

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/sse"
)

// MessagesToResponses rewrites a Messages event stream into the Responses
// protocol. The assistant message occupies output index 0, tool calls take
// 1..n in arrival order. Thinking blocks have no Responses rendering and
// are dropped.
type MessagesToResponses struct {
	responseID    string
	messageItemID string
	model         string
	createdAt     int64

	started   bool
	finalized bool

	outputText strings.Builder
	textOpen   bool
	textClosed bool

	blocks          map[int]*messagesBlockState
	toolOrder       []int
	nextOutputIndex int

	stopReason string
	usage      dialect.TokenUsage
}

type messagesBlockState struct {
	kind        string
	outputIndex int
	id          string
	name        string
	closed      bool
	arguments   strings.Builder
}

func NewMessagesToResponses() *MessagesToResponses {
	return &MessagesToResponses{
		blocks:          map[int]*messagesBlockState{},
		nextOutputIndex: 1,
	}
}

func (t *MessagesToResponses) OnEvent(ev sse.Event) []sse.Event {
	if t.finalized {
		return nil
	}

	if ev.Done {
		return t.Finalize()
	}

	data, _ := ev.DataMap()

	switch eventName(ev) {
	case "message_start":
		return t.onMessageStart(data)
	case "content_block_start":
		return t.onBlockStart(data)
	case "content_block_delta":
		return t.onBlockDelta(data)
	case "content_block_stop":
		return t.onBlockStop(data)
	case "message_delta":
		t.onMessageDelta(data)
	case "message_stop":
		return t.Finalize()
	}

	return nil
}

func (t *MessagesToResponses) onMessageStart(data map[string]any) []sse.Event {
	if msg := dialect.GetMap(data, "message"); msg != nil {
		if id := dialect.GetString(msg, "id"); id != "" {
			t.messageItemID = id
			t.responseID = responseIDFromMessage(id)
		}

		if model := dialect.GetString(msg, "model"); model != "" {
			t.model = model
		}

		t.mergeUsage(dialect.UsageFromMessages(dialect.GetMap(msg, "usage")))
	}

	return t.ensureCreated()
}

func responseIDFromMessage(id string) string {
	if rest, ok := strings.CutPrefix(id, "msg_"); ok {
		return "resp_" + rest
	}

	return id
}

func (t *MessagesToResponses) ensureCreated() []sse.Event {
	if t.started {
		return nil
	}

	t.started = true
	t.createdAt = time.Now().Unix()

	if t.responseID == "" {
		t.responseID = "resp_" + uuid.NewString()
	}

	if t.messageItemID == "" {
		t.messageItemID = "msg_" + uuid.NewString()
	}

	if t.model == "" {
		t.model = "unknown"
	}

	return []sse.Event{event("response.created", map[string]any{
		"response": map[string]any{
			"id":         t.responseID,
			"object":     "response",
			"created_at": t.createdAt,
			"status":     "in_progress",
			"model":      t.model,
			"output":     []any{},
		},
	})}
}

func (t *MessagesToResponses) onBlockStart(data map[string]any) []sse.Event {
	index := dialect.GetInt(data, "index")
	block := dialect.GetMap(data, "content_block")
	if block == nil {
		return nil
	}

	out := t.ensureCreated()

	switch dialect.GetString(block, "type") {
	case "text":
		t.blocks[index] = &messagesBlockState{kind: "text"}
		t.textOpen = true
	case "tool_use":
		state := &messagesBlockState{
			kind:        "tool",
			outputIndex: t.nextOutputIndex,
			id:          dialect.GetString(block, "id"),
			name:        dialect.GetString(block, "name"),
		}
		t.nextOutputIndex++
		t.blocks[index] = state
		t.toolOrder = append(t.toolOrder, index)
	default:
		t.blocks[index] = &messagesBlockState{kind: "thinking"}
	}

	return out
}

func (t *MessagesToResponses) onBlockDelta(data map[string]any) []sse.Event {
	index := dialect.GetInt(data, "index")
	delta := dialect.GetMap(data, "delta")
	if delta == nil {
		return nil
	}

	state := t.blocks[index]

	switch dialect.GetString(delta, "type") {
	case "text_delta":
		return t.onTextDelta(dialect.GetString(delta, "text"))
	case "input_json_delta":
		if state == nil || state.kind != "tool" {
			return nil
		}

		fragment := dialect.GetString(delta, "partial_json")
		if fragment == "" {
			return nil
		}

		state.arguments.WriteString(fragment)

		out := t.ensureCreated()

		return append(out, event("response.output_tool_call.delta", map[string]any{
			"item_id":      state.id,
			"output_index": state.outputIndex,
			"name":         state.name,
			"delta":        fragment,
		}))
	}

	return nil
}

// onTextDelta tolerates deltas for a block whose start was never seen; the
// text block is implicitly open from the first fragment.
func (t *MessagesToResponses) onTextDelta(text string) []sse.Event {
	if text == "" {
		return nil
	}

	out := t.ensureCreated()

	t.textOpen = true
	t.outputText.WriteString(text)

	return append(out, event("response.output_text.delta", map[string]any{
		"item_id":       t.messageItemID,
		"output_index":  0,
		"content_index": 0,
		"delta":         text,
	}))
}

func (t *MessagesToResponses) onBlockStop(data map[string]any) []sse.Event {
	index := dialect.GetInt(data, "index")
	state := t.blocks[index]
	if state == nil || state.closed {
		return nil
	}

	state.closed = true

	switch state.kind {
	case "text":
		return t.closeText()
	case "tool":
		return []sse.Event{t.toolDoneEvent(state)}
	}

	return nil
}

func (t *MessagesToResponses) closeText() []sse.Event {
	if !t.textOpen || t.textClosed {
		return nil
	}

	t.textClosed = true

	return []sse.Event{event("response.output_text.done", map[string]any{
		"item_id":       t.messageItemID,
		"output_index":  0,
		"content_index": 0,
		"text":          t.outputText.String(),
	})}
}

func (t *MessagesToResponses) toolDoneEvent(state *messagesBlockState) sse.Event {
	return event("response.output_tool_call.done", map[string]any{
		"item_id":      state.id,
		"call_id":      state.id,
		"output_index": state.outputIndex,
		"name":         state.name,
		"arguments":    state.arguments.String(),
	})
}

func (t *MessagesToResponses) onMessageDelta(data map[string]any) {
	if delta := dialect.GetMap(data, "delta"); delta != nil {
		if reason := dialect.GetString(delta, "stop_reason"); reason != "" {
			t.stopReason = reason
		}
	}

	t.mergeUsage(dialect.UsageFromMessages(dialect.GetMap(data, "usage")))
}

// mergeUsage folds a usage sighting into the running total. Messages
// streams split usage across message_start and message_delta, each side
// reporting only the fields it knows.
func (t *MessagesToResponses) mergeUsage(u dialect.TokenUsage) {
	if u.InputTokens > 0 {
		t.usage.InputTokens = u.InputTokens
	}

	if u.OutputTokens > 0 {
		t.usage.OutputTokens = u.OutputTokens
	}

	if u.CacheReadInputTokens > 0 {
		t.usage.CacheReadInputTokens = u.CacheReadInputTokens
	}
}

func (t *MessagesToResponses) Finalize() []sse.Event {
	if t.finalized {
		return nil
	}

	t.finalized = true

	out := t.ensureCreated()

	for _, index := range t.toolOrder {
		if state := t.blocks[index]; !state.closed {
			state.closed = true
			out = append(out, t.toolDoneEvent(state))
		}
	}

	if t.textOpen && !t.textClosed {
		out = append(out, t.closeText()...)
	}

	output := make([]any, 0, 1+len(t.toolOrder))
	output = append(output, map[string]any{
		"id":     t.messageItemID,
		"type":   "message",
		"role":   "assistant",
		"status": "completed",
		"content": []any{
			map[string]any{"type": "output_text", "text": t.outputText.String()},
		},
	})

	for _, index := range t.toolOrder {
		state := t.blocks[index]
		output = append(output, map[string]any{
			"id":        state.id,
			"type":      "tool_call",
			"status":    "completed",
			"call_id":   state.id,
			"name":      state.name,
			"arguments": state.arguments.String(),
		})
	}

	status, incompleteReason := dialect.ResponsesStatus(t.stopReason)

	response := map[string]any{
		"id":         t.responseID,
		"object":     "response",
		"created_at": t.createdAt,
		"status":     status,
		"model":      t.model,
		"output":     output,
	}

	if incompleteReason != "" {
		response["incomplete_details"] = map[string]any{"reason": incompleteReason}
	}

	if !t.usage.IsZero() {
		response["usage"] = t.usage.ResponsesMap()
	}

	return append(out, event("response.completed", map[string]any{"response": response}))
}

func (t *MessagesToResponses) Usage() dialect.TokenUsage {
	return t.usage
}
