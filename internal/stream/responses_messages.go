package stream

import (
	"strings"

	"github.com/google/uuid"

	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/sse"
)

// ResponsesToMessages rewrites a Responses event stream into the Messages
// protocol. Upstream events are recognized by name substrings so both the
// minimal event set and the richer output_item/function_call_arguments
// families are accepted.
type ResponsesToMessages struct {
	messageID string
	model     string

	started   bool
	finalized bool

	contentIndex int
	textIndex    int
	textClosed   bool

	tools     map[string]*responsesToolState
	toolOrder []*responsesToolState

	stopReason string
	usage      dialect.TokenUsage
}

type responsesToolState struct {
	blockIndex int
	id         string
	name       string
	started    bool
	closed     bool
	arguments  strings.Builder
}

func NewResponsesToMessages() *ResponsesToMessages {
	return &ResponsesToMessages{
		textIndex: -1,
		tools:     map[string]*responsesToolState{},
	}
}

func (t *ResponsesToMessages) OnEvent(ev sse.Event) []sse.Event {
	if t.finalized {
		return nil
	}

	if ev.Done {
		return t.Finalize()
	}

	data, _ := ev.DataMap()
	name := eventName(ev)

	switch {
	case strings.Contains(name, "response.created"):
		return t.onCreated(data)

	case strings.Contains(name, "output_text"):
		switch {
		case strings.HasSuffix(name, ".delta"):
			return t.onTextDelta(dialect.GetString(data, "delta"))
		case strings.HasSuffix(name, ".done"):
			return t.closeText()
		}

	case strings.Contains(name, "output_item.added"):
		return t.onItemAdded(data)

	case strings.Contains(name, "output_item.done"):
		return t.onItemDone(data)

	case strings.Contains(name, "tool_call") || strings.Contains(name, "function_call"):
		switch {
		case strings.HasSuffix(name, ".delta"):
			return t.onToolDelta(data)
		case strings.HasSuffix(name, ".done"):
			return t.onToolDone(data)
		}

	case strings.Contains(name, "response.completed"),
		strings.Contains(name, "response.incomplete"),
		strings.Contains(name, "response.failed"):
		return t.onCompleted(data)
	}

	return nil
}

// eventName resolves the dispatch key for an upstream event: the SSE event
// name when present, the payload type field otherwise.
func eventName(ev sse.Event) string {
	if ev.Name != "" {
		return ev.Name
	}

	if data, ok := ev.DataMap(); ok {
		return dialect.GetString(data, "type")
	}

	return ""
}

func (t *ResponsesToMessages) onCreated(data map[string]any) []sse.Event {
	if resp := dialect.GetMap(data, "response"); resp != nil {
		if id := dialect.GetString(resp, "id"); id != "" {
			t.messageID = messagesIDFromResponse(id)
		}

		if model := dialect.GetString(resp, "model"); model != "" {
			t.model = model
		}
	}

	return t.ensureStart()
}

func messagesIDFromResponse(id string) string {
	if rest, ok := strings.CutPrefix(id, "resp_"); ok {
		return "msg_" + rest
	}

	return id
}

func (t *ResponsesToMessages) ensureStart() []sse.Event {
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

func (t *ResponsesToMessages) onTextDelta(text string) []sse.Event {
	if text == "" {
		return nil
	}

	out := t.ensureStart()

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

func (t *ResponsesToMessages) closeText() []sse.Event {
	if t.textIndex < 0 || t.textClosed {
		return nil
	}

	t.textClosed = true

	return []sse.Event{event("content_block_stop", map[string]any{"index": t.textIndex})}
}

// onItemAdded registers tool calls announced ahead of their argument
// deltas. Message items carry nothing actionable at this point.
func (t *ResponsesToMessages) onItemAdded(data map[string]any) []sse.Event {
	item := dialect.GetMap(data, "item")
	if item == nil {
		return nil
	}

	typ := dialect.GetString(item, "type")
	if !strings.Contains(typ, "function_call") && !strings.Contains(typ, "tool_call") {
		return nil
	}

	state := t.ensureTool(item)
	if id := dialect.GetString(item, "call_id"); id != "" {
		state.id = id
	}

	if name := dialect.GetString(item, "name"); name != "" {
		state.name = name
	}

	return t.openTool(state)
}

func (t *ResponsesToMessages) onItemDone(data map[string]any) []sse.Event {
	item := dialect.GetMap(data, "item")
	if item == nil {
		return nil
	}

	typ := dialect.GetString(item, "type")

	switch {
	case typ == "message":
		return t.closeText()
	case strings.Contains(typ, "function_call") || strings.Contains(typ, "tool_call"):
		return t.closeTool(t.ensureTool(item), dialect.GetString(item, "arguments"))
	}

	return nil
}

func (t *ResponsesToMessages) onToolDelta(data map[string]any) []sse.Event {
	state := t.ensureTool(data)
	if name := dialect.GetString(data, "name"); name != "" {
		state.name = name
	}

	out := t.openTool(state)

	fragment := dialect.GetString(data, "delta")
	if fragment == "" {
		fragment = dialect.GetString(data, "arguments")
	}

	if fragment != "" && !state.closed {
		state.arguments.WriteString(fragment)
		out = append(out, event("content_block_delta", map[string]any{
			"index": state.blockIndex,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": fragment},
		}))
	}

	return out
}

func (t *ResponsesToMessages) onToolDone(data map[string]any) []sse.Event {
	return t.closeTool(t.ensureTool(data), dialect.GetString(data, "arguments"))
}

// toolAliases lists every identifier a tool call may be referenced by
// across its events. Different event families use different fields for
// the same call.
func toolAliases(data map[string]any) []string {
	var aliases []string
	for _, field := range []string{"item_id", "id", "call_id", "name"} {
		if v := dialect.GetString(data, field); v != "" {
			aliases = append(aliases, v)
		}
	}

	return aliases
}

// ensureTool resolves the tool state any of the event's identifiers point
// at, allocating a new block when none match yet.
func (t *ResponsesToMessages) ensureTool(data map[string]any) *responsesToolState {
	aliases := toolAliases(data)
	if len(aliases) == 0 {
		aliases = []string{"tool_" + uuid.NewString()}
	}

	for _, alias := range aliases {
		if state, ok := t.tools[alias]; ok {
			for _, other := range aliases {
				t.tools[other] = state
			}

			return state
		}
	}

	state := &responsesToolState{blockIndex: t.contentIndex, id: aliases[0]}
	t.contentIndex++
	t.toolOrder = append(t.toolOrder, state)

	for _, alias := range aliases {
		t.tools[alias] = state
	}

	return state
}

func (t *ResponsesToMessages) openTool(state *responsesToolState) []sse.Event {
	if state.started {
		return nil
	}

	state.started = true

	out := t.ensureStart()

	return append(out, event("content_block_start", map[string]any{
		"index": state.blockIndex,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    state.id,
			"name":  state.name,
			"input": map[string]any{},
		},
	}))
}

// closeTool stops a tool block. A done event carrying the full arguments
// for a block that never streamed deltas contributes one final fragment.
func (t *ResponsesToMessages) closeTool(state *responsesToolState, finalArguments string) []sse.Event {
	if state.closed {
		return nil
	}

	out := t.openTool(state)

	if state.arguments.Len() == 0 && finalArguments != "" {
		state.arguments.WriteString(finalArguments)
		out = append(out, event("content_block_delta", map[string]any{
			"index": state.blockIndex,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": finalArguments},
		}))
	}

	state.closed = true

	return append(out, event("content_block_stop", map[string]any{"index": state.blockIndex}))
}

func (t *ResponsesToMessages) onCompleted(data map[string]any) []sse.Event {
	resp := dialect.GetMap(data, "response")
	if resp == nil {
		resp = data
	}

	if usage := dialect.GetMap(resp, "usage"); usage != nil {
		t.usage = dialect.UsageFromResponses(usage)
	}

	t.stopReason = t.terminalStopReason(resp)

	return t.Finalize()
}

func (t *ResponsesToMessages) terminalStopReason(resp map[string]any) string {
	if dialect.GetString(resp, "status") == "incomplete" {
		if details := dialect.GetMap(resp, "incomplete_details"); details != nil {
			if dialect.GetString(details, "reason") == "max_output_tokens" {
				return "max_tokens"
			}
		}
	}

	if len(t.toolOrder) > 0 {
		return "tool_use"
	}

	return "end_turn"
}

func (t *ResponsesToMessages) Finalize() []sse.Event {
	if t.finalized {
		return nil
	}

	t.finalized = true

	out := t.ensureStart()

	for _, state := range t.toolOrder {
		if state.started && !state.closed {
			state.closed = true
			out = append(out, event("content_block_stop", map[string]any{"index": state.blockIndex}))
		}
	}

	if t.textIndex >= 0 && !t.textClosed {
		t.textClosed = true
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

func (t *ResponsesToMessages) Usage() dialect.TokenUsage {
	return t.usage
}
