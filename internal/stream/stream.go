// Package stream converts server-sent event sequences between the wire
// dialects the proxy speaks. Each transformer is a state machine driven by
// one parsed event at a time: OnEvent may emit zero or more downstream
// events, Finalize flushes whatever protocol framing is still owed.
//
// Transformers are single-threaded within a request and never block; the
// surrounding pipeline owns all I/O.
package stream

import (
	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/sse"
)

// Transformer rewrites one event stream into another dialect.
//
// Finalize must be idempotent and must be called when the upstream ends,
// normally or not: transformers guarantee that every content block they
// opened is closed exactly once and that the terminal event of the output
// dialect is emitted exactly once. Usage reports the token usage observed
// on the upstream stream so far.
type Transformer interface {
	OnEvent(ev sse.Event) []sse.Event
	Finalize() []sse.Event
	Usage() dialect.TokenUsage
}

// Compose pipes the output of first into second. The intermediate stream
// is never observed externally; the two machines share no state.
func Compose(first, second Transformer) Transformer {
	return &composed{first: first, second: second}
}

// NewChatToResponses converts a Chat Completions stream to the Responses
// dialect by running the Chat-to-Messages machine into the
// Messages-to-Responses machine.
func NewChatToResponses() Transformer {
	return Compose(NewChatToMessages(), NewMessagesToResponses())
}

type composed struct {
	first  Transformer
	second Transformer
}

func (c *composed) OnEvent(ev sse.Event) []sse.Event {
	var out []sse.Event
	for _, mid := range c.first.OnEvent(ev) {
		out = append(out, c.second.OnEvent(mid)...)
	}

	return out
}

func (c *composed) Finalize() []sse.Event {
	var out []sse.Event
	for _, mid := range c.first.Finalize() {
		out = append(out, c.second.OnEvent(mid)...)
	}

	return append(out, c.second.Finalize()...)
}

func (c *composed) Usage() dialect.TokenUsage {
	if usage := c.first.Usage(); !usage.IsZero() {
		return usage
	}

	return c.second.Usage()
}

// event builds a named event whose payload carries the matching type field.
func event(name string, data map[string]any) sse.Event {
	if data != nil && data["type"] == nil {
		data["type"] = name
	}

	return sse.Event{Name: name, Data: data}
}
