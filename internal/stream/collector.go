package stream

import (
	"strings"

	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/sse"
)

// Collector is a pass-through tap on the upstream event stream. It keeps
// each event in its wire form for request logging and tracks the newest
// usage object for streams that flow through untransformed.
type Collector struct {
	chunks []string
	usage  dialect.TokenUsage
	seen   bool
}

func NewCollector() *Collector {
	return &Collector{}
}

// Observe records the event as it went over the wire, framing lines
// included. The event itself is not modified.
func (c *Collector) Observe(ev sse.Event) {
	c.chunks = append(c.chunks, strings.TrimSuffix(string(sse.Marshal(ev)), "\n\n"))

	if data, ok := ev.DataMap(); ok {
		if u, ok := usageIn(data); ok {
			c.usage = u
			c.seen = true
		}
	}
}

// Chunks returns a snapshot of the collected events in arrival order.
func (c *Collector) Chunks() []string {
	out := make([]string, len(c.chunks))
	copy(out, c.chunks)

	return out
}

// Usage returns the last usage object the stream carried. Usage-bearing
// events arrive at the tail of every dialect's stream.
func (c *Collector) Usage() (dialect.TokenUsage, bool) {
	return c.usage, c.seen
}

// usageIn checks the top level plus the response and message envelopes
// the streaming dialects nest usage under.
func usageIn(payload map[string]any) (dialect.TokenUsage, bool) {
	holders := []map[string]any{payload}
	if resp := dialect.GetMap(payload, "response"); resp != nil {
		holders = append(holders, resp)
	}

	if msg := dialect.GetMap(payload, "message"); msg != nil {
		holders = append(holders, msg)
	}

	for _, holder := range holders {
		if usage := dialect.GetMap(holder, "usage"); usage != nil {
			if u := dialect.UsageFromAny(usage); !u.IsZero() {
				return u, true
			}
		}
	}

	return dialect.TokenUsage{}, false
}
