// Package sse implements the server-sent-events wire codec used on both
// sides of the proxy. The codec is neutral to payload semantics: data
// payloads are decoded as JSON when possible and passed through as raw
// strings otherwise.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// DoneLiteral is the terminal sentinel used by the Chat and Responses
	// dialects to mark the end of a stream.
	DoneLiteral = "[DONE]"

	initialLineSize = 64 * 1024
	maxLineSize     = 4 * 1024 * 1024
)

// Event is a single parsed server-sent event. Data holds the decoded JSON
// payload; payloads that are not valid JSON are kept as their raw string.
// Done marks the literal [DONE] sentinel, which is never parsed as JSON.
type Event struct {
	Name string
	ID   string
	Data any
	Done bool
}

// DataMap returns the event payload as a JSON object when it is one.
func (e Event) DataMap() (map[string]any, bool) {
	m, ok := e.Data.(map[string]any)
	return m, ok
}

// Decoder reads server-sent events from a byte stream. Lines starting with
// event:, id: and data: fill the pending event; a blank line flushes it.
// Multiple data: lines concatenate with a newline between them.
type Decoder struct {
	scanner *bufio.Scanner
	name    string
	id      string
	data    []string
	hasData bool
	drained bool
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineSize), maxLineSize)

	return &Decoder{scanner: scanner}
}

// Next returns the next event in the stream. It returns io.EOF once the
// stream is exhausted, after flushing any buffered trailing event.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")

		if line == "" {
			if ev, ok := d.flush(); ok {
				return ev, nil
			}

			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			d.name = fieldValue(line, "event:")
		case strings.HasPrefix(line, "id:"):
			d.id = fieldValue(line, "id:")
		case strings.HasPrefix(line, "data:"):
			d.data = append(d.data, fieldValue(line, "data:"))
			d.hasData = true
		}
		// Comment lines and unknown fields are skipped.
	}

	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}

	// Flush a trailing event that was never terminated by a blank line.
	if !d.drained {
		d.drained = true
		if ev, ok := d.flush(); ok {
			return ev, nil
		}
	}

	return Event{}, io.EOF
}

func (d *Decoder) flush() (Event, bool) {
	if d.name == "" && d.id == "" && !d.hasData {
		return Event{}, false
	}

	ev := Event{Name: d.name, ID: d.id}
	if d.hasData {
		ev.Data, ev.Done = decodeData(strings.Join(d.data, "\n"))
	}

	d.name = ""
	d.id = ""
	d.data = nil
	d.hasData = false

	return ev, true
}

func decodeData(payload string) (any, bool) {
	if payload == DoneLiteral {
		return nil, true
	}

	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		// Not JSON; pass the raw string through.
		return payload, false
	}

	return decoded, false
}

// fieldValue strips the field prefix and at most one leading space.
func fieldValue(line, prefix string) string {
	value := strings.TrimPrefix(line, prefix)
	if strings.HasPrefix(value, " ") {
		value = value[1:]
	}

	return value
}

// Encoder serializes events back to wire format.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Write(ev Event) error {
	if _, err := e.w.Write(Marshal(ev)); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}

	return nil
}

// Marshal renders an event in wire format, terminated by a blank line. The
// [DONE] sentinel serializes to the literal data: [DONE]. Non-string data
// is JSON-encoded; string data with embedded newlines is split over
// multiple data: lines.
func Marshal(ev Event) []byte {
	if ev.Done {
		return []byte("data: " + DoneLiteral + "\n\n")
	}

	var b strings.Builder
	if ev.Name != "" {
		b.WriteString("event: ")
		b.WriteString(ev.Name)
		b.WriteByte('\n')
	}

	if ev.ID != "" {
		b.WriteString("id: ")
		b.WriteString(ev.ID)
		b.WriteByte('\n')
	}

	if ev.Data != nil {
		for _, line := range strings.Split(DataString(ev.Data), "\n") {
			b.WriteString("data: ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	b.WriteByte('\n')

	return []byte(b.String())
}

// DataString renders an event payload as its wire form: strings pass
// through, everything else is JSON-encoded.
func DataString(data any) string {
	if s, ok := data.(string); ok {
		return s
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}

	return string(raw)
}
