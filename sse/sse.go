// Package sse reads and writes the line-oriented Server-Sent Events stream
// used for question generation.
//
// The reader is deliberately minimal: it only looks at "data:" lines, has no
// reconnection and does not dispatch on event types.
package sse

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	ginsse "github.com/gin-contrib/sse"
)

// DoneMarker terminates a stream.
const DoneMarker = "[DONE]"

// Chunk is the JSON shape of one data payload. Unknown fields are ignored.
type Chunk struct {
	Type     string          `json:"type,omitempty"`
	Text     string          `json:"text,omitempty"`
	Question json.RawMessage `json:"question,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Event is one parsed data line.
type Event struct {
	Data  string
	Chunk *Chunk // nil when Data was not valid JSON
	Done  bool
}

// Parser accumulates text from a stream fed in arbitrary pieces.
// A line split across two network reads is held until its newline arrives.
type Parser struct {
	pending  []byte
	text     strings.Builder
	question json.RawMessage
	errMsg   string
	done     bool
}

// Feed consumes a chunk of raw bytes and returns the complete events it contained.
func (p *Parser) Feed(b []byte) []Event {
	p.pending = append(p.pending, b...)
	var events []Event
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(p.pending[:i], "\r"))
		p.pending = p.pending[i+1:]
		if ev, ok := p.line(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Close flushes a trailing line that was not newline-terminated.
func (p *Parser) Close() []Event {
	if len(p.pending) == 0 {
		return nil
	}
	line := string(bytes.TrimRight(p.pending, "\r"))
	p.pending = nil
	if ev, ok := p.line(line); ok {
		return []Event{ev}
	}
	return nil
}

func (p *Parser) line(line string) (Event, bool) {
	if !strings.HasPrefix(line, "data:") {
		return Event{}, false
	}
	data := strings.TrimPrefix(line, "data:")
	data = strings.TrimPrefix(data, " ")
	if data == DoneMarker {
		p.done = true
		return Event{Data: data, Done: true}, true
	}

	var c Chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		// not JSON: keep the literal text
		p.text.WriteString(data)
		return Event{Data: data}, true
	}
	p.text.WriteString(c.Text)
	if len(c.Question) > 0 {
		p.question = c.Question
	}
	if c.Error != "" {
		p.errMsg = c.Error
	}
	return Event{Data: data, Chunk: &c}, true
}

// Text is everything accumulated so far.
func (p *Parser) Text() string { return p.text.String() }

// Question is the last structured question payload seen, if any.
func (p *Parser) Question() json.RawMessage { return p.question }

// Err is the last error message sent by the server, if any.
func (p *Parser) Err() string { return p.errMsg }

// Done reports whether the done marker was seen.
func (p *Parser) Done() bool { return p.done }

// Read drains r through a Parser, calling fn for each event. It stops at EOF,
// at the done marker, or when fn returns false.
func Read(r io.Reader, fn func(Event) bool) (*Parser, error) {
	p := &Parser{}
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range p.Feed(buf[:n]) {
				if fn != nil && !fn(ev) {
					return p, nil
				}
				if ev.Done {
					return p, nil
				}
			}
		}
		if err == io.EOF {
			for _, ev := range p.Close() {
				if fn != nil {
					fn(ev)
				}
			}
			return p, nil
		}
		if err != nil {
			return p, err
		}
	}
}

// ContentType is the response content type for event streams.
const ContentType = "text/event-stream"

// WriteChunk encodes c as one data event.
func WriteChunk(w io.Writer, c Chunk) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return ginsse.Encode(w, ginsse.Event{Data: string(b)})
}

// WriteDone writes the terminating marker.
func WriteDone(w io.Writer) error {
	return ginsse.Encode(w, ginsse.Event{Data: DoneMarker})
}
