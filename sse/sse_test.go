package sse

import (
	"bytes"
	"strings"
	"testing"
)

func TestParserJoinsSplitLines(t *testing.T) {
	stream := "data: {\"text\":\"Define \"}\n\ndata:{\"text\":\"osmosis.\"}\r\n\r\n" +
		"event: ping\n: comment\n" +
		"data: {\"type\":\"question\",\"question\":{\"id\":\"q1\"}}\n\n" +
		"data: [DONE]\n\n"

	// every split point must give the same result
	for cut := 0; cut <= len(stream); cut++ {
		var p Parser
		var events []Event
		events = append(events, p.Feed([]byte(stream[:cut]))...)
		events = append(events, p.Feed([]byte(stream[cut:]))...)
		events = append(events, p.Close()...)

		if len(events) != 4 {
			t.Fatalf("cut %d: %d events, want 4", cut, len(events))
		}
		if p.Text() != "Define osmosis." {
			t.Fatalf("cut %d: text = %q", cut, p.Text())
		}
		if string(p.Question()) != `{"id":"q1"}` {
			t.Fatalf("cut %d: question = %s", cut, p.Question())
		}
		if !p.Done() || !events[3].Done {
			t.Fatalf("cut %d: done not seen", cut)
		}
	}
}

func TestParserRawFallbackAndError(t *testing.T) {
	var p Parser
	evs := p.Feed([]byte("data: plain words\ndata: {\"error\":\"out of credits\"}\n"))
	if len(evs) != 2 || evs[0].Chunk != nil || evs[1].Chunk == nil {
		t.Fatalf("events = %+v", evs)
	}
	if p.Text() != "plain words" || p.Err() != "out of credits" {
		t.Errorf("text = %q err = %q", p.Text(), p.Err())
	}
}

func TestCloseFlushesTrailingLine(t *testing.T) {
	var p Parser
	if evs := p.Feed([]byte("data: {\"text\":\"tail\"}")); len(evs) != 0 {
		t.Fatalf("incomplete line emitted: %+v", evs)
	}
	if evs := p.Close(); len(evs) != 1 || p.Text() != "tail" {
		t.Errorf("Close = %+v, text %q", evs, p.Text())
	}
}

func TestReadStopsAtDone(t *testing.T) {
	var seen int
	p, err := Read(strings.NewReader("data: a\n\ndata: [DONE]\n\ndata: ignored\n\n"), func(Event) bool {
		seen++
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 || p.Text() != "a" {
		t.Errorf("seen = %d text = %q", seen, p.Text())
	}
}

func TestWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChunk(&buf, Chunk{Type: "token", Text: "line one\nline two"}); err != nil {
		t.Fatal(err)
	}
	if err := WriteDone(&buf); err != nil {
		t.Fatal(err)
	}
	p, err := Read(&buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Text() != "line one\nline two" || !p.Done() {
		t.Errorf("text = %q done = %v", p.Text(), p.Done())
	}
}
