// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// HELPERS
// =============================================================================

func quietDecoder(r io.Reader) *Decoder {
	return NewDecoder(r, WithLogger(slog.New(slog.DiscardHandler)))
}

func collect(t *testing.T, r io.Reader) []Event {
	t.Helper()
	var events []Event
	for ev, err := range quietDecoder(r).All() {
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

// summarize renders events as "delta:<text>", "skip" or "done".
func summarize(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		switch ev.Type {
		case EventDelta:
			text, _ := ev.Chunk.Text()
			out = append(out, "delta:"+text)
		default:
			out = append(out, ev.Type.String())
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const sampleStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n" +
	"\n" +
	": keep-alive\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\" thére 世界\"}}],\"model\":\"step-1\"}\n" +
	"data: {not json}\n" +
	"data: [DONE]\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n"

// =============================================================================
// DECODER TESTS
// =============================================================================

func TestDecoder_BasicSequence(t *testing.T) {
	got := summarize(collect(t, strings.NewReader(sampleStream)))
	want := []string{"delta:Hi", "skip", "skip", "delta: thére 世界", "skip", "done"}
	if !equalStrings(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestDecoder_SplitInvariance(t *testing.T) {
	want := summarize(collect(t, strings.NewReader(sampleStream)))

	// Every split point, including splits inside multi-byte runes.
	for i := 1; i < len(sampleStream); i++ {
		r := io.MultiReader(strings.NewReader(sampleStream[:i]), strings.NewReader(sampleStream[i:]))
		got := summarize(collect(t, r))
		if !equalStrings(got, want) {
			t.Fatalf("split at %d: events = %q, want %q", i, got, want)
		}
	}

	got := summarize(collect(t, iotest.OneByteReader(strings.NewReader(sampleStream))))
	if !equalStrings(got, want) {
		t.Errorf("one-byte reads: events = %q, want %q", got, want)
	}
}

func TestDecoder_StopsAtDone(t *testing.T) {
	d := quietDecoder(strings.NewReader("data: [DONE]\ndata: {\"choices\":[]}\n"))

	ev, err := d.Next()
	if err != nil || ev.Type != EventDone {
		t.Fatalf("first event = %v, %v; want done", ev.Type, err)
	}
	if !d.Done() {
		t.Error("Done() should be true after sentinel")
	}
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next after done = %v, want io.EOF", err)
	}
}

func TestDecoder_MalformedPayloadIsSkipped(t *testing.T) {
	events := collect(t, strings.NewReader("data: {\"choices\": [\n"))
	if len(events) != 1 || events[0].Type != EventSkip {
		t.Fatalf("events = %v, want one skip", summarize(events))
	}
	if !errors.Is(events[0].Err, model.ErrParse) {
		t.Errorf("skip error = %v, want ParseError", events[0].Err)
	}
}

func TestDecoder_CRLFAndTrailingLine(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\r\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}"
	got := summarize(collect(t, strings.NewReader(input)))
	want := []string{"delta:a", "delta:b"}
	if !equalStrings(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestDecoder_StripsByteOrderMark(t *testing.T) {
	input := "\ufeffdata: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"
	got := summarize(collect(t, strings.NewReader(input)))
	if !equalStrings(got, []string{"delta:x"}) {
		t.Errorf("events = %q, want [delta:x]", got)
	}
}

func TestDecoder_EmptyDataAndPrefixWithoutSpace(t *testing.T) {
	input := "data:\n" +
		"data:{\"choices\":[{\"delta\":{\"content\":\"tight\"}}]}\n"
	got := summarize(collect(t, strings.NewReader(input)))
	want := []string{"skip", "delta:tight"}
	if !equalStrings(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestDecoder_OversizedLine(t *testing.T) {
	long := "data: \"" + strings.Repeat("x", 64) + "\"\n"
	d := NewDecoder(strings.NewReader(long), WithMaxLineSize(16), WithLogger(slog.New(slog.DiscardHandler)))
	ev, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Type != EventSkip || !errors.Is(ev.Err, ErrLineTooLong) {
		t.Errorf("event = %v err=%v, want skip with ErrLineTooLong", ev.Type, ev.Err)
	}
}

func TestDecoder_OversizedLineIsDrainedThenDecodingResumes(t *testing.T) {
	// Far past bufio's buffer, with no newline until the end.
	huge := "data: \"" + strings.Repeat("x", 1<<20) + "\"\n"
	next := "data: {\"choices\":[{\"delta\":{\"content\":\"after\"}}]}\n"
	d := NewDecoder(iotest.HalfReader(strings.NewReader(huge+next+"data: [DONE]\n")),
		WithMaxLineSize(64), WithLogger(slog.New(slog.DiscardHandler)))

	ev, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Type != EventSkip || !errors.Is(ev.Err, ErrLineTooLong) {
		t.Fatalf("event = %v err=%v, want skip with ErrLineTooLong", ev.Type, ev.Err)
	}
	var perr *model.ParseError
	if !errors.As(ev.Err, &perr) {
		t.Fatalf("err = %T, want *model.ParseError", ev.Err)
	}
	if n := len([]rune(perr.Line)); n > 80 {
		t.Errorf("ParseError line should be a short excerpt, got %d runes", n)
	}

	ev, err = d.Next()
	if err != nil || ev.Type != EventDelta {
		t.Fatalf("second event = %v, %v; want delta", ev.Type, err)
	}
	if text, _ := ev.Chunk.Text(); text != "after" {
		t.Errorf("text = %q, want %q", text, "after")
	}

	ev, err = d.Next()
	if err != nil || ev.Type != EventDone {
		t.Errorf("third event = %v, %v; want done", ev.Type, err)
	}
}

func TestDecoder_LineAtTheLimitIsKept(t *testing.T) {
	line := "data: [DONE]"
	d := NewDecoder(strings.NewReader(line+"\r\n"), WithMaxLineSize(len(line)),
		WithLogger(slog.New(slog.DiscardHandler)))
	ev, err := d.Next()
	if err != nil || ev.Type != EventDone {
		t.Errorf("event = %v, %v; want done", ev.Type, err)
	}
}

func TestDecoder_ReadErrorIsStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n"),
		iotest.ErrReader(boom),
	)
	d := quietDecoder(r)

	ev, err := d.Next()
	if err != nil || ev.Type != EventDelta {
		t.Fatalf("first event = %v, %v; want delta", ev.Type, err)
	}

	_, err = d.Next()
	if !errors.Is(err, model.ErrStream) {
		t.Fatalf("error = %v, want StreamError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("StreamError should wrap the read error")
	}
}

func TestChunk_TextPresence(t *testing.T) {
	events := collect(t, strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n"+
			"data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n"+
			"data: {\"model\":\"m\",\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":2}}\n"))
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if _, ok := events[0].Chunk.Text(); ok {
		t.Error("role-only delta should have no text")
	}
	if text, ok := events[1].Chunk.Text(); !ok || text != "" {
		t.Errorf("explicit empty content = %q, %v", text, ok)
	}
	if !events[2].Chunk.HasMetadata() || events[2].Chunk.Usage.CompletionTokens != 2 {
		t.Errorf("usage chunk not decoded: %+v", events[2].Chunk)
	}
}
