// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes pipeline response streams and folds them into the
// conversation.
//
// A Decoder turns a byte stream of `data:` lines into an ordered sequence of
// Events. An Accumulator applies those events to a conversation target,
// creating one bot message per turn and extending it in place.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// DECODER CONSTANTS
// =============================================================================

const (
	// DataPrefix starts every payload line.
	DataPrefix = "data:"

	// DoneSentinel terminates a stream.
	DoneSentinel = "[DONE]"

	// MaxLineSize is the longest line the decoder accepts (1MB).
	MaxLineSize = 1024 * 1024
)

// ErrLineTooLong is wrapped in a ParseError for lines over the size limit.
var ErrLineTooLong = errors.New("line exceeds maximum size")

// =============================================================================
// EVENTS
// =============================================================================

// EventType tags a decoded event.
type EventType int

const (
	// EventSkip carries nothing to apply: blank, non-data, or unparseable lines.
	EventSkip EventType = iota
	// EventDelta carries a parsed Chunk.
	EventDelta
	// EventDone marks the end of the stream.
	EventDone
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	default:
		return "skip"
	}
}

// Event is one decoded line.
type Event struct {
	Type  EventType
	Chunk *Chunk
	Raw   string
	// Err is set on skip events produced by a payload that failed to parse.
	Err error
}

// =============================================================================
// DECODER
// =============================================================================

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithLogger sets the logger used for parse warnings.
func WithLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMaxLineSize overrides MaxLineSize.
func WithMaxLineSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// Decoder reads events from a single response body. It is not safe for
// concurrent use; create one decoder per stream.
type Decoder struct {
	reader  *bufio.Reader
	logger  *slog.Logger
	maxLine int
	line    int
	eof     bool
	done    bool
}

// NewDecoder creates a decoder over r. Bytes are decoded as UTF-8 with a
// stream-safe transformer, so a rune split across reads is reassembled and
// invalid sequences become U+FFFD. Lines split across reads are buffered.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		logger:  slog.Default(),
		maxLine: MaxLineSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reader = bufio.NewReader(transform.NewReader(r, unicode.UTF8BOM.NewDecoder()))
	return d
}

// Next returns the next event. It returns io.EOF after a done event or when
// the input is exhausted. Any other error is a *model.StreamError.
func (d *Decoder) Next() (Event, error) {
	if d.done || d.eof {
		return Event{}, io.EOF
	}

	line, over, err := d.readLine()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			d.done = true
			return Event{}, &model.StreamError{Err: err}
		}
		d.eof = true
		if len(line) == 0 && !over {
			return Event{}, io.EOF
		}
	}

	if over {
		d.line++
		perr := &model.ParseError{Line: util.TruncateRunes(string(line), 80), Err: ErrLineTooLong}
		d.logger.Warn("dropping oversized stream line", "line", d.line, "limit", d.maxLine)
		return Event{Type: EventSkip, Err: perr}, nil
	}
	return d.decodeLine(string(line)), nil
}

// readLine returns the next line without its terminator. At most maxLine
// bytes are kept; the rest of a longer line is read and dropped, and over
// reports that it happened.
func (d *Decoder) readLine() (line []byte, over bool, err error) {
	for {
		frag, err := d.reader.ReadSlice('\n')
		if !over {
			// Room for the line plus its \r\n.
			room := d.maxLine + 2 - len(line)
			if len(frag) > room {
				frag, over = frag[:room], true
			}
			line = append(line, frag...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if !over {
			line = bytes.TrimRight(line, "\r\n")
			over = len(line) > d.maxLine
		}
		if over && len(line) > d.maxLine {
			line = line[:d.maxLine]
		}
		return line, over, err
	}
}

// All ranges over the remaining events. Iteration stops after the first
// error is yielded.
func (d *Decoder) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Done reports whether the done sentinel has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

func (d *Decoder) decodeLine(line string) Event {
	d.line++

	if !strings.HasPrefix(line, DataPrefix) {
		return Event{Type: EventSkip, Raw: line}
	}

	payload := strings.TrimSpace(line[len(DataPrefix):])
	if payload == "" {
		return Event{Type: EventSkip, Raw: line}
	}
	if payload == DoneSentinel {
		d.done = true
		return Event{Type: EventDone, Raw: payload}
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		perr := &model.ParseError{Line: util.TruncateRunes(payload, 120), Err: err}
		d.logger.Warn("skipping malformed stream payload",
			"line", d.line, "payload", perr.Line, "error", err)
		return Event{Type: EventSkip, Raw: payload, Err: perr}
	}

	return Event{Type: EventDelta, Chunk: &chunk, Raw: payload}
}
