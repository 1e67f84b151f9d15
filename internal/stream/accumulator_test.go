// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

// fakeTarget records mutations in a plain slice. Message pointers are kept
// stable so tests can check in-place updates.
type fakeTarget struct {
	messages []*model.Message
	ended    []string
}

func (f *fakeTarget) AppendBotMessage(turnID, text string) string {
	m := model.NewBotMessage(text)
	f.messages = append(f.messages, &m)
	return m.ID
}

func (f *fakeTarget) find(id string) *model.Message {
	for _, m := range f.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (f *fakeTarget) AppendToMessage(id, text string) error {
	m := f.find(id)
	if m == nil {
		return &model.NotFoundError{Kind: "message", ID: id}
	}
	m.Content += text
	return nil
}

func (f *fakeTarget) MergeMetadata(id string, fn func(*model.Metadata)) error {
	m := f.find(id)
	if m == nil {
		return &model.NotFoundError{Kind: "message", ID: id}
	}
	if m.Metadata == nil {
		m.Metadata = &model.Metadata{}
	}
	fn(m.Metadata)
	return nil
}

func (f *fakeTarget) EndTurn(turnID string) {
	f.ended = append(f.ended, turnID)
}

func deltaEvent(text string) Event {
	c := TextChunk(text)
	return Event{Type: EventDelta, Chunk: &c}
}

func applyAll(t *testing.T, acc *Accumulator, events ...Event) {
	t.Helper()
	for _, ev := range events {
		_, err := acc.Apply(ev)
		require.NoError(t, err)
	}
}

// =============================================================================
// ACCUMULATOR TESTS
// =============================================================================

func TestAccumulator_OneBotMessagePerTurn(t *testing.T) {
	target := &fakeTarget{}
	acc := NewAccumulator(target, "turn-1", "Hello")

	applyAll(t, acc, deltaEvent("Hi"))
	require.Len(t, target.messages, 1)
	first := target.messages[0]

	applyAll(t, acc, deltaEvent(" there"), Event{Type: EventSkip}, deltaEvent("!"))

	require.Len(t, target.messages, 1)
	assert.Same(t, first, target.messages[0], "bot message must be extended in place")
	assert.Equal(t, "Hi there!", first.Content)
	assert.Equal(t, "Hi there!", acc.Content())
	assert.Equal(t, first.ID, acc.BotMessageID())
}

func TestAccumulator_DoneEndsTurnOnce(t *testing.T) {
	target := &fakeTarget{}
	acc := NewAccumulator(target, "turn-1", "q")

	done, err := acc.Apply(Event{Type: EventDone})
	require.NoError(t, err)
	assert.True(t, done)

	done, err = acc.Apply(deltaEvent("late"))
	require.NoError(t, err)
	assert.True(t, done)
	acc.Finish()

	assert.Equal(t, []string{"turn-1"}, target.ended)
	assert.Empty(t, target.messages, "events after done must be ignored")
}

func TestAccumulator_MetadataMergesIndependently(t *testing.T) {
	target := &fakeTarget{}
	acc := NewAccumulator(target, "t", "Hello")

	meta := Chunk{Model: "step-1", Usage: &Usage{PromptTokens: 4, CompletionTokens: 9}}
	applyAll(t, acc,
		Event{Type: EventDelta, Chunk: &meta}, // before any content
		deltaEvent("Hi"),
		deltaEvent(" there"),
	)

	require.Len(t, target.messages, 1)
	msg := target.messages[0]
	assert.Equal(t, "Hi there", msg.Content, "metadata must not reset content")
	require.NotNil(t, msg.Metadata)
	assert.Equal(t, "step-1", msg.Metadata.ModelName)
	assert.Equal(t, 4, msg.Metadata.InputTokenCount)
	assert.Equal(t, 9, msg.Metadata.OutputTokenCount)
	assert.Equal(t, 5, msg.Metadata.InputCharCount)

	// A later model-only event recomputes the output length and keeps usage.
	later := Chunk{Model: "step-1"}
	applyAll(t, acc, Event{Type: EventDelta, Chunk: &later})
	assert.Equal(t, len("Hi there"), msg.Metadata.OutputCharCount)
	assert.Equal(t, 9, msg.Metadata.OutputTokenCount)
}

func TestAccumulator_ConcurrentTurnsDoNotCoalesce(t *testing.T) {
	target := &fakeTarget{}
	a := NewAccumulator(target, "a", "first")
	b := NewAccumulator(target, "b", "second")

	applyAll(t, a, deltaEvent("A1"))
	applyAll(t, b, deltaEvent("B1"))
	applyAll(t, a, deltaEvent("A2"))
	applyAll(t, b, deltaEvent("B2"))

	require.Len(t, target.messages, 2)
	assert.Equal(t, "A1A2", target.messages[0].Content)
	assert.Equal(t, "B1B2", target.messages[1].Content)
}

func TestAccumulator_OrphanedTurnDrains(t *testing.T) {
	target := &fakeTarget{}
	acc := NewAccumulator(target, "t", "q")
	applyAll(t, acc, deltaEvent("partial"))

	// Conversation cleared mid-stream.
	target.messages = nil

	applyAll(t, acc, deltaEvent(" more"), deltaEvent(" text"))
	assert.True(t, acc.Orphaned())
	assert.Empty(t, target.messages)

	done, err := acc.Apply(Event{Type: EventDone})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{"t"}, target.ended)
}

func TestAccumulator_DecodedStream(t *testing.T) {
	input := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hi"}}]}`,
		`data: {"choices":[{"delta":{"content":" there"}}]}`,
		`data: [DONE]`,
		"",
	}, "\n")

	target := &fakeTarget{}
	acc := NewAccumulator(target, "t", "Hello")
	for ev, err := range quietDecoder(strings.NewReader(input)).All() {
		require.NoError(t, err)
		_, err = acc.Apply(ev)
		require.NoError(t, err)
	}

	require.Len(t, target.messages, 1)
	assert.Equal(t, "Hi there", target.messages[0].Content)
	assert.True(t, acc.Done())
}
