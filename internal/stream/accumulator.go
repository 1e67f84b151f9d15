// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Target is the part of the conversation store an Accumulator mutates.
type Target interface {
	// AppendBotMessage appends a new bot message owned by turnID and
	// returns its id.
	AppendBotMessage(turnID, text string) string
	// AppendToMessage appends text to the message with the given id in place.
	AppendToMessage(id, text string) error
	// MergeMetadata applies fn to the message's metadata, allocating it if nil.
	MergeMetadata(id string, fn func(*model.Metadata)) error
	// EndTurn clears the loading state held for turnID.
	EndTurn(turnID string)
}

// Accumulator folds the events of one turn into a Target. Each turn owns
// exactly one bot message; concurrent turns use separate accumulators and
// never write into each other's message.
type Accumulator struct {
	target      Target
	turnID      string
	promptChars int
	logger      *slog.Logger

	botID    string
	content  strings.Builder
	pending  []func(*model.Metadata)
	done     bool
	orphaned bool
}

// NewAccumulator creates an accumulator for turnID. prompt is the user text
// that started the turn; its length becomes the input character count.
func NewAccumulator(target Target, turnID, prompt string) *Accumulator {
	return &Accumulator{
		target:      target,
		turnID:      turnID,
		promptChars: utf8.RuneCountInString(prompt),
		logger:      slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (a *Accumulator) SetLogger(l *slog.Logger) {
	if l != nil {
		a.logger = l
	}
}

// Apply folds one event into the target. It returns true once the turn is
// finished. Events after that are ignored.
func (a *Accumulator) Apply(ev Event) (bool, error) {
	if a.done {
		return true, nil
	}

	switch ev.Type {
	case EventDone:
		a.Finish()
		return true, nil
	case EventSkip:
		return false, nil
	}

	chunk := ev.Chunk
	if chunk == nil {
		return false, nil
	}

	if text, ok := chunk.Text(); ok {
		if err := a.appendText(text); err != nil {
			return false, err
		}
	}
	if chunk.HasMetadata() {
		if err := a.mergeMetadata(chunk); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Finish ends the turn. It is safe to call more than once and is used when a
// stream ends without the done sentinel or fails part way.
func (a *Accumulator) Finish() {
	if a.done {
		return
	}
	a.done = true
	a.target.EndTurn(a.turnID)
}

// BotMessageID returns the id of the bot message created for this turn, or
// "" if no content has arrived yet.
func (a *Accumulator) BotMessageID() string {
	return a.botID
}

// Content returns the content accumulated so far.
func (a *Accumulator) Content() string {
	return a.content.String()
}

// Done reports whether the turn has finished.
func (a *Accumulator) Done() bool {
	return a.done
}

// Orphaned reports whether the turn's bot message was removed from the
// conversation (by a clear or load) while streaming.
func (a *Accumulator) Orphaned() bool {
	return a.orphaned
}

func (a *Accumulator) appendText(text string) error {
	if a.orphaned {
		return nil
	}
	a.content.WriteString(text)

	if a.botID == "" {
		a.botID = a.target.AppendBotMessage(a.turnID, text)
		pending := a.pending
		a.pending = nil
		for _, fn := range pending {
			if err := a.target.MergeMetadata(a.botID, fn); err != nil {
				return a.handleMissing(err)
			}
		}
		return nil
	}

	if err := a.target.AppendToMessage(a.botID, text); err != nil {
		return a.handleMissing(err)
	}
	return nil
}

func (a *Accumulator) mergeMetadata(chunk *Chunk) error {
	modelName := chunk.Model
	usage := chunk.Usage
	fn := func(md *model.Metadata) {
		if modelName != "" {
			md.ModelName = modelName
		}
		if usage != nil {
			md.InputTokenCount = usage.PromptTokens
			md.OutputTokenCount = usage.CompletionTokens
		}
		md.InputCharCount = a.promptChars
		md.OutputCharCount = utf8.RuneCountInString(a.content.String())
	}

	if a.orphaned {
		return nil
	}
	if a.botID == "" {
		a.pending = append(a.pending, fn)
		return nil
	}
	if err := a.target.MergeMetadata(a.botID, fn); err != nil {
		return a.handleMissing(err)
	}
	return nil
}

// handleMissing marks the turn orphaned when its message is gone; the rest
// of the stream is drained without touching the conversation.
func (a *Accumulator) handleMissing(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		a.orphaned = true
		a.logger.Debug("turn message removed while streaming", "turn", a.turnID, "message", a.botID)
		return nil
	}
	return err
}
