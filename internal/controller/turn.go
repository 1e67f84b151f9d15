// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/pipeline"
	"github.com/jeranaias/rigchat/internal/stream"
	"github.com/jeranaias/rigchat/internal/upload"
)

// =============================================================================
// TURN
// =============================================================================

// TurnResult is the terminal state of one turn.
type TurnResult struct {
	TurnID       string
	UserMessage  model.Message
	BotMessageID string
	// Content is everything the stream delivered, kept even on failure.
	Content string
	// Completed is true when the done sentinel arrived.
	Completed bool
	Err       error
}

// Turn is a send in progress. It always reaches a terminal state.
type Turn struct {
	ID     string
	cancel context.CancelFunc
	done   chan struct{}

	once   sync.Once
	result TurnResult
}

// Done is closed when the turn finishes.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Result blocks until the turn finishes and returns its result.
func (t *Turn) Result() TurnResult {
	<-t.done
	return t.result
}

// Wait blocks until the turn finishes or ctx ends.
func (t *Turn) Wait(ctx context.Context) (TurnResult, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}
}

// Cancel aborts the stream read and any uploads of this turn.
func (t *Turn) Cancel() {
	t.cancel()
}

func (t *Turn) finish(r TurnResult) {
	t.once.Do(func() {
		t.result = r
		close(t.done)
	})
}

// =============================================================================
// SEND
// =============================================================================

// Send validates the input synchronously and starts a turn. Validation
// failures return a ValidationError and leave every piece of state alone.
//
// The turn claims the files staged so far; files staged later, or claimed
// by a turn already running, are not its own. It uploads its files first
// and any failed upload aborts the send before anything is appended.
// Otherwise the user message is appended with its attachments and the
// response is streamed into a bot message owned by this turn. Stream
// failures keep the partial content.
func (c *Controller) Send(ctx context.Context, text string) (*Turn, error) {
	c.mu.Lock()
	closed := c.closed
	sel := c.selection
	c.mu.Unlock()
	if closed {
		return nil, errClosed
	}

	if !c.uploads.CanSend() {
		return nil, model.NewValidationError("attachments", "wait for uploads to finish")
	}
	for _, t := range c.uploads.Tasks() {
		if t.Status == upload.StatusFailed {
			return nil, model.NewValidationError("attachments", "%s failed to upload; remove it first", t.DisplayName)
		}
	}
	if err := c.registry.ValidateSelection(sel); err != nil {
		return nil, err
	}
	endpoint, err := c.endpointFor(sel.PipelineID)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(c.rootCtx, cancel)
	turn := &Turn{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stopOnClose()
		cancel()
		return nil, errClosed
	}
	taskIDs := c.uploads.Claim(turn.ID)
	if strings.TrimSpace(text) == "" && len(taskIDs) == 0 {
		c.mu.Unlock()
		stopOnClose()
		cancel()
		return nil, model.NewValidationError("message", "type a message or attach a file")
	}
	c.turns[turn.ID] = turn
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer stopOnClose()
		defer cancel()

		res := c.runTurn(turnCtx, sel, endpoint, text, taskIDs)

		c.mu.Lock()
		delete(c.turns, turn.ID)
		c.mu.Unlock()

		turn.finish(res)
		c.emit(Notification{Kind: LoadingChanged, Loading: c.store.Loading()})
		c.emit(Notification{Kind: TurnFinished, Turn: &res, Err: res.Err})
		if res.Err != nil {
			c.emit(Notification{Kind: Error, Err: res.Err})
		}
	}()
	return turn, nil
}

func (c *Controller) runTurn(ctx context.Context, sel model.PipelineSelection, endpoint, text string, taskIDs []string) TurnResult {
	var res TurnResult

	// Uploads first: the turn is not submitted until each of its files is
	// terminal. Aborted turns hand their files back to the tray.
	if len(taskIDs) > 0 {
		batch := c.uploads.Upload(ctx, upload.Destination{
			VectorStoreID: sel.KnowledgeBaseID,
			ModelOwner:    c.cfg.Backend.ModelOwner,
		}, taskIDs)
		c.mirrorPending()
		if err := batch.Err(); err != nil {
			c.uploads.Release(taskIDs...)
			c.logger.Warn("send aborted by failed uploads", "failed", len(batch.Failed))
			res.Err = err
			return res
		}
		if ctx.Err() != nil {
			c.uploads.Release(taskIDs...)
			res.Err = &model.StreamError{Err: ctx.Err()}
			return res
		}
	}

	terminals := c.uploads.Terminal(taskIDs)
	atts := make([]model.Attachment, len(terminals))
	for i, t := range terminals {
		atts[i] = t.Attachment()
	}

	// History is everything before this turn's user message.
	history := c.store.Messages()

	userMsg, err := c.store.AppendUserMessage(text, atts)
	if err != nil {
		res.Err = err
		return res
	}
	res.UserMessage = userMsg
	// Files detached during the upload are already gone.
	_ = c.uploads.Remove(taskIDs...)
	c.mirrorPending()

	turnID := c.store.BeginTurn()
	res.TurnID = turnID
	c.emit(Notification{Kind: LoadingChanged, Loading: true})

	acc := stream.NewAccumulator(c.store, turnID, text)
	acc.SetLogger(c.logger)
	defer acc.Finish()

	req := pipeline.BuildChatRequest(pipeline.RequestInput{
		Query:        text,
		SystemPrompt: c.store.SystemPrompt(),
		User:         c.cfg.Backend.User,
		Selection:    sel,
		Attachments:  atts,
		History:      history,
	})

	c.logger.Info("sending turn", "turn", turnID, "pipeline", sel.PipelineID, "attachments", len(atts), "memory", sel.MemoryEnabled)
	resp, err := c.client.Stream(ctx, endpoint, req)
	if err != nil {
		res.Err = asStreamError(err, "")
		c.logger.Error("stream request failed", "turn", turnID, "error", err)
		return res
	}
	defer resp.Close()

	for ev, err := range resp.Decoder.All() {
		if err != nil {
			res.Err = asStreamError(err, acc.Content())
			c.logger.Error("stream interrupted", "turn", turnID, "received", len(acc.Content()), "error", err)
			break
		}
		finished, err := acc.Apply(ev)
		if err != nil {
			res.Err = asStreamError(err, acc.Content())
			break
		}
		if finished {
			break
		}
	}

	if res.Err == nil && ctx.Err() != nil {
		res.Err = &model.StreamError{Err: ctx.Err(), Partial: acc.Content()}
	}
	if res.Err == nil && !resp.Decoder.Done() {
		c.logger.Warn("stream ended without done marker", "turn", turnID)
	}

	res.BotMessageID = acc.BotMessageID()
	res.Content = acc.Content()
	res.Completed = resp.Decoder.Done()
	return res
}

// asStreamError tags err as a StreamError carrying the partial content.
func asStreamError(err error, partial string) error {
	var serr *model.StreamError
	if errors.As(err, &serr) {
		if partial != "" && serr.Partial == "" {
			cp := *serr
			cp.Partial = partial
			return &cp
		}
		return serr
	}
	return &model.StreamError{Err: err, Partial: partial}
}
