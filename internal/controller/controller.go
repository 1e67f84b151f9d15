// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package controller is the page-level coordinator between the front ends
// and the chat core.
//
// A Controller owns no conversation state itself. It reads the pipeline
// selection per send, drives the UploadCoordinator, appends the user turn to
// the ConversationStore, streams the response through the DeltaAccumulator,
// and reports every visible change on a single notification channel.
//
// Front ends call Send and receive a Turn: a future that completes when the
// turn reaches a terminal state. They redraw on Notifications and read the
// render-ready message list from Visible.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/kbcache"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/pipeline"
	"github.com/jeranaias/rigchat/internal/render"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/upload"
)

// NotificationBuffer is the capacity of the notification channel.
const NotificationBuffer = 256

// Streamer opens a streaming chat request. *pipeline.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, endpoint string, req pipeline.ChatRequest) (*pipeline.Response, error)
}

// Deps are the collaborators a Controller coordinates.
type Deps struct {
	Store    *storage.ConversationStore
	Uploads  *upload.Coordinator
	Client   Streamer
	Registry *pipeline.Registry
	// KB is optional; without it knowledge-base listings are unavailable.
	KB     *kbcache.Cache
	Config *config.Config
	Logger *slog.Logger
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// NotificationKind tags a Notification.
type NotificationKind int

const (
	// MessagesChanged fires after any store mutation.
	MessagesChanged NotificationKind = iota
	// LoadingChanged fires when a turn starts or ends.
	LoadingChanged
	// UploadProgress forwards an upload task transition or progress step.
	UploadProgress
	// TurnFinished fires once per turn with its result.
	TurnFinished
	// Error reports a failure the user should see.
	Error
)

// String returns the kind name.
func (k NotificationKind) String() string {
	switch k {
	case MessagesChanged:
		return "messages_changed"
	case LoadingChanged:
		return "loading_changed"
	case UploadProgress:
		return "upload_progress"
	case TurnFinished:
		return "turn_finished"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is one event for the front end.
type Notification struct {
	Kind    NotificationKind
	Version uint64
	Loading bool
	Upload  upload.Notification
	Turn    *TurnResult
	Err     error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller coordinates one active conversation.
type Controller struct {
	store    *storage.ConversationStore
	uploads  *upload.Coordinator
	client   Streamer
	registry *pipeline.Registry
	kb       *kbcache.Cache
	cfg      *config.Config
	logger   *slog.Logger
	memo     render.Memo

	notifyChan chan Notification

	mu        sync.Mutex
	selection model.PipelineSelection
	turns     map[string]*Turn
	closed    bool

	wg       sync.WaitGroup
	stopFwd  context.CancelFunc
	fwdDone  chan struct{}
	rootCtx  context.Context
	cancelFn context.CancelFunc
}

// New wires a controller over deps. The store's change hook is taken over
// so every mutation produces a MessagesChanged notification.
func New(deps Deps) (*Controller, error) {
	if deps.Store == nil || deps.Uploads == nil || deps.Client == nil || deps.Registry == nil {
		return nil, errors.New("controller: store, uploads, client and registry are required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:      deps.Store,
		uploads:    deps.Uploads,
		client:     deps.Client,
		registry:   deps.Registry,
		kb:         deps.KB,
		cfg:        cfg,
		logger:     logger,
		notifyChan: make(chan Notification, NotificationBuffer),
		turns:      make(map[string]*Turn),
		rootCtx:    rootCtx,
		cancelFn:   cancel,
	}
	c.selection = c.initialSelection()
	c.store.SetChangeHook(func(v uint64) {
		c.emit(Notification{Kind: MessagesChanged, Version: v, Loading: c.store.Loading()})
	})

	fwdCtx, stop := context.WithCancel(rootCtx)
	c.stopFwd = stop
	c.fwdDone = make(chan struct{})
	go c.forwardUploads(fwdCtx)
	return c, nil
}

func (c *Controller) initialSelection() model.PipelineSelection {
	id := c.cfg.Pipeline.Default
	if _, ok := c.registry.Get(id); !ok {
		id = c.registry.DefaultID()
	}
	sel := model.PipelineSelection{PipelineID: id}
	if lvl := c.store.PerformanceLevel(); lvl != "" {
		probe := sel
		probe.PerformanceLevel = lvl
		if c.registry.ValidateSelection(probe) == nil {
			sel.PerformanceLevel = lvl
		}
	}
	return sel
}

// forwardUploads relays coordinator notifications until ctx ends.
func (c *Controller) forwardUploads(ctx context.Context) {
	defer close(c.fwdDone)
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.uploads.Notifications():
			c.emit(Notification{Kind: UploadProgress, Upload: n, Err: n.Err})
		}
	}
}

// Notifications returns the channel the front end listens on. A full
// channel drops the oldest-style redraw hints rather than blocking the core.
func (c *Controller) Notifications() <-chan Notification {
	return c.notifyChan
}

func (c *Controller) emit(n Notification) {
	select {
	case c.notifyChan <- n:
	default:
		if n.Kind == Error || n.Kind == TurnFinished {
			c.logger.Warn("notification channel full, dropped notification", "kind", n.Kind.String())
		}
	}
}

// Store returns the conversation store.
func (c *Controller) Store() *storage.ConversationStore {
	return c.store
}

// Uploads returns the upload coordinator.
func (c *Controller) Uploads() *upload.Coordinator {
	return c.uploads
}

// Registry returns the pipeline registry.
func (c *Controller) Registry() *pipeline.Registry {
	return c.registry
}

// =============================================================================
// SELECTION
// =============================================================================

// Selection returns the controls used for the next send.
func (c *Controller) Selection() model.PipelineSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	sel := c.selection
	sel.SelectedFileIDs = append([]string(nil), sel.SelectedFileIDs...)
	return sel
}

// SetSelection validates sel against the registry and makes it current.
// The performance level is persisted with the conversation settings.
func (c *Controller) SetSelection(sel model.PipelineSelection) error {
	if err := c.registry.ValidateSelection(sel); err != nil {
		return err
	}
	sel.SelectedFileIDs = append([]string(nil), sel.SelectedFileIDs...)

	c.mu.Lock()
	prevLevel := c.selection.PerformanceLevel
	c.selection = sel
	c.mu.Unlock()

	if sel.PerformanceLevel != prevLevel {
		c.store.SetPerformanceLevel(sel.PerformanceLevel)
	}
	return nil
}

// SelectPipeline switches pipelines, dropping controls the new pipeline does
// not declare.
func (c *Controller) SelectPipeline(id string) error {
	p, ok := c.registry.Get(id)
	if !ok {
		return model.NewValidationError("pipeline", "unknown pipeline %q", id)
	}
	sel := c.Selection()
	sel.PipelineID = id
	if !p.Has(pipeline.ControlKnowledgeBase) {
		sel.KnowledgeBaseID = ""
	}
	if !p.Has(pipeline.ControlFileSelect) || sel.KnowledgeBaseID == "" {
		sel.SelectedFileIDs = nil
	}
	if !p.Has(pipeline.ControlWebSearch) {
		sel.WebSearchEnabled = false
	}
	if !p.Has(pipeline.ControlMemory) {
		sel.MemoryEnabled = false
	}
	if opts := c.registry.PerformanceOptions(id); !slices.Contains(opts, sel.PerformanceLevel) {
		sel.PerformanceLevel = ""
	}
	return c.SetSelection(sel)
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// Attach stages files for the next send. The whole selection is rejected if
// any file breaks a limit.
func (c *Controller) Attach(files ...upload.File) ([]upload.TaskInfo, error) {
	infos, err := c.uploads.Add(files...)
	if err != nil {
		return nil, err
	}
	c.mirrorPending()
	return infos, nil
}

// Detach removes a staged file, cancelling its upload if one is running.
func (c *Controller) Detach(taskID string) error {
	if err := c.uploads.Remove(taskID); err != nil {
		return err
	}
	c.mirrorPending()
	return nil
}

// mirrorPending writes the staged file descriptors to the store so they
// survive a restart.
func (c *Controller) mirrorPending() {
	tasks := c.uploads.Tasks()
	atts := make([]model.Attachment, len(tasks))
	for i, t := range tasks {
		atts[i] = model.Attachment{
			RemotePath:  t.RemotePath,
			RemoteID:    t.RemoteID,
			DisplayName: t.DisplayName,
			Kind:        t.Kind,
		}
	}
	c.store.SetPendingAttachments(atts)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Visible returns the render-ready message list and the loading flag. The
// result is recomputed only after the store changes.
func (c *Controller) Visible() ([]model.Message, bool) {
	return c.memo.Visible(c.store)
}

// Save snapshots the active conversation under name.
func (c *Controller) Save(name string) (model.Conversation, error) {
	return c.store.SaveConversation(name)
}

// Load replaces the active conversation with a saved one.
func (c *Controller) Load(id string) error {
	return c.store.LoadConversation(id)
}

// Delete removes a saved conversation.
func (c *Controller) Delete(id string) error {
	return c.store.DeleteConversation(id)
}

// Conversations lists saved conversations, most recent first.
func (c *Controller) Conversations() []model.Conversation {
	return c.store.Conversations()
}

// Clear empties the active conversation and drops staged uploads.
func (c *Controller) Clear() {
	c.uploads.Clear()
	c.store.Clear()
}

// SystemPrompt returns the system prompt sent with every request.
func (c *Controller) SystemPrompt() string {
	return c.store.SystemPrompt()
}

// SetSystemPrompt replaces the system prompt.
func (c *Controller) SetSystemPrompt(prompt string) {
	c.store.SetSystemPrompt(strings.TrimSpace(prompt))
}

// Export renders the active conversation as Markdown.
func (c *Controller) Export(title string) string {
	return render.ExportMarkdown(title, c.store.Messages(), time.Now())
}

// =============================================================================
// KNOWLEDGE BASES
// =============================================================================

// ErrNoKnowledgeBases is returned when no knowledge-base source is wired.
var ErrNoKnowledgeBases = errors.New("knowledge bases are not available")

// KnowledgeBases lists knowledge bases through the cache.
func (c *Controller) KnowledgeBases(ctx context.Context) ([]model.KnowledgeBase, error) {
	if c.kb == nil {
		return nil, ErrNoKnowledgeBases
	}
	return c.kb.KnowledgeBases(ctx)
}

// KnowledgeBaseFiles lists the files of one knowledge base through the cache.
func (c *Controller) KnowledgeBaseFiles(ctx context.Context, kbID string) ([]model.KnowledgeBaseFile, error) {
	if c.kb == nil {
		return nil, ErrNoKnowledgeBases
	}
	return c.kb.Files(ctx, kbID)
}

// RefreshKnowledgeBases drops cached listings so the next read refetches.
func (c *Controller) RefreshKnowledgeBases(ctx context.Context, kbID string) error {
	if c.kb == nil {
		return ErrNoKnowledgeBases
	}
	return c.kb.Invalidate(ctx, kbID)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// InFlight returns the number of turns still running.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// CancelAll cancels every in-flight turn and returns how many there were.
// The turns still finish normally and keep their partial content.
func (c *Controller) CancelAll() int {
	c.mu.Lock()
	turns := make([]*Turn, 0, len(c.turns))
	for _, t := range c.turns {
		turns = append(turns, t)
	}
	c.mu.Unlock()

	for _, t := range turns {
		t.Cancel()
	}
	return len(turns)
}

// Close cancels in-flight turns and uploads and waits for them to finish.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	turns := make([]*Turn, 0, len(c.turns))
	for _, t := range c.turns {
		turns = append(turns, t)
	}
	c.mu.Unlock()

	for _, t := range turns {
		t.Cancel()
	}
	c.wg.Wait()
	c.uploads.Clear()
	c.stopFwd()
	<-c.fwdDone
	c.cancelFn()
	c.store.SetChangeHook(nil)
	return nil
}

func (c *Controller) endpointFor(id string) (string, error) {
	p, ok := c.registry.Get(id)
	if !ok {
		return "", model.NewValidationError("pipeline", "unknown pipeline %q", id)
	}
	return p.Endpoint, nil
}

var errClosed = fmt.Errorf("controller closed: %w", context.Canceled)
