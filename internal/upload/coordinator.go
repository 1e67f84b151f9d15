// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload validates, stages and uploads attachments for a message.
//
// A Coordinator holds the staged files as Tasks. Adding files validates the
// whole selection first, so either every file is staged or none is. Uploads
// run concurrently; one failure never cancels its siblings. Progress is
// monotonic and every update is keyed by task ID.
package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigchat/internal/model"
)

// DefaultConcurrency is the number of simultaneous uploads.
const DefaultConcurrency = 4

// =============================================================================
// UPLOADER INTERFACE
// =============================================================================

// Request is one file handed to an Uploader.
type Request struct {
	VectorStoreID string
	ModelOwner    string
	FileName      string
	Description   string
	Kind          model.AttachmentKind
	Size          int64
	Body          io.Reader
}

// Result is what the backend returns for an accepted file.
type Result struct {
	FileID   string
	FilePath string
}

// ProgressFunc reports bytes sent so far out of total.
type ProgressFunc func(sent, total int64)

// Uploader sends one file to the backend.
type Uploader interface {
	Upload(ctx context.Context, req Request, progress ProgressFunc) (Result, error)
}

// Destination names where a batch is uploaded.
type Destination struct {
	VectorStoreID string
	ModelOwner    string
}

// =============================================================================
// RESULTS AND NOTIFICATIONS
// =============================================================================

// Terminal is an uploaded file ready to be attached to a message.
type Terminal struct {
	TaskID      string
	RemoteID    string
	RemotePath  string
	Kind        model.AttachmentKind
	DisplayName string
	LocalRef    string
}

// Attachment converts t to the message attachment form.
func (t Terminal) Attachment() model.Attachment {
	return model.Attachment{
		LocalRef:    t.LocalRef,
		RemotePath:  t.RemotePath,
		RemoteID:    t.RemoteID,
		DisplayName: t.DisplayName,
		Kind:        t.Kind,
	}
}

// BatchResult is returned by Upload once every task reached a terminal state.
type BatchResult struct {
	Uploaded []Terminal
	Failed   []*model.UploadError
}

// Err joins the failures, or returns nil when every upload succeeded.
func (r BatchResult) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Notification reports a task state or progress change.
type Notification struct {
	TaskID   string
	Status   Status
	Progress int
	Err      error
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option {
	return func(c *Coordinator) { c.limits = l }
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// Coordinator stages and uploads the attachments of the next message.
type Coordinator struct {
	uploader    Uploader
	limits      Limits
	concurrency int
	logger      *slog.Logger

	mu         sync.Mutex
	tasks      []*Task
	notifyChan chan Notification
}

// NewCoordinator creates a coordinator that uploads through u.
func NewCoordinator(u Uploader, opts ...Option) *Coordinator {
	c := &Coordinator{
		uploader:    u,
		limits:      DefaultLimits(),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		notifyChan:  make(chan Notification, 100),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limits returns the active limits.
func (c *Coordinator) Limits() Limits {
	return c.limits
}

// Add validates files as one batch and stages them as pending tasks. If any
// file violates a rule, nothing is staged and the joined ValidationErrors
// are returned. Oversized image selections are recompressed first.
func (c *Coordinator) Add(files ...File) ([]TaskInfo, error) {
	c.mu.Lock()
	existing := len(c.tasks)
	c.mu.Unlock()

	if err := c.limits.validateBatch(files, existing); err != nil {
		return nil, err
	}

	staged := make([]File, len(files))
	copy(staged, files)
	if budget := c.limits.imageBudget(files); budget > 0 {
		for i, f := range staged {
			if !c.limits.isImage(f.Name) {
				continue
			}
			out, err := recompressFile(f, budget)
			if err != nil {
				return nil, model.NewValidationError(f.Name, "cannot shrink image to %s: %v", formatBytes(budget), err)
			}
			if out.Size != f.Size {
				c.logger.Info("recompressed image", "file", f.Name, "from", f.Size, "to", out.Size, "budget", budget)
			}
			staged[i] = out
		}
	}

	tasks := make([]*Task, len(staged))
	infos := make([]TaskInfo, len(staged))
	for i, f := range staged {
		tasks[i] = newTask(f)
		infos[i] = tasks[i].Info()
	}

	c.mu.Lock()
	if len(c.tasks)+len(tasks) > c.limits.MaxFiles {
		c.mu.Unlock()
		return nil, model.NewValidationError("files", "at most %d files per message", c.limits.MaxFiles)
	}
	c.tasks = append(c.tasks, tasks...)
	c.mu.Unlock()

	for _, t := range tasks {
		c.notify(Notification{TaskID: t.ID, Status: StatusPending})
	}
	return infos, nil
}

// Claim hands every unclaimed task to owner and returns their ids in the
// order they were added. Tasks already claimed by another owner are left
// alone, so concurrent turns never share a file.
func (c *Coordinator) Claim(owner string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, t := range c.tasks {
		if t.Info().Owner != "" {
			continue
		}
		t.setOwner(owner)
		ids = append(ids, t.ID)
	}
	return ids
}

// Release returns tasks to the unclaimed pool, for example after their
// turn was aborted.
func (c *Coordinator) Release(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if i := c.indexLocked(id); i >= 0 {
			c.tasks[i].setOwner("")
		}
	}
}

// Upload starts the pending tasks among ids and waits until all of them are
// terminal. Tasks removed while uploading are left out of the result.
func (c *Coordinator) Upload(ctx context.Context, dest Destination, ids []string) BatchResult {
	c.mu.Lock()
	var started []*Task
	for _, id := range ids {
		i := c.indexLocked(id)
		if i < 0 {
			continue
		}
		t := c.tasks[i]
		if t.Status() != StatusPending {
			continue
		}
		if err := t.setStatus(StatusUploading); err != nil {
			continue
		}
		started = append(started, t)
	}
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, t := range started {
		taskCtx, cancel := context.WithCancel(ctx)
		t.setCancel(cancel)
		c.notify(Notification{TaskID: t.ID, Status: StatusUploading})
		g.Go(func() error {
			defer cancel()
			c.run(taskCtx, t, dest)
			return nil
		})
	}
	_ = g.Wait()

	var result BatchResult
	for _, t := range started {
		if !c.has(t.ID) {
			continue
		}
		info := t.Info()
		switch info.Status {
		case StatusUploaded:
			result.Uploaded = append(result.Uploaded, terminalFor(t, info))
		case StatusFailed:
			var uerr *model.UploadError
			if !errors.As(info.Err, &uerr) {
				uerr = &model.UploadError{TaskID: t.ID, FileName: t.DisplayName, Err: info.Err}
			}
			result.Failed = append(result.Failed, uerr)
		}
	}
	return result
}

func (c *Coordinator) run(ctx context.Context, t *Task, dest Destination) {
	body, err := t.File.Open()
	if err != nil {
		c.finish(t, Result{}, err)
		return
	}
	defer body.Close()

	req := Request{
		VectorStoreID: dest.VectorStoreID,
		ModelOwner:    dest.ModelOwner,
		FileName:      t.DisplayName,
		Description:   t.Description,
		Kind:          t.Kind,
		Size:          t.File.Size,
		Body:          body,
	}
	res, err := c.uploader.Upload(ctx, req, func(sent, total int64) {
		if total <= 0 || !c.has(t.ID) {
			return
		}
		pct := int(sent * 100 / total)
		// 100 is reserved for the completed state.
		if pct >= 100 {
			pct = 99
		}
		if t.setProgress(pct) {
			c.notify(Notification{TaskID: t.ID, Status: StatusUploading, Progress: pct})
		}
	})
	c.finish(t, res, err)
}

func (c *Coordinator) finish(t *Task, res Result, err error) {
	if !c.has(t.ID) {
		return
	}
	if err == nil && res.FilePath == "" && res.FileID == "" {
		err = errors.New("backend returned no file reference")
	}
	if err != nil {
		t.fail(err)
		info := t.Info()
		c.logger.Warn("upload failed", "task", t.ID, "file", t.DisplayName, "error", err)
		c.notify(Notification{TaskID: t.ID, Status: StatusFailed, Progress: info.Progress, Err: info.Err})
		return
	}
	if cerr := t.complete(res.FileID, res.FilePath); cerr != nil {
		c.logger.Warn("dropping upload result", "task", t.ID, "error", cerr)
		return
	}
	c.notify(Notification{TaskID: t.ID, Status: StatusUploaded, Progress: 100})
}

// Remove cancels the uploads of ids and drops them. Later progress for
// those ids is ignored. Ids that are not staged are reported as a
// NotFoundError after the others are dropped.
func (c *Coordinator) Remove(ids ...string) error {
	var (
		dropped []*Task
		missing error
	)
	c.mu.Lock()
	for _, id := range ids {
		idx := c.indexLocked(id)
		if idx < 0 {
			if missing == nil {
				missing = &model.NotFoundError{Kind: "upload", ID: id}
			}
			continue
		}
		dropped = append(dropped, c.tasks[idx])
		c.tasks = append(c.tasks[:idx], c.tasks[idx+1:]...)
	}
	c.mu.Unlock()

	for _, t := range dropped {
		t.abort()
	}
	return missing
}

// Clear cancels and drops every task.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	tasks := c.tasks
	c.tasks = nil
	c.mu.Unlock()
	for _, t := range tasks {
		t.abort()
	}
}

// Tasks returns snapshots of the staged tasks in the order they were added.
func (c *Coordinator) Tasks() []TaskInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TaskInfo, len(c.tasks))
	for i, t := range c.tasks {
		out[i] = t.Info()
	}
	return out
}

// Terminal returns the uploaded tasks among ids in the order they were
// added.
func (c *Coordinator) Terminal(ids []string) []Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Terminal
	for _, t := range c.tasks {
		if !slices.Contains(ids, t.ID) {
			continue
		}
		if info := t.Info(); info.Status == StatusUploaded {
			out = append(out, terminalFor(t, info))
		}
	}
	return out
}

// Failed returns the errors of failed tasks still staged.
func (c *Coordinator) Failed() []*model.UploadError {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.UploadError
	for _, t := range c.tasks {
		info := t.Info()
		var uerr *model.UploadError
		if info.Status == StatusFailed && errors.As(info.Err, &uerr) {
			out = append(out, uerr)
		}
	}
	return out
}

// CanSend is false while any task is uploading.
func (c *Coordinator) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks {
		if t.Status() == StatusUploading {
			return false
		}
	}
	return true
}

// Pending returns the number of tasks not yet started.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if t.Status() == StatusPending {
			n++
		}
	}
	return n
}

// Len returns the number of staged tasks.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Notifications returns the notification channel.
func (c *Coordinator) Notifications() <-chan Notification {
	return c.notifyChan
}

// notify sends without blocking; a full channel drops the notification.
func (c *Coordinator) notify(n Notification) {
	select {
	case c.notifyChan <- n:
	default:
		c.logger.Warn("upload notification channel full, dropped notification",
			"task", n.TaskID, "status", n.Status)
	}
}

func (c *Coordinator) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked(id) >= 0
}

func (c *Coordinator) indexLocked(id string) int {
	for i, t := range c.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func terminalFor(t *Task, info TaskInfo) Terminal {
	return Terminal{
		TaskID:      t.ID,
		RemoteID:    info.RemoteID,
		RemotePath:  info.RemotePath,
		Kind:        t.Kind,
		DisplayName: t.DisplayName,
		LocalRef:    t.File.Ref,
	}
}
