// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// Status is the lifecycle state of an upload task.
type Status string

const (
	// StatusPending means the file is validated and waiting to upload.
	StatusPending Status = "pending"

	// StatusUploading means bytes are in flight.
	StatusUploading Status = "uploading"

	// StatusUploaded means the backend accepted the file.
	StatusUploaded Status = "uploaded"

	// StatusFailed means the upload failed; the task never leaves this state.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether s is uploaded or failed.
func (s Status) Terminal() bool {
	return s == StatusUploaded || s == StatusFailed
}

// =============================================================================
// FILE SOURCE
// =============================================================================

// File is a local file selected for upload.
type File struct {
	Name        string
	Description string
	Size        int64
	// Ref identifies the local source (a path, or "memory:<name>").
	Ref string

	open func() (io.ReadCloser, error)
}

// FromPath describes the file at path.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, model.NewValidationError("file", "%s is a directory", path)
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Ref:  path,
		open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// FromBytes describes an in-memory file.
func FromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Size: int64(len(data)),
		Ref:  "memory:" + name,
		open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// Open returns a reader over the file contents.
func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s has no source", f.Name)
	}
	return f.open()
}

// Kind classifies the file by extension.
func (f File) Kind() model.AttachmentKind {
	return model.KindForName(f.Name)
}

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task tracks one file through upload. Tasks are addressed by ID only.
type Task struct {
	ID          string
	File        File
	DisplayName string
	Description string
	Kind        model.AttachmentKind

	mu         sync.RWMutex
	status     Status
	progress   int
	remoteID   string
	remotePath string
	err        error
	cancel     context.CancelFunc
	// owner is the turn that claimed the task, "" while unclaimed.
	owner string
}

// TaskInfo is a point-in-time copy of a task.
type TaskInfo struct {
	ID          string
	DisplayName string
	Kind        model.AttachmentKind
	Size        int64
	Status      Status
	Progress    int
	RemoteID    string
	RemotePath  string
	Err         error
	Owner       string
}

func newTask(f File) *Task {
	return &Task{
		ID:          uuid.New().String(),
		File:        f,
		DisplayName: f.Name,
		Description: f.Description,
		Kind:        f.Kind(),
		status:      StatusPending,
	}
}

// Info returns a snapshot of the task.
func (t *Task) Info() TaskInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskInfo{
		ID:          t.ID,
		DisplayName: t.DisplayName,
		Kind:        t.Kind,
		Size:        t.File.Size,
		Status:      t.status,
		Progress:    t.progress,
		RemoteID:    t.remoteID,
		RemotePath:  t.remotePath,
		Err:         t.err,
		Owner:       t.owner,
	}
}

func (t *Task) setOwner(owner string) {
	t.mu.Lock()
	t.owner = owner
	t.mu.Unlock()
}

// Status returns the current status (thread-safe).
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Progress returns the current progress 0-100 (thread-safe).
func (t *Task) Progress() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// setStatus validates and applies a transition.
// Valid transitions: pending -> uploading -> uploaded/failed, pending -> failed.
func (t *Task) setStatus(status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isValidTransition(t.status, status) {
		return fmt.Errorf("invalid status transition from %s to %s", t.status, status)
	}
	t.status = status
	return nil
}

func isValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusUploading || to == StatusFailed
	case StatusUploading:
		return to == StatusUploaded || to == StatusFailed
	default:
		// Terminal states - no transitions allowed
		return false
	}
}

// setProgress raises progress, clamped to 0-100. Lower values are ignored
// so progress never moves backwards. It reports whether the value changed.
func (t *Task) setProgress(p int) bool {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p <= t.progress || t.status != StatusUploading {
		return false
	}
	t.progress = p
	return true
}

func (t *Task) complete(id, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isValidTransition(t.status, StatusUploaded) {
		return fmt.Errorf("invalid status transition from %s to %s", t.status, StatusUploaded)
	}
	t.status = StatusUploaded
	t.progress = 100
	t.remoteID = id
	t.remotePath = path
	return nil
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isValidTransition(t.status, StatusFailed) {
		return
	}
	t.status = StatusFailed
	t.err = &model.UploadError{TaskID: t.ID, FileName: t.DisplayName, Err: err}
}

func (t *Task) setCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
}

func (t *Task) abort() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
