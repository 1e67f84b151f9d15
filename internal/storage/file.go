// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// FILE PERSISTER
// =============================================================================

// FilePersister stores each key as a JSON file under BaseDir.
type FilePersister struct {
	// BaseDir is the directory holding one <key>.json per key.
	// Default: ~/.rigchat/state/
	BaseDir string

	mu      sync.Mutex
	written map[string][sha256.Size]byte // last content written by this process
}

// NewFilePersister creates a persister rooted at baseDir.
func NewFilePersister(baseDir string) (*FilePersister, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FilePersister{
		BaseDir: baseDir,
		written: make(map[string][sha256.Size]byte),
	}, nil
}

// fileName maps a key to a flat file name. Keys only use [a-z0-9_:-].
func fileName(key string) string {
	return strings.NewReplacer(":", "__", "/", "_").Replace(key) + ".json"
}

// keyForFile reverses fileName.
func keyForFile(name string) string {
	return strings.ReplaceAll(strings.TrimSuffix(name, ".json"), "__", ":")
}

func (f *FilePersister) filePath(key string) string {
	return filepath.Join(f.BaseDir, fileName(key))
}

// Load implements Persister.
func (f *FilePersister) Load(_ context.Context, key string, v any) error {
	data, err := os.ReadFile(f.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoData
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	return decodeValue(key, data, v)
}

// Save implements Persister.
func (f *FilePersister) Save(_ context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	// RELIABILITY: Atomic write so a crash never leaves half a document
	if err := util.AtomicWriteFile(f.filePath(key), data, 0600); err != nil {
		return err
	}
	f.mu.Lock()
	f.written[key] = sha256.Sum256(data)
	f.mu.Unlock()
	return nil
}

// Delete implements Persister.
func (f *FilePersister) Delete(_ context.Context, key string) error {
	err := os.Remove(f.filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	f.mu.Lock()
	delete(f.written, key)
	f.mu.Unlock()
	return nil
}

// Close implements Persister.
func (f *FilePersister) Close() error {
	return nil
}

// ownWrite reports whether data is exactly what this process last wrote for key.
func (f *FilePersister) ownWrite(key string, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum, ok := f.written[key]
	return ok && sum == sha256.Sum256(data)
}

// =============================================================================
// EXTERNAL CHANGE WATCH
// =============================================================================

// watchDebounce coalesces the create/write/rename burst of one atomic write.
const watchDebounce = 150 * time.Millisecond

// Watch calls onChange with the key of every document rewritten by another
// process (another client window sharing the directory). Writes made through
// this persister are ignored. Watch blocks until ctx is done.
func (f *FilePersister) Watch(ctx context.Context, logger *slog.Logger, onChange func(key string)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.BaseDir); err != nil {
		return fmt.Errorf("watch %s: %w", f.BaseDir, err)
	}

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	fire := func(key string) {
		data, err := os.ReadFile(f.filePath(key))
		if err != nil || f.ownWrite(key, data) {
			return
		}
		logger.Debug("external state change", "key", key)
		onChange(key)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".tmp-") || !strings.HasSuffix(name, ".json") {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			key := keyForFile(name)

			mu.Lock()
			if t, ok := timers[key]; ok {
				t.Reset(watchDebounce)
			} else {
				timers[key] = time.AfterFunc(watchDebounce, func() {
					if ctx.Err() == nil {
						fire(key)
					}
				})
			}
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("state watcher error", "error", err)
		}
	}
}
