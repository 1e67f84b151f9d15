// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/controller"
	"github.com/jeranaias/rigchat/internal/kbcache"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/pipeline"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/upload"
)

// =============================================================================
// APP WIRING
// =============================================================================

// AppOptions adjusts how NewApp wires the core.
type AppOptions struct {
	// LogWriter receives logs when the config names no log file. Nil sends
	// them to ConfigDir/rigchat.log, which the full-screen UI needs.
	LogWriter io.Writer
	// Pipeline overrides the configured default pipeline.
	Pipeline string
	// Ephemeral keeps conversations in memory only.
	Ephemeral bool
}

// App is a fully wired chat core.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Client     *pipeline.Client
	Controller *controller.Controller

	closers []io.Closer
	stop    context.CancelFunc
}

// NewApp builds the controller and everything under it from cfg.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (app *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger, logCloser, err := logging.New(cfg.Log, opts.LogWriter)
	if err != nil {
		return nil, err
	}
	a.Logger = logger
	a.closers = append(a.closers, logCloser)

	registry, err := pipeline.LoadRegistry(cfg.Pipeline.RegistryPath)
	if err != nil {
		return nil, err
	}
	if len(cfg.Pipeline.PerformanceLevels) > 0 {
		registry.SetPerformanceLevels(cfg.Pipeline.PerformanceLevels)
	}
	if opts.Pipeline != "" {
		if _, ok := registry.Get(opts.Pipeline); !ok {
			return nil, fmt.Errorf("unknown pipeline %q (have %s)", opts.Pipeline, strings.Join(registry.IDs(), ", "))
		}
		cfg.Pipeline.Default = opts.Pipeline
	}

	a.Client = pipeline.NewClient(cfg.Backend.URL).
		WithAPIKey(cfg.Backend.APIKey).
		WithMaxRetries(cfg.Stream.MaxRetries).
		WithReadTimeout(cfg.ReadTimeout()).
		WithUploadTimeout(cfg.UploadTimeout()).
		WithLogger(logger)

	persister, watcher, err := openPersister(cfg, opts.Ephemeral)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, persister)

	store := storage.NewConversationStore(persister,
		storage.WithStoreLogger(logger),
		storage.WithMaxConversations(cfg.Storage.MaxConversations),
	)
	store.Rehydrate(ctx)

	runCtx, stop := context.WithCancel(context.Background())
	a.stop = stop
	if watcher != nil && cfg.Storage.Watch {
		go func() {
			err := watcher.Watch(runCtx, logger, func(key string) {
				store.Reload(runCtx, key)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("state watch stopped", "error", err)
			}
		}()
	}

	kb, err := a.openKBCache(ctx, cfg, persister, logger)
	if err != nil {
		return nil, err
	}

	uploads := upload.NewCoordinator(a.Client,
		upload.WithLimits(cfg.UploadLimits()),
		upload.WithConcurrency(cfg.Upload.Concurrency),
		upload.WithLogger(logger),
	)

	ctrl, err := controller.New(controller.Deps{
		Store:    store,
		Uploads:  uploads,
		Client:   a.Client,
		Registry: registry,
		KB:       kb,
		Config:   cfg,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	a.Controller = ctrl

	logger.Info("rigchat started",
		"backend", cfg.Backend.URL,
		"storage", cfg.Storage.Backend,
		"kb_cache", cfg.KBCache.Backend,
		"pipeline", ctrl.Selection().PipelineID)
	return a, nil
}

// openPersister opens the configured storage backend. The file backend is
// also returned as a watcher.
func openPersister(cfg *config.Config, ephemeral bool) (storage.Persister, *storage.FilePersister, error) {
	if ephemeral {
		return storage.NewMemoryPersister(), nil, nil
	}
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryPersister(), nil, nil
	case "sqlite":
		path, err := cfg.StoragePath()
		if err != nil {
			return nil, nil, err
		}
		p, err := storage.OpenSQLitePersister(path)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	default:
		dir, err := cfg.StoragePath()
		if err != nil {
			return nil, nil, err
		}
		p, err := storage.NewFilePersister(dir)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	}
}

// openKBCache builds the knowledge-base cache. An unreachable Redis falls
// back to the store backend rather than failing startup.
func (a *App) openKBCache(ctx context.Context, cfg *config.Config, persister storage.Persister, logger *slog.Logger) (*kbcache.Cache, error) {
	opts := []kbcache.Option{kbcache.WithTTL(cfg.KBCacheTTL()), kbcache.WithLogger(logger)}

	switch cfg.KBCache.Backend {
	case "off":
		return nil, nil
	case "redis":
		client, err := kbcache.DialRedis(ctx, cfg.KBCache.RedisAddr, cfg.KBCache.RedisPassword, cfg.KBCache.RedisDB)
		if err == nil {
			backend := kbcache.NewRedisBackend(client, "")
			a.closers = append(a.closers, backend)
			return kbcache.New(backend, a.Client, opts...), nil
		}
		logger.Warn("redis unavailable, caching knowledge bases locally", "error", err)
	}
	return kbcache.New(kbcache.NewStoreBackend(persister), a.Client, opts...), nil
}

// Close shuts the controller down and releases storage and logs.
func (a *App) Close() error {
	var errs []error
	if a.Controller != nil {
		errs = append(errs, a.Controller.Close())
	}
	if a.stop != nil {
		a.stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
