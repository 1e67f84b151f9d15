// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/server"
)

// RunServe runs the local pipeline server until ctx is cancelled.
func RunServe(ctx context.Context, args Args, out io.Writer) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	addr := cfg.Server.Addr
	if args.Addr != "" {
		addr = args.Addr
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := server.New(server.Options{
		Addr:       addr,
		Token:      cfg.Server.Token,
		ChunkDelay: time.Duration(cfg.Server.ChunkDelayMs) * time.Millisecond,
		Logger:     logger,
	})

	if !args.Quiet {
		fmt.Fprintf(out, "%s http://%s\n", SuccessStyle.Render("Serving pipelines on"), srv.Addr())
		fmt.Fprintln(out, DimStyle.Render("Point rigchat at it with backend.url; Ctrl+C stops."))
	}
	return srv.ListenAndServe(ctx)
}
