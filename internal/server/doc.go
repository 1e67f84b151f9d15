// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server runs a local pipeline backend for demos and tests.
//
// It speaks the same wire protocol as a real deployment:
//
//   - POST /v1/pipelines/:name/chat       - streams `data:` lines ending in [DONE]
//   - POST /v1/files/upload                - multipart upload, returns id and path
//   - GET  /v1/knowledge_bases             - knowledge-base list
//   - GET  /v1/knowledge_bases/:id/files   - documents in one knowledge base
//   - GET  /health                         - health check
//   - GET  /stats                          - request counters
//
// By default a chat request is answered by echoing the query back one word
// per event, followed by a usage event. WithResponder replaces that reply.
//
// Usage:
//
//	srv := server.New(server.Options{Addr: ":8790"})
//	if err := srv.ListenAndServe(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
