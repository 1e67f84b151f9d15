// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/stream"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the listen address of the serve command.
	DefaultAddr = "127.0.0.1:8790"

	// DefaultModel is reported in the metadata of echoed replies.
	DefaultModel = "rigchat-echo"

	// MaxRequestBodySize caps chat request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxUploadSize caps one multipart upload (64MB plus form overhead).
	MaxUploadSize = 65 * 1024 * 1024

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// WIRE TYPES
// ============================================================================

// ChatRequest is the subset of the pipeline request body the server reads.
type ChatRequest struct {
	Query            string   `json:"query"`
	SystemPrompt     string   `json:"system_prompt"`
	ResponseMode     string   `json:"response_mode"`
	User             string   `json:"user"`
	KnowledgeBaseID  string   `json:"knowledge_base_id"`
	FileIDs          []string `json:"file_ids"`
	UploadFileIDs    []string `json:"upload_file_ids"`
	WebSearch        bool     `json:"web_search"`
	Memory           bool     `json:"memory"`
	PerformanceLevel string   `json:"performance_level"`

	ConversationHistory []HistoryEntry `json:"conversation_history"`
	UserPrompt          []PromptPart   `json:"user_prompt"`
}

// HistoryEntry is one prior turn.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptPart is one user_prompt element; only text parts are read.
type PromptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Responder produces the text pieces streamed back for a request.
type Responder func(pipeline string, req ChatRequest) []string

// EchoResponder answers with the query, one word per piece.
func EchoResponder(pipeline string, req ChatRequest) []string {
	reply := fmt.Sprintf("[%s] You said: %s", pipeline, req.Query)
	if n := len(req.UploadFileIDs); n > 0 {
		reply += fmt.Sprintf(" (with %d attachment(s))", n)
	}
	words := strings.SplitAfter(reply, " ")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// UploadedFile records one accepted upload.
type UploadedFile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	VectorStoreID string `json:"vector_store_id"`
	ModelOwner    string `json:"model_owner"`
	Size          int64  `json:"size"`
	Path          string `json:"file_path"`
}

// ============================================================================
// STATS
// ============================================================================

// ServerStats counts handled requests.
type ServerStats struct {
	Requests  atomic.Int64
	Streams   atomic.Int64
	Uploads   atomic.Int64
	Errors    atomic.Int64
	StartTime time.Time
}

// StatsSnapshot is the JSON form of ServerStats.
type StatsSnapshot struct {
	Requests int64  `json:"requests"`
	Streams  int64  `json:"streams"`
	Uploads  int64  `json:"uploads"`
	Errors   int64  `json:"errors"`
	Uptime   string `json:"uptime"`
}

// Snapshot returns the current counters.
func (s *ServerStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Requests: s.Requests.Load(),
		Streams:  s.Streams.Load(),
		Uploads:  s.Uploads.Load(),
		Errors:   s.Errors.Load(),
		Uptime:   time.Since(s.StartTime).Round(time.Second).String(),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Options configures a Server.
type Options struct {
	Addr string
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string
	// ChunkDelay is slept between streamed pieces.
	ChunkDelay time.Duration
	Model      string
	Logger     *slog.Logger
}

// Server is the local pipeline backend.
type Server struct {
	opts   Options
	engine *gin.Engine
	stats  *ServerStats
	logger *slog.Logger

	mu        sync.RWMutex
	responder Responder
	uploads   map[string]UploadedFile
	kbs       map[string]model.KnowledgeBase
	kbFiles   map[string][]model.KnowledgeBaseFile
}

// New creates a server with demo knowledge bases.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		opts:      opts,
		stats:     &ServerStats{StartTime: time.Now()},
		logger:    opts.Logger,
		responder: EchoResponder,
		uploads:   make(map[string]UploadedFile),
		kbs:       make(map[string]model.KnowledgeBase),
		kbFiles:   make(map[string][]model.KnowledgeBaseFile),
	}
	s.seed()
	s.engine = s.setupRoutes()
	return s
}

// WithResponder replaces the reply generator.
func (s *Server) WithResponder(r Responder) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
	return s
}

// Handler returns the HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Stats returns the request counters.
func (s *Server) Stats() *ServerStats {
	return s.stats
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// Uploads returns accepted uploads sorted by name.
func (s *Server) Uploads() []UploadedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UploadedFile, 0, len(s.uploads))
	for _, u := range s.uploads {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddKnowledgeBase registers a knowledge base and its files.
func (s *Server) AddKnowledgeBase(kb model.KnowledgeBase, files ...model.KnowledgeBaseFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kbs[kb.ID] = kb
	s.kbFiles[kb.ID] = append([]model.KnowledgeBaseFile(nil), files...)
}

func (s *Server) seed() {
	now := time.Now().UTC().Truncate(time.Second)
	s.kbs["kb_handbook"] = model.KnowledgeBase{ID: "kb_handbook", Name: "Handbook", Description: "Team handbook"}
	s.kbFiles["kb_handbook"] = []model.KnowledgeBaseFile{
		{ID: "file_onboarding", Name: "onboarding.md", Size: 4096, CreatedAt: now},
		{ID: "file_policies", Name: "policies.pdf", Size: 81920, CreatedAt: now},
	}
	s.kbs["kb_research"] = model.KnowledgeBase{ID: "kb_research", Name: "Research", Description: "Papers and notes"}
	s.kbFiles["kb_research"] = nil
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("pipeline server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.logger), s.countRequests())

	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)

	v1 := r.Group("/v1")
	v1.Use(BearerAuth(s.opts.Token))
	v1.POST("/pipelines/:name/chat", s.handleChat)
	v1.POST("/files/upload", s.handleUpload)
	v1.GET("/knowledge_bases", s.handleListKnowledgeBases)
	v1.GET("/knowledge_bases/:id/files", s.handleListFiles)
	return r
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.stats.Requests.Add(1)
		c.Next()
		if c.Writer.Status() >= 400 {
			s.stats.Errors.Add(1)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": Version})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Snapshot())
}

// ============================================================================
// CHAT STREAM
// ============================================================================

func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	body := http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" && len(req.UserPrompt) == 0 {
		writeError(c, http.StatusBadRequest, "query is required")
		return
	}

	s.mu.RLock()
	respond := s.responder
	s.mu.RUnlock()
	pieces := respond(c.Param("name"), req)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	s.stats.Streams.Add(1)

	ctx := c.Request.Context()
	id := "chatcmpl-" + uuid.NewString()
	var output strings.Builder
	for _, p := range pieces {
		if s.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.ChunkDelay):
			}
		}
		chunk := stream.TextChunk(p)
		chunk.ID = id
		writeEvent(c.Writer, chunk)
		flusher.Flush()
		output.WriteString(p)
	}

	final := stream.Chunk{
		ID:      id,
		Model:   s.opts.Model,
		Choices: []stream.Choice{{FinishReason: "stop"}},
		Usage: &stream.Usage{
			PromptTokens:     countTokens(req.Query),
			CompletionTokens: countTokens(output.String()),
		},
	}
	final.Usage.TotalTokens = final.Usage.PromptTokens + final.Usage.CompletionTokens
	writeEvent(c.Writer, final)
	fmt.Fprintf(c.Writer, "data: %s\n\n", stream.DoneSentinel)
	flusher.Flush()
}

func writeEvent(w io.Writer, chunk stream.Chunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// countTokens approximates tokens as whitespace-separated words.
func countTokens(s string) int {
	return len(strings.Fields(s))
}

// ============================================================================
// UPLOADS
// ============================================================================

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "file is required")
		return
	}
	name := c.PostForm("file_name")
	if name == "" {
		name = fh.Filename
	}

	id := "file_" + uuid.NewString()
	up := UploadedFile{
		ID:            id,
		Name:          name,
		Description:   c.PostForm("file_description"),
		VectorStoreID: c.PostForm("vector_store_id"),
		ModelOwner:    c.PostForm("model_owner"),
		Size:          fh.Size,
		Path:          "/files/" + id + "/" + name,
	}

	s.mu.Lock()
	s.uploads[id] = up
	s.mu.Unlock()
	s.stats.Uploads.Add(1)

	c.JSON(http.StatusOK, gin.H{"id": up.ID, "file_path": up.Path})
}

// ============================================================================
// KNOWLEDGE BASES
// ============================================================================

func (s *Server) handleListKnowledgeBases(c *gin.Context) {
	s.mu.RLock()
	out := make([]model.KnowledgeBase, 0, len(s.kbs))
	for _, kb := range s.kbs {
		out = append(out, kb)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) handleListFiles(c *gin.Context) {
	id := c.Param("id")

	s.mu.RLock()
	_, ok := s.kbs[id]
	files := append([]model.KnowledgeBaseFile{}, s.kbFiles[id]...)
	s.mu.RUnlock()

	if !ok {
		writeError(c, http.StatusNotFound, "knowledge base not found: "+id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": files})
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": msg}})
}
