// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/stream"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxRetries is the number of extra attempts for transient errors.
	DefaultMaxRetries = 3

	// DefaultReadTimeout ends a stream that sends nothing for this long.
	DefaultReadTimeout = 60 * time.Second

	// DefaultUploadTimeout bounds one file upload.
	DefaultUploadTimeout = 5 * time.Minute

	// DefaultUploadPath and DefaultKnowledgeBasePath are joined to the base URL.
	DefaultUploadPath        = "/v1/files/upload"
	DefaultKnowledgeBasePath = "/v1/knowledge_bases"

	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second

	userAgent = "rigchat/0.1.0"
)

// ErrReadTimeout is returned by a stream body that went idle too long.
var ErrReadTimeout = errors.New("stream read timeout")

// sharedTransport pools connections for every client in the process.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// APIError is a non-success response from an upload or listing endpoint.
type APIError struct {
	Op      string
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Op, e.Status, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client sends chat requests, uploads and listings to the backend.
type Client struct {
	baseURL       string
	apiKey        string
	uploadPath    string
	kbPath        string
	maxRetries    int
	retryBase     time.Duration
	readTimeout   time.Duration
	uploadTimeout time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		uploadPath:    DefaultUploadPath,
		kbPath:        DefaultKnowledgeBasePath,
		maxRetries:    DefaultMaxRetries,
		retryBase:     retryBaseDelay,
		readTimeout:   DefaultReadTimeout,
		uploadTimeout: DefaultUploadTimeout,
		// No client timeout: streams are bounded by context and idle timeout.
		httpClient: &http.Client{Transport: sharedTransport},
		logger:     slog.Default(),
	}
}

// WithAPIKey sets the bearer token sent with every request.
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = strings.TrimSpace(key)
	return c
}

// WithMaxRetries sets the number of retries for transient errors.
func (c *Client) WithMaxRetries(n int) *Client {
	if n >= 0 {
		c.maxRetries = n
	}
	return c
}

// WithRetryBackoff sets the base delay of the exponential backoff.
func (c *Client) WithRetryBackoff(base time.Duration) *Client {
	if base > 0 {
		c.retryBase = base
	}
	return c
}

// WithReadTimeout sets the stream idle timeout. Zero disables it.
func (c *Client) WithReadTimeout(d time.Duration) *Client {
	c.readTimeout = d
	return c
}

// WithUploadTimeout bounds each upload. Zero disables it.
func (c *Client) WithUploadTimeout(d time.Duration) *Client {
	c.uploadTimeout = d
	return c
}

// WithUploadPath overrides the upload endpoint path.
func (c *Client) WithUploadPath(p string) *Client {
	c.uploadPath = p
	return c
}

// WithKnowledgeBasePath overrides the knowledge-base listing path.
func (c *Client) WithKnowledgeBasePath(p string) *Client {
	c.kbPath = strings.TrimSuffix(p, "/")
	return c
}

// WithHTTPClient replaces the HTTP client, for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// resolve joins a path to the base URL; absolute URLs pass through.
func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", userAgent)
}

// =============================================================================
// STREAMING
// =============================================================================

// Response is an open streaming response. Close it when done.
type Response struct {
	Status  int
	Decoder *stream.Decoder

	body *idleTimeoutBody
}

// Close releases the connection and stops the idle timer.
func (r *Response) Close() error {
	return r.body.Close()
}

// Stream posts req to endpoint and returns a decoder over the response.
// Connection errors, 429 and 5xx are retried with backoff; other non-2xx
// statuses fail with a *model.StreamError.
func (c *Client) Stream(ctx context.Context, endpoint string, req ChatRequest) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := c.resolve(endpoint)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.logger.Warn("retrying stream request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, &model.StreamError{Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		reqCtx, cancel := context.WithCancel(ctx)
		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(httpReq)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, &model.StreamError{Err: ctx.Err()}
			}
			lastErr = err
			continue
		}
		c.logger.Debug("stream response", "status", resp.StatusCode, "endpoint", endpoint, "elapsed", time.Since(start))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			body := newIdleTimeoutBody(resp.Body, c.readTimeout, cancel)
			return &Response{
				Status:  resp.StatusCode,
				Decoder: stream.NewDecoder(body, stream.WithLogger(c.logger)),
				body:    body,
			}, nil
		}

		msg := readErrorMessage(resp.Body)
		resp.Body.Close()
		cancel()

		serr := &model.StreamError{Status: resp.StatusCode, Message: msg}
		if !retryableStatus(resp.StatusCode) {
			return nil, serr
		}
		lastErr = serr
	}

	var serr *model.StreamError
	if errors.As(lastErr, &serr) {
		return nil, serr
	}
	return nil, &model.StreamError{Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// calculateBackoff returns the delay before the given retry attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.retryBase * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// readErrorMessage extracts the server's message from an error body.
func readErrorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(parsed.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var s string
			if json.Unmarshal(parsed.Error, &s) == nil && s != "" {
				return s
			}
		}
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Detail != "" {
			return parsed.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no response body"
	}
	return util.TruncateRunes(msg, 200)
}

// =============================================================================
// IDLE TIMEOUT BODY
// =============================================================================

// idleTimeoutBody cancels the request when no bytes arrive within timeout.
type idleTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
	once    sync.Once
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{body: body, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.expired.Store(true)
			cancel()
		})
	}
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 && b.timer != nil && !b.expired.Load() {
		b.timer.Reset(b.timeout)
	}
	if err != nil && err != io.EOF && b.expired.Load() {
		err = fmt.Errorf("%w after %s: %w", ErrReadTimeout, b.timeout, err)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	var err error
	b.once.Do(func() {
		if b.timer != nil {
			b.timer.Stop()
		}
		err = b.body.Close()
		b.cancel()
	})
	return err
}

// =============================================================================
// KNOWLEDGE BASES
// =============================================================================

// ListKnowledgeBases fetches the knowledge-base list.
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]model.KnowledgeBase, error) {
	var out []model.KnowledgeBase
	if err := c.getJSON(ctx, "list knowledge bases", c.kbPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListFiles fetches the documents in one knowledge base.
func (c *Client) ListFiles(ctx context.Context, kbID string) ([]model.KnowledgeBaseFile, error) {
	var out []model.KnowledgeBaseFile
	path := c.kbPath + "/" + url.PathEscape(kbID) + "/files"
	if err := c.getJSON(ctx, "list files", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// getJSON fetches a `{"data": ...}` envelope into v.
func (c *Client) getJSON(ctx context.Context, op, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: op, Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	return nil
}
