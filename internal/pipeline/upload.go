// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/jeranaias/rigchat/internal/upload"
)

// Multipart field names of the upload endpoint.
const (
	FieldVectorStoreID   = "vector_store_id"
	FieldFile            = "file"
	FieldFileName        = "file_name"
	FieldFileDescription = "file_description"
	FieldModelOwner      = "model_owner"
)

var _ upload.Uploader = (*Client)(nil)

// uploadResponse accepts both field spellings the backends use.
type uploadResponse struct {
	ID       string `json:"id"`
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	Path     string `json:"path"`
}

// Upload streams one file as a multipart form, reporting bytes written.
func (c *Client) Upload(ctx context.Context, req upload.Request, progress upload.ProgressFunc) (upload.Result, error) {
	if c.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.uploadTimeout)
		defer cancel()
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, req, progress))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(c.uploadPath), pr)
	if err != nil {
		pr.CloseWithError(err)
		return upload.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		pr.CloseWithError(err)
		if ctx.Err() != nil {
			return upload.Result{}, fmt.Errorf("upload %s: %w", req.FileName, ctx.Err())
		}
		return upload.Result{}, fmt.Errorf("upload %s: %w", req.FileName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upload.Result{}, &APIError{Op: "upload " + req.FileName, Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return upload.Result{}, fmt.Errorf("upload %s: failed to read response: %w", req.FileName, err)
	}
	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return upload.Result{}, fmt.Errorf("upload %s: failed to parse response: %w", req.FileName, err)
	}

	res := upload.Result{FileID: parsed.ID, FilePath: parsed.FilePath}
	if res.FileID == "" {
		res.FileID = parsed.FileID
	}
	if res.FilePath == "" {
		res.FilePath = parsed.Path
	}
	return res, nil
}

func writeUploadForm(mw *multipart.Writer, req upload.Request, progress upload.ProgressFunc) error {
	fields := [][2]string{
		{FieldVectorStoreID, req.VectorStoreID},
		{FieldFileName, req.FileName},
		{FieldFileDescription, req.Description},
		{FieldModelOwner, req.ModelOwner},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile(FieldFile, req.FileName)
	if err != nil {
		return err
	}
	w := &progressWriter{w: part, total: req.Size, report: progress}
	if _, err := io.Copy(w, req.Body); err != nil {
		return err
	}
	return mw.Close()
}

// progressWriter reports cumulative bytes written.
type progressWriter struct {
	w      io.Writer
	sent   int64
	total  int64
	report upload.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.sent += int64(n)
	if p.report != nil && n > 0 {
		p.report(p.sent, p.total)
	}
	return n, err
}
