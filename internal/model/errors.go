// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below matches its sentinel with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrUpload     = errors.New("upload failed")
	ErrStream     = errors.New("stream failed")
	ErrParse      = errors.New("parse failed")
	ErrNotFound   = errors.New("not found")
)

// ValidationError is returned synchronously when input is rejected.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is allows ValidationError to be compared with ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UploadError is attached to a single upload task.
type UploadError struct {
	TaskID   string
	FileName string
	Err      error
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.FileName, e.Err)
}

// Unwrap returns the underlying error.
func (e *UploadError) Unwrap() error {
	return e.Err
}

// Is allows UploadError to be compared with ErrUpload.
func (e *UploadError) Is(target error) bool {
	return target == ErrUpload
}

// StreamError reports a failed or interrupted response stream.
// Partial holds the content received before the failure; it is kept.
type StreamError struct {
	Status  int
	Message string
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.Status, msg)
	}
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %s", len(e.Partial), msg)
	}
	return "stream error: " + msg
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Is allows StreamError to be compared with ErrStream.
func (e *StreamError) Is(target error) bool {
	return target == ErrStream
}

// ParseError reports a single undecodable stream payload. It is never fatal.
type ParseError struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stream payload: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is allows ParseError to be compared with ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// NotFoundError reports a missing conversation, task or message.
type NotFoundError struct {
	Kind string
	ID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Is allows NotFoundError to be compared with ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
