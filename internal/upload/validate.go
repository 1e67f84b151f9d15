// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// LIMITS
// =============================================================================

const (
	// DefaultMaxFiles is the most files a single batch may hold.
	DefaultMaxFiles = 10

	// DefaultImageAggregateBytes triggers image recompression (20MB).
	DefaultImageAggregateBytes = 20 * 1024 * 1024

	// DefaultMaxFileBytes is the per-file ceiling for non-image files (64MB).
	DefaultMaxFileBytes = 64 * 1024 * 1024
)

// Limits bounds what a batch may contain.
type Limits struct {
	MaxFiles            int
	ImageAggregateBytes int64
	MaxFileBytes        int64
	// AllowedExtensions lists accepted non-image extensions, with the dot.
	AllowedExtensions []string
	// ImageExtensions lists accepted image extensions, with the dot.
	ImageExtensions []string
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:            DefaultMaxFiles,
		ImageAggregateBytes: DefaultImageAggregateBytes,
		MaxFileBytes:        DefaultMaxFileBytes,
		AllowedExtensions: []string{
			".pdf", ".txt", ".md", ".csv", ".json", ".xml", ".html",
			".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
			".mp4", ".mov", ".webm", ".mkv", ".avi",
		},
		ImageExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"},
	}
}

func (l Limits) isImage(name string) bool {
	return slices.Contains(l.ImageExtensions, strings.ToLower(filepath.Ext(name)))
}

func (l Limits) allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext != "" && (slices.Contains(l.AllowedExtensions, ext) || slices.Contains(l.ImageExtensions, ext))
}

// =============================================================================
// BATCH VALIDATION
// =============================================================================

// validateBatch checks files against the limits. existing is the number of
// tasks already staged. All violations are returned together.
func (l Limits) validateBatch(files []File, existing int) error {
	var errs []error

	if len(files) == 0 {
		return model.NewValidationError("files", "no files selected")
	}
	if existing+len(files) > l.MaxFiles {
		errs = append(errs, model.NewValidationError("files",
			"at most %d files per message (%d staged, %d selected)", l.MaxFiles, existing, len(files)))
	}

	for _, f := range files {
		switch {
		case !l.allowed(f.Name):
			errs = append(errs, model.NewValidationError(f.Name, "file type %q is not supported", filepath.Ext(f.Name)))
		case !l.isImage(f.Name) && f.Size > l.MaxFileBytes:
			errs = append(errs, model.NewValidationError(f.Name,
				"file is %s, limit is %s", formatBytes(f.Size), formatBytes(l.MaxFileBytes)))
		}
	}

	return errors.Join(errs...)
}

// imageBudget returns the per-image byte budget when the images in files
// exceed the aggregate threshold, or 0 when no recompression is needed.
func (l Limits) imageBudget(files []File) int64 {
	var total int64
	var count int64
	for _, f := range files {
		if l.isImage(f.Name) {
			total += f.Size
			count++
		}
	}
	if count == 0 || total <= l.ImageAggregateBytes {
		return 0
	}
	return l.ImageAggregateBytes / count
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
