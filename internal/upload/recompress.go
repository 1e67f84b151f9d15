// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// ErrCannotFit is returned when an image cannot be brought under its budget.
var ErrCannotFit = errors.New("image cannot be compressed to fit the size budget")

var (
	jpegQualities = []int{85, 75, 65, 50, 35}
	maxDownscales = 4
	minDimension  = 64
)

// recompress re-encodes an image as JPEG, stepping quality down and then
// halving dimensions until the output fits budget bytes.
func recompress(r io.Reader, budget int64) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	for pass := 0; pass <= maxDownscales; pass++ {
		for _, q := range jpegQualities {
			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				return nil, fmt.Errorf("encode jpeg: %w", err)
			}
			if int64(buf.Len()) <= budget {
				return bytes.Clone(buf.Bytes()), nil
			}
		}

		b := img.Bounds()
		w, h := b.Dx()/2, b.Dy()/2
		if w < minDimension || h < minDimension {
			break
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}

	return nil, ErrCannotFit
}

// recompressFile returns a copy of f whose contents fit budget, renamed to .jpg.
func recompressFile(f File, budget int64) (File, error) {
	if f.Size <= budget {
		return f, nil
	}
	rc, err := f.Open()
	if err != nil {
		return File{}, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := recompress(rc, budget)
	if err != nil {
		return File{}, err
	}

	name := strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) + ".jpg"
	out := FromBytes(name, data)
	out.Description = f.Description
	out.Ref = f.Ref
	return out, nil
}
