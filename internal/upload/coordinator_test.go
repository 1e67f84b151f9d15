// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// FAKE UPLOADER
// =============================================================================

type fakeUploader struct {
	mu       sync.Mutex
	fail     map[string]error
	progress []int64 // sent values reported before returning, total = 100
	block    chan struct{}
	started  chan string
	calls    []Request
}

func (f *fakeUploader) Upload(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	if _, err := io.Copy(io.Discard, req.Body); err != nil {
		return Result{}, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- req.FileName
	}
	for _, sent := range f.progress {
		progress(sent, 100)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if err := f.fail[req.FileName]; err != nil {
		return Result{}, err
	}
	return Result{FileID: "id-" + req.FileName, FilePath: "/files/" + req.FileName}, nil
}

func quiet() Option {
	return WithLogger(slog.New(slog.DiscardHandler))
}

func drain(c *Coordinator) []Notification {
	var out []Notification
	for {
		select {
		case n := <-c.Notifications():
			out = append(out, n)
		default:
			return out
		}
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestAdd_TooManyFilesStagesNothing(t *testing.T) {
	c := NewCoordinator(&fakeUploader{}, quiet())
	files := make([]File, DefaultMaxFiles+1)
	for i := range files {
		files[i] = FromBytes(fmt.Sprintf("doc%d.pdf", i), []byte("x"))
	}

	_, err := c.Add(files...)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 0, c.Len())
}

func TestAdd_CountsAlreadyStagedFiles(t *testing.T) {
	c := NewCoordinator(&fakeUploader{}, quiet())
	for i := 0; i < DefaultMaxFiles; i++ {
		_, err := c.Add(FromBytes(fmt.Sprintf("n%d.txt", i), []byte("x")))
		require.NoError(t, err)
	}
	_, err := c.Add(FromBytes("one-more.txt", []byte("x")))
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, DefaultMaxFiles, c.Len())
}

func TestAdd_OneBadFileRejectsBatch(t *testing.T) {
	c := NewCoordinator(&fakeUploader{}, quiet())
	_, err := c.Add(
		FromBytes("ok.pdf", []byte("x")),
		FromBytes("script.exe", []byte("x")),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script.exe")
	assert.Equal(t, 0, c.Len(), "no file may be staged when any file is invalid")
}

func TestAdd_NonImageSizeCeiling(t *testing.T) {
	c := NewCoordinator(&fakeUploader{}, quiet())
	big := FromBytes("huge.pdf", nil)
	big.Size = DefaultMaxFileBytes + 1

	_, err := c.Add(big)
	assert.ErrorIs(t, err, model.ErrValidation)

	edge := FromBytes("edge.pdf", nil)
	edge.Size = DefaultMaxFileBytes
	_, err = c.Add(edge)
	assert.NoError(t, err)
}

// =============================================================================
// UPLOAD TESTS
// =============================================================================

func TestUpload_AllSucceed(t *testing.T) {
	up := &fakeUploader{progress: []int64{10, 60}}
	c := NewCoordinator(up, quiet())
	_, err := c.Add(FromBytes("a.pdf", []byte("aaa")), FromBytes("b.png", []byte("bbb")))
	require.NoError(t, err)

	ids := c.Claim("turn-1")
	res := c.Upload(context.Background(), Destination{VectorStoreID: "kb1", ModelOwner: "owner"}, ids)
	require.NoError(t, res.Err())
	require.Len(t, res.Uploaded, 2)

	terms := c.Terminal(ids)
	require.Len(t, terms, 2)
	assert.Equal(t, "a.pdf", terms[0].DisplayName)
	assert.Equal(t, "/files/b.png", terms[1].RemotePath)
	assert.Equal(t, model.KindImage, terms[1].Kind)

	for _, info := range c.Tasks() {
		assert.Equal(t, StatusUploaded, info.Status)
		assert.Equal(t, 100, info.Progress)
	}
	for _, req := range up.calls {
		assert.Equal(t, "kb1", req.VectorStoreID)
		assert.Equal(t, "owner", req.ModelOwner)
	}
	assert.True(t, c.CanSend())
}

func TestUpload_FailureDoesNotBlockSiblings(t *testing.T) {
	boom := errors.New("server rejected file")
	up := &fakeUploader{fail: map[string]error{"bad.pdf": boom}}
	c := NewCoordinator(up, quiet())
	_, err := c.Add(FromBytes("good.pdf", []byte("1")), FromBytes("bad.pdf", []byte("2")))
	require.NoError(t, err)

	res := c.Upload(context.Background(), Destination{}, c.Claim("turn-1"))
	require.Len(t, res.Uploaded, 1)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad.pdf", res.Failed[0].FileName)
	assert.ErrorIs(t, res.Err(), model.ErrUpload)
	assert.ErrorIs(t, res.Err(), boom)
	assert.Len(t, c.Failed(), 1)
}

func TestUpload_ProgressIsMonotonic(t *testing.T) {
	up := &fakeUploader{progress: []int64{50, 30, 80, 80, 120}}
	c := NewCoordinator(up, quiet())
	_, err := c.Add(FromBytes("a.txt", []byte("x")))
	require.NoError(t, err)

	c.Upload(context.Background(), Destination{}, c.Claim("turn-1"))

	last := -1
	for _, n := range drain(c) {
		assert.GreaterOrEqual(t, n.Progress, last, "progress moved backwards")
		assert.LessOrEqual(t, n.Progress, 100)
		last = n.Progress
	}
	assert.Equal(t, 100, last)
}

func TestUpload_SendGatedWhileUploading(t *testing.T) {
	up := &fakeUploader{block: make(chan struct{}), started: make(chan string, 1)}
	c := NewCoordinator(up, quiet())
	_, err := c.Add(FromBytes("slow.pdf", []byte("x")))
	require.NoError(t, err)

	ids := c.Claim("turn-1")
	done := make(chan BatchResult, 1)
	go func() { done <- c.Upload(context.Background(), Destination{}, ids) }()

	<-up.started
	assert.False(t, c.CanSend())
	close(up.block)

	res := <-done
	assert.Len(t, res.Uploaded, 1)
	assert.True(t, c.CanSend())
}

func TestRemove_CancelsAndDropsTask(t *testing.T) {
	up := &fakeUploader{block: make(chan struct{}), started: make(chan string, 2)}
	c := NewCoordinator(up, quiet())
	infos, err := c.Add(FromBytes("keep.pdf", []byte("x")), FromBytes("drop.pdf", []byte("y")))
	require.NoError(t, err)

	var dropID string
	for _, info := range infos {
		if info.DisplayName == "drop.pdf" {
			dropID = info.ID
		}
	}

	ids := c.Claim("turn-1")
	done := make(chan BatchResult, 1)
	go func() { done <- c.Upload(context.Background(), Destination{}, ids) }()
	<-up.started
	<-up.started

	require.NoError(t, c.Remove(dropID))
	close(up.block)

	res := <-done
	require.Len(t, res.Uploaded, 1)
	assert.Equal(t, "keep.pdf", res.Uploaded[0].DisplayName)
	assert.Empty(t, res.Failed)
	require.Len(t, c.Terminal(ids), 1)
	assert.ErrorIs(t, c.Remove(dropID), model.ErrNotFound)
}

func TestRemove_SeveralIDs(t *testing.T) {
	c := NewCoordinator(&fakeUploader{}, quiet())
	infos, err := c.Add(FromBytes("a.pdf", []byte("x")), FromBytes("b.pdf", []byte("y")), FromBytes("c.pdf", []byte("z")))
	require.NoError(t, err)

	err = c.Remove(infos[0].ID, "missing", infos[2].ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "b.pdf", c.Tasks()[0].DisplayName)
}

func TestClaim_SeparatesOwners(t *testing.T) {
	c := NewCoordinator(&fakeUploader{}, quiet())
	first, err := c.Add(FromBytes("a.pdf", []byte("x")))
	require.NoError(t, err)

	own := c.Claim("turn-1")
	assert.Equal(t, []string{first[0].ID}, own)
	assert.Empty(t, c.Claim("turn-2"), "claimed tasks belong to their first owner")

	second, err := c.Add(FromBytes("b.pdf", []byte("y")))
	require.NoError(t, err)
	assert.Equal(t, []string{second[0].ID}, c.Claim("turn-2"))

	res := c.Upload(context.Background(), Destination{}, own)
	require.Len(t, res.Uploaded, 1)
	assert.Equal(t, "a.pdf", res.Uploaded[0].DisplayName)
	assert.Equal(t, StatusPending, c.Tasks()[1].Status, "other owner's task is not started")
	assert.Len(t, c.Terminal(own), 1)

	c.Release(second[0].ID)
	assert.Empty(t, c.Tasks()[1].Owner)
	assert.Equal(t, []string{second[0].ID}, c.Claim("turn-3"))
}

func TestClear(t *testing.T) {
	c := NewCoordinator(&fakeUploader{}, quiet())
	_, err := c.Add(FromBytes("a.pdf", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pending())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusUploading, true},
		{StatusPending, StatusFailed, true},
		{StatusUploading, StatusUploaded, true},
		{StatusUploading, StatusFailed, true},
		{StatusUploaded, StatusPending, false},
		{StatusFailed, StatusUploading, false},
		{StatusUploaded, StatusFailed, false},
		{StatusPending, StatusUploaded, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.ok, isValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

// =============================================================================
// RECOMPRESSION TESTS
// =============================================================================

func noisyPNG(t *testing.T, size int, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAdd_RecompressesOversizedImages(t *testing.T) {
	a := noisyPNG(t, 256, 1)
	b := noisyPNG(t, 256, 2)

	limits := DefaultLimits()
	limits.ImageAggregateBytes = int64(len(a)+len(b)) / 2
	budget := limits.ImageAggregateBytes / 2

	c := NewCoordinator(&fakeUploader{}, WithLimits(limits), quiet())
	infos, err := c.Add(FromBytes("a.png", a), FromBytes("b.png", b), FromBytes("notes.txt", []byte("text")))
	require.NoError(t, err)
	require.Len(t, infos, 3)

	assert.Equal(t, "a.jpg", infos[0].DisplayName)
	assert.Equal(t, "b.jpg", infos[1].DisplayName)
	assert.LessOrEqual(t, infos[0].Size, budget)
	assert.LessOrEqual(t, infos[1].Size, budget)
	assert.Equal(t, "notes.txt", infos[2].DisplayName)
}

func TestAdd_ImageThatCannotFitRejectsBatch(t *testing.T) {
	limits := DefaultLimits()
	limits.ImageAggregateBytes = 512

	c := NewCoordinator(&fakeUploader{}, WithLimits(limits), quiet())
	_, err := c.Add(FromBytes("photo.png", noisyPNG(t, 256, 3)), FromBytes("ok.pdf", []byte("x")))
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 0, c.Len())
}

func TestUpload_ContextCancelFailsTasks(t *testing.T) {
	up := &fakeUploader{block: make(chan struct{})}
	c := NewCoordinator(up, quiet())
	_, err := c.Add(FromBytes("a.pdf", []byte("x")))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := c.Upload(ctx, Destination{}, c.Claim("turn-1"))
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0], context.DeadlineExceeded)
}
