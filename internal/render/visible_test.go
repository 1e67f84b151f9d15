// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

func user(content string) model.Message {
	return model.Message{ID: "u-" + content, Sender: model.SenderUser, Content: content}
}

func bot(id, content string) model.Message {
	return model.Message{ID: id, Sender: model.SenderBot, Content: content}
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// =============================================================================
// NORMALIZATION TESTS
// =============================================================================

func TestNormalizeBot(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"double newline", "a\n\nb", "a\nb"},
		{"long run", "a\n\n\n\nb", "a\nb"},
		{"crlf", "a\r\n\r\nb", "a\nb"},
		{"single kept", "a\nb", "a\nb"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeBot(tc.in))
		})
	}
}

func TestNormalizeUser(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single line", "hello", "hello"},
		{"bare bullet joined", "-\nmilk", "- milk"},
		{"bare number joined", "1.\neggs", "1. eggs"},
		{"bare number skips blank", "1.\n\neggs", "1. eggs"},
		{"blank between ordered items", "1. a\n\n2. b\n\n3. c", "1. a\n2. b\n3. c"},
		{"blank before prose kept", "1. a\n\nthanks", "1. a\n\nthanks"},
		{"unordered blanks kept", "- a\n\n- b", "- a\n\n- b"},
		{"marker before list item not joined", "-\n- b", "-\n- b"},
		{"prose untouched", "para one\n\npara two", "para one\n\npara two"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeUser(tc.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"1.\n\nfirst\n\n2.\nsecond\n\n\n3. third",
		"-\n-\nx",
		"a\n\n\n\nb\n\nc",
		"1. a\n\n\n\n2.\n\n\nb",
	}
	for _, in := range inputs {
		once := NormalizeUser(in)
		assert.Equal(t, once, NormalizeUser(once), "user %q", in)

		b := NormalizeBot(in)
		assert.Equal(t, b, NormalizeBot(b), "bot %q", in)
	}
}

func TestNormalize_NFC(t *testing.T) {
	decomposed := "cafe\u0301"
	assert.Equal(t, "caf\u00e9", NormalizeBot(decomposed))
	assert.Equal(t, "caf\u00e9", NormalizeUser(decomposed))
}

// =============================================================================
// VISIBLE LIST TESTS
// =============================================================================

func TestComputeVisible_CollapsesBlankBotPlaceholders(t *testing.T) {
	msgs := []model.Message{user("hi"), bot("b1", ""), bot("b2", "  "), bot("b3", "")}

	got := ComputeVisible(msgs, true)
	require.Len(t, got, 2)
	assert.Equal(t, "b1", got[1].ID)
	assert.Equal(t, CursorMarker, got[1].Content)
}

func TestComputeVisible_DropsTrailingBlankWhenIdle(t *testing.T) {
	msgs := []model.Message{user("hi"), bot("b1", "")}

	got := ComputeVisible(msgs, false)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsUser())
}

func TestComputeVisible_KeepsNonTrailingBlankBot(t *testing.T) {
	msgs := []model.Message{user("hi"), bot("b1", ""), user("again")}

	got := ComputeVisible(msgs, false)
	assert.Len(t, got, 3)
}

func TestComputeVisible_Cursor(t *testing.T) {
	t.Run("on streaming bot", func(t *testing.T) {
		got := ComputeVisible([]model.Message{user("q"), bot("b", "Hi")}, true)
		assert.Equal(t, "Hi"+CursorMarker, got[1].Content)
	})

	t.Run("not when idle", func(t *testing.T) {
		got := ComputeVisible([]model.Message{user("q"), bot("b", "Hi")}, false)
		assert.Equal(t, "Hi", got[1].Content)
	})

	t.Run("not on trailing user", func(t *testing.T) {
		got := ComputeVisible([]model.Message{user("q")}, true)
		assert.Equal(t, "q", got[0].Content)
	})

	t.Run("empty list", func(t *testing.T) {
		assert.Empty(t, ComputeVisible(nil, true))
	})
}

func TestComputeVisible_DoesNotMutateInput(t *testing.T) {
	md := &model.Metadata{ModelName: "m"}
	in := []model.Message{
		user("-\nmilk"),
		{ID: "b", Sender: model.SenderBot, Content: "a\n\nb", Metadata: md},
	}
	before := model.CloneMessages(in)

	got := ComputeVisible(in, true)
	got[1].Metadata.ModelName = "changed"

	assert.Equal(t, before, in)
	assert.Equal(t, "m", md.ModelName)
}

func TestComputeVisible_Deterministic(t *testing.T) {
	in := []model.Message{user("1.\n\nx"), bot("b", "a\n\n\nb"), bot("c", "")}
	assert.Equal(t, ComputeVisible(in, true), ComputeVisible(in, true))
	assert.Equal(t, ComputeVisible(in, false), ComputeVisible(in, false))
}

func TestComputeVisible_NormalizesContent(t *testing.T) {
	got := ComputeVisible([]model.Message{user("1.\neggs"), bot("b", "x\n\ny")}, false)
	assert.Equal(t, []string{"1. eggs", "x\ny"}, contents(got))
}

// =============================================================================
// MEMO TESTS
// =============================================================================

type fakeSource struct {
	msgs      []model.Message
	loading   bool
	version   uint64
	snapshots int
}

func (f *fakeSource) Version() uint64 { return f.version }

func (f *fakeSource) Snapshot() ([]model.Message, bool, uint64) {
	f.snapshots++
	return model.CloneMessages(f.msgs), f.loading, f.version
}

func TestMemo_RecomputesOnlyOnVersionChange(t *testing.T) {
	src := &fakeSource{msgs: []model.Message{user("hi")}, version: 1}
	var memo Memo

	first, _ := memo.Visible(src)
	second, _ := memo.Visible(src)
	assert.Equal(t, 1, src.snapshots)
	assert.Equal(t, first, second)

	src.msgs = append(src.msgs, bot("b", "yo"))
	src.loading = true
	src.version = 2

	got, loading := memo.Visible(src)
	assert.Equal(t, 2, src.snapshots)
	assert.True(t, loading)
	require.Len(t, got, 2)
	assert.Equal(t, "yo"+CursorMarker, got[1].Content)

	memo.Invalidate()
	memo.Visible(src)
	assert.Equal(t, 3, src.snapshots)
}

// =============================================================================
// THROTTLE TESTS
// =============================================================================

func TestThrottle_SkipsBurstAndFlushes(t *testing.T) {
	th := NewThrottle(10)

	assert.True(t, th.Allow(), "first frame is always allowed")
	assert.False(t, th.Allow())
	assert.True(t, th.Pending())
	assert.True(t, th.Flush())
	assert.False(t, th.Flush())

	time.Sleep(th.Interval() + 20*time.Millisecond)
	assert.True(t, th.Allow())
}

func TestThrottle_DefaultRate(t *testing.T) {
	th := NewThrottle(0)
	assert.InDelta(t, float64(time.Second/DefaultMaxFPS), float64(th.Interval()), float64(time.Millisecond))
}

// =============================================================================
// RENDERER TESTS
// =============================================================================

func TestRenderer_PlainMessage(t *testing.T) {
	r := NewRenderer(80, true)
	m := model.Message{
		Sender:      model.SenderUser,
		Content:     "see attached",
		Attachments: []model.Attachment{{DisplayName: "a.pdf", Kind: model.KindFile}},
	}
	out := r.Message(m)
	assert.True(t, strings.HasPrefix(out, "You:"))
	assert.Contains(t, out, "see attached")
	assert.Contains(t, out, "[file] a.pdf")
}

func TestRenderer_BotFooter(t *testing.T) {
	r := NewRenderer(80, true)
	m := bot("b", "hello world")
	m.Metadata = &model.Metadata{ModelName: "step-1", InputTokenCount: 3, OutputTokenCount: 2}

	out := r.Message(m)
	assert.Contains(t, out, "Assistant:")
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "step-1 | 3 in / 2 out tokens")

	r.SetShowMetadata(false)
	assert.NotContains(t, r.Message(m), "step-1")
}

func TestExportMarkdown(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	msgs := []model.Message{
		{Sender: model.SenderUser, Content: "hi", Attachments: []model.Attachment{{DisplayName: "x.png", Kind: model.KindImage, RemotePath: "/f/x.png"}}},
		bot("b", "hello"),
	}
	out := ExportMarkdown("", msgs, at)

	assert.True(t, strings.HasPrefix(out, "# Conversation\n"))
	assert.Contains(t, out, "2025-01-02T03:04:05Z")
	assert.Contains(t, out, "## You\n\nhi")
	assert.Contains(t, out, "- x.png (image): `/f/x.png`")
	assert.Contains(t, out, "## Assistant\n\nhello")
}
