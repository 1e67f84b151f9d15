// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, "StepFun", r.DefaultID())
	p, ok := r.Get("StepFun")
	require.True(t, ok)
	assert.NotEmpty(t, p.Endpoint)
	assert.True(t, p.Has(ControlMemory))
	assert.False(t, p.Has(ControlKnowledgeBase))

	assert.Equal(t, []string{"fast", "balanced", "thorough"}, r.PerformanceOptions("StepFun"))
	assert.Equal(t, []string{"low", "high"}, r.PerformanceOptions("Vision"))
	assert.Nil(t, r.PerformanceOptions("KnowledgeQA"))
}

func TestParseRegistry_ReportsEveryProblem(t *testing.T) {
	data := []byte(`
default: missing
pipelines:
  - id: a
    endpoint: /a
    controls:
      - kind: telepathy
  - id: a
    endpoint: /a2
  - id: b
    endpoint: ""
    controls:
      - kind: file_select
`)
	_, err := ParseRegistry(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)

	msg := err.Error()
	assert.Contains(t, msg, "telepathy")
	assert.Contains(t, msg, `duplicate pipeline id "a"`)
	assert.Contains(t, msg, "pipelines[2].endpoint")
	assert.Contains(t, msg, "file_select requires knowledge_base")
	assert.Contains(t, msg, `unknown pipeline "missing"`)
}

func TestParseRegistry_Empty(t *testing.T) {
	_, err := ParseRegistry([]byte("pipelines: []\n"))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestLoadRegistry(t *testing.T) {
	r, err := LoadRegistry("")
	require.NoError(t, err)
	assert.Contains(t, r.IDs(), "StepFun")

	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipelines:\n  - id: only\n    endpoint: /only\n"), 0o600))
	r, err = LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, r.IDs())
	assert.Equal(t, "only", r.DefaultID())

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateSelection(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name    string
		sel     model.PipelineSelection
		wantErr string
	}{
		{"plain stepfun", model.PipelineSelection{PipelineID: "StepFun"}, ""},
		{"stepfun with toggles", model.PipelineSelection{PipelineID: "StepFun", WebSearchEnabled: true, MemoryEnabled: true, PerformanceLevel: "fast"}, ""},
		{"unknown pipeline", model.PipelineSelection{PipelineID: "Nope"}, "unknown pipeline"},
		{"kb on stepfun", model.PipelineSelection{PipelineID: "StepFun", KnowledgeBaseID: "kb1"}, "does not use a knowledge base"},
		{"files without kb", model.PipelineSelection{PipelineID: "KnowledgeQA", SelectedFileIDs: []string{"f"}}, "select a knowledge base first"},
		{"kb with files", model.PipelineSelection{PipelineID: "KnowledgeQA", KnowledgeBaseID: "kb1", SelectedFileIDs: []string{"f"}}, ""},
		{"web search unsupported", model.PipelineSelection{PipelineID: "KnowledgeQA", WebSearchEnabled: true}, "web search"},
		{"bad level", model.PipelineSelection{PipelineID: "StepFun", PerformanceLevel: "ludicrous"}, `level "ludicrous"`},
		{"vision level", model.PipelineSelection{PipelineID: "Vision", PerformanceLevel: "high"}, ""},
		{"level without control", model.PipelineSelection{PipelineID: "KnowledgeQA", PerformanceLevel: "fast"}, "no performance levels"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.ValidateSelection(tc.sel)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSetPerformanceLevels(t *testing.T) {
	r := DefaultRegistry()
	r.SetPerformanceLevels([]string{"eco"})

	assert.NoError(t, r.ValidateSelection(model.PipelineSelection{PipelineID: "StepFun", PerformanceLevel: "eco"}))
	assert.Error(t, r.ValidateSelection(model.PipelineSelection{PipelineID: "StepFun", PerformanceLevel: "fast"}))
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestBuildChatRequest_MemoryOff(t *testing.T) {
	req := BuildChatRequest(RequestInput{
		Query:     "Hello",
		User:      "u1",
		Selection: model.PipelineSelection{PipelineID: "StepFun"},
		History:   []model.Message{model.NewUserMessage("earlier", nil)},
	})

	assert.Equal(t, "Hello", req.Query)
	assert.Equal(t, ResponseModeStreaming, req.ResponseMode)
	assert.Nil(t, req.ConversationHistory)
	require.Len(t, req.UserPrompt, 1)
	assert.Equal(t, PartText, req.UserPrompt[0].Type)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	s := string(data)
	assert.NotContains(t, s, "conversation_history")
	assert.Contains(t, s, `"file_ids":[]`)
	assert.Contains(t, s, `"upload_file_ids":[]`)
	assert.Contains(t, s, `"memory":false`)
}

func TestBuildChatRequest_MemoryAndAttachments(t *testing.T) {
	history := []model.Message{
		model.NewUserMessage("hi", nil),
		model.NewBotMessage("hello!"),
		model.NewBotMessage("  "),
	}
	atts := []model.Attachment{
		{RemoteID: "img1", RemotePath: "/files/a.png", DisplayName: "a.png", Kind: model.KindImage},
		{RemoteID: "vid1", RemotePath: "/files/b.mp4", DisplayName: "b.mp4", Kind: model.KindVideo},
		{RemotePath: "/files/c.pdf", DisplayName: "c.pdf", Kind: model.KindFile},
	}
	req := BuildChatRequest(RequestInput{
		Query:        "describe",
		SystemPrompt: "be brief",
		Selection: model.PipelineSelection{
			PipelineID:       "KnowledgeQA",
			KnowledgeBaseID:  "kb1",
			SelectedFileIDs:  []string{"f1", "f2"},
			MemoryEnabled:    true,
			WebSearchEnabled: true,
			PerformanceLevel: "fast",
		},
		Attachments: atts,
		History:     history,
	})

	assert.Equal(t, []HistoryEntry{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello!"}}, req.ConversationHistory)
	assert.Equal(t, []string{"img1", "vid1"}, req.UploadFileIDs)
	assert.Equal(t, []string{"f1", "f2"}, req.FileIDs)
	assert.Equal(t, "kb1", req.KnowledgeBaseID)
	assert.True(t, req.WebSearch)
	assert.Equal(t, "be brief", req.SystemPrompt)

	require.Len(t, req.UserPrompt, 4)
	assert.Equal(t, PartText, req.UserPrompt[0].Type)
	assert.Equal(t, PartImageURL, req.UserPrompt[1].Type)
	assert.Equal(t, "/files/a.png", req.UserPrompt[1].ImageURL.URL)
	assert.Equal(t, PartVideoURL, req.UserPrompt[2].Type)
	assert.Equal(t, PartFileURL, req.UserPrompt[3].Type)
	assert.Equal(t, "/files/c.pdf", req.UserPrompt[3].FileURL.URL)
}

func TestBuildChatRequest_AttachmentOnly(t *testing.T) {
	req := BuildChatRequest(RequestInput{
		Attachments: []model.Attachment{{RemoteID: "x", RemotePath: "/x.png", Kind: model.KindImage}},
	})
	require.Len(t, req.UserPrompt, 1)
	assert.Equal(t, PartImageURL, req.UserPrompt[0].Type)
}
