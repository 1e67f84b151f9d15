// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"strings"

	"github.com/jeranaias/rigchat/internal/model"
)

// ResponseModeStreaming asks the pipeline for a streamed body.
const ResponseModeStreaming = "streaming"

// PartType tags a user_prompt content part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
	PartVideoURL PartType = "video_url"
	PartFileURL  PartType = "file_url"
)

// URLRef wraps a server-accessible file path.
type URLRef struct {
	URL string `json:"url"`
}

// ContentPart is one element of the structured user prompt.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL *URLRef  `json:"image_url,omitempty"`
	VideoURL *URLRef  `json:"video_url,omitempty"`
	FileURL  *URLRef  `json:"file_url,omitempty"`
}

// HistoryEntry is one prior turn sent when memory is enabled.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the JSON body posted to a pipeline endpoint.
type ChatRequest struct {
	Query               string         `json:"query"`
	SystemPrompt        string         `json:"system_prompt,omitempty"`
	ResponseMode        string         `json:"response_mode"`
	User                string         `json:"user"`
	KnowledgeBaseID     string         `json:"knowledge_base_id,omitempty"`
	FileIDs             []string       `json:"file_ids"`
	UploadFileIDs       []string       `json:"upload_file_ids"`
	WebSearch           bool           `json:"web_search"`
	Memory              bool           `json:"memory"`
	ConversationHistory []HistoryEntry `json:"conversation_history,omitempty"`
	PerformanceLevel    string         `json:"performance_level,omitempty"`
	UserPrompt          []ContentPart  `json:"user_prompt"`
}

// RequestInput is everything a turn contributes to a request.
type RequestInput struct {
	Query        string
	SystemPrompt string
	User         string
	Selection    model.PipelineSelection
	Attachments  []model.Attachment
	// History holds the messages before this turn. It is only sent when
	// memory is enabled.
	History []model.Message
}

// BuildChatRequest assembles the request body for one turn.
func BuildChatRequest(in RequestInput) ChatRequest {
	sel := in.Selection
	req := ChatRequest{
		Query:            in.Query,
		SystemPrompt:     in.SystemPrompt,
		ResponseMode:     ResponseModeStreaming,
		User:             in.User,
		KnowledgeBaseID:  sel.KnowledgeBaseID,
		FileIDs:          append([]string{}, sel.SelectedFileIDs...),
		UploadFileIDs:    []string{},
		WebSearch:        sel.WebSearchEnabled,
		Memory:           sel.MemoryEnabled,
		PerformanceLevel: sel.PerformanceLevel,
		UserPrompt:       []ContentPart{},
	}

	if strings.TrimSpace(in.Query) != "" {
		req.UserPrompt = append(req.UserPrompt, ContentPart{Type: PartText, Text: in.Query})
	}
	for _, a := range in.Attachments {
		if a.RemoteID != "" {
			req.UploadFileIDs = append(req.UploadFileIDs, a.RemoteID)
		}
		req.UserPrompt = append(req.UserPrompt, attachmentPart(a))
	}

	if sel.MemoryEnabled {
		req.ConversationHistory = history(in.History)
	}
	return req
}

func attachmentPart(a model.Attachment) ContentPart {
	ref := &URLRef{URL: a.RemotePath}
	switch a.Kind {
	case model.KindImage:
		return ContentPart{Type: PartImageURL, ImageURL: ref}
	case model.KindVideo:
		return ContentPart{Type: PartVideoURL, VideoURL: ref}
	default:
		return ContentPart{Type: PartFileURL, FileURL: ref}
	}
}

func history(msgs []model.Message) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		if m.IsBlank() {
			continue
		}
		role := "user"
		switch m.Sender {
		case model.SenderBot:
			role = "assistant"
		case model.SenderSystem:
			role = "system"
		}
		out = append(out, HistoryEntry{Role: role, Content: m.Content})
	}
	return out
}
