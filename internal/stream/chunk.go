// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// =============================================================================
// WIRE TYPES
// =============================================================================

// Chunk is a single decoded `data:` payload from a pipeline response.
type Chunk struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Event   string   `json:"event,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one entry of Chunk.Choices.
type Choice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta carries incremental content. Content is nil when the key is absent
// or null, so an explicit empty string can be told apart from no content.
type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Usage reports token counts for the turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Text returns the first choice's delta content and whether it was present.
func (c *Chunk) Text() (string, bool) {
	if c == nil || len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return "", false
	}
	return *c.Choices[0].Delta.Content, true
}

// FinishReason returns the first choice's finish reason, if any.
func (c *Chunk) FinishReason() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].FinishReason
}

// HasMetadata reports whether the chunk carries model or usage information.
func (c *Chunk) HasMetadata() bool {
	return c != nil && (c.Model != "" || c.Usage != nil)
}

// TextChunk builds a chunk carrying a single content delta.
func TextChunk(text string) Chunk {
	return Chunk{Choices: []Choice{{Delta: Delta{Content: &text}}}}
}
