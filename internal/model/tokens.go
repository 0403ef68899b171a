// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// TOKEN USAGE
// =============================================================================

// TokenUsage tracks cumulative token counters for a conversation.
// Counters only ever grow; every turn adds its per-turn counts via Add.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Add accumulates one turn's token counts into the cumulative counters.
// TotalTokens is maintained as the sum of the other two, regardless of
// the turn's own total.
func (u *TokenUsage) Add(turn TokenUsage) {
	u.PromptTokens += turn.PromptTokens
	u.CompletionTokens += turn.CompletionTokens
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

// IsZero reports whether no tokens have been recorded yet.
func (u TokenUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Valid reports whether the counters satisfy the total invariant.
func (u TokenUsage) Valid() bool {
	return u.TotalTokens == u.PromptTokens+u.CompletionTokens
}
