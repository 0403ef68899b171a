// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation represents one chat session. The caller supplies the ID; it
// never changes after creation. Messages are fully rewritten on every update,
// counters and price only ever grow.
type Conversation struct {
	// Identity (fixed at creation)
	ID        string `json:"id"`
	Name      string `json:"conversation_name"`
	Model     string `json:"model"`
	SystemMsg string `json:"system_msg,omitempty"`
	UserName  string `json:"user_name"`

	// Mutable per turn
	Messages   []Message  `json:"messages"`
	Tokens     TokenUsage `json:"total_tokens"`
	TotalPrice float64    `json:"total_price"`

	// Timestamps (UTC)
	CreatedAt time.Time `json:"datetime_utc"`
	UpdatedAt time.Time `json:"datetime_updated"`
}

// ConversationMeta is the lightweight projection used for history listings.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Name         string    `json:"conversation_name"`
	Model        string    `json:"model"`
	TotalPrice   float64   `json:"total_price"`
	UpdatedAt    time.Time `json:"datetime_updated"`
	MessageCount int       `json:"message_count"`
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// MessageCount returns the number of messages in the conversation.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// Meta returns the listing projection of the conversation.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Name:         c.Name,
		Model:        c.Model,
		TotalPrice:   c.TotalPrice,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// =============================================================================
// CONVERSATION NAMING
// =============================================================================

// maxNameRunes bounds the derived conversation name length.
const maxNameRunes = 50

// DeriveName builds a human-readable conversation name from the first user
// prompt. Newlines collapse to spaces and the result is truncated using
// rune-based truncation for Unicode safety.
func DeriveName(prompt string) string {
	name := strings.ReplaceAll(prompt, "\n", " ")
	name = strings.ReplaceAll(name, "\r", "")
	name = strings.TrimSpace(name)
	if name == "" {
		return "New conversation"
	}
	runes := []rune(name)
	if len(runes) > maxNameRunes {
		name = string(runes[:maxNameRunes-3]) + "..."
	}
	return name
}
