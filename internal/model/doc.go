// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for users, conversations,
// messages, and token accounting.
//
// # Key Types
//
//   - User: an account with cumulative credit accounting
//   - Conversation: one chat session with ordered messages and counters
//   - Message: a single role/content pair
//   - TokenUsage: cumulative prompt/completion/total token counters
//
// # Invariants
//
// TokenUsage maintains Total == Prompt + Completion across every update.
// A Conversation's ID is stable for its whole lifetime and is the sole
// lookup key; its Name and Model are fixed at creation.
package model
