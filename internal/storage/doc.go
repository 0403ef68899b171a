// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage implements the relational store for users and
// conversations over a file-backed SQLite database.
//
// # Key Types
//
//   - Store: the storage handle, constructed once at startup and injected
//     into every component (no cached global connection)
//
// # Contracts
//
// Every operation executes as a single statement against the store; there
// are no cross-call transactions. Reads of absent rows return typed errors
// (ErrUserNotFound, ErrConversationNotFound) so callers must handle
// absence explicitly instead of receiving zero values.
//
// Conversation messages and token counters are persisted as JSON blobs in
// the conversation row, not normalized into child tables.
package storage
