// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the conversation engine.
//
// A Session tracks one client's active conversation: which conversation
// is loaded, which model it uses, and whether a turn is currently
// streaming. The Manager owns the shared dependencies (store, completion
// client, tokenizer, pricing) and hands out sessions keyed by login
// token.
//
// The central invariant is that whatever assistant output was received
// gets persisted. A turn that fails mid-stream commits its partial
// content with usage and cost accounted, rather than discarding what the
// upstream already produced (and billed).
package chat
