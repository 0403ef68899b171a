// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations.
	SchemaVersion = 1
)

// SQLite schema for the chat store. Two tables as specified: users and
// conversations. Timestamps are stored as Unix nanoseconds so update
// ordering survives sub-second writes.
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Users table: one row per account, looked up by user_name
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_name TEXT NOT NULL UNIQUE,
    user_email TEXT NOT NULL UNIQUE,
    credit_used REAL NOT NULL DEFAULT 0,
    total_credit REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(user_email);

-- Conversations table: messages and total_tokens are JSON blobs
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    conversation_name TEXT NOT NULL,
    model TEXT NOT NULL,
    system_msg TEXT,
    messages TEXT NOT NULL,
    total_tokens TEXT NOT NULL,
    total_price REAL NOT NULL DEFAULT 0,
    user_name TEXT NOT NULL,
    datetime_utc INTEGER NOT NULL,
    datetime_updated INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
    ON conversations(user_name, datetime_updated DESC);
`

// InitMetadata seeds the metadata table with default values.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
