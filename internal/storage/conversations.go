// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/gptchat/internal/model"
)

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// CreateConversation inserts a new conversation row. The caller supplies the
// id; a collision returns ErrConversationExists rather than clobbering the
// existing row. CreatedAt/UpdatedAt are stamped here if unset.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	messages, tokens, err := marshalBlobs(conv.Messages, conv.Tokens)
	if err != nil {
		return err
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, conv.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check conversation id: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %q", ErrConversationExists, conv.ID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, conversation_name, model, system_msg, messages,
			 total_tokens, total_price, user_name, datetime_utc, datetime_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.Name, conv.Model, nullable(conv.SystemMsg), messages,
		tokens, conv.TotalPrice, conv.UserName,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// UpdateConversation rewrites the mutable fields of a conversation: the full
// message sequence, the cumulative token counters, and the recomputed price.
// Updating an absent id returns ErrConversationNotFound and creates nothing.
func (s *Store) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	msgBlob, tokBlob, err := marshalBlobs(conv.Messages, conv.Tokens)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET messages = ?, total_tokens = ?, total_price = ?, datetime_updated = ?
		WHERE id = ?
	`, msgBlob, tokBlob, conv.TotalPrice, time.Now().UTC().UnixNano(), conv.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrConversationNotFound, conv.ID)
	}
	return nil
}

// GetConversation does a point lookup by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		conv      model.Conversation
		systemMsg sql.NullString
		msgBlob   []byte
		tokBlob   []byte
		created   int64
		updated   int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_name, model, system_msg, messages,
		       total_tokens, total_price, user_name, datetime_utc, datetime_updated
		FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.Name, &conv.Model, &systemMsg, &msgBlob,
		&tokBlob, &conv.TotalPrice, &conv.UserName, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	if systemMsg.Valid {
		conv.SystemMsg = systemMsg.String
	}
	if err := json.Unmarshal(msgBlob, &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if err := json.Unmarshal(tokBlob, &conv.Tokens); err != nil {
		return nil, fmt.Errorf("failed to decode token counters: %w", err)
	}
	conv.CreatedAt = time.Unix(0, created).UTC()
	conv.UpdatedAt = time.Unix(0, updated).UTC()

	return &conv, nil
}

// GetUserConversations lists the user's conversations, most recently updated
// first, capped at limit (default 10 when limit <= 0).
func (s *Store) GetUserConversations(ctx context.Context, userName string, limit int) ([]model.ConversationMeta, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_name, model, total_price, datetime_updated, messages
		FROM conversations
		WHERE user_name = ?
		ORDER BY datetime_updated DESC
		LIMIT ?
	`, userName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var metas []model.ConversationMeta
	for rows.Next() {
		var (
			meta    model.ConversationMeta
			updated int64
			msgBlob []byte
		)
		if err := rows.Scan(&meta.ID, &meta.Name, &meta.Model,
			&meta.TotalPrice, &updated, &msgBlob); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		meta.UpdatedAt = time.Unix(0, updated).UTC()

		var messages []model.Message
		if err := json.Unmarshal(msgBlob, &messages); err == nil {
			meta.MessageCount = len(messages)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return metas, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// marshalBlobs encodes the JSON-stored columns of a conversation row.
func marshalBlobs(messages []model.Message, usage model.TokenUsage) ([]byte, []byte, error) {
	if messages == nil {
		messages = []model.Message{}
	}
	msgBlob, err := json.Marshal(messages)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode messages: %w", err)
	}
	tokBlob, err := json.Marshal(usage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode token counters: %w", err)
	}
	return msgBlob, tokBlob, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
