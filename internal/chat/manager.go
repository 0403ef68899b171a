// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/gptchat/internal/model"
	"github.com/jeranaias/gptchat/internal/pricing"
	"github.com/jeranaias/gptchat/internal/storage"
	"github.com/jeranaias/gptchat/internal/tokenizer"
)

// Options configures a Manager.
type Options struct {
	// DefaultModel is selected on fresh sessions.
	DefaultModel string
	// SystemMsg, when set, opens every new conversation.
	SystemMsg string
	// HistoryLimit caps History results.
	HistoryLimit int
}

// Manager owns the shared chat dependencies and the live sessions.
type Manager struct {
	store  *storage.Store
	client CompletionClient
	tokens tokenizer.Provider
	prices *pricing.Table
	log    *zap.Logger

	defaultModel string
	systemMsg    string
	historyLimit int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a chat manager.
func NewManager(store *storage.Store, client CompletionClient, tokens tokenizer.Provider, prices *pricing.Table, opts Options, log *zap.Logger) *Manager {
	return &Manager{
		store:        store,
		client:       client,
		tokens:       tokens,
		prices:       prices,
		log:          log,
		defaultModel: opts.DefaultModel,
		systemMsg:    opts.SystemMsg,
		historyLimit: opts.HistoryLimit,
		sessions:     make(map[string]*Session),
	}
}

// Attach returns the session for a login token, creating it on first
// use. A token that changed owners (reused after logout) gets a fresh
// session.
func (m *Manager) Attach(token, username string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[token]; ok && s.UserName == username {
		return s
	}
	s := newSession(m, username)
	m.sessions[token] = s
	return s
}

// Detach drops the session for a token, typically on logout.
func (m *Manager) Detach(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// PruneSessions drops chat sessions whose token is no longer alive,
// so sessions abandoned without a logout do not accumulate. Returns
// the number dropped.
func (m *Manager) PruneSessions(alive func(token string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for token := range m.sessions {
		if !alive(token) {
			delete(m.sessions, token)
			dropped++
		}
	}
	return dropped
}

// History lists the user's most recently updated conversations.
func (m *Manager) History(ctx context.Context, username string) ([]model.ConversationMeta, error) {
	return m.store.GetUserConversations(ctx, username, m.historyLimit)
}

// Get fetches one of the user's conversations in full. Another user's
// conversation reads as absent.
func (m *Manager) Get(ctx context.Context, username, conversationID string) (*model.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserName != username {
		return nil, storage.ErrConversationNotFound
	}
	return conv, nil
}

// CreditStatus is a user's spend against their allowance.
type CreditStatus struct {
	UserName    string  `json:"user_name"`
	CreditUsed  float64 `json:"credit_used"`
	TotalCredit float64 `json:"total_credit"`
}

// Credit reports the user's recorded spend and allowance.
func (m *Manager) Credit(ctx context.Context, username string) (*CreditStatus, error) {
	u, err := m.store.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return &CreditStatus{
		UserName:    u.UserName,
		CreditUsed:  u.CreditUsed,
		TotalCredit: u.TotalCredit,
	}, nil
}

// Models lists the models available for new conversations.
func (m *Manager) Models() []string {
	return m.prices.Models()
}

// DefaultModel returns the model fresh sessions start with.
func (m *Manager) DefaultModel() string {
	return m.defaultModel
}
