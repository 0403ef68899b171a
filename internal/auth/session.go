// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoSession indicates a missing, unknown, or expired session token.
var ErrNoSession = errors.New("no valid session")

// tokenBytes is the entropy of a session token (hex-encoded to 64 chars).
const tokenBytes = 32

// session is a single authenticated login.
type session struct {
	username  string
	expiresAt time.Time
}

// SessionManager issues and validates opaque session tokens.
//
// Sessions are held in memory; a restart logs everyone out. Expired
// entries are pruned lazily on access.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewSessionManager creates a session manager with the given session
// lifetime.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create issues a new session token for a username.
func (m *SessionManager) Create(username string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = session{
		username:  username,
		expiresAt: m.now().Add(m.ttl),
	}
	return token, nil
}

// Lookup resolves a token to its username. Expired tokens are removed
// and reported as ErrNoSession.
func (m *SessionManager) Lookup(token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return "", ErrNoSession
	}
	if m.now().After(s.expiresAt) {
		delete(m.sessions, token)
		return "", ErrNoSession
	}
	return s.username, nil
}

// Revoke removes a session token. Revoking an unknown token is a no-op.
func (m *SessionManager) Revoke(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// Prune removes all expired sessions and returns how many were dropped.
func (m *SessionManager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	dropped := 0
	for token, s := range m.sessions {
		if now.After(s.expiresAt) {
			delete(m.sessions, token)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live sessions, including not-yet-pruned
// expired ones.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
