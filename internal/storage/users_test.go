// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/jeranaias/gptchat/internal/model"
)

// newTestStore opens a store backed by a throwaway database file.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice", "a@x.com", 100.0); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	u, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.UserName != "alice" || u.Email != "a@x.com" {
		t.Errorf("user mismatch: %+v", u)
	}
	if u.TotalCredit != 100.0 {
		t.Errorf("TotalCredit = %v, want 100.0", u.TotalCredit)
	}
	if u.CreditUsed != 0 {
		t.Errorf("new user CreditUsed = %v, want 0", u.CreditUsed)
	}
}

func TestCreateUser_DuplicateEmailIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice", "a@x.com", 100.0); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	// Second call with the same email: no second row, first row untouched.
	err := s.CreateUser(ctx, "alice-again", "a@x.com", 999.0)
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	u, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.TotalCredit != 100.0 {
		t.Errorf("first row changed: TotalCredit = %v", u.TotalCredit)
	}
	if _, err := s.GetUser(ctx, "alice-again"); !errors.Is(err, ErrUserNotFound) {
		t.Error("duplicate email produced a second row")
	}
}

func TestCreateUser_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice", "a@x.com", 0); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	err := s.CreateUser(ctx, "alice", "other@x.com", 0)
	if !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser(context.Background(), "nobody")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetUserCreditUsed_NotFound(t *testing.T) {
	s := newTestStore(t)

	// Absent user is an error, not a zero balance.
	_, err := s.GetUserCreditUsed(context.Background(), "nobody")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateCreditUsed_NoConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice", "a@x.com", 0); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := s.UpdateCreditUsed(ctx, "alice"); err != nil {
		t.Fatalf("UpdateCreditUsed failed: %v", err)
	}

	credit, err := s.GetUserCreditUsed(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserCreditUsed failed: %v", err)
	}
	if credit != 0 {
		t.Errorf("credit = %v, want 0 with no conversations", credit)
	}
}

func TestUpdateCreditUsed_UserNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateCreditUsed(context.Background(), "nobody")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateCreditUsed_SumsUserConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "bob", "b@x.com", 0); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := s.CreateUser(ctx, "carol", "c@x.com", 0); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	for _, c := range []struct {
		id    string
		user  string
		price float64
	}{
		{"b1", "bob", 1.0},
		{"b2", "bob", 2.5},
		{"c1", "carol", 7.0}, // someone else's spend must not leak in
	} {
		conv := &model.Conversation{
			ID: c.id, Name: c.id, Model: "gpt-x",
			UserName: c.user, TotalPrice: c.price,
		}
		if err := s.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation(%s) failed: %v", c.id, err)
		}
	}

	if err := s.UpdateCreditUsed(ctx, "bob"); err != nil {
		t.Fatalf("UpdateCreditUsed failed: %v", err)
	}

	credit, err := s.GetUserCreditUsed(ctx, "bob")
	if err != nil {
		t.Fatalf("GetUserCreditUsed failed: %v", err)
	}
	if credit != 3.5 {
		t.Errorf("credit = %v, want 3.5", credit)
	}
}
