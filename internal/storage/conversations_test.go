// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jeranaias/gptchat/internal/model"
)

func seedConversation(t *testing.T, s *Store, id, user string) *model.Conversation {
	t.Helper()
	conv := &model.Conversation{
		ID:       id,
		Name:     "seed " + id,
		Model:    "gpt-x",
		UserName: user,
		Messages: []model.Message{
			model.NewUserMessage("hello"),
			model.NewAssistantMessage("hi there"),
		},
		Tokens: model.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
	if err := s.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation(%s) failed: %v", id, err)
	}
	return conv
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := seedConversation(t, s, "c1", "alice")

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Name != want.Name || got.Model != want.Model || got.UserName != want.UserName {
		t.Errorf("metadata mismatch: %+v", got)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != model.RoleUser || got.Messages[0].Content != "hello" {
		t.Errorf("message[0] = %+v", got.Messages[0])
	}
	if got.Tokens.TotalTokens != 30 {
		t.Errorf("Tokens = %+v", got.Tokens)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}
}

func TestCreateConversation_DuplicateID(t *testing.T) {
	s := newTestStore(t)

	seedConversation(t, s, "c1", "alice")

	dup := &model.Conversation{ID: "c1", Name: "другой", Model: "gpt-x", UserName: "alice"}
	err := s.CreateConversation(context.Background(), dup)
	if !errors.Is(err, ErrConversationExists) {
		t.Errorf("expected ErrConversationExists, got %v", err)
	}
}

func TestUpdateConversation_NotFoundDoesNotInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &model.Conversation{ID: "ghost", Name: "ghost", Model: "gpt-x", UserName: "alice"}
	err := s.UpdateConversation(ctx, conv)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	// The failed update must not have created a row.
	if _, err := s.GetConversation(ctx, "ghost"); !errors.Is(err, ErrConversationNotFound) {
		t.Error("failed update inserted a row")
	}
}

func TestUpdateConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := seedConversation(t, s, "c1", "alice")
	before, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}

	conv.Append(model.NewUserMessage("more"))
	conv.Tokens.Add(model.TokenUsage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12})
	conv.TotalPrice = 0.25
	if err := s.UpdateConversation(ctx, conv); err != nil {
		t.Fatalf("UpdateConversation failed: %v", err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Errorf("len(Messages) = %d, want 3", len(got.Messages))
	}
	if got.Tokens.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42", got.Tokens.TotalTokens)
	}
	if got.TotalPrice != 0.25 {
		t.Errorf("TotalPrice = %v, want 0.25", got.TotalPrice)
	}
	if !got.UpdatedAt.After(before.UpdatedAt) {
		t.Error("UpdatedAt did not advance")
	}
	if !got.CreatedAt.Equal(before.CreatedAt) {
		t.Error("CreatedAt changed on update")
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConversation(context.Background(), "nope")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestGetUserConversations_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		seedConversation(t, s, fmt.Sprintf("c%02d", i), "alice")
	}
	seedConversation(t, s, "other", "bob")

	metas, err := s.GetUserConversations(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("GetUserConversations failed: %v", err)
	}
	if len(metas) != 10 {
		t.Fatalf("len(metas) = %d, want 10", len(metas))
	}
	// Most recently updated first.
	if metas[0].ID != "c14" {
		t.Errorf("metas[0].ID = %s, want c14", metas[0].ID)
	}
	for i := 1; i < len(metas); i++ {
		if metas[i].UpdatedAt.After(metas[i-1].UpdatedAt) {
			t.Errorf("metas not in descending update order at %d", i)
		}
	}
	for _, m := range metas {
		if m.ID == "other" {
			t.Error("another user's conversation leaked into the list")
		}
		if m.MessageCount != 2 {
			t.Errorf("MessageCount = %d, want 2", m.MessageCount)
		}
	}

	// Touching an old conversation moves it to the front.
	old, err := s.GetConversation(ctx, "c00")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	old.Append(model.NewUserMessage("bump"))
	if err := s.UpdateConversation(ctx, old); err != nil {
		t.Fatalf("UpdateConversation failed: %v", err)
	}
	metas, err = s.GetUserConversations(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("GetUserConversations failed: %v", err)
	}
	if metas[0].ID != "c00" {
		t.Errorf("metas[0].ID = %s, want c00 after update", metas[0].ID)
	}
}

func TestGetUserConversations_Empty(t *testing.T) {
	s := newTestStore(t)

	metas, err := s.GetUserConversations(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("GetUserConversations failed: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("len(metas) = %d, want 0", len(metas))
	}
}

// TestCreditAccountingEndToEnd walks one user through a full turn cycle and
// checks the recorded spend matches the per-conversation prices.
func TestCreditAccountingEndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice", "a@x.com", 10.0); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	conv := &model.Conversation{
		ID:       "c1",
		Name:     "pricing check",
		Model:    "gpt-x",
		UserName: "alice",
		Messages: []model.Message{model.NewUserMessage("hi"), model.NewAssistantMessage("hello")},
		Tokens:   model.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		// 10/1000*1.0 + 20/1000*2.0
		TotalPrice: 0.05,
	}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := s.UpdateCreditUsed(ctx, "alice"); err != nil {
		t.Fatalf("UpdateCreditUsed failed: %v", err)
	}

	credit, err := s.GetUserCreditUsed(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserCreditUsed failed: %v", err)
	}
	if credit != 0.05 {
		t.Errorf("credit = %v, want 0.05", credit)
	}
}
