// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/gptchat/internal/model"
	"github.com/jeranaias/gptchat/internal/openai"
	"github.com/jeranaias/gptchat/internal/pricing"
	"github.com/jeranaias/gptchat/internal/storage"
)

// Error variables for session operations.
var (
	// ErrTurnInFlight indicates a prompt arrived while a previous turn
	// is still streaming on the same session.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrModelLocked indicates a model change was attempted on a session
	// whose conversation already has committed turns.
	ErrModelLocked = errors.New("model is locked for this conversation")

	// ErrNoConversation indicates an operation that needs a loaded
	// conversation ran on an empty session.
	ErrNoConversation = errors.New("no conversation loaded")
)

// CompletionClient is the upstream dependency of a session. *openai.Client
// satisfies it; tests substitute fakes.
type CompletionClient interface {
	ChatStream(ctx context.Context, modelID string, messages []model.Message, callback openai.StreamCallback) error
}

// TurnResult describes a committed turn.
type TurnResult struct {
	ConversationID string
	Reply          string
	Usage          model.TokenUsage
	TotalPrice     float64

	// Partial is true when the reply was cut short but still committed.
	Partial bool
}

// Session is one client's conversation state. All methods are safe for
// concurrent use; Send additionally rejects overlap with ErrTurnInFlight
// instead of queueing.
type Session struct {
	UserName string

	mgr *Manager

	mu       sync.Mutex
	conv     *model.Conversation
	model    string
	inFlight bool
}

// newSession creates a session with the manager's default model selected.
func newSession(mgr *Manager, username string) *Session {
	return &Session{
		UserName: username,
		mgr:      mgr,
		model:    mgr.defaultModel,
	}
}

// Model returns the session's selected model.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel selects the model for the next conversation. Once a
// conversation has committed turns the model is fixed; switching
// requires Reset.
func (s *Session) SetModel(modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conv != nil {
		return ErrModelLocked
	}
	if !s.mgr.prices.Has(modelID) {
		return fmt.Errorf("%w: %s", pricing.ErrUnknownModel, modelID)
	}
	s.model = modelID
	return nil
}

// ConversationID returns the loaded conversation's id, or "" for a fresh
// session.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return ""
	}
	return s.conv.ID
}

// Current returns a copy of the loaded conversation.
func (s *Session) Current() (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil, ErrNoConversation
	}
	copied := *s.conv
	copied.Messages = append([]model.Message(nil), s.conv.Messages...)
	return &copied, nil
}

// Load attaches a stored conversation to the session. The session's
// model follows the conversation and stays locked until Reset. Loading a
// conversation that belongs to another user reports
// storage.ErrConversationNotFound, indistinguishable from an absent id.
func (s *Session) Load(ctx context.Context, conversationID string) error {
	conv, err := s.mgr.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.UserName != s.UserName {
		return storage.ErrConversationNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.conv = conv
	s.model = conv.Model
	return nil
}

// Reset detaches the current conversation. The next Send starts a new
// one; the model becomes selectable again.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.conv = nil
	return nil
}

// Send runs one turn: the prompt goes upstream with the full message
// history, deltas stream to onDelta as they arrive, and the exchange is
// committed to the store.
//
// On upstream failure or cancellation mid-stream, any partial reply is
// still committed with its usage and cost, and the TurnResult carries
// Partial=true alongside the error. A turn that failed before producing
// any content commits only the user message.
func (s *Session) Send(ctx context.Context, prompt string, onDelta func(string)) (*TurnResult, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	s.inFlight = true

	fresh := s.conv == nil
	if fresh {
		s.conv = s.newConversation(prompt)
	}
	conv := s.conv
	modelID := s.model
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	price, err := s.mgr.prices.Lookup(modelID)
	if err != nil {
		if fresh {
			s.mu.Lock()
			s.conv = nil
			s.mu.Unlock()
		}
		return nil, err
	}

	messages := append(append([]model.Message(nil), conv.Messages...), model.NewUserMessage(prompt))

	var reply string
	streamErr := s.mgr.client.ChatStream(ctx, modelID, messages, func(chunk openai.StreamChunk) {
		delta := chunk.Content()
		if delta == "" {
			return
		}
		reply += delta
		if onDelta != nil {
			onDelta(delta)
		}
	})

	partial := false
	if streamErr != nil {
		var se *openai.StreamError
		if errors.As(streamErr, &se) && se.Partial != "" {
			// Keep what arrived before the failure.
			reply = se.Partial
			partial = true
		} else if reply != "" {
			partial = true
		} else if fresh {
			// Nothing to commit, not even a started exchange.
			s.mu.Lock()
			s.conv = nil
			s.mu.Unlock()
			return nil, streamErr
		}
	}

	// Account the turn. Prompt tokens cover everything sent upstream,
	// reply tokens only what came back.
	counter := s.mgr.tokens.ForModel(modelID)
	turnUsage := model.TokenUsage{
		PromptTokens:     counter.CountMessages(messages),
		CompletionTokens: counter.CountText(reply),
	}
	turnUsage.TotalTokens = turnUsage.PromptTokens + turnUsage.CompletionTokens

	conv.Append(model.NewUserMessage(prompt))
	if reply != "" {
		conv.Append(model.NewAssistantMessage(reply))
	}
	conv.Tokens.Add(turnUsage)
	conv.TotalPrice = pricing.Cost(conv.Tokens, price)

	if err := s.commit(ctx, conv, fresh); err != nil {
		return nil, err
	}

	result := &TurnResult{
		ConversationID: conv.ID,
		Reply:          reply,
		Usage:          conv.Tokens,
		TotalPrice:     conv.TotalPrice,
		Partial:        partial,
	}
	if streamErr != nil {
		return result, streamErr
	}
	return result, nil
}

// newConversation builds an in-memory conversation for a first prompt.
// The row is created at commit time.
func (s *Session) newConversation(prompt string) *model.Conversation {
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		Name:      model.DeriveName(prompt),
		Model:     s.model,
		SystemMsg: s.mgr.systemMsg,
		UserName:  s.UserName,
	}
	if s.mgr.systemMsg != "" {
		conv.Append(model.Message{Role: model.RoleSystem, Content: s.mgr.systemMsg})
	}
	return conv
}

// commit persists the conversation and refreshes the owner's spend.
// Commit uses a background-derived context so a cancelled turn still
// lands in the store.
func (s *Session) commit(ctx context.Context, conv *model.Conversation, fresh bool) error {
	commitCtx := ctx
	if ctx.Err() != nil {
		commitCtx = context.WithoutCancel(ctx)
	}

	var err error
	if fresh {
		err = s.mgr.store.CreateConversation(commitCtx, conv)
	} else {
		err = s.mgr.store.UpdateConversation(commitCtx, conv)
	}
	if err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	if err := s.mgr.store.UpdateCreditUsed(commitCtx, conv.UserName); err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}

	s.mgr.log.Info("turn committed",
		zap.String("user", conv.UserName),
		zap.String("conversation", conv.ID),
		zap.String("model", conv.Model),
		zap.Int64("total_tokens", conv.Tokens.TotalTokens),
		zap.Float64("total_price", conv.TotalPrice))
	return nil
}
