// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/gptchat/internal/auth"
	"github.com/jeranaias/gptchat/internal/chat"
	"github.com/jeranaias/gptchat/internal/config"
	"github.com/jeranaias/gptchat/internal/openai"
	"github.com/jeranaias/gptchat/internal/pricing"
	"github.com/jeranaias/gptchat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// SessionCookie is the name of the login session cookie.
	SessionCookie = "gptchat_session"

	// MaxRequestBodySize caps request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxPromptLength caps a single prompt.
	MaxPromptLength = 100000

	// Version is the server version.
	Version = "0.1.0"
)

// CredentialSource yields the current credential set. *auth.Watcher
// satisfies it via Current; a static closure works when watching is off.
type CredentialSource interface {
	Current() *auth.Credentials
}

// StaticCredentials adapts a fixed credential set to CredentialSource.
type StaticCredentials struct{ Creds *auth.Credentials }

// Current returns the fixed credential set.
func (s StaticCredentials) Current() *auth.Credentials { return s.Creds }

// ============================================================================
// SERVER
// ============================================================================

// Server is the gptchat HTTP API server.
type Server struct {
	cfg      config.ServerConfig
	router   *http.ServeMux
	server   *http.Server
	log      *zap.Logger
	chat     *chat.Manager
	creds    CredentialSource
	sessions *auth.SessionManager
	limiter  *RateLimiter

	// anonymous is true when no credential source is configured; the
	// login surface is absent and every visitor is the anonymous user.
	anonymous bool
}

// NewServer creates the API server. A nil creds source disables the
// login surface: every visitor is served as the anonymous user, with a
// cookie session issued on first request.
func NewServer(cfg config.ServerConfig, mgr *chat.Manager, creds CredentialSource, sessions *auth.SessionManager, log *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		router:    http.NewServeMux(),
		log:       log,
		chat:      mgr,
		creds:     creds,
		sessions:  sessions,
		anonymous: creds == nil,
	}
	if cfg.RateLimitPerSec > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst)
	}
	s.setupRoutes()
	go s.reapSessions()
	return s
}

// reapSessions periodically drops expired login sessions together with
// the chat sessions keyed by their tokens, so sessions abandoned
// without a logout do not accumulate.
func (s *Server) reapSessions() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.sessions.Prune()
		n := s.chat.PruneSessions(func(token string) bool {
			_, err := s.sessions.Lookup(token)
			return err == nil
		})
		if n > 0 {
			s.log.Debug("pruned stale chat sessions", zap.Int("count", n))
		}
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	if !s.anonymous {
		s.router.HandleFunc("POST /api/login", s.handleLogin)
		s.router.HandleFunc("POST /api/logout", s.requireSession(s.handleLogout))
	}

	s.router.HandleFunc("POST /api/chat", s.requireSession(s.handleChat))
	s.router.HandleFunc("GET /api/conversations", s.requireSession(s.handleConversations))
	s.router.HandleFunc("GET /api/conversations/{id}", s.requireSession(s.handleConversation))
	s.router.HandleFunc("GET /api/credit", s.requireSession(s.handleCredit))
	s.router.HandleFunc("GET /api/models", s.requireSession(s.handleModels))

	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the full handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log),
		CORSMiddleware(s.cfg.AllowedOrigins),
		RateLimitMiddleware(s.limiter, s.log),
	)(s.router)
}

// Start runs the server until it fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.cfg.Addr(),
		Handler:     s.Handler(),
		ReadTimeout: s.cfg.ReadTimeout(),
		// No write timeout: SSE turns stream for as long as the upstream does.
		IdleTimeout: 120 * time.Second,
	}

	s.log.Info("server starting",
		zap.String("addr", s.cfg.Addr()),
		zap.String("version", Version))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// SESSION AUTH
// ============================================================================

// requireSession resolves the session cookie and passes username and
// token on to the handler. Missing or stale sessions get a 401 when
// auth is on; in anonymous mode a fresh session is issued instead.
func (s *Server) requireSession(next func(w http.ResponseWriter, r *http.Request, username, token string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err == nil {
			if username, err := s.sessions.Lookup(cookie.Value); err == nil {
				next(w, r, username, cookie.Value)
				return
			} else if !s.anonymous {
				s.writeError(w, http.StatusUnauthorized, "Session expired")
				return
			}
		} else if !s.anonymous {
			s.writeError(w, http.StatusUnauthorized, "Not logged in")
			return
		}

		token, err := s.sessions.Create(auth.AnonymousUserName)
		if err != nil {
			s.log.Error("session create failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "Session setup failed")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		next(w, r, auth.AnonymousUserName, token)
	}
}

// ============================================================================
// LOGIN / LOGOUT
// ============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserName string `json:"user_name"`
}

// handleLogin handles POST /api/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := s.creds.Current().Verify(req.Username, req.Password); err != nil {
		s.log.Warn("login failed",
			zap.String("user", req.Username),
			zap.String("ip", GetClientIP(r)))
		s.writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := s.sessions.Create(req.Username)
	if err != nil {
		s.log.Error("session create failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Login failed. Please try again.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	s.log.Info("login", zap.String("user", req.Username))
	s.writeJSON(w, http.StatusOK, loginResponse{UserName: req.Username})
}

// handleLogout handles POST /api/logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, username, token string) {
	s.sessions.Revoke(token)
	s.chat.Detach(token)

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	s.log.Info("logout", zap.String("user", username))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

type chatRequest struct {
	Prompt string `json:"prompt"`

	// ConversationID continues an existing conversation. Empty continues
	// whatever the session has loaded, or starts fresh.
	ConversationID string `json:"conversation_id,omitempty"`

	// Model selects the model for a new conversation.
	Model string `json:"model,omitempty"`

	// Reset starts a new conversation even if one is loaded.
	Reset bool `json:"reset,omitempty"`
}

// turnEvent is the terminal SSE event of a chat turn.
type turnEvent struct {
	ConversationID string  `json:"conversation_id"`
	PromptTokens   int64   `json:"prompt_tokens"`
	TotalTokens    int64   `json:"total_tokens"`
	TotalPrice     float64 `json:"total_price"`
	Partial        bool    `json:"partial,omitempty"`
}

// handleChat handles POST /api/chat. The reply streams as SSE: "delta"
// events carry content fragments, a final "done" event carries the
// committed usage and cost, and "error" reports a failed turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, username, token string) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "Prompt must not be empty")
		return
	}
	if len(req.Prompt) > MaxPromptLength {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Prompt exceeds maximum length of %d", MaxPromptLength))
		return
	}

	session := s.chat.Attach(token, username)

	if req.Reset {
		if err := session.Reset(); err != nil {
			s.writeChatError(w, err)
			return
		}
	}
	if req.ConversationID != "" && session.ConversationID() != req.ConversationID {
		if err := session.Load(r.Context(), req.ConversationID); err != nil {
			s.writeChatError(w, err)
			return
		}
	}
	if req.Model != "" && req.Model != session.Model() {
		if err := session.SetModel(req.Model); err != nil {
			s.writeChatError(w, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	res, err := session.Send(r.Context(), req.Prompt, func(delta string) {
		s.sendEvent(w, flusher, "delta", map[string]string{"content": delta})
	})

	if res != nil {
		s.sendEvent(w, flusher, "done", turnEvent{
			ConversationID: res.ConversationID,
			PromptTokens:   res.Usage.PromptTokens,
			TotalTokens:    res.Usage.TotalTokens,
			TotalPrice:     res.TotalPrice,
			Partial:        res.Partial,
		})
	}
	if err != nil {
		// The stream already started; errors travel in-band.
		s.log.Warn("turn failed",
			zap.String("user", username),
			zap.Bool("committed", res != nil),
			zap.Error(err))
		s.sendEvent(w, flusher, "error", map[string]string{"message": userFacingError(err)})
	}
}

// sendEvent writes one named SSE event.
func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// writeChatError maps chat-layer errors onto HTTP statuses before the
// stream has started.
func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrTurnInFlight):
		s.writeError(w, http.StatusConflict, "A turn is already in flight")
	case errors.Is(err, chat.ErrModelLocked):
		s.writeError(w, http.StatusConflict, "Model cannot change on an existing conversation")
	case errors.Is(err, pricing.ErrUnknownModel):
		s.writeError(w, http.StatusBadRequest, "Unknown model")
	case errors.Is(err, storage.ErrConversationNotFound):
		s.writeError(w, http.StatusNotFound, "Conversation not found")
	default:
		s.log.Error("chat setup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Request processing failed. Please try again.")
	}
}

// userFacingError turns an in-band turn failure into a safe message.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Turn cancelled"
	case errors.Is(err, openai.ErrAuthFailed):
		return "Upstream authentication failed"
	case errors.Is(err, openai.ErrRateLimited):
		return "Upstream rate limit hit, try again shortly"
	case errors.Is(err, openai.ErrInsufficientQuota):
		return "Upstream quota exhausted"
	default:
		return "Completion failed"
	}
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// handleConversations handles GET /api/conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, username, token string) {
	metas, err := s.chat.History(r.Context(), username)
	if err != nil {
		s.log.Error("history failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": metas})
}

// handleConversation handles GET /api/conversations/{id}.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, username, token string) {
	conv, err := s.chat.Get(r.Context(), username, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		s.log.Error("conversation load failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// ============================================================================
// CREDIT / MODELS / HEALTH
// ============================================================================

type creditResponse struct {
	UserName    string  `json:"user_name"`
	CreditUsed  float64 `json:"credit_used"`
	TotalCredit float64 `json:"total_credit"`
	// Display is the presentation form of the spend.
	Display string `json:"display"`
}

// handleCredit handles GET /api/credit.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request, username, token string) {
	status, err := s.chat.Credit(r.Context(), username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		s.log.Error("credit lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to load credit")
		return
	}
	s.writeJSON(w, http.StatusOK, creditResponse{
		UserName:    status.UserName,
		CreditUsed:  status.CreditUsed,
		TotalCredit: status.TotalCredit,
		Display:     pricing.FormatUSD(status.CreditUsed),
	})
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, username, token string) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"models":  s.chat.Models(),
		"default": s.chat.DefaultModel(),
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}
