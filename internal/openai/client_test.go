// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jeranaias/gptchat/internal/model"
)

func newTestClient(serverURL string) *Client {
	return NewClient("sk-test-key", zap.NewNop()).
		WithBaseURL(serverURL).
		WithMaxRetries(1)
}

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "test-id",
			"model": "gpt-x",
			"choices": [{
				"message": {"role": "assistant", "content": "hello back"},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Chat(context.Background(), "gpt-x", []model.Message{model.NewUserMessage("hello")})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content() != "hello back" {
		t.Errorf("Content() = %q", resp.Content())
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
}

func TestChat_NotConfigured(t *testing.T) {
	client := NewClient("", zap.NewNop())
	_, err := client.Chat(context.Background(), "gpt-x", nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if err := client.ChatStream(context.Background(), "gpt-x", nil, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"auth", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrAuthFailed},
		{"auth unparseable", http.StatusUnauthorized, `nonsense`, ErrAuthFailed},
		{"model", http.StatusNotFound, `{"error":{"message":"no such model"}}`, ErrModelNotFound},
		{"quota", http.StatusPaymentRequired, `{"error":{"message":"broke"}}`, ErrInsufficientQuota},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Chat(context.Background(), "gpt-x", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestChat_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"boom"}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := NewClient("sk-test-key", zap.NewNop()).WithBaseURL(server.URL).WithMaxRetries(3)
	resp, err := client.Chat(context.Background(), "gpt-x", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content() != "ok" {
		t.Errorf("Content() = %q", resp.Content())
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func sseBody(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: ")
		b.WriteString(e)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)))
	}))
	defer server.Close()

	var got strings.Builder
	err := newTestClient(server.URL).ChatStream(context.Background(), "gpt-x",
		[]model.Message{model.NewUserMessage("hi")},
		func(chunk StreamChunk) { got.WriteString(chunk.Content()) })
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	if got.String() != "Hello" {
		t.Errorf("accumulated = %q, want %q", got.String(), "Hello")
	}
}

func TestChatStream_SkipsMalformedChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sseBody(
			`{"choices":[{"delta":{"content":"a"}}]}`,
			`{not json`,
			`{"choices":[{"delta":{"content":"b"}}]}`,
			`[DONE]`,
		)))
	}))
	defer server.Close()

	text, err := newTestClient(server.URL).ChatStreamAccumulate(context.Background(), "gpt-x", nil)
	if err != nil {
		t.Fatalf("ChatStreamAccumulate failed: %v", err)
	}
	if text != "ab" {
		t.Errorf("text = %q, want %q", text, "ab")
	}
}

func TestChatStream_PartialOnDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sseBody(`{"choices":[{"delta":{"content":"partial "}}]}`)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Drop the connection without [DONE] or a finish reason.
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer server.Close()

	var got strings.Builder
	err := newTestClient(server.URL).ChatStream(context.Background(), "gpt-x", nil,
		func(chunk StreamChunk) { got.WriteString(chunk.Content()) })
	if err == nil {
		// EOF after a complete event is a legal end of stream; the partial
		// content must still have been delivered either way.
		if got.String() != "partial " {
			t.Fatalf("accumulated = %q", got.String())
		}
		return
	}

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *StreamError, got %v", err)
	}
	if streamErr.Partial != "partial " {
		t.Errorf("Partial = %q, want %q", streamErr.Partial, "partial ")
	}
}

func TestChatStream_Cancellation(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sseBody(`{"choices":[{"delta":{"content":"before cancel"}}]}`)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var got strings.Builder
	errCh := make(chan error, 1)
	go func() {
		errCh <- newTestClient(server.URL).ChatStream(ctx, "gpt-x", nil,
			func(chunk StreamChunk) { got.WriteString(chunk.Content()) })
	}()

	<-started
	cancel()

	err := <-errCh
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *StreamError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if streamErr.Partial != got.String() {
		t.Errorf("Partial = %q, delivered = %q", streamErr.Partial, got.String())
	}
}

func TestSSEReader(t *testing.T) {
	input := "event: message\ndata: one\n\ndata: two\ndata: three\n\n: comment\ndata: [DONE]\n\n"
	r := NewSSEReader(strings.NewReader(input))

	typ, data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if typ != "message" || string(data) != "one" {
		t.Errorf("event = (%q, %q)", typ, data)
	}

	_, data, err = r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "two\nthree" {
		t.Errorf("multi-line data = %q", data)
	}

	_, data, err = r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "[DONE]" {
		t.Errorf("data = %q", data)
	}
}
