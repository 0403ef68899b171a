// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jeranaias/gptchat/internal/model"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from the streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Content returns the content from the first choice's delta.
func (c *StreamChunk) Content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone returns true if the stream has finished.
func (c *StreamChunk) IsDone() bool {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason != ""
	}
	return false
}

// FinishReason returns the finish reason if streaming is complete.
func (c *StreamChunk) FinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// StreamCallback is called for each received chunk.
type StreamCallback func(chunk StreamChunk)

// StreamError is a streaming failure that preserves the partial content
// received before the error. Callers commit the partial content rather
// than discarding the turn.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error. Returns io.EOF when
// the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore other fields (id:, retry:, comments starting with :).
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming chat completion request.
//
// The callback is called for each chunk received. If the stream fails
// after content has arrived the returned error is a *StreamError wrapping
// the cause, with Partial carrying the content received so far.
// Context cancellation also surfaces as a *StreamError so the caller can
// keep the partial turn.
func (c *Client) ChatStream(ctx context.Context, modelID string, messages []model.Message, callback StreamCallback) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	reqBody := chatRequest{
		Model:    modelID,
		Messages: messages,
		Stream:   true,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &StreamError{Err: ctx.Err()}
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return c.handleErrorResponse(resp.StatusCode, body)
	}

	var accumulated strings.Builder
	wrapped := func(chunk StreamChunk) {
		accumulated.WriteString(chunk.Content())
		callback(chunk)
	}

	if err := c.processStream(ctx, resp.Body, wrapped); err != nil {
		return &StreamError{
			Partial: accumulated.String(),
			Err:     err,
		}
	}
	return nil
}

// processStream reads and dispatches the SSE stream.
func (c *Client) processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		callback(chunk)

		if chunk.IsDone() {
			return nil
		}
	}
}

// ChatStreamAccumulate performs a streaming chat and returns the full
// response text. On failure the partial content is returned alongside
// the error.
func (c *Client) ChatStreamAccumulate(ctx context.Context, modelID string, messages []model.Message) (string, error) {
	var accumulated strings.Builder

	err := c.ChatStream(ctx, modelID, messages, func(chunk StreamChunk) {
		accumulated.WriteString(chunk.Content())
	})
	if err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return streamErr.Partial, err
		}
		return accumulated.String(), err
	}
	return accumulated.String(), nil
}
