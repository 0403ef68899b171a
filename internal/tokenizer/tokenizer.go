// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokenizer provides token counting for outgoing message lists and
// accumulated responses.
//
// Counting is an external capability keyed by model identifier: the session
// manager asks for a Counter per model and uses it on both sides of a turn
// (prompt tokens over the full outgoing history, completion tokens over the
// accumulated response). The built-in Estimator blends word and character
// counts; an exact tokenizer can be plugged in behind the same interface.
package tokenizer

import (
	"strings"

	"github.com/jeranaias/gptchat/internal/model"
)

// messageOverhead approximates the per-message framing tokens the API
// charges on top of the content (role markers and separators).
const messageOverhead = 4

// Counter counts tokens for a specific model.
type Counter interface {
	// CountText returns the token count of a single piece of text.
	CountText(text string) int64

	// CountMessages returns the token count of an ordered message list,
	// including per-message framing overhead.
	CountMessages(messages []model.Message) int64
}

// Provider hands out Counters keyed by model identifier.
type Provider interface {
	ForModel(modelID string) Counter
}

// =============================================================================
// ESTIMATOR
// =============================================================================

// Estimator is a model-independent heuristic Counter.
// GPT-style text averages ~4 characters per token; blending word and
// character estimates tracks real tokenizers closely enough for accounting.
type Estimator struct{}

// NewEstimator returns the heuristic token counter.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// ForModel implements Provider. The estimate does not vary by model.
func (e *Estimator) ForModel(modelID string) Counter {
	return e
}

// CountText implements Counter.
func (e *Estimator) CountText(text string) int64 {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)
	n := (words + chars/4) / 2
	if n == 0 {
		n = 1
	}
	return int64(n)
}

// CountMessages implements Counter.
func (e *Estimator) CountMessages(messages []model.Message) int64 {
	var total int64
	for _, msg := range messages {
		total += e.CountText(msg.Content)
		total += messageOverhead
	}
	return total
}
