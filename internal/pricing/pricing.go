// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pricing implements token-to-cost conversion against a static
// per-model price table.
//
// Prices are expressed in dollars per 1000 tokens, split into input
// (prompt) and output (completion) rates. Costs are always computed from
// a conversation's cumulative token counters, so the result reflects the
// whole conversation to date and is monotonically non-decreasing.
package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jeranaias/gptchat/internal/model"
)

// ErrUnknownModel indicates the model has no entry in the price table.
// Computing a cost without a price would silently produce zero, so callers
// must treat this as fatal at configuration time.
var ErrUnknownModel = errors.New("no price entry for model")

// Price holds input and output pricing per 1K tokens in dollars.
type Price struct {
	Input  float64 `toml:"input" json:"input"`
	Output float64 `toml:"output" json:"output"`
}

// Cost computes the dollar cost of the given cumulative token counters.
// No rounding is applied; formatting happens at the presentation boundary.
func Cost(usage model.TokenUsage, price Price) float64 {
	return float64(usage.PromptTokens)/1000.0*price.Input +
		float64(usage.CompletionTokens)/1000.0*price.Output
}

// FormatUSD renders a cost for display with 3 decimal places.
// Display-only: stored values are never rounded.
func FormatUSD(cost float64) string {
	return fmt.Sprintf("$%.3f", cost)
}

// =============================================================================
// PRICE TABLE
// =============================================================================

// Table maps model identifiers to their prices. It is built once at process
// start and read-only thereafter.
type Table struct {
	prices map[string]Price
}

// NewTable builds a price table from a model-to-price mapping.
func NewTable(prices map[string]Price) *Table {
	cp := make(map[string]Price, len(prices))
	for m, p := range prices {
		cp[m] = p
	}
	return &Table{prices: cp}
}

// Lookup returns the price for a model identifier.
func (t *Table) Lookup(modelID string) (Price, error) {
	p, ok := t.prices[modelID]
	if !ok {
		return Price{}, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	return p, nil
}

// Has reports whether the model has a price entry.
func (t *Table) Has(modelID string) bool {
	_, ok := t.prices[modelID]
	return ok
}

// Models returns the priced model identifiers in sorted order.
func (t *Table) Models() []string {
	models := make([]string, 0, len(t.prices))
	for m := range t.prices {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
