// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/gptchat/internal/model"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name  string
		usage model.TokenUsage
		price Price
		want  float64
	}{
		{
			name:  "zero usage",
			usage: model.TokenUsage{},
			price: Price{Input: 1.0, Output: 2.0},
			want:  0.0,
		},
		{
			name:  "prompt only",
			usage: model.TokenUsage{PromptTokens: 1000, TotalTokens: 1000},
			price: Price{Input: 0.5, Output: 2.0},
			want:  0.5,
		},
		{
			name:  "completion only",
			usage: model.TokenUsage{CompletionTokens: 500, TotalTokens: 500},
			price: Price{Input: 0.5, Output: 2.0},
			want:  1.0,
		},
		{
			name:  "mixed",
			usage: model.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
			price: Price{Input: 1.0, Output: 2.0},
			want:  10.0/1000.0*1.0 + 20.0/1000.0*2.0, // 0.05
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cost(tt.usage, tt.price))
		})
	}
}

func TestCost_ExactArithmetic(t *testing.T) {
	// The arithmetic is defined exactly; no rounding before display.
	usage := model.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}
	price := Price{Input: 1.0, Output: 2.0}

	want := 10.0/1000.0*1.0 + 20.0/1000.0*2.0
	assert.Equal(t, want, Cost(usage, price))
}

func TestCost_CumulativeMonotonic(t *testing.T) {
	price := Price{Input: 0.3, Output: 1.5}
	var usage model.TokenUsage

	prev := Cost(usage, price)
	for i := 0; i < 10; i++ {
		usage.Add(model.TokenUsage{PromptTokens: int64(i * 13), CompletionTokens: int64(i * 7)})
		cost := Cost(usage, price)
		require.GreaterOrEqual(t, cost, prev, "cost must not decrease as usage grows")
		prev = cost
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		cost float64
		want string
	}{
		{0.0, "$0.000"},
		{0.05, "$0.050"},
		{0.0505, "$0.051"},
		{3.5, "$3.500"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUSD(tt.cost), "FormatUSD(%v)", tt.cost)
	}
}

func TestTable_Lookup(t *testing.T) {
	table := NewTable(map[string]Price{
		"gpt-x": {Input: 1.0, Output: 2.0},
	})

	p, err := table.Lookup("gpt-x")
	require.NoError(t, err)
	assert.Equal(t, Price{Input: 1.0, Output: 2.0}, p)

	_, err = table.Lookup("missing-model")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestTable_Models(t *testing.T) {
	table := NewTable(map[string]Price{
		"b-model": {},
		"a-model": {},
	})

	assert.Equal(t, []string{"a-model", "b-model"}, table.Models())
	assert.True(t, table.Has("a-model"))
	assert.False(t, table.Has("c-model"))
}
