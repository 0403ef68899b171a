// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// User represents an account. CreditUsed is derived state: it is always a
// full recomputation of the sum of TotalPrice over the user's conversations,
// never an independently mutated counter.
type User struct {
	ID          int64   `json:"id"`
	UserName    string  `json:"user_name"`
	Email       string  `json:"user_email"`
	CreditUsed  float64 `json:"credit_used"`
	TotalCredit float64 `json:"total_credit"`
}
