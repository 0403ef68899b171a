// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/gptchat/internal/model"
)

// =============================================================================
// USER OPERATIONS
// =============================================================================

// CreateUser inserts a new user row. Creation is idempotent by email:
// a duplicate email returns ErrEmailExists and changes nothing. A duplicate
// username under a different email returns ErrUserExists — usernames are the
// functional key for every lookup, so they are unique too.
func (s *Store) CreateUser(ctx context.Context, userName, email string, totalCredit float64) error {
	var exists int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE user_email = ?`, email).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if exists > 0 {
		s.log.Warn("user email already exists",
			zap.String("user_email", email))
		return ErrEmailExists
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE user_name = ?`, userName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if exists > 0 {
		s.log.Warn("user name already exists",
			zap.String("user_name", userName))
		return ErrUserExists
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (user_name, user_email, credit_used, total_credit)
		VALUES (?, ?, 0, ?)
	`, userName, email, totalCredit)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("user created",
		zap.String("user_name", userName),
		zap.String("user_email", email))
	return nil
}

// GetUser retrieves a user by name.
func (s *Store) GetUser(ctx context.Context, userName string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_name, user_email, credit_used, total_credit
		FROM users WHERE user_name = ?
	`, userName).Scan(&u.ID, &u.UserName, &u.Email, &u.CreditUsed, &u.TotalCredit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrUserNotFound, userName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// UpdateCreditUsed recomputes credit_used as the sum of total_price over the
// user's conversations and writes it back. No conversations means zero.
// The value is always a full recomputation, so a missed update self-heals on
// the next successful call.
func (s *Store) UpdateCreditUsed(ctx context.Context, userName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET credit_used = (
			SELECT COALESCE(SUM(total_price), 0)
			FROM conversations WHERE user_name = ?
		)
		WHERE user_name = ?
	`, userName, userName)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrUserNotFound, userName)
	}
	return nil
}

// GetUserCreditUsed returns the stored credit_used for the user.
// An absent user is an error, distinct from a user with zero credit.
func (s *Store) GetUserCreditUsed(ctx context.Context, userName string) (float64, error) {
	var credit float64
	err := s.db.QueryRowContext(ctx,
		`SELECT credit_used FROM users WHERE user_name = ?`, userName).Scan(&credit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrUserNotFound, userName)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load credit: %w", err)
	}
	return credit, nil
}
