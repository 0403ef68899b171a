// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import "errors"

var (
	// ErrUserNotFound is returned when no user row matches the name.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailExists is returned by CreateUser when the email is taken.
	// Creation is idempotent by email: callers may log and move on.
	ErrEmailExists = errors.New("user email already exists")

	// ErrUserExists is returned by CreateUser when the username is taken
	// under a different email.
	ErrUserExists = errors.New("user name already exists")

	// ErrConversationNotFound is returned on reads and updates of an
	// absent conversation id. Updates never create the row.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationExists is returned by CreateConversation on an id
	// collision.
	ErrConversationExists = errors.New("conversation id already exists")
)
