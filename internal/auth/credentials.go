// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/gptchat/internal/storage"
)

// Error variables for credential handling.
var (
	// ErrInvalidCredentials indicates a bad username or password.
	// Both cases return the same error so login responses do not leak
	// which usernames exist.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// credentialEntry is a single user record in the credentials file.
type credentialEntry struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"` // bcrypt hash
}

// credentialsFile is the on-disk YAML layout.
type credentialsFile struct {
	Credentials struct {
		Usernames map[string]credentialEntry `yaml:"usernames"`
	} `yaml:"credentials"`
}

// User is a user as declared in the credentials file.
type User struct {
	UserName string
	Email    string
	Name     string
}

// Credentials holds the parsed credentials file.
type Credentials struct {
	users map[string]credentialEntry
}

// LoadCredentials reads and parses the credentials YAML file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	if len(file.Credentials.Usernames) == 0 {
		return nil, fmt.Errorf("credentials file %s declares no users", path)
	}
	for name, entry := range file.Credentials.Usernames {
		if entry.Email == "" {
			return nil, fmt.Errorf("user %q has no email", name)
		}
		if entry.Password == "" {
			return nil, fmt.Errorf("user %q has no password hash", name)
		}
	}

	return &Credentials{users: file.Credentials.Usernames}, nil
}

// Verify checks a username and plaintext password against the stored
// bcrypt hash. Unknown users and wrong passwords are indistinguishable.
func (c *Credentials) Verify(username, password string) error {
	entry, ok := c.users[username]
	if !ok {
		// Burn a comparison anyway so the timing matches a real user.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(entry.Password), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Users returns the declared users, sorted by username.
func (c *Credentials) Users() []User {
	users := make([]User, 0, len(c.users))
	for name, entry := range c.users {
		users = append(users, User{UserName: name, Email: entry.Email, Name: entry.Name})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserName < users[j].UserName })
	return users
}

// Has reports whether a username is declared in the credentials file.
func (c *Credentials) Has(username string) bool {
	_, ok := c.users[username]
	return ok
}

// Anonymous identity served when authentication is disabled. Matches
// the user row the chat surface expects for unauthenticated visitors.
const (
	AnonymousUserName = "Anonymous"
	AnonymousEmail    = "anon@anon.com"
	AnonymousName     = "Anon"
)

// BootstrapAnonymous provisions the anonymous user row. Idempotent like
// Bootstrap: an existing row is left untouched.
func BootstrapAnonymous(ctx context.Context, store *storage.Store, defaultCredit float64, log *zap.Logger) error {
	err := store.CreateUser(ctx, AnonymousUserName, AnonymousEmail, defaultCredit)
	switch {
	case err == nil:
		log.Info("anonymous user provisioned",
			zap.Float64("total_credit", defaultCredit))
	case errors.Is(err, storage.ErrEmailExists), errors.Is(err, storage.ErrUserExists):
		log.Debug("anonymous user already exists, skipping")
	default:
		return fmt.Errorf("failed to bootstrap anonymous user: %w", err)
	}
	return nil
}

// Bootstrap ensures every credential-file user exists in the store.
//
// The operation is idempotent: users that already exist (by name or by
// email) are left untouched with a warning, so it is safe to run at every
// startup and on every credentials file change.
func (c *Credentials) Bootstrap(ctx context.Context, store *storage.Store, defaultCredit float64, log *zap.Logger) error {
	for _, u := range c.Users() {
		err := store.CreateUser(ctx, u.UserName, u.Email, defaultCredit)
		switch {
		case err == nil:
			log.Info("user created from credentials file",
				zap.String("user", u.UserName))
		case errors.Is(err, storage.ErrEmailExists), errors.Is(err, storage.ErrUserExists):
			log.Debug("user already exists, skipping",
				zap.String("user", u.UserName))
		default:
			return fmt.Errorf("failed to bootstrap user %q: %w", u.UserName, err)
		}
	}
	return nil
}
