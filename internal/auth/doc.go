// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth handles user authentication for gptchat.
//
// Credentials live in a YAML file mapping usernames to bcrypt password
// hashes. Logins are verified against that file; verified users get an
// opaque session token carried in a cookie. Users from the credentials
// file are bootstrapped into the store at startup and whenever the file
// changes on disk.
package auth
