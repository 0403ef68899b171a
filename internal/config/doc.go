// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for gptchat.
//
// Configuration is read from a TOML file, with sensible defaults and an
// environment variable override for the API key. Every model offered to
// users must carry a pricing entry; a missing entry is a startup error,
// not a runtime surprise.
package config
