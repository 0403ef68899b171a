// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for gptchat.
//
// Endpoints:
//   - POST /api/login             - Authenticate, sets the session cookie
//   - POST /api/logout            - Revoke the session
//   - POST /api/chat              - Run one turn, streamed over SSE
//   - GET  /api/conversations     - Recent conversation history
//   - GET  /api/conversations/{id} - One conversation in full
//   - GET  /api/credit            - Current user's spend and allowance
//   - GET  /api/models            - Configured model list
//   - GET  /health                - Health check
//
// Everything under /api except login sits behind the session cookie.
package server
