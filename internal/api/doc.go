// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client the terminal UI uses to talk to
// a termchat proxy server.
//
// Non-streaming calls return decoded envelopes; SendStream returns the
// raw SSE body so the caller can feed it to the sse consumer while the
// request context controls its lifetime.
package api
