// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP proxy API for the chat system.
//
// This package exposes the REST surface under /api/v1: chat dispatch
// (JSON or SSE relay), the model catalog, conversation management,
// analytics, maintenance, and health.
//
// # Endpoints
//
//   - POST   /api/v1/chat                        - Chat (JSON or SSE stream)
//   - GET    /api/v1/models                      - Model catalog
//   - GET    /api/v1/models/providers            - Models grouped by provider
//   - GET    /api/v1/models/categories           - Models grouped by category
//   - GET    /api/v1/models/{id}                 - Single model info
//   - POST   /api/v1/models/{id}/chat            - Chat against a specific model
//   - POST   /api/v1/models/{id}/test            - One-off exchange, nothing persisted
//   - GET    /api/v1/conversations               - List conversations
//   - GET    /api/v1/conversations/{id}          - Full conversation
//   - GET    /api/v1/conversations/{id}/history  - Recent messages
//   - DELETE /api/v1/conversations/{id}          - Delete (idempotent)
//   - GET    /api/v1/analytics/insights          - Usage insights
//   - POST   /api/v1/cleanup                     - Purge expired conversations
//   - GET    /api/v1/health                      - Health check
//   - GET    /api/v1/health/detailed             - Runtime and usage statistics
//
// # Security Features
//
//   - CORS allowlist for cross-origin requests
//   - Per-IP rate limiting to prevent abuse
//   - Trusted-proxy handling for forwarded headers
//   - Security headers (X-Content-Type-Options, X-Frame-Options, etc.)
//
// Streamed responses are relayed record-by-record from the upstream
// provider; the accumulated assistant message is persisted only when
// the stream completes.
package server
