// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics records per-request usage rows (model, provider,
// tokens, duration) in a local SQLite database. The recorder is an
// observer: failures are logged and never fail a chat request, and a
// nil *Recorder is a working no-op.
package metrics
