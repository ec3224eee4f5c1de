// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations as one JSON file per
// conversation plus a lightweight index file for listings.
//
// Appends to the same conversation are serialized by a per-conversation
// lock; appends to different conversations proceed concurrently. All
// file writes are atomic (temp file + fsync + rename).
//
// Read failures degrade: listings and history return empty results and
// log the problem. Write failures always propagate to the caller.
package storage
