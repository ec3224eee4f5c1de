// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the shared data structures for termchat:
// chat messages, conversation identifiers, the model catalog entry
// type, and token usage accounting.
package model
