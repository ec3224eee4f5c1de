// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the termchat
// TUI.
//
// The palette leans on classic terminal green over a near-black
// surface, with adaptive colors so light terminals stay readable.
// Theme bundles the lipgloss styles the chat view renders with; color
// capability is detected through termenv.
package styles
