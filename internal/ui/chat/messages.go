// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file defines the Bubble Tea message types used by the chat view.
package chat

import (
	"time"

	"github.com/jeranaias/termchat/internal/model"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// streamCompleteMsg delivers the fully received response text. The
// stream already terminated; the reveal phase starts from here.
type streamCompleteMsg struct {
	RequestID  int
	Content    string
	Downgraded bool
}

// streamFailedMsg signals a transport or in-stream error.
type streamFailedMsg struct {
	RequestID int
	Err       error
}

// streamAbortedMsg reports that the request context was canceled. The
// view already handled the abort when the user pressed Esc, so this is
// usually a no-op.
type streamAbortedMsg struct {
	RequestID int
}

// =============================================================================
// TYPING MESSAGES
// =============================================================================

// typingTickMsg advances the reveal animation by one step.
type typingTickMsg struct {
	Time time.Time
}

// =============================================================================
// CATALOG MESSAGES
// =============================================================================

// modelsLoadedMsg delivers the server's model catalog.
type modelsLoadedMsg struct {
	Models  []model.ModelInfo
	Default string
	Err     error
}
