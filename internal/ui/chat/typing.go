// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// typingTickCmd schedules the next reveal step.
func typingTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return typingTickMsg{Time: t}
	})
}

// revealedText returns the portion of the pending response visible so
// far. Bounds revealed against the rune length so a final oversized
// step is safe.
func (m Model) revealedText() string {
	if m.revealed >= len(m.pending) {
		return string(m.pending)
	}
	return string(m.pending[:m.revealed])
}
