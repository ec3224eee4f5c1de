// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// UPDATE LOOP
// =============================================================================

// Update handles Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		if m.state != StateStreaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case modelsLoadedMsg:
		if msg.Err != nil {
			m.statusMsg = "model catalog unavailable"
			return m, nil
		}
		m.models = msg.Models
		if m.modelID == "" {
			m.modelID = msg.Default
		}
		return m, nil

	case streamCompleteMsg:
		if msg.RequestID != m.requestID || m.state != StateStreaming {
			return m, nil
		}
		cmd := m.startTyping(msg.Content)
		return m, cmd

	case streamFailedMsg:
		if msg.RequestID != m.requestID || m.state != StateStreaming {
			return m, nil
		}
		m.failStream(msg.Err)
		return m, nil

	case streamAbortedMsg:
		// The abort already updated the transcript and bumped the
		// request ID; this message always arrives stale.
		return m, nil

	case typingTickMsg:
		cmd := m.advanceTyping()
		return m, cmd
	}

	return m.updateChildren(msg)
}

// handleKey dispatches key presses.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {

	case "ctrl+c":
		m.cancelMgr.cancel()
		return m, tea.Quit

	case "esc":
		m.abort()
		return m, nil

	case "ctrl+n":
		m.newConversation()
		return m, nil

	case "enter":
		if m.state == StateIdle {
			cmd := m.submit()
			return m, cmd
		}
		return m, nil

	case "pgup":
		m.viewport.HalfViewUp()
		return m, nil

	case "pgdown":
		m.viewport.HalfViewDown()
		return m, nil
	}

	return m.updateChildren(msg)
}

// updateChildren forwards messages to the textarea and viewport.
func (m Model) updateChildren(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	// Input stays focused only while idle.
	if m.state == StateIdle {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// resize applies terminal dimensions to the layout.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.theme.SetSize(width, height)

	vpHeight := height - m.chromeHeight()
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}

	m.input.SetWidth(width - 4)
	m.refreshViewport()
}
