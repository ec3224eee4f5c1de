// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jeranaias/termchat/internal/ui/components"
	"github.com/jeranaias/termchat/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat screen.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderInput())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("termchat")
	meta := m.theme.HeaderMeta.Render(util.TruncateWidth(m.modelID, m.width/2))
	return m.theme.Header.Width(m.width).Render(title + "  " + meta)
}

func (m Model) renderInput() string {
	switch m.state {
	case StateStreaming:
		line := m.theme.Spinner.Render(m.spin.View()) + " " +
			m.theme.ThinkingText.Render("thinking... (esc to stop)")
		return m.theme.InputContainer.Width(m.width - 2).Render(line)
	case StateTyping:
		return m.theme.InputContainer.Width(m.width - 2).Render(
			m.theme.ThinkingText.Render("rendering..."))
	default:
		return m.theme.InputContainer.Width(m.width - 2).Render(m.input.View())
	}
}

func (m Model) renderStatusBar() string {
	keys := []string{
		m.theme.StatusKey.Render("enter") + m.theme.StatusDesc.Render(" send"),
		m.theme.StatusKey.Render("esc") + m.theme.StatusDesc.Render(" stop"),
		m.theme.StatusKey.Render("ctrl+n") + m.theme.StatusDesc.Render(" new"),
		m.theme.StatusKey.Render("ctrl+c") + m.theme.StatusDesc.Render(" quit"),
	}
	left := strings.Join(keys, "  ")
	if m.statusMsg != "" {
		left += "  " + m.theme.StatusDesc.Render(m.statusMsg)
	}
	return m.theme.StatusBar.Width(m.width).Render(left)
}

// chromeHeight is the vertical space used by everything except the
// transcript viewport.
func (m Model) chromeHeight() int {
	// header + input + status plus their separating newlines.
	return 3 + m.input.Height()
}

// contentWidth is the usable width for transcript text.
func (m Model) contentWidth() int {
	w := m.width - 4
	if w < 20 {
		w = 80
	}
	return w
}

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

// refreshViewport rebuilds the transcript view and keeps it pinned to
// the bottom.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	var parts []string
	for _, e := range m.transcript {
		parts = append(parts, m.renderEntry(e))
	}

	// Reveal in progress shows raw text with a block cursor.
	if m.state == StateTyping {
		text := m.revealedText() + m.theme.Cursor.Render("█")
		parts = append(parts,
			m.theme.AssistantLabel.Render("assistant")+"\n"+
				m.theme.AssistantText.Render(wordwrap.String(text, m.contentWidth())))
	}

	return strings.Join(parts, "\n\n")
}

func (m Model) renderEntry(e entry) string {
	width := m.contentWidth()

	switch e.kind {
	case entryUser:
		return m.theme.UserLabel.Render("you") + "\n" +
			m.theme.UserText.Render(wordwrap.String(e.content, width))

	case entryAssistant:
		body := e.rendered
		if body == "" {
			body = m.theme.AssistantText.Render(wordwrap.String(e.content, width))
		}
		return m.theme.AssistantLabel.Render("assistant") + "\n" + body

	case entrySystem:
		return m.theme.SystemNotice.Render(e.content)

	case entryError:
		return m.theme.ErrorText.Render(fmt.Sprintf("error: %s", e.content))
	}
	return e.content
}

// renderMarkdown renders a completed response as markdown, falling back
// to fenced-block highlighting and finally to wrapped plain text.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		if out, rerr := r.Render(content); rerr == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return components.ParseCodeBlocks(wordwrap.String(content, width), width)
}
