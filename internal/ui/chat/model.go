// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/termchat/internal/api"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/ui/styles"
)

// =============================================================================
// CHAT STATE
// =============================================================================

// State represents the current state of the chat view.
type State int

const (
	StateIdle      State = iota // Ready for input
	StateStreaming              // Response in flight, spinner showing
	StateTyping                 // Response received, reveal in progress
)

// abortNotice is the system line appended when the user stops a
// response.
const abortNotice = "Response generation was stopped by user."

// Reveal animation defaults.
const (
	defaultCharsPerTick = 10
	defaultTickInterval = 12 * time.Millisecond
)

// =============================================================================
// TRANSCRIPT ENTRIES
// =============================================================================

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entrySystem
	entryError
)

// entry is one transcript line group. rendered holds the markdown
// rendering for completed assistant entries.
type entry struct {
	kind     entryKind
	content  string
	rendered string
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Options configures a new chat model.
type Options struct {
	ModelID        string
	ConversationID string
	CharsPerTick   int
	TickMs         int
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	state State
	theme *styles.Theme

	width  int
	height int
	ready  bool

	client         *api.Client
	conversationID string
	modelID        string
	models         []model.ModelInfo

	transcript []entry
	history    []api.ChatMessage

	// Reveal animation. pending holds the full response while revealed
	// counts runes already shown.
	pending      []rune
	revealed     int
	charsPerTick int
	tickInterval time.Duration

	// requestID correlates async stream messages with the active
	// request; stale messages are dropped.
	requestID int
	cancelMgr *cancelManager

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model

	statusMsg string
}

// New creates a chat model talking to the given server client.
func New(client *api.Client, opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Prompt = "> "
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.CharLimit = 8000
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	charsPerTick := opts.CharsPerTick
	if charsPerTick < 1 {
		charsPerTick = defaultCharsPerTick
	}
	tickInterval := defaultTickInterval
	if opts.TickMs > 0 {
		tickInterval = time.Duration(opts.TickMs) * time.Millisecond
	}

	return Model{
		state:          StateIdle,
		theme:          styles.NewTheme(),
		client:         client,
		conversationID: opts.ConversationID,
		modelID:        opts.ModelID,
		charsPerTick:   charsPerTick,
		tickInterval:   tickInterval,
		cancelMgr:      newCancelManager(),
		input:          ta,
		spin:           sp,
	}
}

// Init starts the cursor blink and loads the model catalog.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, loadModelsCmd(m.client))
}

// ModelID returns the active model.
func (m Model) ModelID() string {
	return m.modelID
}

// State returns the current view state.
func (m Model) State() State {
	return m.state
}

// =============================================================================
// ACTIONS
// =============================================================================

// submit sends the typed message and enters the streaming state.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.state != StateIdle {
		return nil
	}

	m.transcript = append(m.transcript, entry{kind: entryUser, content: text})
	m.input.Reset()
	m.statusMsg = ""

	req := api.ChatRequest{
		Message:        text,
		Model:          m.modelID,
		ConversationID: m.conversationID,
		History:        m.history,
	}
	m.history = append(m.history, api.ChatMessage{Role: "user", Content: text})

	m.state = StateStreaming
	m.requestID++

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelMgr.set(cancel)

	m.refreshViewport()
	return tea.Batch(m.spin.Tick, sendStreamCmd(ctx, m.client, req, m.requestID))
}

// abort stops the in-flight response. Appends exactly one system
// notice; calling it again outside streaming or typing is a no-op.
func (m *Model) abort() {
	if m.state != StateStreaming && m.state != StateTyping {
		return
	}

	m.cancelMgr.cancel()
	m.requestID++ // stale stream messages are dropped from here on
	m.pending = nil
	m.revealed = 0
	m.state = StateIdle
	m.transcript = append(m.transcript, entry{kind: entrySystem, content: abortNotice})
	m.refreshViewport()
}

// startTyping enters the reveal phase with the full response text. An
// empty response has nothing to reveal and finalizes immediately.
func (m *Model) startTyping(content string) tea.Cmd {
	m.pending = []rune(content)
	m.revealed = 0
	m.state = StateTyping
	if len(m.pending) == 0 {
		m.finishTyping()
		return nil
	}
	return typingTickCmd(m.tickInterval)
}

// advanceTyping reveals the next batch of characters, finalizing the
// entry once everything is visible.
func (m *Model) advanceTyping() tea.Cmd {
	if m.state != StateTyping {
		return nil
	}

	m.revealed += m.charsPerTick
	if m.revealed < len(m.pending) {
		m.refreshViewport()
		return typingTickCmd(m.tickInterval)
	}

	m.finishTyping()
	return nil
}

// finishTyping commits the pending response as a transcript entry and
// returns to idle.
func (m *Model) finishTyping() {
	content := string(m.pending)
	m.transcript = append(m.transcript, entry{
		kind:     entryAssistant,
		content:  content,
		rendered: renderMarkdown(content, m.contentWidth()),
	})
	m.history = append(m.history, api.ChatMessage{Role: "assistant", Content: content})
	m.pending = nil
	m.revealed = 0
	m.state = StateIdle
	m.refreshViewport()
}

// failStream surfaces a stream failure in the transcript.
func (m *Model) failStream(err error) {
	m.pending = nil
	m.revealed = 0
	m.state = StateIdle
	m.transcript = append(m.transcript, entry{kind: entryError, content: err.Error()})
	m.refreshViewport()
}

// newConversation aborts any in-flight response and starts a fresh
// conversation.
func (m *Model) newConversation() {
	m.abort()
	m.conversationID = ""
	m.history = nil
	m.transcript = nil
	m.statusMsg = "new conversation"
	m.refreshViewport()
}
