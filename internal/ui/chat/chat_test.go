// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/api"
	"github.com/jeranaias/termchat/internal/model"
)

func newTestModel() Model {
	return New(api.NewClient("http://127.0.0.1:1"), Options{ModelID: "test-model"})
}

// countNotices returns how many transcript entries carry the abort
// notice text.
func countNotices(m Model) int {
	n := 0
	for _, e := range m.transcript {
		if e.kind == entrySystem && e.content == abortNotice {
			n++
		}
	}
	return n
}

// =============================================================================
// TYPING REVEAL
// =============================================================================

func TestTypingRevealsInBatches(t *testing.T) {
	m := newTestModel()
	m.charsPerTick = 10

	content := "0123456789abcdefghijXYZ" // 23 runes, 3 ticks
	cmd := m.startTyping(content)
	require.NotNil(t, cmd)
	require.Equal(t, StateTyping, m.state)
	assert.Equal(t, "", m.revealedText())

	cmd = m.advanceTyping()
	require.NotNil(t, cmd)
	assert.Equal(t, "0123456789", m.revealedText())

	cmd = m.advanceTyping()
	require.NotNil(t, cmd)
	assert.Equal(t, "0123456789abcdefghij", m.revealedText())

	cmd = m.advanceTyping()
	assert.Nil(t, cmd)
	assert.Equal(t, StateIdle, m.state)

	require.Len(t, m.transcript, 1)
	assert.Equal(t, entryAssistant, m.transcript[0].kind)
	assert.Equal(t, content, m.transcript[0].content)

	require.Len(t, m.history, 1)
	assert.Equal(t, "assistant", m.history[0].Role)
	assert.Equal(t, content, m.history[0].Content)
}

func TestTypingShortResponseSingleTick(t *testing.T) {
	m := newTestModel()

	m.startTyping("hi")
	cmd := m.advanceTyping()
	assert.Nil(t, cmd)
	assert.Equal(t, StateIdle, m.state)
	require.Len(t, m.transcript, 1)
	assert.Equal(t, "hi", m.transcript[0].content)
}

func TestEmptyResponseSkipsTyping(t *testing.T) {
	m := newTestModel()
	m.state = StateStreaming
	m.requestID = 1

	// Nothing to reveal: the turn finalizes without a typing phase.
	m2, cmd := m.Update(streamCompleteMsg{RequestID: 1, Content: ""})
	assert.Nil(t, cmd)
	assert.Equal(t, StateIdle, m2.state)

	require.Len(t, m2.transcript, 1)
	assert.Equal(t, entryAssistant, m2.transcript[0].kind)
	assert.Equal(t, "", m2.transcript[0].content)
	for _, e := range m2.transcript {
		assert.NotEqual(t, entryError, e.kind)
	}
}

func TestTypingTickIgnoredWhenIdle(t *testing.T) {
	m := newTestModel()

	cmd := m.advanceTyping()
	assert.Nil(t, cmd)
	assert.Empty(t, m.transcript)
}

// =============================================================================
// ABORT
// =============================================================================

func TestAbortAppendsExactlyOneNotice(t *testing.T) {
	m := newTestModel()
	m.state = StateStreaming
	m.requestID = 1

	m.abort()
	assert.Equal(t, StateIdle, m.state)
	assert.Equal(t, 1, countNotices(m))
	assert.Equal(t, 2, m.requestID)

	// Second Esc with nothing in flight is a no-op.
	m.abort()
	assert.Equal(t, 1, countNotices(m))
	assert.Equal(t, 2, m.requestID)
}

func TestAbortDuringTypingDiscardsPending(t *testing.T) {
	m := newTestModel()
	m.startTyping("a long response that should vanish")
	m.advanceTyping()

	m.abort()
	assert.Equal(t, StateIdle, m.state)
	assert.Empty(t, m.pending)
	assert.Equal(t, 1, countNotices(m))

	// The partially revealed text never lands in the transcript.
	for _, e := range m.transcript {
		assert.NotEqual(t, entryAssistant, e.kind)
	}
}

func TestStaleStreamCompleteDropped(t *testing.T) {
	m := newTestModel()
	m.state = StateStreaming
	m.requestID = 3

	m2, cmd := m.Update(streamCompleteMsg{RequestID: 2, Content: "late"})
	assert.Nil(t, cmd)
	assert.Equal(t, StateStreaming, m2.state)
	assert.Empty(t, m2.transcript)
}

func TestStreamAbortedMsgIsNoop(t *testing.T) {
	m := newTestModel()
	m.state = StateStreaming
	m.abort()
	before := len(m.transcript)

	m2, cmd := m.Update(streamAbortedMsg{RequestID: 1})
	assert.Nil(t, cmd)
	assert.Len(t, m2.transcript, before)
}

// =============================================================================
// UPDATE FLOW
// =============================================================================

func TestSubmitEntersStreaming(t *testing.T) {
	m := newTestModel()
	m.input.SetValue("hello there")

	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, StateStreaming, m2.state)
	assert.Equal(t, 1, m2.requestID)

	require.Len(t, m2.transcript, 1)
	assert.Equal(t, entryUser, m2.transcript[0].kind)
	assert.Equal(t, "hello there", m2.transcript[0].content)

	require.Len(t, m2.history, 1)
	assert.Equal(t, "user", m2.history[0].Role)
}

func TestSubmitBlankInputIgnored(t *testing.T) {
	m := newTestModel()
	m.input.SetValue("   ")

	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, StateIdle, m2.state)
	assert.Empty(t, m2.transcript)
}

func TestEnterIgnoredWhileStreaming(t *testing.T) {
	m := newTestModel()
	m.state = StateStreaming
	m.input.SetValue("queued")

	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, m2.transcript)
}

func TestStreamCompleteStartsTyping(t *testing.T) {
	m := newTestModel()
	m.state = StateStreaming
	m.requestID = 1

	m2, cmd := m.Update(streamCompleteMsg{RequestID: 1, Content: "the answer"})
	require.NotNil(t, cmd)
	assert.Equal(t, StateTyping, m2.state)
	assert.Equal(t, "the answer", string(m2.pending))
}

func TestStreamFailedShowsError(t *testing.T) {
	m := newTestModel()
	m.state = StateStreaming
	m.requestID = 1

	m2, _ := m.Update(streamFailedMsg{RequestID: 1, Err: io.ErrUnexpectedEOF})
	assert.Equal(t, StateIdle, m2.state)
	require.Len(t, m2.transcript, 1)
	assert.Equal(t, entryError, m2.transcript[0].kind)
}

func TestModelsLoadedAdoptsDefault(t *testing.T) {
	m := New(api.NewClient(""), Options{})

	m2, _ := m.Update(modelsLoadedMsg{
		Models:  []model.ModelInfo{{ID: "m1"}, {ID: "m2"}},
		Default: "m1",
	})
	assert.Equal(t, "m1", m2.modelID)
	assert.Len(t, m2.models, 2)
}

func TestNewConversationClearsState(t *testing.T) {
	m := newTestModel()
	m.conversationID = "chat-1"
	m.history = []api.ChatMessage{{Role: "user", Content: "hi"}}
	m.transcript = []entry{{kind: entryUser, content: "hi"}}

	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.Empty(t, m2.conversationID)
	assert.Empty(t, m2.history)
	assert.Empty(t, m2.transcript)
}

// =============================================================================
// STREAM COMMAND
// =============================================================================

func TestSendStreamCmdConsumesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cmd := sendStreamCmd(context.Background(), api.NewClient(srv.URL), api.ChatRequest{Message: "hi"}, 7)
	msg := cmd()

	complete, ok := msg.(streamCompleteMsg)
	require.True(t, ok, "expected streamCompleteMsg, got %T", msg)
	assert.Equal(t, 7, complete.RequestID)
	assert.Equal(t, "Hello world", complete.Content)
	assert.False(t, complete.Downgraded)
}

func TestSendStreamCmdDowngradedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.ChatResponse{Success: true, Response: "one piece"})
	}))
	defer srv.Close()

	msg := sendStreamCmd(context.Background(), api.NewClient(srv.URL), api.ChatRequest{Message: "hi"}, 1)()

	complete, ok := msg.(streamCompleteMsg)
	require.True(t, ok, "expected streamCompleteMsg, got %T", msg)
	assert.True(t, complete.Downgraded)
	assert.Equal(t, "one piece", complete.Content)
}

func TestSendStreamCmdEmptyStreamCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	msg := sendStreamCmd(context.Background(), api.NewClient(srv.URL), api.ChatRequest{Message: "hi"}, 2)()

	complete, ok := msg.(streamCompleteMsg)
	require.True(t, ok, "expected streamCompleteMsg, got %T", msg)
	assert.Equal(t, "", complete.Content)
}

func TestSendStreamCmdErrorRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"error\":\"model overloaded\"}\n\n")
	}))
	defer srv.Close()

	msg := sendStreamCmd(context.Background(), api.NewClient(srv.URL), api.ChatRequest{Message: "hi"}, 1)()

	failed, ok := msg.(streamFailedMsg)
	require.True(t, ok, "expected streamFailedMsg, got %T", msg)
	assert.Contains(t, failed.Err.Error(), "model overloaded")
}

func TestSendStreamCmdCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := sendStreamCmd(ctx, api.NewClient("http://127.0.0.1:1"), api.ChatRequest{Message: "hi"}, 4)()

	aborted, ok := msg.(streamAbortedMsg)
	require.True(t, ok, "expected streamAbortedMsg, got %T", msg)
	assert.Equal(t, 4, aborted.RequestID)
}

// =============================================================================
// VIEW
// =============================================================================

func TestInputBarLabelsPerState(t *testing.T) {
	m := newTestModel()
	m2, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	m2.state = StateStreaming
	assert.Contains(t, m2.renderInput(), "thinking...")

	m2.state = StateTyping
	assert.Contains(t, m2.renderInput(), "rendering...")
}

// =============================================================================
// CANCEL MANAGER
// =============================================================================

func TestCancelManagerReplacesPrevious(t *testing.T) {
	cm := newCancelManager()

	first := false
	cm.set(func() { first = true })
	cm.set(func() {}) // replacing cancels the old request
	assert.True(t, first)
}

func TestCancelManagerIdempotent(t *testing.T) {
	cm := newCancelManager()

	calls := 0
	cm.set(func() { calls++ })
	cm.cancel()
	cm.cancel()
	assert.Equal(t, 1, calls)
}
