// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/model"
)

func deltaRecord(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

func TestRelayForwardsAndPersistsOnDone(t *testing.T) {
	s, local, _ := newTestServer(t)
	local.streamBody = deltaRecord("Hello") + deltaRecord(" world") + "data: [DONE]\n\n"

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":        "hi",
		"model":          "stream-model",
		"conversationId": "chat-relay",
		"stream":         true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.Contains(t, body, `"content":"Hello"`)
	assert.Contains(t, body, `"content":" world"`)
	assert.Contains(t, body, "data: [DONE]")

	// The accumulated assistant message is persisted exactly once.
	history := s.store.GetHistory("chat-relay", 10)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello world", history[1].Content)
	assert.Equal(t, "stream-model", history[1].Model)
}

func TestRelaySynthesizesDoneOnEOF(t *testing.T) {
	s, local, _ := newTestServer(t)
	local.streamBody = deltaRecord("partial") // upstream hangs up without a sentinel

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":        "hi",
		"model":          "stream-model",
		"conversationId": "chat-eof",
		"stream":         true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data: [DONE]")

	history := s.store.GetHistory("chat-eof", 10)
	require.Len(t, history, 2)
	assert.Equal(t, "partial", history[1].Content)
}

func TestRelayErrorRecordSkipsPersistence(t *testing.T) {
	s, local, _ := newTestServer(t)
	local.streamBody = deltaRecord("partial") + `data: {"error":"model overloaded"}` + "\n\n"

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":        "hi",
		"model":          "stream-model",
		"conversationId": "chat-err",
		"stream":         true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, `"error":"model overloaded"`))
	assert.NotContains(t, body, "data: [DONE]")

	// Only the user turn survives a failed stream.
	history := s.store.GetHistory("chat-err", 10)
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
}

func TestRelayDropsMalformedRecords(t *testing.T) {
	s, local, _ := newTestServer(t)
	local.streamBody = deltaRecord("ok") + "data: {not json\n\n" + deltaRecord(" fine") + "data: [DONE]\n\n"

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":        "hi",
		"model":          "stream-model",
		"conversationId": "chat-mal",
		"stream":         true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "not json")

	history := s.store.GetHistory("chat-mal", 10)
	require.Len(t, history, 2)
	assert.Equal(t, "ok fine", history[1].Content)
}

func TestRelayIgnoresNonDataLines(t *testing.T) {
	s, local, _ := newTestServer(t)
	local.streamBody = ": keep-alive comment\nevent: message\n" + deltaRecord("x") + "data: [DONE]\n\n"

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":        "hi",
		"model":          "stream-model",
		"conversationId": "chat-meta",
		"stream":         true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.NotContains(t, body, "keep-alive")
	assert.NotContains(t, body, "event:")

	history := s.store.GetHistory("chat-meta", 10)
	require.Len(t, history, 2)
	assert.Equal(t, "x", history[1].Content)
}

func TestRelayClientDisconnectDrainsAndPersists(t *testing.T) {
	s, local, _ := newTestServer(t)
	local.streamBody = deltaRecord("kept") + deltaRecord(" anyway") + "data: [DONE]\n\n"

	payload, err := json.Marshal(map[string]any{
		"message":        "hi",
		"model":          "stream-model",
		"conversationId": "chat-gone",
		"stream":         true,
	})
	require.NoError(t, err)

	// The client hangs up before the relay starts: nothing is written
	// downstream but the upstream is drained and the turn recorded.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(payload)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.NotContains(t, rec.Body.String(), "data:")

	history := s.store.GetHistory("chat-gone", 10)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "kept anyway", history[1].Content)
}

func TestStreamErrorMessageShapes(t *testing.T) {
	assert.Equal(t, "boom", streamErrorMessage([]byte(`"boom"`)))
	assert.Equal(t, "rate limited", streamErrorMessage([]byte(`{"message":"rate limited"}`)))
	assert.Equal(t, "upstream stream error", streamErrorMessage([]byte(`42`)))
}
