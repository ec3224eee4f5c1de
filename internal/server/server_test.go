// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/chat"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/provider"
	"github.com/jeranaias/termchat/internal/registry"
	"github.com/jeranaias/termchat/internal/storage"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

type fakeAdapter struct {
	name       string
	streaming  bool
	reply      string
	streamBody string
	err        error
	chatCalls  int
	lastReq    provider.Request
}

func (f *fakeAdapter) Name() string            { return f.name }
func (f *fakeAdapter) SupportsStreaming() bool { return f.streaming }

func (f *fakeAdapter) Chat(ctx context.Context, req provider.Request) (*provider.Result, error) {
	f.chatCalls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Result{
		Content:  f.reply,
		Model:    req.Model,
		Provider: f.name,
		Usage:    &model.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		Duration: 10 * time.Millisecond,
	}, nil
}

func (f *fakeAdapter) Stream(ctx context.Context, req provider.Request) (io.ReadCloser, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.streamBody)), nil
}

func testCatalog() []model.ModelInfo {
	return []model.ModelInfo{
		{ID: "stream-model", Name: "Stream Model", Provider: model.ProviderLocal, Category: model.CategoryGeneral, Streaming: true, Default: true},
		{ID: "plain-model", Name: "Plain Model", Provider: model.ProviderMinitool, Category: model.CategoryOpenAI},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeAdapter, *fakeAdapter) {
	t.Helper()

	local := &fakeAdapter{name: model.ProviderLocal, streaming: true, reply: "local reply"}
	minitool := &fakeAdapter{name: model.ProviderMinitool, reply: "minitool reply"}

	svc := chat.NewService(registry.NewWithCatalog(testCatalog()), map[string]provider.Adapter{
		model.ProviderLocal:    local,
		model.ProviderMinitool: minitool,
	})

	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	return NewServer(svc, store, 0), local, minitool
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// =============================================================================
// CHAT HANDLER TESTS
// =============================================================================

func TestChatRejectsEmptyMessage(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestChatRejectsInvalidConversationID(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":        "hi",
		"conversationId": "../../etc/passwd",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsUnknownModel(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message": "hi",
		"model":   "no-such-model",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "no-such-model")
}

func TestChatNonStreamingPersistsBothTurns(t *testing.T) {
	s, _, minitool := newTestServer(t)
	minitool.reply = "hello back"

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":        "hello",
		"model":          "plain-model",
		"conversationId": "chat-test-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "hello back", body["response"])
	assert.Equal(t, "chat-test-1", body["conversationId"])
	assert.Equal(t, model.ProviderMinitool, body["provider"])

	history := s.store.GetHistory("chat-test-1", 10)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "hello back", history[1].Content)
	assert.Equal(t, "plain-model", history[1].Model)
}

func TestChatGeneratesConversationID(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message": "hi",
		"model":   "plain-model",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	id, ok := decodeBody(t, rec)["conversationId"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(id, model.ConversationIDPrefix))
}

func TestChatDefaultsToDefaultModel(t *testing.T) {
	s, local, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message": "hi",
		"stream":  false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stream-model", decodeBody(t, rec)["model"])
	assert.Equal(t, 1, local.chatCalls)
}

func TestChatStreamDefaultsOnWhenOmitted(t *testing.T) {
	s, local, _ := newTestServer(t)
	local.streamBody = "data: [DONE]\n\n"

	// No stream field in the body: a streaming-capable model streams.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message": "hi",
		"model":   "stream-model",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	// An explicit false still yields JSON.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message": "hi",
		"model":   "stream-model",
		"stream":  false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestChatForwardsTemperature(t *testing.T) {
	s, _, minitool := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":     "hi",
		"model":       "plain-model",
		"temperature": 0.2,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.2, minitool.lastReq.Temperature)
}

func TestChatUpstreamFailureMapsToBadGateway(t *testing.T) {
	s, _, minitool := newTestServer(t)
	minitool.err = &provider.UpstreamError{Provider: "minitool", StatusCode: 503}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message": "hi",
		"model":   "plain-model",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// =============================================================================
// MODEL CATALOG TESTS
// =============================================================================

func TestModelsListing(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, "stream-model", body["default"])
	assert.NotEmpty(t, body["categories"])
}

func TestModelInfoUnknownIs404(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/models/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestModelChatForcesPathModel(t *testing.T) {
	s, _, minitool := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/models/plain-model/chat", map[string]any{
		"message": "hi",
		"model":   "stream-model",
		"stream":  true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "plain-model", decodeBody(t, rec)["model"])
	assert.Equal(t, 1, minitool.chatCalls)
}

func TestModelTestDoesNotPersist(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/models/plain-model/test", map[string]any{
		"message":        "probe",
		"conversationId": "chat-probe",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, s.store.GetHistory("chat-probe", 10))
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversationLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":        "first",
		"model":          "plain-model",
		"conversationId": "chat-life",
	})

	rec := doJSON(t, s, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doJSON(t, s, http.MethodGet, "/api/v1/conversations/chat-life/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/conversations/chat-life", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Deleting again is still a success.
	rec = doJSON(t, s, http.MethodDelete, "/api/v1/conversations/chat-life", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationInvalidIDRejected(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/conversations/not-a-chat-id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// MAINTENANCE AND HEALTH TESTS
// =============================================================================

func TestCleanupEnvelope(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["deletedCount"])
}

func TestInsightsEnvelope(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/analytics/insights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "development", body["environment"])
}

func TestHealthDetailed(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/health/detailed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotNil(t, body["server"])
	assert.NotNil(t, body["application"])
	assert.NotNil(t, body["statistics"])
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("10.1.2.3"))
	assert.True(t, rl.Allow("10.1.2.3"))
	assert.False(t, rl.Allow("10.1.2.3"))

	// A different IP has its own bucket.
	assert.True(t, rl.Allow("10.9.9.9"))
}

func TestGetClientIPHonorsForwardedOnlyFromTrustedProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", GetClientIP(req))

	req.RemoteAddr = "198.51.100.2:5555"
	assert.Equal(t, "198.51.100.2", GetClientIP(req))
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
