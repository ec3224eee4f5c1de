// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectForTest(t *testing.T, handler http.HandlerFunc) *Direct {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDirect().WithBaseURL(srv.URL).WithHTTPClient(srv.Client())
}

func TestDirectChat(t *testing.T) {
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "MiniMax-M2", req.Model)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(map[string]any{
			"model": "MiniMax-M2",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  hello there  "}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})

	result, err := adapter.Chat(context.Background(), Request{
		Model:    "MiniMax-M2",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.Content)
	assert.Equal(t, "MiniMax-M2", result.Model)
	assert.Equal(t, "stop", result.FinishReason)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 15, result.Usage.TotalTokens)
	assert.Greater(t, result.Duration.Nanoseconds(), int64(0))
}

// An upstream 200 with no choices must be a descriptive failure, never
// an empty success.
func TestDirectChatEmptyChoices(t *testing.T) {
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := adapter.Chat(context.Background(), Request{
		Model:    "MiniMax-M2",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestDirectChatEmptyContent(t *testing.T) {
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "   "}},
			},
		})
	})

	_, err := adapter.Chat(context.Background(), Request{
		Model:    "MiniMax-M2",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestDirectChatAuthError(t *testing.T) {
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "bad key"}})
	})

	_, err := adapter.Chat(context.Background(), Request{
		Model:    "MiniMax-M2",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.ErrorIs(t, err, ErrAuthFailed)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusUnauthorized, upErr.StatusCode)
	assert.Contains(t, upErr.Message, "bad key")
}

func TestDirectChatRetriesServerErrors(t *testing.T) {
	calls := 0
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "recovered"}},
			},
		})
	})

	result, err := adapter.Chat(context.Background(), Request{
		Model:    "MiniMax-M2",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Content)
	assert.Equal(t, 2, calls)
}

func TestDirectChatNoRetryOnAuthError(t *testing.T) {
	calls := 0
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := adapter.Chat(context.Background(), Request{
		Model:    "MiniMax-M2",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDirectStream(t *testing.T) {
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})

	body, err := adapter.Stream(context.Background(), Request{
		Model:    "MiniMax-M2",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "data: [DONE]")
}

func TestDirectStreamUpstreamError(t *testing.T) {
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := adapter.Stream(context.Background(), Request{
		Model:    "unknown",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.ErrorIs(t, err, ErrModelNotFound)
}

func TestDirectSendsAuthHeader(t *testing.T) {
	var gotAuth string
	adapter := newDirectForTest(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "ok"}},
			},
		})
	})
	adapter.WithAPIKey("secret-key")

	_, err := adapter.Chat(context.Background(), Request{
		Model:    "MiniMax-M2",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-key", gotAuth)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, baseBackoff, calculateBackoff(0))
	assert.Equal(t, 2*baseBackoff, calculateBackoff(1))
	assert.Equal(t, maxBackoff, calculateBackoff(10))
}
