// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/termchat/internal/model"
)

// Configuration constants for the termchat server API.
const (
	// DefaultServerURL is the local proxy address.
	DefaultServerURL = "http://127.0.0.1:3000"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 120 * time.Second

	// maxResponseSize caps response body reads.
	maxResponseSize = 10 * 1024 * 1024
)

// ErrServerUnavailable indicates the proxy could not be reached.
var ErrServerUnavailable = errors.New("termchat server unavailable")

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is a history entry in the wire shape the server accepts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Message        string        `json:"message"`
	Model          string        `json:"model,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	History        []ChatMessage `json:"history,omitempty"`
	Temperature    float64       `json:"temperature,omitempty"`
	Stream         bool          `json:"stream"`
}

// ChatResponse is the non-streaming reply envelope.
type ChatResponse struct {
	Success        bool         `json:"success"`
	Response       string       `json:"response"`
	ConversationID string       `json:"conversationId"`
	Model          string       `json:"model"`
	Provider       string       `json:"provider"`
	Usage          *model.Usage `json:"usage,omitempty"`
	DurationMs     int64        `json:"durationMs"`
}

// ModelsResponse is the catalog listing envelope.
type ModelsResponse struct {
	Success    bool              `json:"success"`
	Total      int               `json:"total"`
	Default    string            `json:"default"`
	Models     []model.ModelInfo `json:"models"`
	Categories map[string]int    `json:"categories"`
}

// HistoryResponse is the conversation history envelope.
type HistoryResponse struct {
	Success        bool            `json:"success"`
	ConversationID string          `json:"conversationId"`
	Count          int             `json:"count"`
	Messages       []model.Message `json:"messages"`
}

// HealthResponse is the health check envelope.
type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Environment string `json:"environment"`
}

// errorEnvelope matches the server's failure shape.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to a termchat proxy server.
type Client struct {
	baseURL string

	// httpClient serves bounded request/response calls; streamClient has
	// no overall timeout because stream lifetime is context-controlled.
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client for the given server URL. An empty URL
// selects the local default.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
	}
}

// WithHTTPClient overrides both underlying clients, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// CHAT
// =============================================================================

// SendMessage performs a non-streaming chat exchange.
func (c *Client) SendMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	resp, err := c.post(ctx, c.httpClient, "/api/v1/chat", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out ChatResponse
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamResult is the outcome of a stream request. Exactly one field is
// set: Body when the server streamed, JSON when it silently downgraded
// to a one-piece answer.
type StreamResult struct {
	Body io.ReadCloser
	JSON *ChatResponse
}

// SendStream performs a streaming chat exchange. When the server
// streams, the raw SSE body is returned and the caller owns closing it;
// canceling ctx aborts the stream. A JSON answer (downgraded model) is
// decoded in place.
func (c *Client) SendStream(ctx context.Context, req ChatRequest) (*StreamResult, error) {
	req.Stream = true

	resp, err := c.post(ctx, c.streamClient, "/api/v1/chat", req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		defer resp.Body.Close()
		var out ChatResponse
		if err := decodeBody(resp, &out); err != nil {
			return nil, err
		}
		return &StreamResult{JSON: &out}, nil
	}

	return &StreamResult{Body: resp.Body}, nil
}

// =============================================================================
// CATALOG AND CONVERSATIONS
// =============================================================================

// Models fetches the model catalog.
func (c *Client) Models(ctx context.Context) (*ModelsResponse, error) {
	var out ModelsResponse
	if err := c.getJSON(ctx, "/api/v1/models", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches recent messages for a conversation.
func (c *Client) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	path := fmt.Sprintf("/api/v1/conversations/%s/history", conversationID)
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var out HistoryResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// DeleteConversation removes a conversation. Deleting an absent one is
// not an error.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/conversations/"+conversationID, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// Health checks whether the server is up.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "/api/v1/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func (c *Client) post(ctx context.Context, hc *http.Client, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return decodeBody(resp, out)
}

func decodeBody(resp *http.Response, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// decodeError turns a non-200 response into an APIError, falling back
// to the status text when the body is not the standard envelope.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}
