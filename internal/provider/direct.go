// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/termchat/internal/model"
)

// =============================================================================
// DIRECT ADAPTER
// =============================================================================

const (
	defaultDirectBaseURL = "http://127.0.0.1:8080"
	completionsPath      = "/v1/chat/completions"

	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

// Direct talks to an OpenAI-compatible chat completions endpoint.
type Direct struct {
	baseURL     string
	apiKey      string
	headers     map[string]string
	temperature float64
	maxTokens   int

	client       *http.Client
	streamClient *http.Client
}

// NewDirect creates a Direct adapter with default settings.
func NewDirect() *Direct {
	return &Direct{
		baseURL:      defaultDirectBaseURL,
		temperature:  defaultTemperature,
		maxTokens:    defaultMaxTokens,
		client:       sharedClient,
		streamClient: sharedStreamClient,
	}
}

// WithBaseURL sets the endpoint base URL.
func (d *Direct) WithBaseURL(url string) *Direct {
	if url != "" {
		d.baseURL = strings.TrimSuffix(url, "/")
	}
	return d
}

// WithAPIKey sets the bearer token sent on every request.
func (d *Direct) WithAPIKey(key string) *Direct {
	d.apiKey = key
	return d
}

// WithHeaders sets extra headers sent on every request.
func (d *Direct) WithHeaders(headers map[string]string) *Direct {
	d.headers = headers
	return d
}

// WithTemperature sets the sampling temperature.
func (d *Direct) WithTemperature(t float64) *Direct {
	d.temperature = t
	return d
}

// WithMaxTokens sets the completion token cap.
func (d *Direct) WithMaxTokens(n int) *Direct {
	d.maxTokens = n
	return d
}

// WithHTTPClient overrides both HTTP clients (used by tests).
func (d *Direct) WithHTTPClient(c *http.Client) *Direct {
	d.client = c
	d.streamClient = c
	return d
}

// Name implements Adapter.
func (d *Direct) Name() string {
	return model.ProviderLocal
}

// SupportsStreaming implements Adapter.
func (d *Direct) SupportsStreaming() bool {
	return true
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type completionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   *model.Usage       `json:"usage,omitempty"`
}

type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// =============================================================================
// CHAT (NON-STREAMING)
// =============================================================================

// Chat implements Adapter. Retries transient upstream failures with
// exponential backoff.
func (d *Direct) Chat(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	var result *Result
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt - 1)
			log.Printf("DIRECT_RETRY | attempt=%d backoff=%s", attempt, backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = d.doChat(ctx, req)
		if lastErr == nil {
			result.Duration = time.Since(start)
			return result, nil
		}
		if !isRetryable(lastErr) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("chat failed after %d retries: %w", maxRetries, lastErr)
}

func (d *Direct) doChat(ctx context.Context, req Request) (*Result, error) {
	resp, err := d.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, d.handleErrorResponse(resp)
	}

	data, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	var completion completionResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	if len(completion.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := completion.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	respModel := completion.Model
	if respModel == "" {
		respModel = req.Model
	}

	return &Result{
		Content:      content,
		Model:        respModel,
		Provider:     d.Name(),
		FinishReason: choice.FinishReason,
		Usage:        completion.Usage,
	}, nil
}

// =============================================================================
// STREAM
// =============================================================================

// Stream implements Adapter. On success the returned body carries the
// upstream SSE stream untouched; the caller relays and closes it.
func (d *Direct) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	req.Stream = true
	resp, err := d.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, d.handleErrorResponse(resp)
	}

	return resp.Body, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (d *Direct) send(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if d.baseURL == "" {
		return nil, ErrNotConfigured
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = d.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = d.maxTokens
	}

	body, err := json.Marshal(completionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if d.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
	for k, v := range d.headers {
		httpReq.Header.Set(k, v)
	}

	client := d.client
	if stream {
		client = d.streamClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// handleErrorResponse maps a non-200 upstream response to a typed error.
func (d *Direct) handleErrorResponse(resp *http.Response) error {
	data, _ := readResponse(resp)

	message := strings.TrimSpace(string(data))
	var errBody upstreamErrorBody
	if json.Unmarshal(data, &errBody) == nil && errBody.Error.Message != "" {
		message = errBody.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &UpstreamError{Provider: d.Name(), StatusCode: resp.StatusCode, Message: message, Err: ErrAuthFailed}
	case http.StatusNotFound:
		return &UpstreamError{Provider: d.Name(), StatusCode: resp.StatusCode, Message: message, Err: ErrModelNotFound}
	case http.StatusTooManyRequests:
		return &UpstreamError{Provider: d.Name(), StatusCode: resp.StatusCode, Message: message, Err: ErrRateLimited}
	default:
		return &UpstreamError{Provider: d.Name(), StatusCode: resp.StatusCode, Message: message}
	}
}
