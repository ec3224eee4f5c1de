// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/termchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the adapter is missing required settings.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrAuthFailed indicates the upstream rejected our credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the upstream returned 429.
	ErrRateLimited = errors.New("rate limited by upstream")

	// ErrModelNotFound indicates the upstream does not know the model.
	ErrModelNotFound = errors.New("model not found upstream")

	// ErrEmptyResponse indicates the upstream answered without content.
	// An empty completion is surfaced as a failure, never as an empty
	// success.
	ErrEmptyResponse = errors.New("no response content")

	// ErrUnparseable indicates the upstream answered in a shape no
	// extractor recognizes.
	ErrUnparseable = errors.New("unable to extract text from response")

	// ErrStreamingUnsupported indicates the adapter cannot stream.
	ErrStreamingUnsupported = errors.New("streaming not supported by provider")
)

// UpstreamError carries the HTTP status and body excerpt of a failed
// upstream call.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s upstream error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s upstream error (status %d)", e.Provider, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

// ChatMessage is a single prompt message in the wire shape shared by
// both adapters.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is an adapter-level chat request. Messages already include the
// system prompt and trimmed history.
type Request struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// Result is a completed (non-streaming) chat exchange.
type Result struct {
	Content      string
	Model        string
	Provider     string
	FinishReason string
	Usage        *model.Usage
	Duration     time.Duration
}

// Adapter is the strategy interface every provider implements.
type Adapter interface {
	// Name returns the provider name as used by the registry.
	Name() string

	// Chat performs a one-shot completion.
	Chat(ctx context.Context, req Request) (*Result, error)

	// Stream opens an SSE stream and returns the raw response body for
	// relaying. Callers own closing the body. Adapters that cannot
	// stream return ErrStreamingUnsupported.
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)

	// SupportsStreaming reports whether Stream is usable.
	SupportsStreaming() bool
}

// =============================================================================
// SHARED HTTP PLUMBING
// =============================================================================

const (
	// maxResponseSize caps upstream response reads to guard against
	// unbounded memory use.
	maxResponseSize = 10 * 1024 * 1024

	defaultTimeout = 120 * time.Second

	maxRetries  = 2
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 10 * time.Second
)

// sharedClient is the pooled client for request/response calls.
var sharedClient = &http.Client{
	Timeout: defaultTimeout,
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	},
}

// sharedStreamClient has no overall timeout; stream lifetime is bounded
// by the request context instead.
var sharedStreamClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	},
}

// readResponse reads an HTTP response body with a size cap.
func readResponse(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// calculateBackoff returns the delay before retry attempt n (0-based),
// doubling from baseBackoff and capped at maxBackoff.
func calculateBackoff(attempt int) time.Duration {
	backoff := baseBackoff << uint(attempt)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// isRetryable reports whether an error is worth retrying. Validation
// failures (4xx other than 429) are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.StatusCode >= 500 || upErr.StatusCode == http.StatusTooManyRequests
	}
	// Network-level errors (no status attached) are transient.
	return !errors.Is(err, ErrAuthFailed) &&
		!errors.Is(err, ErrModelNotFound) &&
		!errors.Is(err, ErrEmptyResponse) &&
		!errors.Is(err, ErrUnparseable)
}
