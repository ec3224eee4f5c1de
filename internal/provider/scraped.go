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
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/termchat/internal/model"
)

// =============================================================================
// MINITOOL ADAPTER
// =============================================================================

const (
	defaultMinitoolBaseURL = "https://minitoolai.com"
	defaultMinitoolChat    = "/chatGPT/"
	defaultMinitoolStream  = "/chatGPT/chatgpt_stream.php"

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

var (
	safetyIdentifierRe = regexp.MustCompile(`var safety_identifier = "([^"]+)"`)
	utokenRe           = regexp.MustCompile(`var utoken = "([^"]+)"`)
)

// Minitool reaches a scraped web provider through a browser-shaped
// handshake. The upstream has no API: every exchange walks the same
// steps a browser session would.
type Minitool struct {
	baseURL     string
	chatPath    string
	streamPath  string
	tokenAPI    string
	siteKey     string
	temperature float64

	client *http.Client
}

// NewMinitool creates a Minitool adapter with default settings.
func NewMinitool() *Minitool {
	return &Minitool{
		baseURL:     defaultMinitoolBaseURL,
		chatPath:    defaultMinitoolChat,
		streamPath:  defaultMinitoolStream,
		temperature: defaultTemperature,
		client:      sharedClient,
	}
}

// WithBaseURL sets the scraped site base URL.
func (m *Minitool) WithBaseURL(url string) *Minitool {
	if url != "" {
		m.baseURL = strings.TrimSuffix(url, "/")
	}
	return m
}

// WithPaths sets the chat page and stream endpoint paths.
func (m *Minitool) WithPaths(chatPath, streamPath string) *Minitool {
	if chatPath != "" {
		m.chatPath = chatPath
	}
	if streamPath != "" {
		m.streamPath = streamPath
	}
	return m
}

// WithTokenService sets the anti-bot token service URL and site key.
func (m *Minitool) WithTokenService(api, siteKey string) *Minitool {
	m.tokenAPI = api
	m.siteKey = siteKey
	return m
}

// WithTemperature sets the sampling temperature.
func (m *Minitool) WithTemperature(t float64) *Minitool {
	m.temperature = t
	return m
}

// WithHTTPClient overrides the HTTP client (used by tests).
func (m *Minitool) WithHTTPClient(c *http.Client) *Minitool {
	m.client = c
	return m
}

// Name implements Adapter.
func (m *Minitool) Name() string {
	return model.ProviderMinitool
}

// SupportsStreaming implements Adapter. The scraped upstream delivers a
// finished transcript only.
func (m *Minitool) SupportsStreaming() bool {
	return false
}

// Stream implements Adapter.
func (m *Minitool) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	return nil, ErrStreamingUnsupported
}

// =============================================================================
// HANDSHAKE STATE
// =============================================================================

// pageTokens holds the per-session values scraped from the chat page.
type pageTokens struct {
	safetyIdentifier string
	utoken           string
	cookies          []string
}

// =============================================================================
// CHAT
// =============================================================================

// Chat implements Adapter. Walks the full handshake on every call; the
// upstream invalidates tokens between sessions, so nothing is cached.
func (m *Minitool) Chat(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	message := flattenPrompt(req.Messages)
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyResponse
	}

	cfToken, err := m.fetchAntiBotToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("anti-bot token step failed: %w", err)
	}

	tokens, err := m.fetchPageTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("page token step failed: %w", err)
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = m.temperature
	}

	streamToken, err := m.exchangeForStreamToken(ctx, req.Model, message, temperature, cfToken, tokens)
	if err != nil {
		return nil, fmt.Errorf("stream token exchange failed: %w", err)
	}

	transcript, err := m.fetchTranscript(ctx, streamToken, tokens)
	if err != nil {
		return nil, fmt.Errorf("transcript fetch failed: %w", err)
	}

	completed, usage, err := findCompletedRecord(transcript)
	if err != nil {
		return nil, err
	}

	content, err := ExtractCompletedText(completed)
	if err != nil {
		return nil, err
	}

	log.Printf("MINITOOL_CHAT | model=%s duration=%s content_len=%d",
		req.Model, time.Since(start).Round(time.Millisecond), len(content))

	return &Result{
		Content:  content,
		Model:    req.Model,
		Provider: m.Name(),
		Usage:    usage,
		Duration: time.Since(start),
	}, nil
}

// =============================================================================
// HANDSHAKE STEPS
// =============================================================================

// fetchAntiBotToken asks the token service for a turnstile result.
// Skipped when no token service is configured (some mirrors omit it).
func (m *Minitool) fetchAntiBotToken(ctx context.Context) (string, error) {
	if m.tokenAPI == "" {
		return "", nil
	}

	body, err := json.Marshal(map[string]string{
		"url":     m.baseURL + m.chatPath,
		"siteKey": m.siteKey,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenAPI, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{Provider: m.Name(), StatusCode: resp.StatusCode, Message: "token service rejected request"}
	}

	data, err := readResponse(resp)
	if err != nil {
		return "", err
	}

	var tokenResp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(data, &tokenResp); err != nil {
		return "", fmt.Errorf("%w: token service response", ErrUnparseable)
	}
	if tokenResp.Result == "" {
		return "", fmt.Errorf("%w: token service returned no result", ErrUnparseable)
	}
	return tokenResp.Result, nil
}

// fetchPageTokens loads the chat page and scrapes the embedded session
// identifiers and cookies.
func (m *Minitool) fetchPageTokens(ctx context.Context) (*pageTokens, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+m.chatPath, nil)
	if err != nil {
		return nil, err
	}
	m.setBrowserHeaders(httpReq, nil)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: m.Name(), StatusCode: resp.StatusCode, Message: "chat page unavailable"}
	}

	page, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	tokens := &pageTokens{cookies: resp.Header.Values("Set-Cookie")}
	if match := safetyIdentifierRe.FindSubmatch(page); match != nil {
		tokens.safetyIdentifier = string(match[1])
	}
	if match := utokenRe.FindSubmatch(page); match != nil {
		tokens.utoken = string(match[1])
	}

	if tokens.safetyIdentifier == "" || tokens.utoken == "" {
		return nil, fmt.Errorf("%w: session tokens missing from page", ErrUnparseable)
	}
	return tokens, nil
}

// exchangeForStreamToken posts the prompt as a browser form submission
// and returns the one-time stream token.
func (m *Minitool) exchangeForStreamToken(ctx context.Context, modelID, message string, temperature float64, cfToken string, tokens *pageTokens) (string, error) {
	form := url.Values{}
	form.Set("select_model", modelID)
	form.Set("message", message)
	form.Set("temperature", strconv.FormatFloat(temperature, 'f', 1, 64))
	form.Set("utoken", tokens.utoken)
	form.Set("safety_identifier", tokens.safetyIdentifier)
	if cfToken != "" {
		form.Set("cft", cfToken)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+m.chatPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	m.setBrowserHeaders(httpReq, tokens)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{Provider: m.Name(), StatusCode: resp.StatusCode, Message: "prompt submission rejected"}
	}

	data, err := readResponse(resp)
	if err != nil {
		return "", err
	}

	var exchange struct {
		StreamToken string `json:"streamtoken"`
	}
	if err := json.Unmarshal(data, &exchange); err != nil {
		return "", fmt.Errorf("%w: exchange response", ErrUnparseable)
	}
	if exchange.StreamToken == "" {
		return "", fmt.Errorf("%w: no stream token in exchange response", ErrUnparseable)
	}
	return exchange.StreamToken, nil
}

// fetchTranscript retrieves the full SSE transcript for a stream token.
func (m *Minitool) fetchTranscript(ctx context.Context, streamToken string, tokens *pageTokens) (string, error) {
	u := m.baseURL + m.streamPath + "?streamtoken=" + url.QueryEscape(streamToken)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	m.setBrowserHeaders(httpReq, tokens)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{Provider: m.Name(), StatusCode: resp.StatusCode, Message: "stream endpoint unavailable"}
	}

	data, err := readResponse(resp)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// setBrowserHeaders mimics a browser session; the upstream rejects
// requests that look like API clients.
func (m *Minitool) setBrowserHeaders(req *http.Request, tokens *pageTokens) {
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", m.baseURL)
	req.Header.Set("Referer", m.baseURL+m.chatPath)
	if tokens != nil {
		for _, c := range tokens.cookies {
			// Replay only the name=value pair of each Set-Cookie.
			if idx := strings.Index(c, ";"); idx > 0 {
				c = c[:idx]
			}
			req.Header.Add("Cookie", c)
		}
	}
}

// =============================================================================
// TRANSCRIPT PARSING
// =============================================================================

// findCompletedRecord scans a raw SSE transcript for the record with
// type "response.completed". Unparseable records are skipped, not fatal.
func findCompletedRecord(transcript string) (map[string]any, *model.Usage, error) {
	for _, block := range strings.Split(transcript, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var record map[string]any
			if err := json.Unmarshal([]byte(payload), &record); err != nil {
				continue
			}
			if record["type"] != "response.completed" {
				continue
			}

			var usage *model.Usage
			if raw, ok := record["usage"]; ok {
				if data, err := json.Marshal(raw); err == nil {
					var u model.Usage
					if json.Unmarshal(data, &u) == nil && u.TotalTokens > 0 {
						usage = &u
					}
				}
			}
			return record, usage, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: no completed record in transcript", ErrUnparseable)
}

// ExtractCompletedText pulls the reply text out of a completed record.
// The upstream has shipped several shapes over time, so extraction is a
// fallback chain:
//
//  1. response is a bare string
//  2. response.output: message elements whose content parts are
//     text/output_text, joined with newlines
//  3. fallback keys: message, answer, result, content
func ExtractCompletedText(record map[string]any) (string, error) {
	raw, ok := record["response"]
	if !ok {
		raw = record
	}

	if s, ok := raw.(string); ok {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return trimmed, nil
		}
		return "", ErrUnparseable
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return "", ErrUnparseable
	}

	if output, ok := obj["output"].([]any); ok {
		if text := extractFromOutput(output); text != "" {
			return text, nil
		}
	}

	for _, key := range []string{"message", "answer", "result", "content"} {
		if s, ok := obj[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed, nil
			}
		}
	}

	return "", ErrUnparseable
}

// extractFromOutput flattens the typed output array: keep "message"
// elements, then their "text"/"output_text" content parts.
func extractFromOutput(output []any) string {
	var parts []string
	for _, elem := range output {
		msg, ok := elem.(map[string]any)
		if !ok || msg["type"] != "message" {
			continue
		}
		content, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, part := range content {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if p["type"] != "text" && p["type"] != "output_text" {
				continue
			}
			if text, ok := p["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// flattenPrompt collapses a message list into the single text field the
// scraped upstream accepts.
func flattenPrompt(messages []ChatMessage) string {
	if len(messages) == 1 {
		return messages[0].Content
	}

	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			b.WriteString("System: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
