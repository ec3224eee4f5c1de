// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/provider"
	"github.com/jeranaias/termchat/internal/registry"
)

// =============================================================================
// SERVICE
// =============================================================================

const (
	// DefaultAssistantName is used in the system prompt when the config
	// does not override it.
	DefaultAssistantName = "TERMCHAT"

	// DefaultHistoryWindow bounds how many prior turns are included in
	// the prompt. History beyond the window is persisted but not sent.
	DefaultHistoryWindow = 20
)

// UsageRecorder receives per-request usage rows. Implementations must
// never fail a chat request; errors are theirs to log.
type UsageRecorder interface {
	Record(ctx context.Context, modelID, providerName string, usage *model.Usage, duration time.Duration)
}

// Request is a routed chat request. A zero Temperature defers to the
// adapter's configured default.
type Request struct {
	Model       string
	Message     string
	History     []provider.ChatMessage
	Temperature float64
	Stream      bool
}

// Outcome is the result of routing a request. Exactly one of Stream or
// Result is set. Downgraded marks a stream request answered in one
// piece because the provider cannot stream.
type Outcome struct {
	Stream     io.ReadCloser
	Result     *provider.Result
	Downgraded bool
}

// Service routes requests by model ID. All collaborators are injected;
// the service holds no ambient state. The adapter map can be swapped at
// runtime on config reload, so reads go through adapterFor.
type Service struct {
	registry      *registry.Registry
	usage         UsageRecorder
	assistantName string
	historyWindow int

	mu       sync.RWMutex
	adapters map[string]provider.Adapter
}

// NewService creates a Service over a registry and its adapters.
func NewService(reg *registry.Registry, adapters map[string]provider.Adapter) *Service {
	return &Service{
		registry:      reg,
		adapters:      adapters,
		assistantName: DefaultAssistantName,
		historyWindow: DefaultHistoryWindow,
	}
}

// WithAssistantName overrides the assistant name in the system prompt.
func (s *Service) WithAssistantName(name string) *Service {
	if name != "" {
		s.assistantName = name
	}
	return s
}

// WithHistoryWindow overrides how many prior turns are sent upstream.
func (s *Service) WithHistoryWindow(n int) *Service {
	if n > 0 {
		s.historyWindow = n
	}
	return s
}

// WithUsageRecorder attaches a usage recorder. A nil recorder disables
// usage accounting.
func (s *Service) WithUsageRecorder(rec UsageRecorder) *Service {
	s.usage = rec
	return s
}

// SetAdapters replaces the provider adapters, typically after a config
// reload. In-flight requests keep the adapter they resolved.
func (s *Service) SetAdapters(adapters map[string]provider.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters = adapters
}

func (s *Service) adapterFor(providerName string) (provider.Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	adapter, ok := s.adapters[providerName]
	return adapter, ok
}

// Registry exposes the catalog backing this service.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// =============================================================================
// ROUTING
// =============================================================================

// Chat routes a request to the provider serving its model.
func (s *Service) Chat(ctx context.Context, req Request) (*Outcome, error) {
	providerName, err := s.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	adapter, ok := s.adapterFor(providerName)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", providerName)
	}

	info, _ := s.registry.Info(req.Model)
	canStream := info.Streaming && adapter.SupportsStreaming()

	preq := provider.Request{
		Model:       req.Model,
		Messages:    s.PrepareMessages(req.History, req.Message),
		Temperature: req.Temperature,
		Stream:      req.Stream && canStream,
	}

	if req.Stream && canStream {
		stream, err := adapter.Stream(ctx, preq)
		if err != nil {
			return nil, err
		}
		return &Outcome{Stream: stream}, nil
	}

	if req.Stream && !canStream {
		log.Printf("CHAT_DOWNGRADE | model=%s provider=%s", req.Model, providerName)
	}

	result, err := adapter.Chat(ctx, preq)
	if err != nil {
		return nil, err
	}

	if s.usage != nil {
		s.usage.Record(ctx, result.Model, result.Provider, result.Usage, result.Duration)
	}

	return &Outcome{Result: result, Downgraded: req.Stream && !canStream}, nil
}

// RecordStreamUsage accounts for a relayed stream after it completes.
// Streamed responses carry no usage payload, so only the duration is
// recorded.
func (s *Service) RecordStreamUsage(ctx context.Context, modelID, providerName string, duration time.Duration) {
	if s.usage != nil {
		s.usage.Record(ctx, modelID, providerName, nil, duration)
	}
}

// =============================================================================
// PROMPT BUILDING
// =============================================================================

// SystemPrompt returns the shared system message.
func (s *Service) SystemPrompt() string {
	return fmt.Sprintf(
		"You are %s, a helpful AI assistant running in a terminal-styled chat. "+
			"Answer concisely and use markdown formatting where it helps. "+
			"Current date: %s.",
		s.assistantName,
		time.Now().Format("Monday, January 2, 2006"),
	)
}

// PrepareMessages builds the provider message list: system prompt,
// then the last history-window valid history entries, then the user
// message. History entries missing a role or content are dropped.
func (s *Service) PrepareMessages(history []provider.ChatMessage, userMessage string) []provider.ChatMessage {
	valid := make([]provider.ChatMessage, 0, len(history))
	for _, h := range history {
		if strings.TrimSpace(h.Role) == "" || strings.TrimSpace(h.Content) == "" {
			continue
		}
		valid = append(valid, h)
	}
	if len(valid) > s.historyWindow {
		valid = valid[len(valid)-s.historyWindow:]
	}

	messages := make([]provider.ChatMessage, 0, len(valid)+2)
	messages = append(messages, provider.ChatMessage{Role: "system", Content: s.SystemPrompt()})
	messages = append(messages, valid...)
	messages = append(messages, provider.ChatMessage{Role: "user", Content: userMessage})
	return messages
}
