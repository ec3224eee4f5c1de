// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/termchat/internal/chat"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/provider"
	"github.com/jeranaias/termchat/internal/registry"
	"github.com/jeranaias/termchat/internal/storage"
)

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// ChatRequest is the body of POST /api/v1/chat. Stream is a pointer so
// an omitted field can default to streaming, matching the web client.
type ChatRequest struct {
	Message        string                 `json:"message"`
	Model          string                 `json:"model"`
	ConversationID string                 `json:"conversationId"`
	History        []provider.ChatMessage `json:"history"`
	Stream         *bool                  `json:"stream"`
	Temperature    float64                `json:"temperature"`

	// stream is the normalized Stream value.
	stream bool
}

// ChatResponse is the non-streaming chat reply envelope.
type ChatResponse struct {
	Success        bool         `json:"success"`
	Response       string       `json:"response"`
	ConversationID string       `json:"conversationId"`
	Model          string       `json:"model"`
	Provider       string       `json:"provider"`
	Usage          *model.Usage `json:"usage,omitempty"`
	DurationMs     int64        `json:"durationMs"`
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// handleChat handles POST /api/v1/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	s.dispatchChat(w, r, req, true)
}

// decodeChatRequest parses and validates the chat body. On failure it
// writes the error response and returns ok=false.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("CHAT_BAD_BODY | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}

	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "Message is required and must be a non-empty string")
		return req, false
	}
	if len(req.Message) > MaxMessageLength {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Message exceeds maximum length of %d", MaxMessageLength))
		return req, false
	}

	if req.ConversationID == "" {
		req.ConversationID = model.NewConversationID()
	} else if !model.ValidConversationID(req.ConversationID) {
		s.writeError(w, http.StatusBadRequest, "Invalid conversation ID format")
		return req, false
	}

	if req.Model == "" {
		req.Model = s.chat.Registry().Default()
	}
	if !s.chat.Registry().IsValid(req.Model) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown model: %s", req.Model))
		return req, false
	}

	req.stream = req.Stream == nil || *req.Stream

	return req, true
}

// dispatchChat runs a validated chat request: persist the user turn,
// route to the provider, and answer as JSON or an SSE relay. persist
// controls whether the conversation is written at all (the test
// endpoint turns it off).
func (s *Server) dispatchChat(w http.ResponseWriter, r *http.Request, req ChatRequest, persist bool) {
	requestID := uuid.NewString()
	info, _ := s.chat.Registry().Info(req.Model)

	history := req.History
	if len(history) == 0 && persist {
		history = historyFromMessages(s.store.GetHistory(req.ConversationID, storage.DefaultHistoryLimit))
	}

	if persist {
		userMsg := model.NewUserMessage(req.Message)
		if _, err := s.store.AppendMessage(req.ConversationID, userMsg); err != nil {
			log.Printf("CHAT_PERSIST_FAILED | request=%s conversation=%s error=%v", requestID, req.ConversationID, err)
			s.writeError(w, http.StatusInternalServerError, "Failed to persist message")
			return
		}
	}

	log.Printf("CHAT_REQUEST | request=%s model=%s provider=%s conversation=%s stream=%t",
		requestID, req.Model, info.Provider, req.ConversationID, req.stream)

	// The relay outlives the client socket: the upstream is drained and
	// the turn persisted even when the client disconnects mid-stream.
	ctx := r.Context()
	if req.stream {
		ctx = context.WithoutCancel(r.Context())
	}

	start := time.Now()
	outcome, err := s.chat.Chat(ctx, chatRequestFor(req, history))
	if err != nil {
		log.Printf("CHAT_FAILED | request=%s model=%s error=%v", requestID, req.Model, err)
		status, message := statusForError(err)
		s.writeError(w, status, message)
		return
	}

	if outcome.Stream != nil {
		s.relayStream(w, r, outcome.Stream, relayHooks{
			requestID: requestID,
			persist: func(content string) error {
				if !persist {
					return nil
				}
				return s.persistAssistantTurn(req.ConversationID, content, req.Model, info.Provider)
			},
			complete: func() {
				s.chat.RecordStreamUsage(ctx, req.Model, info.Provider, time.Since(start))
			},
		})
		return
	}

	if persist {
		if err := s.persistAssistantTurn(req.ConversationID, outcome.Result.Content, req.Model, info.Provider); err != nil {
			log.Printf("CHAT_PERSIST_FAILED | request=%s conversation=%s error=%v", requestID, req.ConversationID, err)
			s.writeError(w, http.StatusInternalServerError, "Failed to persist message")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, ChatResponse{
		Success:        true,
		Response:       outcome.Result.Content,
		ConversationID: req.ConversationID,
		Model:          req.Model,
		Provider:       info.Provider,
		Usage:          outcome.Result.Usage,
		DurationMs:     outcome.Result.Duration.Milliseconds(),
	})
}

// chatRequestFor builds the service-level request.
func chatRequestFor(req ChatRequest, history []provider.ChatMessage) chat.Request {
	return chat.Request{
		Model:       req.Model,
		Message:     req.Message,
		History:     history,
		Temperature: req.Temperature,
		Stream:      req.stream,
	}
}

// persistAssistantTurn appends the assistant message to the
// conversation.
func (s *Server) persistAssistantTurn(conversationID, content, modelID, providerName string) error {
	msg := model.NewAssistantMessage(content)
	msg.Model = modelID
	msg.Provider = providerName
	_, err := s.store.AppendMessage(conversationID, msg)
	return err
}

// historyFromMessages converts stored messages to the provider wire
// shape.
func historyFromMessages(msgs []model.Message) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, provider.ChatMessage{Role: m.Role.String(), Content: m.Content})
	}
	return out
}

// statusForError maps provider failures onto HTTP statuses. Upstream
// and parse failures are gateway errors; anything unrecognized is 500.
func statusForError(err error) (int, string) {
	var unknownModel *registry.UnknownModelError
	if errors.As(err, &unknownModel) {
		return http.StatusBadRequest, unknownModel.Error()
	}
	if errors.Is(err, provider.ErrRateLimited) {
		return http.StatusTooManyRequests, "Upstream rate limit exceeded, try again later"
	}
	if errors.Is(err, provider.ErrUnparseable) || errors.Is(err, provider.ErrEmptyResponse) {
		return http.StatusBadGateway, "Upstream returned an unusable response"
	}
	var upErr *provider.UpstreamError
	if errors.As(err, &upErr) {
		return http.StatusBadGateway, "Upstream provider unavailable"
	}
	return http.StatusInternalServerError, "Request processing failed"
}

// ============================================================================
// MODEL CATALOG HANDLERS
// ============================================================================

// handleModels handles GET /api/v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	reg := s.chat.Registry()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"total":      len(reg.List()),
		"default":    reg.Default(),
		"models":     reg.List(),
		"categories": reg.CategoryCounts(),
	})
}

// handleModelProviders handles GET /api/v1/models/providers.
func (s *Server) handleModelProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"providers": s.chat.Registry().ByProvider(),
	})
}

// handleModelCategories handles GET /api/v1/models/categories.
func (s *Server) handleModelCategories(w http.ResponseWriter, r *http.Request) {
	byCategory := s.chat.Registry().ByCategory()
	categories := make(map[string]any, len(byCategory))
	for cat, models := range byCategory {
		categories[cat] = map[string]any{
			"displayName": model.CategoryDisplayName(cat),
			"count":       len(models),
			"models":      models,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"categories": categories,
	})
}

// handleModelInfo handles GET /api/v1/models/{id}.
func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.chat.Registry().Info(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown model: %s", id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"model":   info,
	})
}

// handleModelChat handles POST /api/v1/models/{id}/chat. The path model
// wins over any model in the body, and streaming is forced off.
func (s *Server) handleModelChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.chat.Registry().IsValid(id) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown model: %s", id))
		return
	}

	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	req.Model = id
	req.stream = false
	s.dispatchChat(w, r, req, true)
}

// handleModelTest handles POST /api/v1/models/{id}/test. Runs a one-off
// exchange without touching any conversation.
func (s *Server) handleModelTest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.chat.Registry().IsValid(id) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown model: %s", id))
		return
	}

	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	req.Model = id
	req.stream = false
	s.dispatchChat(w, r, req, false)
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// handleListConversations handles GET /api/v1/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries := s.store.List()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"count":         len(summaries),
		"conversations": summaries,
	})
}

// handleGetConversation handles GET /api/v1/conversations/{id}.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !model.ValidConversationID(id) {
		s.writeError(w, http.StatusBadRequest, "Invalid conversation ID format")
		return
	}

	conv, err := s.store.GetOrCreate(id)
	if err != nil {
		log.Printf("CONVERSATION_READ_FAILED | id=%s error=%v", id, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"conversation": conv,
	})
}

// handleConversationHistory handles GET /api/v1/conversations/{id}/history.
func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !model.ValidConversationID(id) {
		s.writeError(w, http.StatusBadRequest, "Invalid conversation ID format")
		return
	}

	limit := storage.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	history := s.store.GetHistory(id, limit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"conversationId": id,
		"count":          len(history),
		"messages":       history,
	})
}

// handleDeleteConversation handles DELETE /api/v1/conversations/{id}.
// Deleting an absent conversation still succeeds.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !model.ValidConversationID(id) {
		s.writeError(w, http.StatusBadRequest, "Invalid conversation ID format")
		return
	}

	if err := s.store.Delete(id); err != nil {
		log.Printf("CONVERSATION_DELETE_FAILED | id=%s error=%v", id, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Conversation deleted",
	})
}

// ============================================================================
// ANALYTICS AND MAINTENANCE HANDLERS
// ============================================================================

// handleInsights handles GET /api/v1/analytics/insights.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.store.ComputeInsights(s.metrics.ModelUsage(r.Context()))
	if err != nil {
		log.Printf("INSIGHTS_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to compute insights")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"insights": insights,
	})
}

// handleCleanup handles POST /api/v1/cleanup.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.CleanupExpired()
	if err != nil {
		log.Printf("CLEANUP_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Cleanup failed")
		return
	}

	log.Printf("CLEANUP_COMPLETE | deleted=%d client_ip=%s", deleted, GetClientIP(r))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("Cleaned up %d expired conversations", deleted),
		"deletedCount": deleted,
	})
}

// ============================================================================
// HEALTH HANDLERS
// ============================================================================

// handleHealth handles GET /api/v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
		"environment": s.environment,
	})
}

// handleHealthDetailed handles GET /api/v1/health/detailed.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	totals := s.metrics.RequestTotals(r.Context())

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"server": map[string]any{
			"uptime":        time.Since(s.startTime).Round(time.Second).String(),
			"platform":      runtime.GOOS,
			"goVersion":     runtime.Version(),
			"goroutines":    runtime.NumGoroutine(),
			"heapAllocMB":   mem.HeapAlloc / 1024 / 1024,
			"heapSysMB":     mem.HeapSys / 1024 / 1024,
			"numGC":         mem.NumGC,
			"environment":   s.environment,
		},
		"application": map[string]any{
			"name":         AppName,
			"version":      Version,
			"defaultModel": s.chat.Registry().Default(),
			"modelCount":   len(s.chat.Registry().List()),
		},
		"statistics": map[string]any{
			"totalConversations":  s.store.Count(),
			"activeConversations": s.store.ActiveSince(24 * time.Hour),
			"totalRequests":       totals.Requests,
			"totalTokens":         totals.TotalTokens,
		},
	})
}
