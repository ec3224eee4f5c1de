// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CONVERSATION IDENTIFIERS
// =============================================================================

// ConversationIDPrefix is the required prefix for all conversation IDs.
// IDs are minted by clients, so the server validates the shape on every
// request rather than trusting arbitrary strings as file names.
const ConversationIDPrefix = "chat-"

// NewConversationID creates a unique conversation ID of the form
// chat-<unix-millis>-<random>.
func NewConversationID() string {
	return fmt.Sprintf("chat-%d-%s", time.Now().UnixMilli(), randomSuffix(4))
}

// ValidConversationID reports whether id has the expected chat- shape.
// Path separators are rejected because the ID becomes a file name.
func ValidConversationID(id string) bool {
	if !strings.HasPrefix(id, ConversationIDPrefix) {
		return false
	}
	if len(id) <= len(ConversationIDPrefix) {
		return false
	}
	return !strings.ContainsAny(id, "/\\")
}

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// ConversationMetadata holds per-conversation message counters, recomputed
// on every append.
type ConversationMetadata struct {
	TotalMessages     int `json:"totalMessages"`
	UserMessages      int `json:"userMessages"`
	AssistantMessages int `json:"assistantMessages"`
}

// Conversation is a full stored conversation: identity, timestamps, the
// message log, and derived metadata.
type Conversation struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Messages  []Message            `json:"messages"`
	Metadata  ConversationMetadata `json:"metadata"`
}

// NewConversation creates an empty conversation with the given ID.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
}

// RecountMetadata recomputes the metadata counters from the message log.
func (c *Conversation) RecountMetadata() {
	meta := ConversationMetadata{TotalMessages: len(c.Messages)}
	for _, m := range c.Messages {
		switch m.Role {
		case RoleUser:
			meta.UserMessages++
		case RoleAssistant:
			meta.AssistantMessages++
		}
	}
	c.Metadata = meta
}

// LastContent returns the content of the most recent message, or "".
func (c *Conversation) LastContent() string {
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].Content
}

// ConversationSummary is the index-file view of a conversation, returned
// by listing endpoints without loading the full message log.
type ConversationSummary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	LastMessage  string    `json:"lastMessage"`
}
