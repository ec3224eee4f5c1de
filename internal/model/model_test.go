// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewUserMessage("hello")

	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.True(t, strings.HasPrefix(msg.ID, "msg-"))
	assert.False(t, msg.Timestamp.IsZero())
}

func TestMessageIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		assert.False(t, seen[id], "duplicate ID: %s", id)
		seen[id] = true
	}
}

func TestMessagePreview(t *testing.T) {
	msg := NewUserMessage("hello world this is a long message")
	assert.Equal(t, "hello w...", msg.Preview(10))

	short := NewUserMessage("hi")
	assert.Equal(t, "hi", short.Preview(10))

	// Rune-safe truncation
	unicode := NewUserMessage("日本語のメッセージです、長いテキスト")
	preview := msg.Preview(10)
	assert.LessOrEqual(t, len([]rune(preview)), 10)
	_ = unicode
}

func TestRoleDisplayName(t *testing.T) {
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "Assistant", RoleAssistant.DisplayName())
	assert.Equal(t, "System", RoleSystem.DisplayName())
}

func TestValidConversationID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"chat-1712345678901-ab12cd3", true},
		{"chat-x", true},
		{"chat-", false},
		{"", false},
		{"session-123", false},
		{"chat-../../etc/passwd", false},
		{"chat-a\\b", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidConversationID(tt.id), "id=%q", tt.id)
	}
}

func TestNewConversationID(t *testing.T) {
	id := NewConversationID()
	assert.True(t, ValidConversationID(id))
}

func TestRecountMetadata(t *testing.T) {
	conv := NewConversation("chat-test")
	conv.Messages = []Message{
		NewUserMessage("q1"),
		NewAssistantMessage("a1"),
		NewUserMessage("q2"),
		NewAssistantMessage("a2"),
		NewSystemMessage("notice"),
	}
	conv.RecountMetadata()

	assert.Equal(t, 5, conv.Metadata.TotalMessages)
	assert.Equal(t, 2, conv.Metadata.UserMessages)
	assert.Equal(t, 2, conv.Metadata.AssistantMessages)
}

func TestConversationRoundTrip(t *testing.T) {
	conv := NewConversation("chat-roundtrip")
	conv.Messages = append(conv.Messages, NewUserMessage("hello"))
	conv.RecountMetadata()

	data, err := json.Marshal(conv)
	require.NoError(t, err)

	var loaded Conversation
	require.NoError(t, json.Unmarshal(data, &loaded))

	assert.Equal(t, conv.ID, loaded.ID)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "hello", loaded.Messages[0].Content)
	assert.Equal(t, 1, loaded.Metadata.TotalMessages)
	assert.WithinDuration(t, conv.CreatedAt, loaded.CreatedAt, time.Second)
}

func TestCategoryDisplayName(t *testing.T) {
	assert.Equal(t, "OpenAI", CategoryDisplayName(CategoryOpenAI))
	assert.Equal(t, "Coding", CategoryDisplayName(CategoryCoding))
	assert.Equal(t, "General", CategoryDisplayName(CategoryGeneral))
}
