// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DoneSentinel terminates a stream.
const DoneSentinel = "[DONE]"

// =============================================================================
// LINE BUFFER
// =============================================================================

// LineBuffer splits a chunked byte stream into lines, carrying the
// unterminated tail across Feed calls. A record split mid-line
// reassembles exactly.
type LineBuffer struct {
	tail string
}

// Feed appends a chunk and returns the complete lines it closed.
func (b *LineBuffer) Feed(chunk string) []string {
	data := b.tail + chunk
	lines := strings.Split(data, "\n")
	b.tail = lines[len(lines)-1]
	return lines[:len(lines)-1]
}

// Flush returns the remaining tail and resets the buffer.
func (b *LineBuffer) Flush() string {
	tail := b.tail
	b.tail = ""
	return tail
}

// =============================================================================
// PAYLOAD EXTRACTION
// =============================================================================

// deltaEnvelope matches the OpenAI-style incremental record.
type deltaEnvelope struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Content string `json:"content"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error json.RawMessage `json:"error"`
}

// extractJSON pulls content out of a parsed record using the fallback
// chain: choices[0].delta.content, then top-level content, then
// message.content, then a bare JSON string.
func extractJSON(payload string) (string, error, bool) {
	var env deltaEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err == nil {
		if len(env.Error) > 0 {
			return "", decodeStreamError(env.Error), true
		}
		if len(env.Choices) > 0 && env.Choices[0].Delta.Content != "" {
			return env.Choices[0].Delta.Content, nil, true
		}
		if env.Content != "" {
			return env.Content, nil, true
		}
		if env.Message.Content != "" {
			return env.Message.Content, nil, true
		}
		return "", nil, true
	}

	var bare string
	if err := json.Unmarshal([]byte(payload), &bare); err == nil {
		return bare, nil, true
	}

	return "", nil, false
}

// decodeStreamError turns an in-stream error value (string or object)
// into an error.
func decodeStreamError(raw json.RawMessage) error {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return errors.New(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return errors.New(obj.Message)
	}
	return fmt.Errorf("stream error: %s", string(raw))
}

// =============================================================================
// CONSUMER
// =============================================================================

// Consumer accumulates the full response text from a chunked SSE
// stream. Feed it chunks as they arrive, then Finish once the stream
// ends.
type Consumer struct {
	buf     LineBuffer
	content strings.Builder
	done    bool
	err     error
}

// NewConsumer creates an empty Consumer.
func NewConsumer() *Consumer {
	return &Consumer{}
}

// Feed processes one chunk. Returns false once the stream has
// terminated (done or errored) and further chunks are ignored.
func (c *Consumer) Feed(chunk string) bool {
	if c.done || c.err != nil {
		return false
	}
	for _, line := range c.buf.Feed(chunk) {
		c.processLine(line)
		if c.done || c.err != nil {
			return false
		}
	}
	return true
}

// processLine handles a single complete line.
func (c *Consumer) processLine(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	if strings.HasPrefix(trimmed, "data:") {
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if payload == DoneSentinel {
			c.done = true
			return
		}
		content, err, ok := extractJSON(payload)
		if err != nil {
			c.err = err
			return
		}
		if ok {
			c.content.WriteString(content)
			return
		}
		// Unparseable data payload: literal text.
		c.content.WriteString(payload)
		return
	}

	if strings.HasPrefix(trimmed, "{") {
		// A bare JSON line without the data: prefix gets one direct
		// attempt before being treated as text.
		if content, err, ok := extractJSON(trimmed); ok {
			if err != nil {
				c.err = err
				return
			}
			c.content.WriteString(content)
			return
		}
	}

	// Plain text line.
	c.content.WriteString(line)
	c.content.WriteString("\n")
}

// Finish flushes any carried tail. A tail holding a final record
// without a trailing newline is processed like a complete line.
func (c *Consumer) Finish() {
	tail := c.buf.Flush()
	if c.done || c.err != nil {
		return
	}
	trimmed := strings.TrimSpace(tail)
	if trimmed == "" || trimmed == DoneSentinel {
		return
	}
	c.processLine(tail)
}

// Content returns the accumulated response text.
func (c *Consumer) Content() string {
	return c.content.String()
}

// Done reports whether the done sentinel arrived.
func (c *Consumer) Done() bool {
	return c.done
}

// Err returns the in-stream error, if any.
func (c *Consumer) Err() error {
	return c.err
}
