// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineBufferCarriesTail(t *testing.T) {
	var buf LineBuffer

	lines := buf.Feed("first line\nsecond half")
	require.Equal(t, []string{"first line"}, lines)

	lines = buf.Feed(" done\nthird\n")
	require.Equal(t, []string{"second half done", "third"}, lines)

	assert.Empty(t, buf.Flush())
}

func TestLineBufferFlushReturnsTail(t *testing.T) {
	var buf LineBuffer
	buf.Feed("no newline yet")
	assert.Equal(t, "no newline yet", buf.Flush())
	assert.Empty(t, buf.Flush())
}

// A record split mid-line across chunks must reassemble exactly.
func TestConsumerMidLineChunkSplit(t *testing.T) {
	record := `data: {"choices":[{"delta":{"content":"Hi"}}]}` + "\n"

	for split := 1; split < len(record); split++ {
		c := NewConsumer()
		c.Feed(record[:split])
		c.Feed(record[split:])
		c.Feed("data: [DONE]\n")
		c.Finish()

		assert.Equal(t, "Hi", c.Content(), "split at %d", split)
		assert.True(t, c.Done())
		assert.NoError(t, c.Err())
	}
}

func TestConsumerAccumulatesDeltas(t *testing.T) {
	c := NewConsumer()
	c.Feed(`data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n")
	c.Feed(`data: {"choices":[{"delta":{"content":", "}}]}` + "\n")
	c.Feed(`data: {"choices":[{"delta":{"content":"world"}}]}` + "\n")
	c.Feed("data: [DONE]\n")
	c.Finish()

	assert.Equal(t, "Hello, world", c.Content())
	assert.True(t, c.Done())
}

// A malformed record between two valid ones is carried as literal text,
// never a stream failure.
func TestConsumerMalformedRecordSandwich(t *testing.T) {
	c := NewConsumer()
	c.Feed(`data: {"choices":[{"delta":{"content":"before "}}]}` + "\n")
	c.Feed("data: {broken json\n")
	c.Feed(`data: {"choices":[{"delta":{"content":" after"}}]}` + "\n")
	c.Feed("data: [DONE]\n")
	c.Finish()

	assert.NoError(t, c.Err())
	assert.True(t, c.Done())
	assert.Contains(t, c.Content(), "before ")
	assert.Contains(t, c.Content(), " after")
}

func TestConsumerExtractionFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"delta content", `{"choices":[{"delta":{"content":"a"}}]}`, "a"},
		{"top-level content", `{"content":"b"}`, "b"},
		{"message content", `{"message":{"content":"c"}}`, "c"},
		{"bare string", `"d"`, "d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConsumer()
			c.Feed("data: " + tt.payload + "\n")
			c.Feed("data: [DONE]\n")
			assert.Equal(t, tt.want, c.Content())
		})
	}
}

func TestConsumerPlainTextLines(t *testing.T) {
	c := NewConsumer()
	c.Feed("just plain output\n")
	c.Feed("data: [DONE]\n")
	c.Finish()

	assert.Equal(t, "just plain output\n", c.Content())
}

func TestConsumerErrorRecord(t *testing.T) {
	c := NewConsumer()
	alive := c.Feed(`data: {"error":"upstream exploded"}` + "\n")

	assert.False(t, alive)
	require.Error(t, c.Err())
	assert.Equal(t, "upstream exploded", c.Err().Error())
	assert.False(t, c.Done())
}

func TestConsumerErrorObjectRecord(t *testing.T) {
	c := NewConsumer()
	c.Feed(`data: {"error":{"message":"rate limited"}}` + "\n")

	require.Error(t, c.Err())
	assert.Equal(t, "rate limited", c.Err().Error())
}

func TestConsumerIgnoresChunksAfterDone(t *testing.T) {
	c := NewConsumer()
	c.Feed("data: [DONE]\n")
	alive := c.Feed(`data: {"content":"late"}` + "\n")

	assert.False(t, alive)
	assert.Empty(t, c.Content())
}

func TestConsumerFinishProcessesUnterminatedTail(t *testing.T) {
	c := NewConsumer()
	c.Feed(`data: {"content":"tail text"}`) // no trailing newline
	c.Finish()

	assert.Equal(t, "tail text", c.Content())
}

func TestConsumerFinishIgnoresDoneTail(t *testing.T) {
	c := NewConsumer()
	c.Feed(`data: {"content":"x"}` + "\ndata: [DONE]")
	c.Finish()

	assert.Equal(t, "x", c.Content())
}
