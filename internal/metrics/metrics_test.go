// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/model"
)

func TestRecordAndQuery(t *testing.T) {
	rec, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	rec.Record(ctx, "MiniMax-M2", "local", &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, 250*time.Millisecond)
	rec.Record(ctx, "MiniMax-M2", "local", nil, 100*time.Millisecond)
	rec.Record(ctx, "gpt-4o-mini", "minitool", &model.Usage{TotalTokens: 8}, 2*time.Second)

	usage := rec.ModelUsage(ctx)
	assert.Equal(t, 2, usage["MiniMax-M2"])
	assert.Equal(t, 1, usage["gpt-4o-mini"])

	totals := rec.RequestTotals(ctx)
	assert.Equal(t, 3, totals.Requests)
	assert.Equal(t, 23, totals.TotalTokens)
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var rec *Recorder
	ctx := context.Background()

	rec.Record(ctx, "m", "p", nil, 0)
	assert.Empty(t, rec.ModelUsage(ctx))
	assert.Zero(t, rec.RequestTotals(ctx).Requests)
	assert.NoError(t, rec.Close())
}

func TestOpenInMemory(t *testing.T) {
	rec, err := Open(":memory:")
	require.NoError(t, err)
	defer rec.Close()

	rec.Record(context.Background(), "m", "p", nil, time.Millisecond)
	assert.Equal(t, 1, rec.ModelUsage(context.Background())["m"])
}
