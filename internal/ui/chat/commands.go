// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/termchat/internal/api"
	"github.com/jeranaias/termchat/internal/sse"
)

// =============================================================================
// COMMANDS
// =============================================================================

// catalogTimeout bounds the model catalog fetch.
const catalogTimeout = 10 * time.Second

// loadModelsCmd fetches the model catalog from the server.
func loadModelsCmd(client *api.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
		defer cancel()

		resp, err := client.Models(ctx)
		if err != nil {
			return modelsLoadedMsg{Err: err}
		}
		return modelsLoadedMsg{Models: resp.Models, Default: resp.Default}
	}
}

// sendStreamCmd performs the full streaming exchange in one command.
// The whole body is consumed before any message is delivered, so the
// view shows a spinner until the response is complete.
func sendStreamCmd(ctx context.Context, client *api.Client, req api.ChatRequest, requestID int) tea.Cmd {
	return func() tea.Msg {
		res, err := client.SendStream(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return streamAbortedMsg{RequestID: requestID}
			}
			return streamFailedMsg{RequestID: requestID, Err: err}
		}

		// Non-streaming model: the server answered in one piece.
		if res.JSON != nil {
			return streamCompleteMsg{RequestID: requestID, Content: res.JSON.Response, Downgraded: true}
		}

		content, err := consumeStream(ctx, res.Body)
		if err != nil {
			if ctx.Err() != nil {
				return streamAbortedMsg{RequestID: requestID}
			}
			return streamFailedMsg{RequestID: requestID, Err: err}
		}
		return streamCompleteMsg{RequestID: requestID, Content: content}
	}
}

// consumeStream reads the SSE body to completion and returns the
// accumulated response text.
func consumeStream(ctx context.Context, body io.ReadCloser) (string, error) {
	defer body.Close()

	consumer := sse.NewConsumer()
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if !consumer.Feed(string(buf[:n])) {
				break
			}
		}
		if err != nil {
			break
		}
	}
	consumer.Finish()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := consumer.Err(); err != nil {
		return "", err
	}

	// An empty completed stream is a valid (empty) response.
	return consumer.Content(), nil
}
