// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// ============================================================================
// STREAM RELAY
// ============================================================================

// relayState tracks the relay lifecycle. A relay enters exactly one
// terminal state.
type relayState int

const (
	relayOpen relayState = iota
	relayReceiving
	relayCompleted
	relayErrored
	relayClientAborted
)

func (s relayState) String() string {
	switch s {
	case relayOpen:
		return "open"
	case relayReceiving:
		return "receiving"
	case relayCompleted:
		return "completed"
	case relayErrored:
		return "errored"
	case relayClientAborted:
		return "client-aborted"
	default:
		return "unknown"
	}
}

// relayHooks are the relay's side effects. persist runs once on
// completion with the accumulated assistant text; complete runs after a
// successful persist.
type relayHooks struct {
	requestID string
	persist   func(content string) error
	complete  func()
}

// streamRecord is the subset of an upstream SSE record the relay
// inspects while forwarding.
type streamRecord struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

// relay forwards one upstream SSE body to one client. A client
// disconnect stops downstream writes but not the upstream read: the
// relay keeps draining and the completed message still persists, so the
// server-side record stays authoritative.
type relay struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	upstream io.ReadCloser
	hooks    relayHooks

	state      relayState
	clientGone bool
	content    strings.Builder
}

// relayStream pipes the upstream stream body to the client, persisting
// the accumulated assistant message once the stream completes. The
// upstream body is always closed.
func (s *Server) relayStream(w http.ResponseWriter, r *http.Request, upstream io.ReadCloser, hooks relayHooks) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		upstream.Close()
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	rl := &relay{
		w:        w,
		flusher:  flusher,
		upstream: upstream,
		hooks:    hooks,
		state:    relayOpen,
	}
	rl.run(r.Context())
}

// run drives the relay to a terminal state. ctx is the client request
// context; its cancellation marks the write side gone but the upstream
// is read to completion either way.
func (rl *relay) run(ctx context.Context) {
	defer rl.upstream.Close()

	rl.checkClient(ctx)
	if !rl.clientGone {
		rl.w.Header().Set("Content-Type", "text/event-stream")
		rl.w.Header().Set("Cache-Control", "no-cache")
		rl.w.Header().Set("Connection", "keep-alive")
		rl.w.Header().Set("X-Accel-Buffering", "no")
		rl.w.WriteHeader(http.StatusOK)
		rl.flusher.Flush()
	}

	rl.state = relayReceiving

	reader := bufio.NewReader(rl.upstream)
	for {
		rl.checkClient(ctx)

		line, err := reader.ReadString('\n')
		if line != "" {
			if done := rl.processLine(line); done {
				return
			}
		}

		if err == io.EOF {
			// Upstream ended without a done sentinel; synthesize one so
			// the client still terminates cleanly.
			rl.complete()
			return
		}
		if err != nil {
			log.Printf("RELAY_READ_FAILED | request=%s error=%v", rl.hooks.requestID, err)
			rl.fail("stream interrupted")
			return
		}
	}
}

// checkClient notes a client disconnect. Draining continues; only
// downstream writes stop.
func (rl *relay) checkClient(ctx context.Context) {
	if rl.clientGone || ctx.Err() == nil {
		return
	}
	rl.clientGone = true
	log.Printf("RELAY_CLIENT_GONE | request=%s", rl.hooks.requestID)
}

// processLine forwards one upstream line. Returns true once the relay
// reached a terminal state.
func (rl *relay) processLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "data:") {
		// Comments, event names, and record separators are not relayed;
		// the client only consumes data records.
		return false
	}

	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	if payload == "[DONE]" {
		rl.complete()
		return true
	}

	var record streamRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		// Malformed records are dropped, never fatal.
		return false
	}

	if len(record.Error) > 0 {
		rl.fail(streamErrorMessage(record.Error))
		return true
	}

	if len(record.Choices) > 0 {
		rl.content.WriteString(record.Choices[0].Delta.Content)
	}

	if !rl.clientGone {
		fmt.Fprintf(rl.w, "data: %s\n\n", payload)
		rl.flusher.Flush()
	}
	return false
}

// complete writes the done sentinel, persists the accumulated message,
// and marks the relay completed. Persistence does not depend on the
// client still listening. Safe to call once.
func (rl *relay) complete() {
	if rl.terminal() {
		return
	}

	if !rl.clientGone {
		fmt.Fprint(rl.w, "data: [DONE]\n\n")
		rl.flusher.Flush()
	}

	if rl.hooks.persist != nil {
		if err := rl.hooks.persist(rl.content.String()); err != nil {
			log.Printf("RELAY_PERSIST_FAILED | request=%s error=%v", rl.hooks.requestID, err)
		}
	}
	if rl.hooks.complete != nil {
		rl.hooks.complete()
	}
	if rl.clientGone {
		rl.finish(relayClientAborted)
		return
	}
	rl.finish(relayCompleted)
}

// fail emits one synthetic in-stream error record. Nothing is
// persisted on failure.
func (rl *relay) fail(message string) {
	if rl.terminal() {
		return
	}

	if !rl.clientGone {
		record, _ := json.Marshal(map[string]string{"error": message})
		fmt.Fprintf(rl.w, "data: %s\n\n", record)
		rl.flusher.Flush()
	}
	rl.finish(relayErrored)
}

// finish enters a terminal state exactly once.
func (rl *relay) finish(state relayState) {
	if rl.terminal() {
		return
	}
	rl.state = state
	log.Printf("RELAY_CLOSED | request=%s state=%s chars=%d", rl.hooks.requestID, state, rl.content.Len())
}

// terminal reports whether the relay already closed.
func (rl *relay) terminal() bool {
	return rl.state == relayCompleted || rl.state == relayErrored || rl.state == relayClientAborted
}

// streamErrorMessage decodes an upstream error value (string or object
// with a message field).
func streamErrorMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil && s != "" {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return "upstream stream error"
}
