// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/termchat/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	model             TEXT NOT NULL,
	provider          TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_requests_model ON requests(model);
`

// =============================================================================
// RECORDER
// =============================================================================

// Recorder is a SQLite-backed request usage log.
type Recorder struct {
	db *sql.DB
}

// Open creates (or opens) the usage database at path. Use ":memory:"
// for an ephemeral recorder.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics db: %w", err)
	}
	// The pure-Go driver serializes writes itself; one connection
	// avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init metrics schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record inserts one usage row. Errors are logged, never returned: a
// metrics failure must not fail the chat request it describes.
func (r *Recorder) Record(ctx context.Context, modelID, providerName string, usage *model.Usage, duration time.Duration) {
	if r == nil || r.db == nil {
		return
	}

	var prompt, completion, total int
	if usage != nil {
		prompt = usage.PromptTokens
		completion = usage.CompletionTokens
		total = usage.TotalTokens
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO requests (model, provider, prompt_tokens, completion_tokens, total_tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		modelID, providerName, prompt, completion, total, duration.Milliseconds())
	if err != nil {
		log.Printf("METRICS_RECORD_FAILED | model=%s err=%v", modelID, err)
	}
}

// ModelUsage returns the request count per model.
func (r *Recorder) ModelUsage(ctx context.Context) map[string]int {
	out := map[string]int{}
	if r == nil || r.db == nil {
		return out
	}

	rows, err := r.db.QueryContext(ctx, `SELECT model, COUNT(*) FROM requests GROUP BY model`)
	if err != nil {
		log.Printf("METRICS_QUERY_FAILED | err=%v", err)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var modelID string
		var count int
		if err := rows.Scan(&modelID, &count); err != nil {
			continue
		}
		out[modelID] = count
	}
	return out
}

// Totals summarizes all recorded requests.
type Totals struct {
	Requests    int `json:"requests"`
	TotalTokens int `json:"totalTokens"`
}

// RequestTotals returns aggregate request and token counts.
func (r *Recorder) RequestTotals(ctx context.Context) Totals {
	var t Totals
	if r == nil || r.db == nil {
		return t
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_tokens), 0) FROM requests`)
	if err := row.Scan(&t.Requests, &t.TotalTokens); err != nil {
		log.Printf("METRICS_QUERY_FAILED | err=%v", err)
	}
	return t
}
