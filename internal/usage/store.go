// Package usage keeps a local ledger of chat completion token counts.
// Records are append-only; inference is local, so there is no cost
// column, only tokens and latency.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/farmlink/internal/llamafarm"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one chat completion.
type Record struct {
	ID               string        `json:"id"`
	Timestamp        time.Time     `json:"timestamp"`
	CompletionID     string        `json:"completion_id"`
	Namespace        string        `json:"namespace"`
	Project          string        `json:"project"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Duration         time.Duration `json:"duration"`
	Streamed         bool          `json:"streamed"`
}

// Summary holds aggregated totals.
type Summary struct {
	Requests         int   `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// TotalTokens is prompt plus completion tokens.
func (s Summary) TotalTokens() int64 { return s.PromptTokens + s.CompletionTokens }

// Store is a SQLite-backed ledger. Methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chat_usage (
		id                TEXT PRIMARY KEY,
		timestamp         TEXT NOT NULL,
		completion_id     TEXT,
		namespace         TEXT NOT NULL,
		project           TEXT NOT NULL,
		model             TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		duration_ms       INTEGER NOT NULL,
		streamed          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_usage_timestamp ON chat_usage(timestamp);
	`)
	return err
}

// Record appends rec. An empty ID gets a UUIDv7 and a zero Timestamp
// becomes now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_usage
			(id, timestamp, completion_id, namespace, project, model,
			 prompt_tokens, completion_tokens, duration_ms, streamed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(timeLayout),
		rec.CompletionID,
		rec.Namespace,
		rec.Project,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.Duration.Milliseconds(),
		rec.Streamed,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// FromChat builds a Record for a completed chat. Responses without
// usage counts record zero tokens.
func FromChat(id llamafarm.Identity, resp *llamafarm.ChatResponse, elapsed time.Duration, streamed bool) Record {
	rec := Record{
		Namespace: id.Namespace,
		Project:   id.Project,
		Duration:  elapsed,
		Streamed:  streamed,
	}
	if resp == nil {
		return rec
	}
	rec.CompletionID = resp.ID
	rec.Model = resp.Model
	if resp.Usage != nil {
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
	}
	return rec
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		 FROM chat_usage
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(timeLayout),
		end.UTC().Format(timeLayout),
	)

	var sum Summary
	if err := row.Scan(&sum.Requests, &sum.PromptTokens, &sum.CompletionTokens); err != nil {
		return Summary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}

// Day returns totals for the local calendar day containing t.
func (s *Store) Day(ctx context.Context, t time.Time) (Summary, error) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return s.Summary(ctx, start, start.AddDate(0, 0, 1))
}

// SummaryByModel returns per-model totals for records within [start, end).
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens)
		 FROM chat_usage
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY model`,
		start.UTC().Format(timeLayout),
		end.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Summary)
	for rows.Next() {
		var model string
		var sum Summary
		if err := rows.Scan(&model, &sum.Requests, &sum.PromptTokens, &sum.CompletionTokens); err != nil {
			return nil, fmt.Errorf("scan usage by model: %w", err)
		}
		result[model] = sum
	}
	return result, rows.Err()
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, COALESCE(completion_id, ''), namespace, project, model,
		        prompt_tokens, completion_tokens, duration_ms, streamed
		 FROM chat_usage
		 ORDER BY timestamp DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent usage: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		var ms int64
		if err := rows.Scan(&rec.ID, &ts, &rec.CompletionID, &rec.Namespace, &rec.Project, &rec.Model,
			&rec.PromptTokens, &rec.CompletionTokens, &ms, &rec.Streamed); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if rec.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse usage timestamp %q: %w", ts, err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
