package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"memoryapi/internal/database"
	"memoryapi/internal/models"
)

// SQLiteEventStore keeps events in a local SQLite file. Vector search is an
// exact cosine scan over the scoped rows.
type SQLiteEventStore struct {
	db *database.DB
}

// NewSQLiteEventStore wraps an initialized database
func NewSQLiteEventStore(db *database.DB) *SQLiteEventStore {
	return &SQLiteEventStore{db: db}
}

func (s *SQLiteEventStore) Backend() string { return "sqlite" }

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Insert stores an event
func (s *SQLiteEventStore) Insert(ctx context.Context, e *models.MemoryEvent) error {
	var blob []byte
	if len(e.Embedding) > 0 {
		blob = float32ToBlob(e.Embedding)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_events
			(kind, device_id, text, user_message, assistant_message, ai_provider,
			 visual_context, event_type, description, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.DeviceID, e.Text,
		nullable(e.UserMessage), nullable(e.AssistantMessage), nullable(e.AIProvider),
		nullable(e.VisualContext), nullable(e.EventType), nullable(e.Description),
		blob, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory event: %w", err)
	}
	return nil
}

// VectorSearch scores every embedded row in scope and keeps the best Limit
func (s *SQLiteEventStore) VectorSearch(ctx context.Context, q VectorQuery) ([]models.ScoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, device_id, text, embedding, created_at
		FROM memory_events
		WHERE device_id = ? AND kind = ? AND embedding IS NOT NULL`,
		q.DeviceID, string(q.Kind),
	)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	best := newTopK(q.Limit)
	for rows.Next() {
		var (
			ev   models.ScoredEvent
			kind string
			blob []byte
			ts   int64
		)
		if err := rows.Scan(&kind, &ev.DeviceID, &ev.Text, &blob, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		vec := blobToFloat32(blob)
		if len(vec) != len(q.Vector) {
			continue
		}
		ev.Kind = models.EventKind(kind)
		ev.CreatedAt = time.Unix(0, ts).UTC()
		ev.Score = cosineSimilarity(q.Vector, vec)
		best.offer(ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return best.results(), nil
}

// PatternSearch matches text as a literal, case-insensitive substring, newest first
func (s *SQLiteEventStore) PatternSearch(ctx context.Context, q PatternQuery) ([]models.ScoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, device_id, text, created_at
		FROM memory_events
		WHERE device_id = ? AND kind = ? AND instr(lower(text), lower(?)) > 0
		ORDER BY created_at DESC
		LIMIT ?`,
		q.DeviceID, string(q.Kind), q.Pattern, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredEvent
	for rows.Next() {
		var (
			ev   models.ScoredEvent
			kind string
			ts   int64
		)
		if err := rows.Scan(&kind, &ev.DeviceID, &ev.Text, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ev.Kind = models.EventKind(kind)
		ev.CreatedAt = time.Unix(0, ts).UTC()
		results = append(results, ev)
	}
	return results, rows.Err()
}

func (s *SQLiteEventStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteEventStore) Close(_ context.Context) error {
	return s.db.Close()
}
