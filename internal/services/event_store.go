package services

import (
	"context"
	"errors"

	"memoryapi/internal/models"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached
var ErrStoreUnavailable = errors.New("event store unavailable")

// VectorQuery is a nearest-neighbour search scoped to one device and kind
type VectorQuery struct {
	DeviceID   string
	Kind       models.EventKind
	Vector     []float32
	Candidates int // approximate-search candidate pool; exact backends ignore it
	Limit      int
}

// PatternQuery is a literal, case-insensitive substring search scoped to one device and kind.
// Results are ordered by created_at descending.
type PatternQuery struct {
	DeviceID string
	Kind     models.EventKind
	Pattern  string
	Limit    int
}

// EventStore persists memory events and answers scoped searches.
// Implementations must be safe for concurrent use.
type EventStore interface {
	Insert(ctx context.Context, event *models.MemoryEvent) error
	VectorSearch(ctx context.Context, q VectorQuery) ([]models.ScoredEvent, error)
	PatternSearch(ctx context.Context, q PatternQuery) ([]models.ScoredEvent, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	Backend() string
}
