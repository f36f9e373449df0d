package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	chromem "github.com/philippgille/chromem-go"

	"memoryapi/internal/models"
)

// MemoryEventStore is an in-process store: chromem-go collections per
// {device, kind} for similarity and an append-only log for lexical scans.
type MemoryEventStore struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	events      map[string][]models.MemoryEvent // scope -> events in insert order
	byID        map[string]models.MemoryEvent
	seq         atomic.Uint64
}

// NewMemoryEventStore creates an empty in-process store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		events:      make(map[string][]models.MemoryEvent),
		byID:        make(map[string]models.MemoryEvent),
	}
}

func (s *MemoryEventStore) Backend() string { return "memory" }

func scopeKey(deviceID string, kind models.EventKind) string {
	return string(kind) + "\x00" + deviceID
}

func (s *MemoryEventStore) collection(scope string, create bool) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[scope]
	s.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[scope]; ok {
		return col, nil
	}
	col, err := s.db.CreateCollection(fmt.Sprintf("scope_%d", len(s.collections)), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[scope] = col
	return col, nil
}

// Insert stores an event. Events without an embedding are only visible to PatternSearch.
func (s *MemoryEventStore) Insert(ctx context.Context, e *models.MemoryEvent) error {
	scope := scopeKey(e.DeviceID, e.Kind)
	id := strconv.FormatUint(s.seq.Add(1), 10)
	stored := *e
	stored.Embedding = nil

	if len(e.Embedding) > 0 {
		col, err := s.collection(scope, true)
		if err != nil {
			return err
		}
		// chromem normalizes in place
		vec := append([]float32(nil), e.Embedding...)
		if err := col.AddDocument(ctx, chromem.Document{ID: id, Content: e.Text, Embedding: vec}); err != nil {
			return fmt.Errorf("failed to insert memory event: %w", err)
		}
	}

	s.mu.Lock()
	s.events[scope] = append(s.events[scope], stored)
	s.byID[id] = stored
	s.mu.Unlock()
	return nil
}

// VectorSearch queries the scope's collection by cosine similarity
func (s *MemoryEventStore) VectorSearch(ctx context.Context, q VectorQuery) ([]models.ScoredEvent, error) {
	col, err := s.collection(scopeKey(q.DeviceID, q.Kind), false)
	if err != nil || col == nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection
	n := q.Limit
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	hits, err := col.QueryEmbedding(ctx, q.Vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]models.ScoredEvent, 0, len(hits))
	for _, h := range hits {
		ev, ok := s.byID[h.ID]
		if !ok {
			log.Printf("⚠️ [EVENT-STORE] chromem hit %s has no stored event", h.ID)
			continue
		}
		results = append(results, models.ScoredEvent{MemoryEvent: ev, Score: float64(h.Similarity)})
	}
	return results, nil
}

// PatternSearch scans the scope newest first
func (s *MemoryEventStore) PatternSearch(_ context.Context, q PatternQuery) ([]models.ScoredEvent, error) {
	needle := strings.ToLower(q.Pattern)

	s.mu.RLock()
	events := s.events[scopeKey(q.DeviceID, q.Kind)]
	s.mu.RUnlock()

	var results []models.ScoredEvent
	for i := len(events) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(events[i].Text), needle) {
			results = append(results, models.ScoredEvent{MemoryEvent: events[i]})
		}
	}
	// later inserts win ties
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *MemoryEventStore) Ping(context.Context) error { return nil }

func (s *MemoryEventStore) Close(context.Context) error { return nil }

// Len returns the number of stored events
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
