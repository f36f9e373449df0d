package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"memoryapi/internal/embedding"
	"memoryapi/internal/models"
)

// ErrMissingRequiredFields is returned when a write lacks a required field
var ErrMissingRequiredFields = errors.New("missing required fields")

// ConversationInput is one user/assistant exchange to remember
type ConversationInput struct {
	DeviceID         string
	UserMessage      string
	AssistantMessage string
	AIProvider       string
	VisualContext    string
}

// VisualEventInput is one observation from the device camera
type VisualEventInput struct {
	DeviceID    string
	Description string
	EventType   string
}

// MemoryStorageService is the write path: embed the canonical text, then insert.
// Embedding failures store the event without a vector.
type MemoryStorageService struct {
	store    EventStore
	embedder embedding.Provider
	timeout  time.Duration
	metrics  *Metrics
	now      func() time.Time
}

// NewMemoryStorageService creates a new memory storage service
func NewMemoryStorageService(store EventStore, embedder embedding.Provider, timeout time.Duration, metrics *Metrics) *MemoryStorageService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MemoryStorageService{
		store:    store,
		embedder: embedder,
		timeout:  timeout,
		metrics:  metrics,
		now:      time.Now,
	}
}

// StoreConversation persists a conversation turn
func (s *MemoryStorageService) StoreConversation(ctx context.Context, in ConversationInput) (*models.MemoryEvent, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	user := strings.TrimSpace(in.UserMessage)
	assistant := strings.TrimSpace(in.AssistantMessage)
	if deviceID == "" || user == "" || assistant == "" {
		return nil, ErrMissingRequiredFields
	}

	event := models.NewConversationEvent(deviceID, user, assistant,
		strings.TrimSpace(in.AIProvider), strings.TrimSpace(in.VisualContext))
	if err := s.persist(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// StoreVisualEvent persists a visual observation
func (s *MemoryStorageService) StoreVisualEvent(ctx context.Context, in VisualEventInput) (*models.MemoryEvent, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	description := strings.TrimSpace(in.Description)
	if deviceID == "" || description == "" {
		return nil, ErrMissingRequiredFields
	}

	event := models.NewVisualEvent(deviceID, description, strings.TrimSpace(in.EventType))
	if err := s.persist(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *MemoryStorageService) persist(ctx context.Context, event *models.MemoryEvent) error {
	event.Embedding = s.documentEmbedding(ctx, event)
	event.CreatedAt = s.now().UTC()

	ictx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Insert(ictx, event); err != nil {
		log.Printf("❌ [MEMORY-STORAGE] Failed to store %s for device %s: %v", event.Kind, event.DeviceID, err)
		return fmt.Errorf("store %s: %w", event.Kind, err)
	}

	s.metrics.RecordEventStored(string(event.Kind), event.Embedding != nil)
	log.Printf("💾 [MEMORY-STORAGE] Stored %s for device %s (embedded=%t)", event.Kind, event.DeviceID, event.Embedding != nil)
	return nil
}

func (s *MemoryStorageService) documentEmbedding(ctx context.Context, event *models.MemoryEvent) []float32 {
	if s.embedder == nil {
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.embedder.Embed(ectx, event.Text, embedding.ModeDocument)
	if err != nil {
		if !errors.Is(err, embedding.ErrNotConfigured) {
			log.Printf("⚠️ [MEMORY-STORAGE] Embed failed, storing without vector: %s", truncateDetail(err.Error(), 300))
			s.metrics.RecordDegraded("embedding_failed")
		}
		return nil
	}
	return vec
}
