package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventKind partitions memory events. Every query is scoped to exactly one kind.
type EventKind string

const (
	KindConversation EventKind = "conversation"
	KindVisualEvent  EventKind = "visual_event"
)

// Valid reports whether k is one of the known kinds
func (k EventKind) Valid() bool {
	return k == KindConversation || k == KindVisualEvent
}

const (
	DefaultAIProvider = "unknown"
	DefaultEventType  = "observation"
)

// MemoryEvent is one stored record of something the device saw or said.
// Documents are immutable after insert.
type MemoryEvent struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Kind     EventKind          `bson:"kind" json:"kind"`
	DeviceID string             `bson:"device_id" json:"device_id"`

	// Text is the canonical representation used for embedding and lexical matching
	Text string `bson:"text" json:"text"`

	// Conversation fields
	UserMessage      string `bson:"user_message,omitempty" json:"user_message,omitempty"`
	AssistantMessage string `bson:"assistant_message,omitempty" json:"assistant_message,omitempty"`
	AIProvider       string `bson:"ai_provider,omitempty" json:"ai_provider,omitempty"`
	VisualContext    string `bson:"visual_context,omitempty" json:"visual_context,omitempty"`

	// Visual event fields
	EventType   string `bson:"event_type,omitempty" json:"event_type,omitempty"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`

	// Embedding is nil when the provider was unavailable at write time
	Embedding []float32 `bson:"embedding,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// ScoredEvent is a search hit. Score is only meaningful for vector results.
type ScoredEvent struct {
	MemoryEvent `bson:",inline"`
	Score       float64 `bson:"score,omitempty" json:"score,omitempty"`
}

// ConversationText renders the canonical text of a conversation turn
func ConversationText(userMessage, assistantMessage, visualContext string) string {
	var b strings.Builder
	b.WriteString("User: ")
	b.WriteString(userMessage)
	b.WriteString("\nAssistant: ")
	b.WriteString(assistantMessage)
	if visualContext != "" {
		b.WriteString("\nVisual: ")
		b.WriteString(visualContext)
	}
	return b.String()
}

// NewConversationEvent builds a conversation event. Embedding and CreatedAt are set by the caller.
func NewConversationEvent(deviceID, userMessage, assistantMessage, aiProvider, visualContext string) *MemoryEvent {
	if aiProvider == "" {
		aiProvider = DefaultAIProvider
	}
	return &MemoryEvent{
		Kind:             KindConversation,
		DeviceID:         deviceID,
		Text:             ConversationText(userMessage, assistantMessage, visualContext),
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
		AIProvider:       aiProvider,
		VisualContext:    visualContext,
	}
}

// NewVisualEvent builds a visual observation event
func NewVisualEvent(deviceID, description, eventType string) *MemoryEvent {
	if eventType == "" {
		eventType = DefaultEventType
	}
	return &MemoryEvent{
		Kind:        KindVisualEvent,
		DeviceID:    deviceID,
		Text:        description,
		EventType:   eventType,
		Description: description,
	}
}
