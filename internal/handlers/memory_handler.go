package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"strings"

	"memoryapi/internal/logging"
	"memoryapi/internal/services"

	"github.com/gofiber/fiber/v2"
)

// MemoryHandler serves the memory write and recall endpoints
type MemoryHandler struct {
	storage *services.MemoryStorageService
	recall  *services.RecallService
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(storage *services.MemoryStorageService, recall *services.RecallService) *MemoryHandler {
	return &MemoryHandler{storage: storage, recall: recall}
}

// jsonFields keeps each top-level field raw so a value of the wrong JSON
// type reads as missing instead of failing the whole body.
type jsonFields map[string]json.RawMessage

func parseFields(body []byte) jsonFields {
	fields := jsonFields{}
	if len(body) == 0 {
		return fields
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return jsonFields{}
	}
	return fields
}

// str returns the trimmed string value of key, or def when absent,
// not a string, or blank.
func (f jsonFields) str(key, def string) string {
	raw, ok := f[key]
	if !ok {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return def
	}
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func writeFailure(c *fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"ok": false, "error": code})
}

// StoreConversation handles POST /v1/memory/conversations
func (h *MemoryHandler) StoreConversation(c *fiber.Ctx) error {
	f := parseFields(c.Body())
	in := services.ConversationInput{
		DeviceID:         f.str("device_id", ""),
		UserMessage:      f.str("user_message", ""),
		AssistantMessage: f.str("assistant_message", ""),
		AIProvider:       f.str("ai_provider", ""),
		VisualContext:    f.str("visual_context", ""),
	}

	if _, err := h.storage.StoreConversation(c.UserContext(), in); err != nil {
		if errors.Is(err, services.ErrMissingRequiredFields) {
			return writeFailure(c, fiber.StatusBadRequest, "missing_required_fields")
		}
		logging.WithDevice(in.DeviceID).Error("conversation insert failed", "error", err)
		return writeFailure(c, fiber.StatusInternalServerError, "internal_error")
	}
	return c.JSON(fiber.Map{"ok": true})
}

// StoreVisualEvent handles POST /v1/memory/visual-events
func (h *MemoryHandler) StoreVisualEvent(c *fiber.Ctx) error {
	f := parseFields(c.Body())
	in := services.VisualEventInput{
		DeviceID:    f.str("device_id", ""),
		Description: f.str("description", ""),
		EventType:   f.str("event_type", ""),
	}

	if _, err := h.storage.StoreVisualEvent(c.UserContext(), in); err != nil {
		if errors.Is(err, services.ErrMissingRequiredFields) {
			return writeFailure(c, fiber.StatusBadRequest, "missing_required_fields")
		}
		logging.WithDevice(in.DeviceID).Error("visual event insert failed", "error", err)
		return writeFailure(c, fiber.StatusInternalServerError, "internal_error")
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Recall handles POST /v1/memory/recall. The response is plain text,
// one "[C1] ..." or "[V1] ..." line per hit; any failure yields an empty body.
func (h *MemoryHandler) Recall(c *fiber.Ctx) error {
	f := parseFields(c.Body())
	req := services.RecallRequest{
		DeviceID:         f.str("device_id", ""),
		Query:            f.str("query", ""),
		TopConversations: services.ResolveCount(f["top_conversations"], services.DefaultTopConversations),
		TopVisualEvents:  services.ResolveCount(f["top_visual_events"], services.DefaultTopVisualEvents),
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)

	result, err := h.recall.Recall(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, services.ErrRecallInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).SendString("")
		}
		log.Printf("❌ [RECALL] Recall failed for device %s: %v", req.DeviceID, err)
		return c.Status(fiber.StatusInternalServerError).SendString("")
	}
	return c.SendString(result.Text())
}
