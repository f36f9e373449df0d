package handlers

import (
	"context"
	"time"

	"memoryapi/internal/health"
	"memoryapi/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	store     services.EventStore
	sessions  *services.CaptureSessionService
	providers *health.Service
}

// NewHealthHandler creates a new health handler. providers may be nil.
func NewHealthHandler(store services.EventStore, sessions *services.CaptureSessionService, providers *health.Service) *HealthHandler {
	return &HealthHandler{store: store, sessions: sessions, providers: providers}
}

// Handle responds with server health status. The endpoint itself stays 200
// while the store is unreachable so the device can still stream audio.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	store := fiber.Map{"backend": h.store.Backend(), "reachable": true}
	if err := h.store.Ping(ctx); err != nil {
		store["reachable"] = false
		store["error"] = err.Error()
	}

	resp := fiber.Map{
		"ok":       true,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"sessions": h.sessions.Stats(),
		"store":    store,
	}
	if h.providers != nil {
		resp["providers"] = h.providers.GetStatus()
	}
	return c.JSON(resp)
}
