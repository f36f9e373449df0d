package middleware

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// KeySource returns the currently accepted shared secret
type KeySource interface {
	Get() string
}

// StaticKey is a KeySource that never rotates
type StaticKey string

func (k StaticKey) Get() string { return string(k) }

// APIKeyMiddleware checks the shared secret sent as X-API-Key or as a
// Bearer token. An empty configured key rejects every request.
func APIKeyMiddleware(keys KeySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := keys.Get()
		provided := requestKey(c)

		if expected == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			log.Printf("🚫 [APIKEY-AUTH] Rejected %s %s from %s", c.Method(), c.Path(), c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"ok":    false,
				"error": "unauthorized",
			})
		}

		c.Locals("auth_type", "api_key")
		return c.Next()
	}
}

func requestKey(c *fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get("X-API-Key")); key != "" {
		return key
	}
	auth := c.Get(fiber.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
