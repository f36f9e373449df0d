package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int           // Max requests per minute for all API endpoints
	GlobalAPIExpiration time.Duration // Expiration window

	// Transcription calls the upstream speech provider
	TranscribeMax        int
	TranscribeExpiration time.Duration

	// WebSocket capture connections (per IP)
	WebSocketMax        int
	WebSocketExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults.
// Capture sessions post many chunks per second, so the global limit is high.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalAPIMax:        600,
		GlobalAPIExpiration: 1 * time.Minute,

		TranscribeMax:        60,
		TranscribeExpiration: 1 * time.Minute,

		WebSocketMax:        20,
		WebSocketExpiration: 1 * time.Minute,
	}
}

// NewRateLimitConfig applies configured limits over the defaults.
// Non-positive values keep the default.
func NewRateLimitConfig(globalMax, transcribeMax int, development bool) *RateLimitConfig {
	config := DefaultRateLimitConfig()
	if globalMax > 0 {
		config.GlobalAPIMax = globalMax
	}
	if transcribeMax > 0 {
		config.TranscribeMax = transcribeMax
	}

	// Development mode: more lenient limits
	if development {
		config.GlobalAPIMax = max(config.GlobalAPIMax, 5000)
		config.WebSocketMax = 100
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}
	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"ok":          false,
				"error":       "rate_limited",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// TranscribeRateLimiter guards the endpoints that call a transcription provider
func TranscribeRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.TranscribeMax,
		Expiration: config.TranscribeExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "transcribe:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Transcription limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"ok":          false,
				"error":       "rate_limited",
				"retry_after": int(config.TranscribeExpiration.Seconds()),
			})
		},
	})
}

// WebSocketRateLimiter for WebSocket connection attempts
func WebSocketRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.WebSocketMax,
		Expiration: config.WebSocketExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ws:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] WebSocket connection limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"ok":          false,
				"error":       "rate_limited",
				"retry_after": int(config.WebSocketExpiration.Seconds()),
			})
		},
	})
}
