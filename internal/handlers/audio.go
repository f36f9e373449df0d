package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"

	"memoryapi/internal/audio"
	"memoryapi/internal/services"

	"github.com/gofiber/fiber/v2"
)

// upstreamDetailLimit bounds the provider error text echoed to clients
const upstreamDetailLimit = 300

// AudioHandler serves streaming capture sessions and one-shot transcription
type AudioHandler struct {
	sessions *services.CaptureSessionService
}

// NewAudioHandler creates a new audio handler
func NewAudioHandler(sessions *services.CaptureSessionService) *AudioHandler {
	return &AudioHandler{sessions: sessions}
}

// captureError maps capture session errors to a status and error code
func captureError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return fiber.StatusNotFound, "session_not_found"
	case errors.Is(err, services.ErrUnsupportedBitDepth):
		return fiber.StatusBadRequest, "unsupported_bit_depth"
	case errors.Is(err, services.ErrEmptyChunk):
		return fiber.StatusBadRequest, "empty_chunk"
	case errors.Is(err, services.ErrEmptyAudio):
		return fiber.StatusBadRequest, "empty_audio"
	case errors.Is(err, services.ErrSessionTooLarge):
		return fiber.StatusBadRequest, "session_too_large"
	default:
		return fiber.StatusBadGateway, "transcription_failed"
	}
}

func writeCaptureError(c *fiber.Ctx, err error) error {
	status, code := captureError(err)
	if status != fiber.StatusBadGateway {
		return writeFailure(c, status, code)
	}
	log.Printf("❌ [AUDIO-API] Transcription failed: %v", err)
	return c.Status(status).JSON(fiber.Map{
		"ok":     false,
		"error":  code,
		"detail": audio.Truncate(err.Error(), upstreamDetailLimit),
	})
}

// StartStream handles POST /v1/asr/stream/start. The body is optional.
func (h *AudioHandler) StartStream(c *fiber.Ctx) error {
	var format services.CaptureFormat
	if body := c.Body(); len(body) > 0 {
		var declared struct {
			Bits *int `json:"bits"`
		}
		if err := json.Unmarshal(body, &format); err != nil {
			return writeFailure(c, fiber.StatusBadRequest, "invalid_json")
		}
		_ = json.Unmarshal(body, &declared)
		if declared.Bits != nil && *declared.Bits != services.SupportedBitDepth {
			return writeCaptureError(c, services.ErrUnsupportedBitDepth)
		}
	}

	info, err := h.sessions.Start(format)
	if err != nil {
		return writeCaptureError(c, err)
	}

	return c.JSON(fiber.Map{
		"ok":          true,
		"session_id":  info.SessionID,
		"sample_rate": info.SampleRate,
		"channels":    info.Channels,
		"bits":        info.Bits,
	})
}

// AppendChunk handles POST /v1/asr/stream/chunk?session_id=
func (h *AudioHandler) AppendChunk(c *fiber.Ctx) error {
	total, err := h.sessions.AppendChunk(c.Query("session_id"), c.Body())
	if err != nil {
		return writeCaptureError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "total_bytes": total})
}

// StopStream handles POST /v1/asr/stream/stop?session_id=
func (h *AudioHandler) StopStream(c *fiber.Ctx) error {
	result, err := h.sessions.Stop(c.UserContext(), c.Query("session_id"))
	if err != nil {
		return writeCaptureError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "text": result.Text})
}

// AbortStream handles POST /v1/asr/stream/abort?session_id=
func (h *AudioHandler) AbortStream(c *fiber.Ctx) error {
	aborted := h.sessions.Abort(c.Query("session_id"))
	return c.JSON(fiber.Map{"ok": true, "aborted": aborted})
}

// Transcribe handles POST /v1/asr/transcribe with a raw PCM16 body
func (h *AudioHandler) Transcribe(c *fiber.Ctx) error {
	if err := checkDeclaredBits(c.Query("bits")); err != nil {
		return writeCaptureError(c, err)
	}
	format := services.CaptureFormat{
		SampleRate:    c.QueryInt("sample_rate", 0),
		Channels:      c.QueryInt("channels", 0),
		BitsPerSample: c.QueryInt("bits", 0),
	}

	result, err := h.sessions.TranscribeOnce(c.UserContext(), format, c.Body())
	if err != nil {
		return writeCaptureError(c, err)
	}

	log.Printf("✅ [AUDIO-API] One-shot transcription: %d bytes, %.1fs audio", result.Bytes, result.Seconds)
	return c.JSON(fiber.Map{"ok": true, "text": result.Text})
}

// checkDeclaredBits rejects a bits query value other than 16. Only an
// absent value falls back to the default depth.
func checkDeclaredBits(raw string) error {
	if raw == "" {
		return nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err != nil || n != services.SupportedBitDepth {
		return services.ErrUnsupportedBitDepth
	}
	return nil
}
