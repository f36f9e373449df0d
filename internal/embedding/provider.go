package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects how the provider should treat the text
type Mode string

const (
	ModeDocument Mode = "document"
	ModeQuery    Mode = "query"
)

// ErrNotConfigured is returned when the provider has no credentials.
// Callers treat it as "embedding unavailable" rather than a failure.
var ErrNotConfigured = errors.New("embedding provider not configured")

// Provider turns text into a fixed-dimension vector
type Provider interface {
	Embed(ctx context.Context, text string, mode Mode) ([]float32, error)
	Name() string
}

// APIError is a non-2xx response from an embedding endpoint
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s embed failed (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
