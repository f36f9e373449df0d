package health

import "time"

// CapabilityType identifies what kind of upstream interaction a health entry covers
type CapabilityType string

const (
	CapabilityEmbedding     CapabilityType = "embedding"
	CapabilityTranscription CapabilityType = "transcription"
)

// HealthStatus represents the health state of a provider
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusCooldown  HealthStatus = "cooldown"
	StatusUnknown   HealthStatus = "unknown"
)

// ProviderHealth tracks the health of a single provider+capability combination
type ProviderHealth struct {
	ProviderName  string         `json:"provider"`
	ModelName     string         `json:"model,omitempty"`
	Capability    CapabilityType `json:"capability"`
	Status        HealthStatus   `json:"status"`
	LastChecked   time.Time      `json:"last_checked,omitempty"`
	LastSuccessAt time.Time      `json:"last_success_at,omitempty"`
	FailureCount  int            `json:"failure_count"`
	LastError     string         `json:"last_error,omitempty"`
	CooldownUntil time.Time      `json:"cooldown_until,omitempty"`
	Priority      int            `json:"priority"` // Higher = preferred
}

// Reporter is the narrow view of the health service that upstream clients use.
// A nil Reporter disables tracking.
type Reporter interface {
	IsProviderHealthy(capability CapabilityType, providerName string) bool
	MarkHealthy(capability CapabilityType, providerName string)
	MarkFailed(capability CapabilityType, providerName string, errMsg string, statusCode int)
}
