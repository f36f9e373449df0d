package health

import (
	"log"
	"sort"
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 3
	defaultRetryAfter       = 2 * time.Minute
)

// Service tracks passive health for the embedding and transcription upstreams.
// Providers reaching the failure threshold are skipped until retryAfter elapses.
type Service struct {
	mu               sync.RWMutex
	healthCache      map[string]*ProviderHealth // key: "capability:providerName"
	failureThreshold int
	retryAfter       time.Duration
	now              func() time.Time
}

// NewService creates a new health service
func NewService(failureThreshold int, retryAfter time.Duration) *Service {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}

	return &Service{
		healthCache:      make(map[string]*ProviderHealth),
		failureThreshold: failureThreshold,
		retryAfter:       retryAfter,
		now:              time.Now,
	}
}

func cacheKey(capability CapabilityType, providerName string) string {
	return string(capability) + ":" + providerName
}

// RegisterProvider adds a provider to the health cache for a given capability
func (s *Service) RegisterProvider(capability CapabilityType, providerName, modelName string, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey(capability, providerName)
	if _, exists := s.healthCache[key]; exists {
		return
	}
	s.healthCache[key] = &ProviderHealth{
		ProviderName: providerName,
		ModelName:    modelName,
		Capability:   capability,
		Status:       StatusUnknown,
		Priority:     priority,
	}
	log.Printf("[HEALTH] Registered %s provider %s model=%s priority=%d", capability, providerName, modelName, priority)
}

// IsProviderHealthy reports whether a provider should be attempted
func (s *Service) IsProviderHealthy(capability CapabilityType, providerName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.healthCache[cacheKey(capability, providerName)]
	if !exists {
		return true
	}
	return s.available(h)
}

func (s *Service) available(h *ProviderHealth) bool {
	switch h.Status {
	case StatusUnhealthy:
		return s.now().Sub(h.LastChecked) >= s.retryAfter
	case StatusCooldown:
		return s.now().After(h.CooldownUntil)
	default:
		return true
	}
}

// MarkHealthy marks a provider as healthy after a successful request
func (s *Service) MarkHealthy(capability CapabilityType, providerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.healthCache[cacheKey(capability, providerName)]
	if !exists {
		return
	}

	wasDown := h.Status == StatusUnhealthy || h.Status == StatusCooldown
	now := s.now()
	h.Status = StatusHealthy
	h.FailureCount = 0
	h.LastError = ""
	h.LastSuccessAt = now
	h.LastChecked = now
	h.CooldownUntil = time.Time{}

	if wasDown {
		log.Printf("[HEALTH] %s provider %s recovered", capability, providerName)
	}
}

// MarkFailed records a failure. Quota errors put the provider into cooldown;
// other errors count towards the unhealthy threshold.
func (s *Service) MarkFailed(capability CapabilityType, providerName string, errMsg string, statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.healthCache[cacheKey(capability, providerName)]
	if !exists {
		return
	}

	now := s.now()
	h.FailureCount++
	h.LastError = truncateStr(errMsg, 300)
	h.LastChecked = now

	if IsQuotaError(statusCode, errMsg) {
		h.Status = StatusCooldown
		h.CooldownUntil = now.Add(ParseCooldownDuration(statusCode, errMsg))
		log.Printf("[HEALTH] %s provider %s in COOLDOWN until %s (reason: %s)",
			capability, providerName, h.CooldownUntil.Format(time.RFC3339), truncateStr(errMsg, 100))
		return
	}

	if h.FailureCount >= s.failureThreshold {
		h.Status = StatusUnhealthy
		log.Printf("[HEALTH] %s provider %s marked UNHEALTHY after %d failures: %s",
			capability, providerName, h.FailureCount, truncateStr(errMsg, 200))
		return
	}
	log.Printf("[HEALTH] %s provider %s failure %d/%d: %s",
		capability, providerName, h.FailureCount, s.failureThreshold, truncateStr(errMsg, 200))
}

// GetHealthyProviders returns available providers for a capability, highest priority first
func (s *Service) GetHealthyProviders(capability CapabilityType) []ProviderHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var healthy []ProviderHealth
	for _, h := range s.healthCache {
		if h.Capability == capability && s.available(h) {
			healthy = append(healthy, *h)
		}
	}

	sort.Slice(healthy, func(i, j int) bool {
		if healthy[i].Priority != healthy[j].Priority {
			return healthy[i].Priority > healthy[j].Priority
		}
		return healthy[i].LastSuccessAt.After(healthy[j].LastSuccessAt)
	})
	return healthy
}

// Snapshot returns a copy of every registered entry, ordered by capability then name
func (s *Service) Snapshot() []ProviderHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ProviderHealth, 0, len(s.healthCache))
	for _, h := range s.healthCache {
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Capability != result[j].Capability {
			return result[i].Capability < result[j].Capability
		}
		return result[i].ProviderName < result[j].ProviderName
	})
	return result
}

// GetStatus returns per-capability counters for the health endpoint
func (s *Service) GetStatus() map[string]map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	capStats := make(map[string]map[string]int)
	for _, h := range s.healthCache {
		c := string(h.Capability)
		if capStats[c] == nil {
			capStats[c] = map[string]int{"healthy": 0, "unhealthy": 0, "cooldown": 0, "unknown": 0}
		}
		switch {
		case h.Status == StatusHealthy:
			capStats[c]["healthy"]++
		case h.Status == StatusUnknown, s.available(h):
			capStats[c]["unknown"]++
		case h.Status == StatusCooldown:
			capStats[c]["cooldown"]++
		default:
			capStats[c]["unhealthy"]++
		}
	}
	return capStats
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
