package preflight

import (
	"context"
	"fmt"
	"log"
	"time"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Store is the part of the event store the checks need
type Store interface {
	Ping(ctx context.Context) error
	Backend() string
}

// Options describes what the server was configured with
type Options struct {
	Store                  Store
	APIKey                 string
	EmbeddingProvider      string // empty when no key is configured
	TranscriptionProviders []string
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	opts        Options
	pingTimeout time.Duration
}

// NewChecker creates a new preflight checker
func NewChecker(opts Options) *Checker {
	return &Checker{opts: opts, pingTimeout: 10 * time.Second}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkStoreConnection(ctx),
		c.checkAPIKey(),
		c.checkEmbeddingProvider(),
		c.checkTranscriptionProviders(),
	}

	// Print summary
	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkStoreConnection verifies the event store answers a ping
func (c *Checker) checkStoreConnection(ctx context.Context) CheckResult {
	const name = "Event Store"
	if c.opts.Store == nil {
		return CheckResult{Name: name, Status: "fail", Message: "No event store configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	if err := c.opts.Store.Ping(ctx); err != nil {
		return CheckResult{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Cannot reach %s store", c.opts.Store.Backend()),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("%s store reachable", c.opts.Store.Backend()),
	}
}

// checkAPIKey rejects an empty shared secret and warns about short ones
func (c *Checker) checkAPIKey() CheckResult {
	const name = "API Key"
	switch n := len(c.opts.APIKey); {
	case n == 0:
		return CheckResult{Name: name, Status: "fail", Message: "MEMORY_API_KEY is not set"}
	case n < 16:
		return CheckResult{Name: name, Status: "warning", Message: fmt.Sprintf("MEMORY_API_KEY is only %d characters", n)}
	default:
		return CheckResult{Name: name, Status: "pass", Message: "Shared secret configured"}
	}
}

// checkEmbeddingProvider warns when recall will be lexical only
func (c *Checker) checkEmbeddingProvider() CheckResult {
	const name = "Embedding Provider"
	if c.opts.EmbeddingProvider == "" {
		return CheckResult{
			Name:    name,
			Status:  "warning",
			Message: "No embedding key configured; events are stored without vectors and recall is lexical",
		}
	}
	return CheckResult{Name: name, Status: "pass", Message: c.opts.EmbeddingProvider}
}

// checkTranscriptionProviders warns when stop and transcribe will fail
func (c *Checker) checkTranscriptionProviders() CheckResult {
	const name = "Transcription Providers"
	if len(c.opts.TranscriptionProviders) == 0 {
		return CheckResult{
			Name:    name,
			Status:  "warning",
			Message: "No transcription key configured; stop and transcribe will return 502",
		}
	}
	return CheckResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("%d configured %v", len(c.opts.TranscriptionProviders), c.opts.TranscriptionProviders),
	}
}
