package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"memoryapi/internal/health"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 500 * time.Millisecond
)

// httpClient is the shared transport for the embedding providers:
// rate limiting, retries with exponential backoff, health reporting.
type httpClient struct {
	name         string
	client       *http.Client
	limiter      *rate.Limiter
	health       health.Reporter
	maxRetries   int
	initialDelay time.Duration
}

// ClientOptions tunes the outbound behaviour of a provider
type ClientOptions struct {
	Timeout      time.Duration
	RPS          float64 // <= 0 disables throttling
	Burst        int
	MaxRetries   int
	InitialDelay time.Duration
	Health       health.Reporter
}

func newHTTPClient(name string, opts ClientOptions) *httpClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaultInitialDelay
	}
	c := &httpClient{
		name:         name,
		client:       &http.Client{Timeout: opts.Timeout},
		health:       opts.Health,
		maxRetries:   opts.MaxRetries,
		initialDelay: opts.InitialDelay,
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 5
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// postJSON sends payload and decodes a 200 response into out
func (c *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	if c.health != nil && !c.health.IsProviderHealthy(health.CapabilityEmbedding, c.name) {
		return fmt.Errorf("%s embedding provider is cooling down", c.name)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.initialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = c.do(ctx, url, headers, body, out)
		if lastErr == nil {
			if c.health != nil {
				c.health.MarkHealthy(health.CapabilityEmbedding, c.name)
			}
			return nil
		}

		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && !apiErr.Retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if c.health != nil {
		code := 0
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) {
			code = apiErr.StatusCode
		}
		c.health.MarkFailed(health.CapabilityEmbedding, c.name, lastErr.Error(), code)
	}
	return lastErr
}

func (c *httpClient) do(ctx context.Context, url string, headers map[string]string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: c.name, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 300)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
