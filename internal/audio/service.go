package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"memoryapi/internal/health"
)

const (
	GroqTranscriptionURL   = "https://api.groq.com/openai/v1/audio/transcriptions"
	OpenAITranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"
)

// ErrNoProvider is returned when no transcription provider is configured or available
var ErrNoProvider = errors.New("no audio provider configured or all providers are unhealthy")

// Provider is a Whisper-compatible transcription endpoint
type Provider struct {
	Name   string
	URL    string
	Model  string
	APIKey string
}

// GroqProvider returns the Groq whisper-large-v3 endpoint
func GroqProvider(apiKey string) Provider {
	return Provider{Name: "groq", URL: GroqTranscriptionURL, Model: "whisper-large-v3", APIKey: apiKey}
}

// OpenAIProvider returns the OpenAI whisper-1 endpoint
func OpenAIProvider(apiKey string) Provider {
	return Provider{Name: "openai", URL: OpenAITranscriptionURL, Model: "whisper-1", APIKey: apiKey}
}

// ProviderError carries the upstream status and message of a failed transcription
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s Whisper API error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s Whisper API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// Service handles audio transcription using Whisper APIs, trying providers in order
type Service struct {
	httpClient *http.Client
	providers  []Provider
	health     health.Reporter
}

// NewService creates a transcription service. Providers without an API key are skipped.
// Priority is the slice order (Groq is cheaper, OpenAI is the fallback).
func NewService(providers []Provider, timeout time.Duration, reporter health.Reporter) *Service {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	var usable []Provider
	for _, p := range providers {
		if p.APIKey != "" {
			usable = append(usable, p)
		}
	}
	return &Service{
		httpClient: &http.Client{Timeout: timeout},
		providers:  usable,
		health:     reporter,
	}
}

// Configured reports whether at least one provider has credentials
func (s *Service) Configured() bool {
	return len(s.providers) > 0
}

// Providers returns the configured providers in priority order
func (s *Service) Providers() []Provider {
	return append([]Provider(nil), s.providers...)
}

// TranscribeRequest contains parameters for audio transcription
type TranscribeRequest struct {
	Audio     []byte
	MediaType string // e.g. "audio/wav"
	Filename  string
	Language  string // Optional language code (e.g., "en", "es", "fr")
	Prompt    string // Optional prompt to guide transcription
}

// TranscribeResponse contains the result of transcription
type TranscribeResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Provider string  `json:"provider,omitempty"`
}

// Transcribe sends the audio to the first healthy provider, falling back on failure.
// The last provider error is returned when every attempt fails.
func (s *Service) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("empty audio payload")
	}

	var lastErr error
	for _, p := range s.providers {
		if s.health != nil && !s.health.IsProviderHealthy(health.CapabilityTranscription, p.Name) {
			log.Printf("[AUDIO] %s is unhealthy, skipping", p.Name)
			continue
		}

		log.Printf("🎵 [AUDIO] Using %s Whisper (%s)", p.Name, p.Model)
		resp, err := s.transcribeWithProvider(ctx, req, p)
		if err == nil {
			if s.health != nil {
				s.health.MarkHealthy(health.CapabilityTranscription, p.Name)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		log.Printf("⚠️ [AUDIO] %s transcription failed: %v", p.Name, err)
		if s.health != nil {
			code := 0
			var pe *ProviderError
			if errors.As(err, &pe) {
				code = pe.StatusCode
			}
			s.health.MarkFailed(health.CapabilityTranscription, p.Name, err.Error(), code)
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoProvider
}

// transcribeWithProvider is the common transcription logic for any Whisper-compatible API
func (s *Service) transcribeWithProvider(ctx context.Context, req *TranscribeRequest, p Provider) (*TranscribeResponse, error) {
	log.Printf("🔄 [AUDIO] Sending audio to %s Whisper API (%d bytes, model: %s)", p.Name, len(req.Audio), p.Model)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to copy audio data: %w", err)
	}

	fields := map[string]string{
		"model":           p.Model,
		"response_format": "verbose_json",
		"language":        req.Language,
		"prompt":          req.Prompt,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ [AUDIO] %s Whisper API error: %d - %s", p.Name, resp.StatusCode, Truncate(string(respBody), 300))

		var errorResp struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		msg := Truncate(string(respBody), 300)
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error.Message != "" {
			msg = errorResp.Error.Message
		}
		return nil, &ProviderError{Provider: p.Name, StatusCode: resp.StatusCode, Message: msg}
	}

	var apiResp struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	log.Printf("✅ [AUDIO] %s transcription successful (%d chars, %.1fs duration)", p.Name, len(apiResp.Text), apiResp.Duration)

	return &TranscribeResponse{
		Text:     apiResp.Text,
		Language: apiResp.Language,
		Duration: apiResp.Duration,
		Provider: p.Name,
	}, nil
}

// Truncate shortens upstream error detail to at most maxLen bytes, marking the cut with "..."
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
