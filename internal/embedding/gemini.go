package embedding

import (
	"context"
	"errors"
	"strings"
)

const (
	GeminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel = "models/gemini-embedding-001"
)

// GeminiProvider calls the Gemini embedContent endpoint
type GeminiProvider struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	http       *httpClient
}

// NewGeminiProvider creates a Gemini embedding client. An empty apiKey yields
// a provider that always returns ErrNotConfigured.
func NewGeminiProvider(apiKey, model string, dimensions int, opts ClientOptions) *GeminiProvider {
	if model == "" {
		model = DefaultGeminiModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	if dimensions <= 0 {
		dimensions = 768
	}
	return &GeminiProvider{
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		baseURL:    GeminiBaseURL,
		http:       newHTTPClient("gemini", opts),
	}
}

// WithBaseURL points the client at a different API root
func (p *GeminiProvider) WithBaseURL(baseURL string) *GeminiProvider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Model returns the fully qualified model name
func (p *GeminiProvider) Model() string { return p.model }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Model   string `json:"model"`
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
	TaskType             string `json:"taskType"`
	OutputDimensionality int    `json:"outputDimensionality"`
}

type geminiResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func taskType(mode Mode) string {
	if mode == ModeQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// Embed returns the embedding for text
func (p *GeminiProvider) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	if p.apiKey == "" {
		return nil, ErrNotConfigured
	}

	req := geminiRequest{
		Model:                p.model,
		TaskType:             taskType(mode),
		OutputDimensionality: p.dimensions,
	}
	req.Content.Parts = []geminiPart{{Text: text}}

	var resp geminiResponse
	url := p.baseURL + "/" + p.model + ":embedContent"
	if err := p.http.postJSON(ctx, url, map[string]string{"x-goog-api-key": p.apiKey}, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, errors.New("gemini returned an empty embedding")
	}
	return resp.Embedding.Values, nil
}
