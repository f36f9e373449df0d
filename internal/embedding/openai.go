package embedding

import (
	"context"
	"errors"
	"strings"
)

const (
	OpenAIBaseURL      = "https://api.openai.com/v1"
	DefaultOpenAIModel = "text-embedding-3-small"
)

// OpenAIProvider calls any OpenAI-compatible /embeddings endpoint.
// The mode is ignored; OpenAI models embed documents and queries the same way.
type OpenAIProvider struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	http       *httpClient
}

// NewOpenAIProvider creates an OpenAI-compatible embedding client
func NewOpenAIProvider(apiKey, model string, dimensions int, opts ClientOptions) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		baseURL:    OpenAIBaseURL,
		http:       newHTTPClient("openai", opts),
	}
}

// WithBaseURL points the client at a different API root
func (p *OpenAIProvider) WithBaseURL(baseURL string) *OpenAIProvider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openaiRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the embedding for text
func (p *OpenAIProvider) Embed(ctx context.Context, text string, _ Mode) ([]float32, error) {
	if p.apiKey == "" {
		return nil, ErrNotConfigured
	}

	req := openaiRequest{Input: []string{text}, Model: p.model, Dimensions: p.dimensions}
	var resp openaiResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := p.http.postJSON(ctx, p.baseURL+"/embeddings", headers, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai returned no embeddings")
	}
	return resp.Data[0].Embedding, nil
}
