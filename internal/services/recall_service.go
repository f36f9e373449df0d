package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"memoryapi/internal/embedding"
	"memoryapi/internal/models"
)

const (
	DefaultTopConversations = 5
	DefaultTopVisualEvents  = 3
	MinRecallCount          = 1
	MaxRecallCount          = 10

	minVectorCandidates = 50
	candidateMultiplier = 15
)

// ErrRecallInvalidRequest is returned when the query or device id is empty
var ErrRecallInvalidRequest = errors.New("query and device_id are required")

// RecallPath names the retrieval path that produced a category's hits
type RecallPath string

const (
	PathVector  RecallPath = "vector"
	PathLexical RecallPath = "lexical"
)

// recallCategory describes one independently ranked section of the output
type recallCategory struct {
	kind   models.EventKind
	prefix string
}

var (
	conversationCategory = recallCategory{kind: models.KindConversation, prefix: "C"}
	visualEventCategory  = recallCategory{kind: models.KindVisualEvent, prefix: "V"}
)

// RecallRequest asks for the events most relevant to Query on one device.
// Counts are clamped to [1,10]; use ResolveCount to apply defaults to raw input.
type RecallRequest struct {
	DeviceID         string
	Query            string
	TopConversations int
	TopVisualEvents  int
}

// CategoryResult holds the hits for one kind, best first
type CategoryResult struct {
	Kind   models.EventKind
	Path   RecallPath
	Events []models.ScoredEvent
	prefix string
}

// RecallResult is the ranked output of a recall, conversations before visual events
type RecallResult struct {
	Conversations CategoryResult
	VisualEvents  CategoryResult
}

// Lines renders "[C1] text" lines followed by "[V1] text" lines.
// Multi-line event text is flattened so every hit is exactly one line.
func (r *RecallResult) Lines() []string {
	lines := make([]string, 0, len(r.Conversations.Events)+len(r.VisualEvents.Events))
	for _, cat := range []CategoryResult{r.Conversations, r.VisualEvents} {
		for i, ev := range cat.Events {
			lines = append(lines, fmt.Sprintf("[%s%d] %s", cat.prefix, i+1, singleLine(ev.Text)))
		}
	}
	return lines
}

// singleLine joins the non-blank lines of text with " | "
func singleLine(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " | ")
}

// Text joins Lines with newlines
func (r *RecallResult) Text() string {
	return strings.Join(r.Lines(), "\n")
}

// RecallService is the hybrid retrieval engine: vector search per category,
// falling back to lexical search when the vector path yields nothing.
type RecallService struct {
	store    EventStore
	embedder embedding.Provider
	timeout  time.Duration
	metrics  *Metrics
}

// NewRecallService creates a recall engine. embedder may be nil, in which case
// every recall is served lexically.
func NewRecallService(store EventStore, embedder embedding.Provider, timeout time.Duration, metrics *Metrics) *RecallService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RecallService{
		store:    store,
		embedder: embedder,
		timeout:  timeout,
		metrics:  metrics,
	}
}

// ClampCount bounds a requested result count to [1,10]
func ClampCount(n int) int {
	if n < MinRecallCount {
		return MinRecallCount
	}
	if n > MaxRecallCount {
		return MaxRecallCount
	}
	return n
}

// ResolveCount interprets a raw JSON count. Missing, null or non-numeric
// values yield def; numbers and numeric strings are truncated and clamped.
func ResolveCount(raw json.RawMessage, def int) int {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ClampCount(def)
	}

	// json.Number keeps out-of-range literals such as 1e400 decodable
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ClampCount(def)
	}

	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
	default:
		return ClampCount(def)
	}

	f, ok := parseCount(text)
	if !ok {
		return ClampCount(def)
	}

	if math.IsNaN(f) {
		return ClampCount(def)
	}
	if f > MaxRecallCount {
		return MaxRecallCount
	}
	if f < MinRecallCount {
		return MinRecallCount
	}
	return ClampCount(int(f))
}

// parseCount parses a decimal count. Values beyond float64 range come back
// as ±Inf so they clamp like any other large number.
func parseCount(text string) (float64, bool) {
	f, err := strconv.ParseFloat(text, 64)
	if err == nil {
		return f, true
	}
	var numErr *strconv.NumError
	if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
		return f, true
	}
	return 0, false
}

func candidatesFor(n int) int {
	if c := n * candidateMultiplier; c > minVectorCandidates {
		return c
	}
	return minVectorCandidates
}

// Recall returns the ranked events for the request. Vector failures degrade to
// lexical search; a lexical failure fails the whole recall.
func (s *RecallService) Recall(ctx context.Context, req RecallRequest) (*RecallResult, error) {
	query := strings.TrimSpace(req.Query)
	deviceID := strings.TrimSpace(req.DeviceID)
	if query == "" || deviceID == "" {
		return nil, ErrRecallInvalidRequest
	}

	start := time.Now()
	defer func() { s.metrics.RecordRecallLatency(time.Since(start).Seconds()) }()

	vec := s.queryEmbedding(ctx, query)

	convs, err := s.rankedRetrieval(ctx, conversationCategory, deviceID, query, vec, ClampCount(req.TopConversations))
	if err != nil {
		return nil, err
	}
	visuals, err := s.rankedRetrieval(ctx, visualEventCategory, deviceID, query, vec, ClampCount(req.TopVisualEvents))
	if err != nil {
		return nil, err
	}

	return &RecallResult{Conversations: convs, VisualEvents: visuals}, nil
}

// queryEmbedding returns nil when the provider is missing, unconfigured or failing
func (s *RecallService) queryEmbedding(ctx context.Context, query string) []float32 {
	if s.embedder == nil {
		s.metrics.RecordDegraded("embedding_unconfigured")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, query, embedding.ModeQuery)
	if err != nil {
		if errors.Is(err, embedding.ErrNotConfigured) {
			s.metrics.RecordDegraded("embedding_unconfigured")
		} else {
			log.Printf("⚠️ [RECALL] Query embedding failed, using lexical search: %s", truncateDetail(err.Error(), 300))
			s.metrics.RecordDegraded("embedding_failed")
		}
		return nil
	}
	return vec
}

// rankedRetrieval produces one category's hits: vector results when there are
// any, otherwise lexical matches. The two are never merged.
func (s *RecallService) rankedRetrieval(ctx context.Context, cat recallCategory, deviceID, query string, vec []float32, n int) (CategoryResult, error) {
	result := CategoryResult{Kind: cat.kind, prefix: cat.prefix}

	if len(vec) > 0 {
		vctx, cancel := context.WithTimeout(ctx, s.timeout)
		hits, err := s.store.VectorSearch(vctx, VectorQuery{
			DeviceID:   deviceID,
			Kind:       cat.kind,
			Vector:     vec,
			Candidates: candidatesFor(n),
			Limit:      n,
		})
		cancel()

		switch {
		case err != nil:
			log.Printf("⚠️ [RECALL] Vector search fallback (%s): %s", cat.kind, truncateDetail(err.Error(), 400))
			s.metrics.RecordDegraded("vector_search_failed")
		case len(hits) > 0:
			if len(hits) > n {
				hits = hits[:n]
			}
			result.Path = PathVector
			result.Events = hits
			s.metrics.RecordRecall(string(cat.kind), string(PathVector))
			return result, nil
		}
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	hits, err := s.store.PatternSearch(lctx, PatternQuery{
		DeviceID: deviceID,
		Kind:     cat.kind,
		Pattern:  query,
		Limit:    n,
	})
	if err != nil {
		return CategoryResult{}, fmt.Errorf("lexical recall for %s: %w", cat.kind, err)
	}
	if len(hits) > n {
		hits = hits[:n]
	}

	result.Path = PathLexical
	result.Events = hits
	s.metrics.RecordRecall(string(cat.kind), string(PathLexical))
	return result, nil
}

func truncateDetail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
