package services

import (
	"container/heap"
	"encoding/binary"
	"math"

	"memoryapi/internal/models"
)

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func float32ToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func blobToFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// scoredHeap keeps the worst hit at the root so the top-K can be maintained in O(n log k).
// Equal scores rank the newer event higher.
type scoredHeap []models.ScoredEvent

func worse(a, b models.ScoredEvent) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(models.ScoredEvent)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK collects the best limit hits offered to it
type topK struct {
	limit int
	h     scoredHeap
}

func newTopK(limit int) *topK {
	return &topK{limit: limit, h: make(scoredHeap, 0, limit)}
}

func (t *topK) offer(ev models.ScoredEvent) {
	if t.limit <= 0 {
		return
	}
	if len(t.h) < t.limit {
		heap.Push(&t.h, ev)
		return
	}
	if worse(t.h[0], ev) {
		t.h[0] = ev
		heap.Fix(&t.h, 0)
	}
}

// results returns hits best first
func (t *topK) results() []models.ScoredEvent {
	out := make([]models.ScoredEvent, len(t.h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(models.ScoredEvent)
	}
	return out
}
