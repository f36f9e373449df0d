package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoryapi/internal/audio"
)

// Capture session limits
const (
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	SupportedBitDepth    = 16
	MinSampleRate        = 8000
	MaxSampleRate        = 24000
	MinChannels          = 1
	MaxChannels          = 2
	MaxUploadBytes       = 25 << 20 // Whisper upload limit
	MaxSessionBytes      = MaxUploadBytes - audio.WAVHeaderSize
	DefaultSessionMaxAge = 10 * time.Minute
)

// Error types for capture session operations
var (
	ErrSessionNotFound     = errors.New("capture session not found")
	ErrEmptyChunk          = errors.New("empty audio chunk")
	ErrUnsupportedBitDepth = errors.New("only 16-bit PCM is supported")
	ErrSessionTooLarge     = errors.New("capture session exceeds maximum upload size")
	ErrEmptyAudio          = errors.New("empty audio payload")
)

// Transcriber converts a framed audio file to text
type Transcriber interface {
	Transcribe(ctx context.Context, req *audio.TranscribeRequest) (*audio.TranscribeResponse, error)
}

// CaptureFormat is the PCM layout declared by the client
type CaptureFormat struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits"`
}

// Normalize applies defaults, validates the bit depth and clamps rate and channels
func (f CaptureFormat) Normalize() (CaptureFormat, error) {
	if f.BitsPerSample == 0 {
		f.BitsPerSample = SupportedBitDepth
	}
	if f.BitsPerSample != SupportedBitDepth {
		return f, ErrUnsupportedBitDepth
	}

	if f.SampleRate == 0 {
		f.SampleRate = DefaultSampleRate
	}
	f.SampleRate = clampInt(f.SampleRate, MinSampleRate, MaxSampleRate)

	if f.Channels == 0 {
		f.Channels = DefaultChannels
	}
	f.Channels = clampInt(f.Channels, MinChannels, MaxChannels)
	return f, nil
}

func (f CaptureFormat) bytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CaptureSession accumulates PCM chunks for one streaming transcription
type CaptureSession struct {
	ID         string
	Format     CaptureFormat
	chunks     [][]byte
	totalBytes int
	closed     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	mutex      sync.Mutex
}

// CaptureSessionInfo is the public view of a session
type CaptureSessionInfo struct {
	SessionID  string    `json:"session_id"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Bits       int       `json:"bits"`
	TotalBytes int       `json:"total_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TranscriptResult is the outcome of stopping a session
type TranscriptResult struct {
	SessionID string  `json:"session_id,omitempty"`
	Text      string  `json:"text"`
	Bytes     int     `json:"bytes"`
	Seconds   float64 `json:"seconds"`
	Provider  string  `json:"provider,omitempty"`
}

// CaptureStats summarises live sessions
type CaptureStats struct {
	ActiveSessions int `json:"active_sessions"`
	BufferedBytes  int `json:"buffered_bytes"`
}

// CaptureSessionService owns the table of live capture sessions.
// Expired sessions are removed by Sweep, which the job scheduler drives.
type CaptureSessionService struct {
	sessions    map[string]*CaptureSession
	mutex       sync.RWMutex
	maxAge      time.Duration
	maxBytes    int
	transcriber Transcriber
	timeout     time.Duration
	language    string
	metrics     *Metrics
	now         func() time.Time
}

// CaptureSessionConfig configures a CaptureSessionService
type CaptureSessionConfig struct {
	MaxAge   time.Duration // idle time before Sweep removes a session
	MaxBytes int           // per-session PCM cap
	Timeout  time.Duration // transcription call timeout
	Language string        // optional transcription language hint
}

// NewCaptureSessionService creates an empty session table
func NewCaptureSessionService(transcriber Transcriber, cfg CaptureSessionConfig, metrics *Metrics) *CaptureSessionService {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultSessionMaxAge
	}
	if cfg.MaxBytes <= 0 || cfg.MaxBytes > MaxSessionBytes {
		cfg.MaxBytes = MaxSessionBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	log.Println("🎙️ CaptureSessionService initialized")
	return &CaptureSessionService{
		sessions:    make(map[string]*CaptureSession),
		maxAge:      cfg.MaxAge,
		maxBytes:    cfg.MaxBytes,
		transcriber: transcriber,
		timeout:     cfg.Timeout,
		language:    cfg.Language,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Start opens a new session with a random id
func (s *CaptureSessionService) Start(format CaptureFormat) (*CaptureSessionInfo, error) {
	format, err := format.Normalize()
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := s.now()
	session := &CaptureSession{
		ID:        id.String(),
		Format:    format,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mutex.Lock()
	s.sessions[session.ID] = session
	active := len(s.sessions)
	s.mutex.Unlock()

	s.metrics.RecordSessionStarted()
	log.Printf("🎙️ Capture session %s started (%d Hz, %d ch, %d active)", session.ID, format.SampleRate, format.Channels, active)
	return session.info(), nil
}

func (cs *CaptureSession) info() *CaptureSessionInfo {
	return &CaptureSessionInfo{
		SessionID:  cs.ID,
		SampleRate: cs.Format.SampleRate,
		Channels:   cs.Format.Channels,
		Bits:       cs.Format.BitsPerSample,
		TotalBytes: cs.totalBytes,
		CreatedAt:  cs.CreatedAt,
		UpdatedAt:  cs.UpdatedAt,
	}
}

func (s *CaptureSessionService) get(id string) *CaptureSession {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sessions[id]
}

// AppendChunk copies data onto the session and returns the cumulative byte count
func (s *CaptureSessionService) AppendChunk(id string, data []byte) (int, error) {
	session := s.get(id)
	if session == nil {
		return 0, ErrSessionNotFound
	}
	if len(data) == 0 {
		return 0, ErrEmptyChunk
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()

	if session.closed {
		return 0, ErrSessionNotFound
	}
	if session.totalBytes+len(data) > s.maxBytes {
		return session.totalBytes, ErrSessionTooLarge
	}

	// callers may reuse their buffer
	chunk := make([]byte, len(data))
	copy(chunk, data)
	session.chunks = append(session.chunks, chunk)
	session.totalBytes += len(chunk)
	session.UpdatedAt = s.now()
	return session.totalBytes, nil
}

// Get returns the current state of a session
func (s *CaptureSessionService) Get(id string) (*CaptureSessionInfo, error) {
	session := s.get(id)
	if session == nil {
		return nil, ErrSessionNotFound
	}
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.closed {
		return nil, ErrSessionNotFound
	}
	return session.info(), nil
}

// detach removes a session from the table and closes it to further appends
func (s *CaptureSessionService) detach(id string) *CaptureSession {
	s.mutex.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mutex.Unlock()
	if !ok {
		return nil
	}

	session.mutex.Lock()
	session.closed = true
	session.mutex.Unlock()
	return session
}

// Stop removes the session and transcribes its audio. A session with no audio
// yields empty text without contacting the transcription provider.
func (s *CaptureSessionService) Stop(ctx context.Context, id string) (*TranscriptResult, error) {
	session := s.detach(id)
	if session == nil {
		return nil, ErrSessionNotFound
	}
	s.metrics.RecordSessionEnded("stop")

	// closed sessions are no longer mutated
	chunks, total, format := session.chunks, session.totalBytes, session.Format
	session.chunks = nil

	log.Printf("🎙️ Capture session %s stopped (%d bytes in %d chunks)", id, total, len(chunks))
	if total == 0 {
		return &TranscriptResult{SessionID: id}, nil
	}

	wav := audio.EncodeWAVChunks(chunks, total, format.SampleRate, format.Channels, format.BitsPerSample)
	result, err := s.transcribe(ctx, wav, format, total)
	if err != nil {
		return nil, err
	}
	result.SessionID = id
	return result, nil
}

// TranscribeOnce frames a complete PCM clip and transcribes it without a session
func (s *CaptureSessionService) TranscribeOnce(ctx context.Context, format CaptureFormat, pcm []byte) (*TranscriptResult, error) {
	format, err := format.Normalize()
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(pcm) > s.maxBytes {
		return nil, ErrSessionTooLarge
	}
	wav := audio.EncodeWAV(pcm, format.SampleRate, format.Channels, format.BitsPerSample)
	return s.transcribe(ctx, wav, format, len(pcm))
}

func (s *CaptureSessionService) transcribe(ctx context.Context, wav []byte, format CaptureFormat, pcmBytes int) (*TranscriptResult, error) {
	if s.transcriber == nil {
		s.metrics.RecordTranscription("unconfigured", 0)
		return nil, audio.ErrNoProvider
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.transcriber.Transcribe(ctx, &audio.TranscribeRequest{
		Audio:     wav,
		MediaType: "audio/wav",
		Filename:  "capture.wav",
		Language:  s.language,
	})
	if err != nil {
		s.metrics.RecordTranscription("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	s.metrics.RecordTranscription("ok", time.Since(start).Seconds())

	return &TranscriptResult{
		Text:     resp.Text,
		Bytes:    pcmBytes,
		Seconds:  float64(pcmBytes) / float64(format.bytesPerSecond()),
		Provider: resp.Provider,
	}, nil
}

// Abort discards a session. It reports whether a session was removed and never fails.
func (s *CaptureSessionService) Abort(id string) bool {
	session := s.detach(id)
	if session == nil {
		return false
	}
	session.chunks = nil
	s.metrics.RecordSessionEnded("abort")
	log.Printf("🎙️ Capture session %s aborted", id)
	return true
}

// Sweep removes sessions idle for longer than the max age and returns how many were removed
func (s *CaptureSessionService) Sweep() int {
	cutoff := s.now().Add(-s.maxAge)

	s.mutex.Lock()
	var expired []*CaptureSession
	for id, session := range s.sessions {
		session.mutex.Lock()
		if session.UpdatedAt.Before(cutoff) {
			session.closed = true
			session.chunks = nil
			delete(s.sessions, id)
			expired = append(expired, session)
		}
		session.mutex.Unlock()
	}
	active := len(s.sessions)
	s.mutex.Unlock()

	for _, session := range expired {
		s.metrics.RecordSessionEnded("expired")
		log.Printf("🎙️ Capture session %s expired", session.ID)
	}
	if len(expired) > 0 {
		log.Printf("🎙️ Swept %d expired capture sessions, %d active", len(expired), active)
	}
	return len(expired)
}

// Stats returns the number of live sessions and their buffered bytes
func (s *CaptureSessionService) Stats() CaptureStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := CaptureStats{ActiveSessions: len(s.sessions)}
	for _, session := range s.sessions {
		session.mutex.Lock()
		stats.BufferedBytes += session.totalBytes
		session.mutex.Unlock()
	}
	return stats
}

// Shutdown drops every live session
func (s *CaptureSessionService) Shutdown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, session := range s.sessions {
		session.mutex.Lock()
		session.closed = true
		session.chunks = nil
		session.mutex.Unlock()
		delete(s.sessions, id)
	}
	log.Println("🎙️ CaptureSessionService shutdown complete")
}
