package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryapi/internal/audio"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	last  *audio.TranscribeRequest
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req *audio.TranscribeRequest) (*audio.TranscribeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &audio.TranscribeResponse{Text: f.text, Provider: "fake"}, nil
}

func newCaptureService(tr Transcriber) (*CaptureSessionService, *time.Time) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewCaptureSessionService(tr, CaptureSessionConfig{MaxAge: 10 * time.Minute}, nil)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestCaptureFormatNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      CaptureFormat
		want    CaptureFormat
		wantErr error
	}{
		{"defaults", CaptureFormat{}, CaptureFormat{16000, 1, 16}, nil},
		{"low rate clamped", CaptureFormat{SampleRate: 4000, Channels: 1, BitsPerSample: 16}, CaptureFormat{8000, 1, 16}, nil},
		{"high rate clamped", CaptureFormat{SampleRate: 48000, Channels: 1, BitsPerSample: 16}, CaptureFormat{24000, 1, 16}, nil},
		{"channels clamped", CaptureFormat{SampleRate: 16000, Channels: 6, BitsPerSample: 16}, CaptureFormat{16000, 2, 16}, nil},
		{"negative channels", CaptureFormat{SampleRate: 16000, Channels: -1, BitsPerSample: 16}, CaptureFormat{16000, 1, 16}, nil},
		{"8-bit rejected", CaptureFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 8}, CaptureFormat{}, ErrUnsupportedBitDepth},
		{"24-bit rejected", CaptureFormat{BitsPerSample: 24}, CaptureFormat{}, ErrUnsupportedBitDepth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCaptureStopConcatenatesInOrder(t *testing.T) {
	tr := &fakeTranscriber{text: "turn on the lights"}
	svc, _ := newCaptureService(tr)

	info, err := svc.Start(CaptureFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16})
	require.NoError(t, err)
	assert.NotEmpty(t, info.SessionID)

	var want []byte
	for i, n := range []int{10, 20, 30} {
		chunk := bytes.Repeat([]byte{byte(i + 1)}, n)
		want = append(want, chunk...)
		total, err := svc.AppendChunk(info.SessionID, chunk)
		require.NoError(t, err)
		assert.Equal(t, len(want), total)
	}

	result, err := svc.Stop(context.Background(), info.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "turn on the lights", result.Text)
	assert.Equal(t, 60, result.Bytes)

	require.Equal(t, 1, tr.calls)
	wav := tr.last.Audio
	require.Len(t, wav, audio.WAVHeaderSize+60)
	assert.Equal(t, "audio/wav", tr.last.MediaType)
	assert.Equal(t, uint32(60), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, want, wav[audio.WAVHeaderSize:])

	// the session is gone
	_, err = svc.AppendChunk(info.SessionID, []byte{1})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Stop(context.Background(), info.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCaptureAppendCopiesChunk(t *testing.T) {
	tr := &fakeTranscriber{}
	svc, _ := newCaptureService(tr)
	info, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)

	buf := []byte{1, 2, 3, 4}
	_, err = svc.AppendChunk(info.SessionID, buf)
	require.NoError(t, err)
	buf[0] = 99

	_, err = svc.Stop(context.Background(), info.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, tr.last.Audio[audio.WAVHeaderSize:])
}

func TestCaptureStopEmptySessionSkipsTranscription(t *testing.T) {
	tr := &fakeTranscriber{text: "should not be used"}
	svc, _ := newCaptureService(tr)

	info, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)

	result, err := svc.Stop(context.Background(), info.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "", result.Text)
	assert.Equal(t, 0, tr.calls)
}

func TestCaptureAppendErrors(t *testing.T) {
	svc, _ := newCaptureService(&fakeTranscriber{})

	_, err := svc.AppendChunk("missing", []byte{1})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// not found takes precedence over empty
	_, err = svc.AppendChunk("missing", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	info, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)
	_, err = svc.AppendChunk(info.SessionID, []byte{})
	assert.ErrorIs(t, err, ErrEmptyChunk)
}

func TestCaptureSessionSizeCap(t *testing.T) {
	svc := NewCaptureSessionService(&fakeTranscriber{}, CaptureSessionConfig{MaxBytes: 8}, nil)
	info, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)

	_, err = svc.AppendChunk(info.SessionID, make([]byte, 6))
	require.NoError(t, err)
	total, err := svc.AppendChunk(info.SessionID, make([]byte, 4))
	assert.ErrorIs(t, err, ErrSessionTooLarge)
	assert.Equal(t, 6, total)
}

func TestCaptureAbort(t *testing.T) {
	tr := &fakeTranscriber{}
	svc, _ := newCaptureService(tr)

	assert.False(t, svc.Abort("unknown"), "abort of an unknown id is a no-op")

	info, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)
	_, err = svc.AppendChunk(info.SessionID, []byte{1, 2})
	require.NoError(t, err)

	assert.True(t, svc.Abort(info.SessionID))
	assert.False(t, svc.Abort(info.SessionID))

	_, err = svc.AppendChunk(info.SessionID, []byte{1})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, tr.calls)
}

func TestCaptureSweepRemovesIdleSessions(t *testing.T) {
	svc, now := newCaptureService(&fakeTranscriber{})

	stale, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)
	fresh, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)
	_, err = svc.AppendChunk(fresh.SessionID, []byte{1, 2})
	require.NoError(t, err)

	*now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, svc.Sweep())

	_, err = svc.AppendChunk(stale.SessionID, []byte{1})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Get(fresh.SessionID)
	assert.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 2, stats.BufferedBytes)
}

func TestCaptureTranscriptionError(t *testing.T) {
	upstream := &audio.ProviderError{Provider: "groq", StatusCode: 503, Message: "unavailable"}
	svc, _ := newCaptureService(&fakeTranscriber{err: upstream})

	info, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)
	_, err = svc.AppendChunk(info.SessionID, []byte{1, 2})
	require.NoError(t, err)

	_, err = svc.Stop(context.Background(), info.SessionID)
	var pe *audio.ProviderError
	require.True(t, errors.As(err, &pe))

	// a failed stop still removes the session
	_, err = svc.Get(info.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCaptureConcurrentSessions(t *testing.T) {
	tr := &fakeTranscriber{text: "ok"}
	svc, _ := newCaptureService(tr)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := svc.Start(CaptureFormat{})
			if !assert.NoError(t, err) {
				return
			}
			for j := 0; j < 50; j++ {
				_, err := svc.AppendChunk(info.SessionID, []byte{byte(j), byte(j)})
				assert.NoError(t, err)
			}
			res, err := svc.Stop(context.Background(), info.SessionID)
			if assert.NoError(t, err) {
				assert.Equal(t, 100, res.Bytes)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, svc.Stats().ActiveSessions)
	assert.Equal(t, 8, tr.calls)
}

func TestTranscribeOnce(t *testing.T) {
	tr := &fakeTranscriber{text: "hello"}
	svc, _ := newCaptureService(tr)

	_, err := svc.TranscribeOnce(context.Background(), CaptureFormat{}, nil)
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = svc.TranscribeOnce(context.Background(), CaptureFormat{BitsPerSample: 8}, []byte{1})
	assert.ErrorIs(t, err, ErrUnsupportedBitDepth)

	res, err := svc.TranscribeOnce(context.Background(), CaptureFormat{SampleRate: 16000}, make([]byte, 32000))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.InDelta(t, 1.0, res.Seconds, 0.0001)
}

func TestCaptureWithoutTranscriber(t *testing.T) {
	svc := NewCaptureSessionService(nil, CaptureSessionConfig{}, nil)
	info, err := svc.Start(CaptureFormat{})
	require.NoError(t, err)
	_, err = svc.AppendChunk(info.SessionID, []byte{1, 2})
	require.NoError(t, err)

	_, err = svc.Stop(context.Background(), info.SessionID)
	assert.ErrorIs(t, err, audio.ErrNoProvider)
}
