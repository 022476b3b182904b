package transcription

import (
	"errors"
	"fmt"
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/audio"
)

var (
	// ErrBackendUnavailable covers unreachable, rate-limited and
	// non-success responses from the speech backend, including timeouts.
	ErrBackendUnavailable = errors.New("transcription backend unavailable")
	// ErrInvalidAudio means the backend (or the encoder) rejected the
	// audio payload itself.
	ErrInvalidAudio = errors.New("invalid audio payload")
)

// BackendError carries the HTTP status and backend message alongside the
// sentinel it wraps, so callers can errors.Is while logs keep the detail.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transcription backend: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("transcription backend: %s", e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

const (
	SourceBackend   = "backend"
	SourceSimulated = "simulated"
)

type Request struct {
	Samples    []float32
	SampleRate int
}

func (r Request) Duration() time.Duration {
	return time.Duration(audio.Duration(len(r.Samples), r.SampleRate) * float64(time.Second))
}

type Result struct {
	Text       string
	Confidence float64
	Model      string
	// Source distinguishes real backend output from the deterministic
	// simulator, so approximate utterances stay visibly approximate.
	Source string
}

type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	// Timeout bounds a single backend call end to end.
	Timeout time.Duration
	// MaxConcurrent bounds in-flight backend calls across all sessions.
	MaxConcurrent int
	// RequestsPerSecond throttles calls to stay under the backend quota.
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "whisper-1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	return c
}
