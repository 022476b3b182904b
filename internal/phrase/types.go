package phrase

import (
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/audio"
	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
)

// Frame is one chunk of captured audio for a single channel. Frames are
// ephemeral: the assembler copies what it needs and the frame is gone.
type Frame struct {
	SessionID  string
	Channel    shared.Channel
	Samples    []float32
	SampleRate int
	CapturedAt time.Time
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	return time.Duration(audio.Duration(len(f.Samples), f.SampleRate) * float64(time.Second))
}

// End returns the capture timestamp of the frame's last sample.
func (f Frame) End() time.Time {
	return f.CapturedAt.Add(f.Duration())
}

// Phrase is a completed utterance candidate handed to transcription.
type Phrase struct {
	SessionID      string
	Channel        shared.Channel
	Samples        []float32
	SampleRate     int
	StartedAt      time.Time
	EndedAt        time.Time
	VoicedDuration time.Duration
	// Forced marks phrases flushed by teardown or the buffer cap rather
	// than a detected pause.
	Forced bool
}

func (p Phrase) Duration() time.Duration {
	return time.Duration(audio.Duration(len(p.Samples), p.SampleRate) * float64(time.Second))
}
