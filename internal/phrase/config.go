package phrase

import (
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/vad"
)

// Config carries the segmentation thresholds. All of them were tuned
// empirically against fragmented/duplicated transcript reports and are
// meant to be re-tuned per deployment, not treated as constants.
type Config struct {
	// VADThreshold is the RMS level a frame must exceed to count as voice.
	VADThreshold float64
	// MinVoiceDuration is the floor of accumulated voiced audio required
	// before a silence-triggered flush; filters out clicks and noise bursts.
	MinVoiceDuration time.Duration
	// PhraseEndSilence is the continuous silence after the last voiced
	// frame that ends a phrase.
	PhraseEndSilence time.Duration
	// MaxBuffer caps the accumulated audio per phrase; reaching it forces
	// a flush so memory and backend request size stay bounded.
	MaxBuffer time.Duration
	// FlushCooldown is the window after a flush during which further flush
	// requests for the same buffer are deduplicated.
	FlushCooldown time.Duration
	// QueueSize bounds the per-channel frame queue feeding the assembler.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.VADThreshold <= 0 {
		c.VADThreshold = vad.DefaultThreshold
	}
	if c.MinVoiceDuration <= 0 {
		c.MinVoiceDuration = 1200 * time.Millisecond
	}
	if c.PhraseEndSilence <= 0 {
		c.PhraseEndSilence = 2500 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 30 * time.Second
	}
	if c.FlushCooldown <= 0 {
		c.FlushCooldown = 1500 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}
