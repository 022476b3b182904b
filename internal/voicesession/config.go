package voicesession

import (
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/phrase"
)

type Config struct {
	// Phrase is the assembler tuning applied to every channel.
	Phrase phrase.Config
	// TranscribeTimeout bounds one backend call for one phrase.
	TranscribeTimeout time.Duration
	// TeardownGrace is how long EndSession waits for in-flight
	// transcriptions before dropping their results.
	TeardownGrace time.Duration
	// FallbackSimulation substitutes a deterministic simulated transcript
	// when the backend is unavailable. Off by default.
	FallbackSimulation bool
	// IdleTimeout ends sessions that stop receiving frames. Zero disables
	// the reaper.
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 30 * time.Second
	}
	if c.TeardownGrace <= 0 {
		c.TeardownGrace = 10 * time.Second
	}
	return c
}
