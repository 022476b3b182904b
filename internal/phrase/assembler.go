// Package phrase assembles raw audio frames into utterance candidates.
// One Assembler owns the buffer for a single (session, channel) pair; all
// buffer mutation happens on its consumer goroutine, so frame delivery,
// flush requests and completion signals never race.
package phrase

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/audio"
	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
	"github.com/igorvboas/medcall-ai-sub003/internal/vad"
)

// ErrQueueFull is returned by Push when the bounded frame queue is full.
// The transport drops the frame and keeps going; blocking the socket read
// loop on a slow consumer is worse than losing a 100ms frame.
var ErrQueueFull = errors.New("phrase: frame queue full")

type bufferState string

const (
	stateIdle         bufferState = "idle"
	stateAccumulating bufferState = "accumulating"
)

// Sink receives completed phrases. It runs on the assembler goroutine and
// must hand long work (transcription) off to another goroutine, then call
// CompleteFlush from there once that work finishes.
type Sink func(Phrase)

type msgKind int

const (
	msgFrame msgKind = iota
	msgFlush
	msgComplete
	msgSync
)

// inMsg is the single FIFO inbox entry. Frames and control share one
// channel so that flush requests and sync barriers observe every frame
// pushed before them.
type inMsg struct {
	kind   msgKind
	frame  Frame
	forced bool
	ack    chan struct{}
}

type Assembler struct {
	sessionID string
	channel   shared.Channel
	cfg       Config
	det       *vad.Detector
	sink      Sink
	log       *slog.Logger

	inbox chan inMsg
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	// Everything below is owned by the run goroutine.
	state         bufferState
	samples       []float32
	sampleRate    int
	startedAt     time.Time
	lastVoiceAt   time.Time
	voicedDur     time.Duration
	bufferedDur   time.Duration
	voicedFrames  int
	silentFrames  int
	inFlight      bool
	lastFlushedAt time.Time
	// now is the logical clock: the latest frame end time seen. Using it
	// instead of wall time keeps boundary decisions a pure function of
	// the frames.
	now time.Time
}

func NewAssembler(sessionID string, channel shared.Channel, cfg Config, det *vad.Detector, sink Sink, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	if det == nil {
		det = vad.NewDetector(cfg.VADThreshold)
	}

	a := &Assembler{
		sessionID: sessionID,
		channel:   channel,
		cfg:       cfg,
		det:       det,
		sink:      sink,
		log:       log.With("component", "phrase_assembler", "session_id", sessionID, "channel", channel),
		inbox:     make(chan inMsg, cfg.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     stateIdle,
	}

	go a.run()
	return a
}

// Push enqueues a frame without blocking. Returns ErrQueueFull when the
// bounded queue is saturated and shared.ErrSessionEnded after Close.
func (a *Assembler) Push(f Frame) error {
	select {
	case <-a.done:
		return shared.ErrSessionEnded
	default:
	}

	select {
	case a.inbox <- inMsg{kind: msgFrame, frame: f}:
		return nil
	default:
		return ErrQueueFull
	}
}

// RequestFlush asks the assembler to finalize whatever is buffered. A
// forced flush (session stop, idle teardown) bypasses the minimum voiced
// duration floor; both kinds honor the in-flight/cooldown dedup guard.
func (a *Assembler) RequestFlush(forced bool) {
	select {
	case a.inbox <- inMsg{kind: msgFlush, forced: forced}:
	case <-a.done:
	}
}

// CompleteFlush signals that the transcription for the last flushed
// phrase finished (successfully or not), re-arming the buffer. Call it
// from the transcription goroutine, never from inside the Sink.
func (a *Assembler) CompleteFlush() {
	select {
	case a.inbox <- inMsg{kind: msgComplete}:
	case <-a.done:
	}
}

// Sync blocks until every message queued before it has been processed.
func (a *Assembler) Sync() {
	ack := make(chan struct{})
	select {
	case a.inbox <- inMsg{kind: msgSync, ack: ack}:
	case <-a.done:
		return
	}
	select {
	case <-ack:
	case <-a.done:
	}
}

// Close drains queued frames, performs a final forced flush of any
// buffered audio, and stops the consumer goroutine.
func (a *Assembler) Close() {
	a.once.Do(func() {
		close(a.quit)
	})
	<-a.done
}

func (a *Assembler) run() {
	defer close(a.done)

	for {
		select {
		case msg := <-a.inbox:
			a.handle(msg)
		case <-a.quit:
			a.drainAndStop()
			return
		}
	}
}

func (a *Assembler) drainAndStop() {
	for {
		select {
		case msg := <-a.inbox:
			a.handle(msg)
		default:
			a.flush(true, "teardown")
			return
		}
	}
}

func (a *Assembler) handle(msg inMsg) {
	switch msg.kind {
	case msgFrame:
		a.handleFrame(msg.frame)
	case msgFlush:
		a.flush(msg.forced, "external")
	case msgComplete:
		a.inFlight = false
	case msgSync:
		close(msg.ack)
	}
}

func (a *Assembler) handleFrame(f Frame) {
	dur := f.Duration()
	if dur <= 0 {
		return
	}
	if dur > a.cfg.MaxBuffer {
		a.log.Warn("rejecting malformed frame, duration exceeds buffer cap",
			"frame_ms", dur.Milliseconds(), "cap_ms", a.cfg.MaxBuffer.Milliseconds())
		return
	}
	if end := f.End(); end.After(a.now) {
		a.now = end
	}

	res := a.det.Classify(f.Samples)

	switch a.state {
	case stateIdle:
		if !res.Voiced {
			return
		}
		a.startBuffer(f, dur)

	case stateAccumulating:
		if a.bufferedDur+dur > a.cfg.MaxBuffer {
			if !a.flush(true, "buffer_cap") {
				// Cap reached while a transcription is still in flight:
				// the buffer cannot be handed off, and it cannot keep
				// growing either.
				a.log.Warn("discarding capped buffer, flush unavailable",
					"buffered_ms", a.bufferedDur.Milliseconds())
				a.resetBuffer()
			}
			if res.Voiced {
				a.startBuffer(f, dur)
			}
			return
		}

		a.append(f, dur, res.Voiced)
		a.evaluateBoundary()
	}
}

func (a *Assembler) startBuffer(f Frame, dur time.Duration) {
	a.state = stateAccumulating
	a.samples = append([]float32(nil), f.Samples...)
	a.sampleRate = f.SampleRate
	a.startedAt = f.CapturedAt
	a.lastVoiceAt = f.End()
	a.voicedDur = dur
	a.bufferedDur = dur
	a.voicedFrames = 1
	a.silentFrames = 0
}

func (a *Assembler) append(f Frame, dur time.Duration, voiced bool) {
	samples := f.Samples
	if f.SampleRate != a.sampleRate {
		// The buffer keeps the rate pinned by its first frame; a frame
		// captured at another rate is converted so the flushed phrase
		// carries one coherent sample rate.
		samples = audio.Resample(samples, f.SampleRate, a.sampleRate)
	}
	a.samples = append(a.samples, samples...)
	a.bufferedDur += dur
	if voiced {
		a.voicedDur += dur
		a.lastVoiceAt = f.End()
		a.voicedFrames++
	} else {
		a.silentFrames++
	}
}

func (a *Assembler) evaluateBoundary() {
	silence := a.now.Sub(a.lastVoiceAt)
	if silence < a.cfg.PhraseEndSilence {
		return
	}

	if a.voicedDur < a.cfg.MinVoiceDuration {
		// A short burst followed by a real pause is noise, not speech.
		a.log.Debug("discarding sub-minimum buffer",
			"voiced_ms", a.voicedDur.Milliseconds(),
			"min_ms", a.cfg.MinVoiceDuration.Milliseconds())
		a.resetBuffer()
		return
	}

	a.flush(false, "phrase_end")
}

// flush finalizes the buffer and hands it to the sink. Returns false when
// nothing was flushed: empty buffer, duplicate request while a
// transcription is in flight, within the cooldown window, or a non-forced
// request below the voiced duration floor.
func (a *Assembler) flush(forced bool, reason string) bool {
	if len(a.samples) == 0 {
		return false
	}
	if a.inFlight {
		a.log.Debug("duplicate flush ignored, transcription in flight", "reason", reason)
		return false
	}
	if !a.lastFlushedAt.IsZero() && a.now.Sub(a.lastFlushedAt) < a.cfg.FlushCooldown {
		a.log.Debug("duplicate flush ignored, inside cooldown window",
			"reason", reason,
			"since_last_ms", a.now.Sub(a.lastFlushedAt).Milliseconds())
		return false
	}
	if !forced && a.voicedDur < a.cfg.MinVoiceDuration {
		a.log.Debug("flush below voiced floor ignored", "reason", reason)
		return false
	}

	endedAt := a.lastVoiceAt
	if endedAt.IsZero() {
		endedAt = a.now
	}

	p := Phrase{
		SessionID:      a.sessionID,
		Channel:        a.channel,
		Samples:        a.samples,
		SampleRate:     a.sampleRate,
		StartedAt:      a.startedAt,
		EndedAt:        endedAt,
		VoicedDuration: a.voicedDur,
		Forced:         forced,
	}

	a.log.Debug("flushing phrase",
		"reason", reason,
		"buffered_ms", a.bufferedDur.Milliseconds(),
		"voiced_ms", a.voicedDur.Milliseconds(),
		"voiced_frames", a.voicedFrames,
		"silent_frames", a.silentFrames)

	a.inFlight = true
	a.lastFlushedAt = a.now
	a.resetBuffer()
	a.sink(p)
	return true
}

func (a *Assembler) resetBuffer() {
	a.state = stateIdle
	a.samples = nil
	a.sampleRate = 0
	a.startedAt = time.Time{}
	a.lastVoiceAt = time.Time{}
	a.voicedDur = 0
	a.bufferedDur = 0
	a.voicedFrames = 0
	a.silentFrames = 0
}
