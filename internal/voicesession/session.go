package voicesession

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/igorvboas/medcall-ai-sub003/internal/phrase"
	"github.com/igorvboas/medcall-ai-sub003/internal/room"
	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
	"github.com/igorvboas/medcall-ai-sub003/internal/transcription"
	"github.com/igorvboas/medcall-ai-sub003/internal/utterance"
	"github.com/igorvboas/medcall-ai-sub003/internal/vad"
)

// Broadcaster fans a finalized utterance out to the session's listeners.
// The gateway hub implements it.
type Broadcaster interface {
	BroadcastTranscript(sessionID string, u *utterance.Utterance)
}

// Session runs the audio pipeline for one consultation: per-channel phrase
// assembly, transcription, persistence and broadcast.
type Session struct {
	ID             string
	ConsultationID string

	cfg         Config
	det         *vad.Detector
	transcriber transcription.Transcriber
	fallback    transcription.Transcriber
	utterances  *utterance.Store
	rooms       *room.Store
	broadcaster Broadcaster
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	assemblers map[shared.Channel]*phrase.Assembler
	lastActive time.Time
	paused     bool
	ended      bool

	wg sync.WaitGroup
}

func newSession(id, consultationID string, cfg Config, det *vad.Detector,
	transcriber transcription.Transcriber, fallback transcription.Transcriber,
	utterances *utterance.Store, rooms *room.Store,
	broadcaster Broadcaster, log *slog.Logger) *Session {

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:             id,
		ConsultationID: consultationID,
		cfg:            cfg.withDefaults(),
		det:            det,
		transcriber:    transcriber,
		fallback:       fallback,
		utterances:     utterances,
		rooms:          rooms,
		broadcaster:    broadcaster,
		log:            log.With("component", "voice-session", "session_id", id),
		ctx:            ctx,
		cancel:         cancel,
		assemblers:     make(map[shared.Channel]*phrase.Assembler),
		lastActive:     time.Now(),
	}
}

// HandleFrame routes one capture frame to its channel's assembler,
// creating the assembler on first use.
func (s *Session) HandleFrame(channel shared.Channel, samples []float32, sampleRate int, capturedAt time.Time) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return shared.ErrSessionEnded
	}
	s.lastActive = time.Now()
	if s.paused {
		s.mu.Unlock()
		return nil
	}
	asm, ok := s.assemblers[channel]
	if !ok {
		asm = s.newAssembler(channel)
		s.assemblers[channel] = asm
	}
	s.mu.Unlock()

	return asm.Push(phrase.Frame{
		SessionID:  s.ID,
		Channel:    channel,
		Samples:    samples,
		SampleRate: sampleRate,
		CapturedAt: capturedAt,
	})
}

func (s *Session) newAssembler(channel shared.Channel) *phrase.Assembler {
	var asm *phrase.Assembler
	sink := func(p phrase.Phrase) {
		s.wg.Add(1)
		go s.process(asm, p)
	}
	asm = phrase.NewAssembler(s.ID, channel, s.cfg.Phrase, s.det, sink, s.log)
	return asm
}

// process runs flush → transcribe → persist → broadcast for one phrase.
// It always releases the assembler's in-flight guard, exactly once.
func (s *Session) process(asm *phrase.Assembler, p phrase.Phrase) {
	defer s.wg.Done()
	defer asm.CompleteFlush()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TranscribeTimeout)
	defer cancel()

	req := transcription.Request{Samples: p.Samples, SampleRate: p.SampleRate}
	result, err := s.transcriber.Transcribe(ctx, req)
	if err != nil {
		s.log.Warn("transcription failed",
			"channel", p.Channel,
			"duration", p.Duration(),
			"error", err)

		if !errors.Is(err, transcription.ErrBackendUnavailable) || s.fallback == nil {
			return
		}
		result, err = s.fallback.Transcribe(ctx, req)
		if err != nil {
			s.log.Error("fallback simulation failed", "error", err)
			return
		}
	}
	if result.Text == "" {
		s.log.Debug("empty transcription dropped", "channel", p.Channel)
		return
	}

	// Teardown already completed: the session's listeners are gone and the
	// record is closed. Drop the result instead of resurrecting it.
	if s.ctx.Err() != nil {
		s.log.Debug("late transcription result dropped", "channel", p.Channel)
		return
	}

	// The id is assigned here, not by the store, so broadcast dedup works
	// even when persistence is down.
	u := &utterance.Utterance{
		ID:             uuid.New().String(),
		SessionID:      s.ID,
		ConsultationID: s.ConsultationID,
		Channel:        p.Channel,
		Text:           result.Text,
		Confidence:     result.Confidence,
		StartedAt:      p.StartedAt,
		EndedAt:        p.EndedAt,
		IsFinal:        true,
		Source:         result.Source,
	}

	// Persistence failures must not cost the live transcript.
	if s.utterances != nil {
		if err := s.utterances.Create(context.Background(), u); err != nil {
			s.log.Error("failed to persist utterance", "error", err, "channel", p.Channel)
		}
	}
	if s.rooms != nil {
		if err := s.rooms.IncrementUtterances(context.Background(), s.ID); err != nil {
			s.log.Warn("failed to bump utterance counter", "error", err)
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastTranscript(s.ID, u)
	}
}

// RequestFlush forces every channel's buffer out, e.g. when the operator
// stops transcription explicitly.
func (s *Session) RequestFlush() {
	s.mu.Lock()
	assemblers := make([]*phrase.Assembler, 0, len(s.assemblers))
	for _, asm := range s.assemblers {
		assemblers = append(assemblers, asm)
	}
	s.mu.Unlock()

	for _, asm := range assemblers {
		asm.RequestFlush(true)
	}
}

// End flushes every non-empty buffer, waits for in-flight transcriptions
// up to the teardown grace, then cancels the session so stragglers drop.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	assemblers := make([]*phrase.Assembler, 0, len(s.assemblers))
	for _, asm := range s.assemblers {
		assemblers = append(assemblers, asm)
	}
	s.mu.Unlock()

	for _, asm := range assemblers {
		asm.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.TeardownGrace):
		s.log.Warn("teardown grace expired with transcriptions in flight")
	}

	s.cancel()
	s.log.Info("session pipeline ended")
}

// SetPaused gates frame intake. Pausing does not flush: the caller decides
// whether the buffered tail should go out first.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
