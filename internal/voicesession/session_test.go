package voicesession

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/igorvboas/medcall-ai-sub003/internal/phrase"
	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
	"github.com/igorvboas/medcall-ai-sub003/internal/transcription"
	"github.com/igorvboas/medcall-ai-sub003/internal/utterance"
	"github.com/igorvboas/medcall-ai-sub003/internal/vad"
)

const (
	testRate     = 16000
	testFrameLen = 1600 // 100ms
)

var testBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipelineConfig() Config {
	return Config{
		Phrase: phrase.Config{
			VADThreshold:     0.01,
			MinVoiceDuration: 500 * time.Millisecond,
			PhraseEndSilence: 1 * time.Second,
			MaxBuffer:        30 * time.Second,
			FlushCooldown:    200 * time.Millisecond,
			QueueSize:        256,
		},
		TranscribeTimeout: 2 * time.Second,
		TeardownGrace:     2 * time.Second,
	}
}

type fakeTranscriber struct {
	mu     sync.Mutex
	calls  int
	delay  time.Duration
	err    error
	text   string
	empty  bool
	source string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req transcription.Request) (transcription.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return transcription.Result{}, &transcription.BackendError{
				Message: ctx.Err().Error(), Err: transcription.ErrBackendUnavailable}
		}
	}
	if f.err != nil {
		return transcription.Result{}, f.err
	}
	text := f.text
	if text == "" && !f.empty {
		text = "frase de teste"
	}
	source := f.source
	if source == "" {
		source = transcription.SourceBackend
	}
	return transcription.Result{Text: text, Confidence: 0.9, Source: source}, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	got  []*utterance.Utterance
	cond *sync.Cond
}

func newFakeBroadcaster() *fakeBroadcaster {
	b := &fakeBroadcaster{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *fakeBroadcaster) BroadcastTranscript(_ string, u *utterance.Utterance) {
	b.mu.Lock()
	b.got = append(b.got, u)
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *fakeBroadcaster) waitFor(t *testing.T, n int, timeout time.Duration) []*utterance.Utterance {
	t.Helper()
	deadline := time.Now().Add(timeout)
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.got) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d utterances, have %d", n, len(b.got))
		}
		remaining := time.Until(deadline)
		timer := time.AfterFunc(remaining, func() { b.cond.Broadcast() })
		b.cond.Wait()
		timer.Stop()
	}
	out := make([]*utterance.Utterance, len(b.got))
	copy(out, b.got)
	return out
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.got)
}

func testUtteranceStore(t *testing.T) *utterance.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	store := utterance.NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return store
}

func frame(amplitude float32) []float32 {
	samples := make([]float32, testFrameLen)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}

// pushRun feeds consecutive 100ms frames starting at the given offset.
func pushRun(t *testing.T, sess *Session, channel shared.Channel, start time.Duration, count int, amplitude float32) {
	t.Helper()
	for i := 0; i < count; i++ {
		at := testBase.Add(start + time.Duration(i)*100*time.Millisecond)
		if err := sess.HandleFrame(channel, frame(amplitude), testRate, at); err != nil {
			t.Fatalf("HandleFrame: %v", err)
		}
	}
}

func newTestSession(t *testing.T, cfg Config, transcriber, fallback transcription.Transcriber,
	store *utterance.Store, b Broadcaster) *Session {
	t.Helper()
	det := vad.NewDetector(cfg.Phrase.VADThreshold)
	sess := newSession("sess_test", "consult_test", cfg, det,
		transcriber, fallback, store, nil, b, testLogger())
	t.Cleanup(sess.End)
	return sess
}

func TestSession_PhraseFlowsToBroadcastAndStore(t *testing.T) {
	ft := &fakeTranscriber{text: "bom dia doutor"}
	fb := newFakeBroadcaster()
	store := testUtteranceStore(t)
	sess := newTestSession(t, testPipelineConfig(), ft, nil, store, fb)

	// 1s of voice then 1.2s of silence crosses the phrase boundary.
	pushRun(t, sess, shared.ChannelPatient, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelPatient, time.Second, 12, 0)

	got := fb.waitFor(t, 1, 3*time.Second)
	u := got[0]
	if u.Text != "bom dia doutor" {
		t.Errorf("text = %q", u.Text)
	}
	if u.Channel != shared.ChannelPatient {
		t.Errorf("channel = %q", u.Channel)
	}
	if u.SessionID != "sess_test" || u.ConsultationID != "consult_test" {
		t.Errorf("ids = %q/%q", u.SessionID, u.ConsultationID)
	}
	if u.Source != transcription.SourceBackend {
		t.Errorf("source = %q", u.Source)
	}
	if !u.IsFinal {
		t.Error("utterance not final")
	}

	persisted, err := store.ListBySession(context.Background(), "sess_test", 0, 0)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(persisted) != 1 || persisted[0].Text != "bom dia doutor" {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestSession_ChannelsAreIndependent(t *testing.T) {
	ft := &fakeTranscriber{}
	fb := newFakeBroadcaster()
	sess := newTestSession(t, testPipelineConfig(), ft, nil, nil, fb)

	pushRun(t, sess, shared.ChannelDoctor, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelPatient, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelDoctor, time.Second, 12, 0)
	pushRun(t, sess, shared.ChannelPatient, time.Second, 12, 0)

	got := fb.waitFor(t, 2, 3*time.Second)
	channels := map[shared.Channel]int{}
	for _, u := range got {
		channels[u.Channel]++
	}
	if channels[shared.ChannelDoctor] != 1 || channels[shared.ChannelPatient] != 1 {
		t.Errorf("per-channel counts = %v", channels)
	}
}

func TestSession_SingleChannelBroadcastsInSpokenOrder(t *testing.T) {
	ft := &fakeTranscriber{delay: 300 * time.Millisecond}
	fb := newFakeBroadcaster()
	sess := newTestSession(t, testPipelineConfig(), ft, nil, nil, fb)

	// First phrase: 1s of voice, the pause crosses the 1s boundary.
	pushRun(t, sess, shared.ChannelDoctor, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelDoctor, time.Second, 12, 0)
	waitForCalls(t, ft, 1, 3*time.Second)

	// Second phrase arrives while the first transcription is still in
	// flight. Its boundary is re-evaluated on every silent frame, so the
	// flush happens only once the buffer re-arms, keeping the channel's
	// broadcasts in spoken order.
	pushRun(t, sess, shared.ChannelDoctor, 3*time.Second, 10, 0.5)
	for i := 0; i < 40 && fb.count() < 2; i++ {
		at := 4*time.Second + time.Duration(i)*100*time.Millisecond
		pushRun(t, sess, shared.ChannelDoctor, at, 1, 0)
		time.Sleep(25 * time.Millisecond)
	}

	got := fb.waitFor(t, 2, 5*time.Second)
	if !got[0].StartedAt.Equal(testBase) {
		t.Errorf("first broadcast started at %v, want %v", got[0].StartedAt, testBase)
	}
	if want := testBase.Add(3 * time.Second); !got[1].StartedAt.Equal(want) {
		t.Errorf("second broadcast started at %v, want %v", got[1].StartedAt, want)
	}
}

func TestSession_BackendFailureWithoutFallbackDropsPhrase(t *testing.T) {
	ft := &fakeTranscriber{err: &transcription.BackendError{
		Message: "down", Err: transcription.ErrBackendUnavailable}}
	fb := newFakeBroadcaster()
	sess := newTestSession(t, testPipelineConfig(), ft, nil, nil, fb)

	pushRun(t, sess, shared.ChannelDoctor, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelDoctor, time.Second, 12, 0)

	waitForCalls(t, ft, 1, 3*time.Second)
	time.Sleep(100 * time.Millisecond)
	if n := fb.count(); n != 0 {
		t.Errorf("broadcasts = %d, want 0", n)
	}
}

func TestSession_FallbackSimulationMarkedApproximate(t *testing.T) {
	ft := &fakeTranscriber{err: &transcription.BackendError{
		Message: "down", Err: transcription.ErrBackendUnavailable}}
	fb := newFakeBroadcaster()
	store := testUtteranceStore(t)
	sess := newTestSession(t, testPipelineConfig(), ft, transcription.NewSimulator(), store, fb)

	pushRun(t, sess, shared.ChannelPatient, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelPatient, time.Second, 12, 0)

	got := fb.waitFor(t, 1, 3*time.Second)
	if got[0].Source != transcription.SourceSimulated {
		t.Errorf("source = %q, want simulated", got[0].Source)
	}
	if got[0].Confidence < 0.6 || got[0].Confidence > 0.95 {
		t.Errorf("confidence = %f", got[0].Confidence)
	}
}

func TestSession_InvalidAudioDoesNotFallBack(t *testing.T) {
	ft := &fakeTranscriber{err: &transcription.BackendError{
		Message: "bad wav", Err: transcription.ErrInvalidAudio}}
	fb := newFakeBroadcaster()
	sess := newTestSession(t, testPipelineConfig(), ft, transcription.NewSimulator(), nil, fb)

	pushRun(t, sess, shared.ChannelDoctor, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelDoctor, time.Second, 12, 0)

	waitForCalls(t, ft, 1, 3*time.Second)
	time.Sleep(100 * time.Millisecond)
	if n := fb.count(); n != 0 {
		t.Errorf("broadcasts = %d, want 0", n)
	}
}

func TestSession_EndFlushesBufferedTail(t *testing.T) {
	ft := &fakeTranscriber{text: "final da consulta"}
	fb := newFakeBroadcaster()
	sess := newTestSession(t, testPipelineConfig(), ft, nil, nil, fb)

	// 0.3s of voice, below the floor and with no silence boundary yet.
	pushRun(t, sess, shared.ChannelDoctor, 0, 3, 0.5)
	sess.End()

	got := fb.waitFor(t, 1, 3*time.Second)
	if got[0].Text != "final da consulta" {
		t.Errorf("text = %q", got[0].Text)
	}
}

func TestSession_LateResultAfterTeardownDropped(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.TranscribeTimeout = 5 * time.Second
	cfg.TeardownGrace = 50 * time.Millisecond

	ft := &fakeTranscriber{delay: 500 * time.Millisecond}
	fb := newFakeBroadcaster()
	sess := newTestSession(t, cfg, ft, nil, nil, fb)

	pushRun(t, sess, shared.ChannelDoctor, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelDoctor, time.Second, 12, 0)

	waitForCalls(t, ft, 1, 3*time.Second)
	sess.End()

	// The transcription finishes after teardown; its result must not leak.
	time.Sleep(700 * time.Millisecond)
	if n := fb.count(); n != 0 {
		t.Errorf("late broadcasts = %d, want 0", n)
	}
}

func TestSession_HandleFrameAfterEnd(t *testing.T) {
	sess := newTestSession(t, testPipelineConfig(), &fakeTranscriber{}, nil, nil, newFakeBroadcaster())
	sess.End()

	err := sess.HandleFrame(shared.ChannelDoctor, frame(0.5), testRate, testBase)
	if err != shared.ErrSessionEnded {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}
}

func TestSession_EmptyTranscriptionNotBroadcast(t *testing.T) {
	ft := &fakeTranscriber{empty: true}
	fb := newFakeBroadcaster()
	sess := newTestSession(t, testPipelineConfig(), ft, nil, nil, fb)

	pushRun(t, sess, shared.ChannelDoctor, 0, 10, 0.5)
	pushRun(t, sess, shared.ChannelDoctor, time.Second, 12, 0)

	waitForCalls(t, ft, 1, 3*time.Second)
	time.Sleep(100 * time.Millisecond)
	if n := fb.count(); n != 0 {
		t.Errorf("broadcasts = %d, want 0", n)
	}
}

func waitForCalls(t *testing.T, ft *fakeTranscriber, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for ft.callCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d transcriber calls, have %d", n, ft.callCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
