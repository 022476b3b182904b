package voicesession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
	"github.com/igorvboas/medcall-ai-sub003/internal/vad"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeBroadcaster) {
	t.Helper()
	fb := newFakeBroadcaster()
	m := NewManager(cfg, vad.NewDetector(cfg.Phrase.VADThreshold),
		&fakeTranscriber{}, nil, nil, nil, testLogger())
	m.SetBroadcaster(fb)
	t.Cleanup(func() {
		m.StopReaper()
		m.Reset(context.Background())
	})
	return m, fb
}

func TestManager_CreateAndGet(t *testing.T) {
	m, _ := newTestManager(t, testPipelineConfig())

	sess, err := m.Create("sess_1", "consult_1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID != "sess_1" {
		t.Errorf("id = %q", sess.ID)
	}

	got, err := m.Get("sess_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != sess {
		t.Error("Get returned a different session")
	}
}

func TestManager_CreateDuplicateConflicts(t *testing.T) {
	m, _ := newTestManager(t, testPipelineConfig())

	if _, err := m.Create("sess_dup", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("sess_dup", ""); !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestManager_GetUnknown(t *testing.T) {
	m, _ := newTestManager(t, testPipelineConfig())

	if _, err := m.Get("sess_ghost"); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestManager_EndSessionFlushesAndRemoves(t *testing.T) {
	m, fb := newTestManager(t, testPipelineConfig())

	sess, err := m.Create("sess_end", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	pushRun(t, sess, shared.ChannelDoctor, 0, 3, 0.5)

	if err := m.EndSession(context.Background(), "sess_end"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	// The buffered tail still reaches the listeners.
	fb.waitFor(t, 1, 3*time.Second)

	if _, err := m.Get("sess_end"); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("err after end = %v, want ErrNotFound", err)
	}
	if err := m.EndSession(context.Background(), "sess_end"); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("second end err = %v, want ErrNotFound", err)
	}
}

func TestManager_RecreateAfterEnd(t *testing.T) {
	m, _ := newTestManager(t, testPipelineConfig())

	if _, err := m.Create("sess_re", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.EndSession(context.Background(), "sess_re"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := m.Create("sess_re", ""); err != nil {
		t.Fatalf("recreate after end: %v", err)
	}
}

func TestManager_UpdatePipelineConfig(t *testing.T) {
	m, _ := newTestManager(t, testPipelineConfig())

	cfg := m.PipelineConfig()
	cfg.Phrase.PhraseEndSilence = 4 * time.Second
	m.UpdatePipelineConfig(cfg)

	if got := m.PipelineConfig().Phrase.PhraseEndSilence; got != 4*time.Second {
		t.Errorf("PhraseEndSilence = %v", got)
	}
}

func TestManager_ResetRestoresDefaultsAndEndsSessions(t *testing.T) {
	m, _ := newTestManager(t, testPipelineConfig())

	cfg := m.PipelineConfig()
	original := cfg.Phrase.PhraseEndSilence
	cfg.Phrase.PhraseEndSilence = 9 * time.Second
	m.UpdatePipelineConfig(cfg)
	m.Detector().SetThreshold(0.5)

	if _, err := m.Create("sess_r1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("sess_r2", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	m.Reset(context.Background())

	if got := m.PipelineConfig().Phrase.PhraseEndSilence; got != original {
		t.Errorf("PhraseEndSilence = %v, want %v", got, original)
	}
	if got := m.Detector().Threshold(); got != vad.DefaultThreshold {
		t.Errorf("threshold = %f, want default", got)
	}
	if n := m.ActiveCount(); n != 0 {
		t.Errorf("active sessions after reset = %d", n)
	}
}

func TestManager_ReaperEndsIdleSessions(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	m, _ := newTestManager(t, cfg)

	if _, err := m.Create("sess_idle", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	m.StartReaper()

	deadline := time.Now().Add(5 * time.Second)
	for m.ActiveCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle session never reaped")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
