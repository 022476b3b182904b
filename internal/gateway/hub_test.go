package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
	"github.com/igorvboas/medcall-ai-sub003/internal/utterance"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeListener builds a wsListener without a real socket; only the send
// queue and done channel matter for hub behavior.
func fakeListener() *wsListener {
	return &wsListener{
		logger: testLogger(),
		send:   make(chan *Event, 256),
		done:   make(chan struct{}),
	}
}

func drainEvents(l *wsListener) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-l.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func testUtterance(id string) *utterance.Utterance {
	return &utterance.Utterance{
		ID:        id,
		SessionID: "sess_1",
		Channel:   shared.ChannelDoctor,
		Text:      "texto",
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
		IsFinal:   true,
	}
}

func TestHub_BroadcastReachesAllListeners(t *testing.T) {
	hub := NewHub(testLogger())
	a, b := fakeListener(), fakeListener()
	hub.Register("sess_1", "doctor", a)
	hub.Register("sess_1", "patient", b)

	hub.BroadcastTranscript("sess_1", testUtterance("utt_1"))

	for name, l := range map[string]*wsListener{"doctor": a, "patient": b} {
		events := drainEvents(l)
		if len(events) != 1 || events[0].Type != EventTranscript {
			t.Errorf("%s got %d events", name, len(events))
		}
	}
}

func TestHub_AtMostOncePerUtteranceID(t *testing.T) {
	hub := NewHub(testLogger())
	l := fakeListener()
	hub.Register("sess_1", "doctor", l)

	hub.BroadcastTranscript("sess_1", testUtterance("utt_dup"))
	hub.BroadcastTranscript("sess_1", testUtterance("utt_dup"))
	hub.BroadcastTranscript("sess_1", testUtterance("utt_other"))

	events := drainEvents(l)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	ids := map[string]bool{}
	for _, ev := range events {
		ids[ev.Transcript.UtteranceID] = true
	}
	if !ids["utt_dup"] || !ids["utt_other"] {
		t.Errorf("ids = %v", ids)
	}
}

func TestHub_RejoinReplacesStaleListener(t *testing.T) {
	hub := NewHub(testLogger())
	stale := fakeListener()
	hub.Register("sess_1", "doctor", stale)

	fresh := fakeListener()
	hub.Register("sess_1", "doctor", fresh)

	select {
	case <-stale.Done():
	default:
		t.Error("stale listener was not closed")
	}
	if n := hub.ParticipantCount("sess_1"); n != 1 {
		t.Errorf("participants = %d, want 1", n)
	}

	hub.BroadcastTranscript("sess_1", testUtterance("utt_1"))
	if events := drainEvents(fresh); len(events) != 1 {
		t.Errorf("fresh got %d events, want 1", len(events))
	}
	// A transcript must never fan out twice because of a reconnect.
	if events := drainEvents(stale); len(events) != 0 {
		t.Errorf("stale got %d events, want 0", len(events))
	}
}

func TestHub_UnregisterIgnoresReplacedConnection(t *testing.T) {
	hub := NewHub(testLogger())
	var emptied []string
	hub.SetOnEmpty(func(id string) { emptied = append(emptied, id) })

	stale := fakeListener()
	hub.Register("sess_1", "doctor", stale)
	fresh := fakeListener()
	hub.Register("sess_1", "doctor", fresh)

	// The stale connection's teardown races the rejoin; it must not evict
	// the fresh registration.
	hub.Unregister("sess_1", "doctor", stale)
	if n := hub.ParticipantCount("sess_1"); n != 1 {
		t.Errorf("participants = %d, want 1", n)
	}
	if len(emptied) != 0 {
		t.Errorf("onEmpty fired for a replaced connection: %v", emptied)
	}
}

func TestHub_LastLeaveFiresOnEmpty(t *testing.T) {
	hub := NewHub(testLogger())
	var emptied []string
	hub.SetOnEmpty(func(id string) { emptied = append(emptied, id) })

	a, b := fakeListener(), fakeListener()
	hub.Register("sess_1", "doctor", a)
	hub.Register("sess_1", "patient", b)

	hub.Unregister("sess_1", "doctor", a)
	if len(emptied) != 0 {
		t.Fatalf("onEmpty fired early: %v", emptied)
	}
	hub.Unregister("sess_1", "patient", b)
	if len(emptied) != 1 || emptied[0] != "sess_1" {
		t.Fatalf("onEmpty = %v", emptied)
	}
}

func TestHub_BroadcastEventSkipsOriginator(t *testing.T) {
	hub := NewHub(testLogger())
	a, b := fakeListener(), fakeListener()
	hub.Register("sess_1", "doctor", a)
	hub.Register("sess_1", "patient", b)

	hub.BroadcastEvent("sess_1", &Event{Type: EventParticipantIn, SessionID: "sess_1"}, a)

	if events := drainEvents(a); len(events) != 0 {
		t.Errorf("originator got %d events", len(events))
	}
	if events := drainEvents(b); len(events) != 1 {
		t.Errorf("other got %d events, want 1", len(events))
	}
}

func TestSeenRing_EvictsOldest(t *testing.T) {
	ring := newSeenRing()
	for i := 0; i < seenRingSize+1; i++ {
		if !ring.remember(fmt.Sprintf("utt_%d", i)) {
			t.Fatalf("id utt_%d reported as duplicate", i)
		}
	}
	// utt_0 rolled out of the ring, so it counts as new again.
	if !ring.remember("utt_0") {
		t.Error("evicted id still reported as duplicate")
	}
	if ring.remember(fmt.Sprintf("utt_%d", seenRingSize)) {
		t.Error("recent id not deduplicated")
	}
}
