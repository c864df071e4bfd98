package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/llm"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/prompt"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/session"
)

func TestSweepRemovesIdleSessions(t *testing.T) {
	eng, store, _ := newTestEngine(llm.MockResponse{Content: "reply"})
	ctx := context.Background()

	stale := session.New("sess_stale")
	stale.LastActive = time.Now().Add(-2 * time.Hour)
	if err := store.Put(ctx, stale); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	fresh := session.New("sess_fresh")
	if err := store.Put(ctx, fresh); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	removed, err := eng.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d sessions, want 1", removed)
	}

	if _, err := store.Get(ctx, "sess_stale"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("stale session still present: %v", err)
	}
	if _, err := store.Get(ctx, "sess_fresh"); err != nil {
		t.Errorf("fresh session swept: %v", err)
	}
}

func TestSweepSkipsRecentlyTouched(t *testing.T) {
	eng, store, _ := newTestEngine(llm.MockResponse{Content: "reply"})
	ctx := context.Background()

	sess := session.New("sess_touched")
	sess.LastActive = time.Now().UTC()
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	removed, err := eng.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}
	if removed != 0 {
		t.Errorf("Sweep removed %d sessions, want 0", removed)
	}
}

// noIdleStore is a Store without idle tracking.
type noIdleStore struct {
	session.Store
}

func TestSweepWithoutIdleTracking(t *testing.T) {
	store := &noIdleStore{Store: session.NewMemoryStore()}
	client := llm.NewMockClient(llm.MockResponse{Content: "reply"})
	eng := New(store, client, prompt.New("test persona", 0, 0), "test-model", 256)

	removed, err := eng.Sweep(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}
	if removed != 0 {
		t.Errorf("Sweep removed %d sessions, want 0", removed)
	}
}
