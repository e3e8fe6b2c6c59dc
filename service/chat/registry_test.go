package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"consultchat/service/fabric"
)

type fakePresence struct {
	mu       sync.Mutex
	online   map[string]bool
	onlines  int
	offlines int
	beats    int
	lastSeen map[string]time.Time
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: map[string]bool{}, lastSeen: map[string]time.Time{}}
}

func (f *fakePresence) MarkOnline(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
	f.onlines++
	return nil
}

func (f *fakePresence) MarkOffline(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = false
	f.lastSeen[userID] = time.Now().UTC()
	f.offlines++
	return nil
}

func (f *fakePresence) Heartbeat(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats++
	return nil
}

func (f *fakePresence) IsOnline(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID], nil
}

func (f *fakePresence) LastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.lastSeen[userID]
	return ts, ok, nil
}

func (f *fakePresence) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onlines, f.offlines
}

func bareSession(id, userID string) *Session {
	return &Session{
		id:     id,
		userID: userID,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		groups: map[string]bool{},
	}
}

func nextFrame(t *testing.T, s *Session) map[string]any {
	t.Helper()
	select {
	case raw := <-s.send:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestRegistryRefcountsPresence(t *testing.T) {
	p := newFakePresence()
	fab := fabric.NewLocal()
	r := NewRegistry(p, fab)
	ctx := context.Background()

	watcher := bareSession("w", "watcher")
	if err := fab.Join(fabric.PresenceGroup, watcher); err != nil {
		t.Fatalf("join: %v", err)
	}

	s1 := bareSession("s1", "u1")
	s2 := bareSession("s2", "u1")

	r.Connect(ctx, s1)
	frame := nextFrame(t, watcher)
	if frame["type"] != EvUserStatus || frame["user_id"] != "u1" || frame["status"] != "online" {
		t.Fatalf("first connect frame = %v", frame)
	}

	r.Connect(ctx, s2)
	select {
	case raw := <-watcher.send:
		t.Fatalf("second connection rebroadcast status: %s", raw)
	default:
	}

	if on, off := p.counts(); on != 1 || off != 0 {
		t.Fatalf("marks after connects = %d/%d", on, off)
	}
	if r.ConnectionCount("u1") != 2 {
		t.Fatalf("connection count = %d", r.ConnectionCount("u1"))
	}

	r.Disconnect(ctx, s1)
	if on, off := p.counts(); on != 1 || off != 0 {
		t.Fatalf("offline marked with a live connection remaining: %d/%d", on, off)
	}
	select {
	case raw := <-watcher.send:
		t.Fatalf("early offline broadcast: %s", raw)
	default:
	}

	r.Disconnect(ctx, s2)
	if on, off := p.counts(); on != 1 || off != 1 {
		t.Fatalf("marks after last disconnect = %d/%d", on, off)
	}
	frame = nextFrame(t, watcher)
	if frame["type"] != EvUserStatus || frame["status"] != "offline" {
		t.Fatalf("offline frame = %v", frame)
	}
	if frame["last_seen"] == "" || frame["last_seen"] == nil {
		t.Fatal("offline frame without last_seen")
	}
}

func TestRegistryIndependentUsers(t *testing.T) {
	p := newFakePresence()
	r := NewRegistry(p, fabric.NewLocal())
	ctx := context.Background()

	a := bareSession("a", "u1")
	b := bareSession("b", "u2")
	r.Connect(ctx, a)
	r.Connect(ctx, b)
	if on, _ := p.counts(); on != 2 {
		t.Fatalf("onlines = %d, want one per user", on)
	}

	r.Disconnect(ctx, a)
	online, _ := p.IsOnline(ctx, "u2")
	if !online {
		t.Fatal("u2 went offline with u1's disconnect")
	}
}
