package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/oodaa/signal-relay/internal/relay"
)

func TestReaperEvictsSilentSession(t *testing.T) {
	clock := newFakeClock()
	hub, ts := newTestServer(t, clock, nil)

	c := dial(t, ts)
	c.register("alice", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper := relay.NewReaper(hub, 10*time.Millisecond, 5*time.Minute, testLogger())
	go reaper.Run(ctx)

	clock.Advance(5*time.Minute + time.Second)

	c.expectClosed()
	waitFor(t, "session reaped", func() bool {
		clients, users := hub.Counts()
		return clients == 0 && users == 0
	})
}

func TestReaperStopsOnCancel(t *testing.T) {
	hub := relay.NewHub(testLogger(), nil, nil)
	reaper := relay.NewReaper(hub, time.Millisecond, time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reaper did not stop after cancel")
	}
}
