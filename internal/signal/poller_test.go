package signal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPollerBackoffGrowsAndResets(t *testing.T) {
	p := NewPoller(NewChannel(RoleRenter), nil, nil, PollerConfig{Base: time.Second, Max: 10 * time.Second})

	withoutJitter := func() time.Duration {
		// sample repeatedly; jitter is ±200ms so the midpoint identifies
		// the underlying interval within one base step
		var sum time.Duration
		const n = 50
		for i := 0; i < n; i++ {
			sum += p.nextInterval()
		}
		return sum / n
	}

	p.emptyPolls = 0
	if got := withoutJitter(); got < 700*time.Millisecond || got > 1300*time.Millisecond {
		t.Errorf("empty=0: interval ≈ %v, want ≈1s", got)
	}
	p.emptyPolls = 2
	if got := withoutJitter(); got < 3500*time.Millisecond || got > 4500*time.Millisecond {
		t.Errorf("empty=2: interval ≈ %v, want ≈4s", got)
	}
	p.emptyPolls = 10
	if got := withoutJitter(); got > 10300*time.Millisecond {
		t.Errorf("interval %v exceeds cap", got)
	}
}

func TestPollerRunStopsOnSessionEnd(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	poll := func(ctx context.Context, since uint64) (PollResult, error) {
		mu.Lock()
		defer mu.Unlock()
		polls++
		switch polls {
		case 1:
			return PollResult{OK: true, Messages: []Message{
				{Index: 0, From: RoleSharer, Payload: Output{Status: "running"}},
			}, NextIndex: 1}, nil
		case 2:
			return PollResult{}, errors.New("connection reset") // transient
		default:
			return PollResult{OK: true, SessionEnded: true}, nil
		}
	}

	h := &recordingHandler{}
	p := NewPoller(NewChannel(RoleRenter), poll, h, PollerConfig{Base: time.Millisecond, Max: 2 * time.Millisecond})

	// nextInterval floors at 100ms; keep the test fast by polling directly.
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if ended := p.pollOnce(ctx); ended {
			break
		}
	}

	if len(h.outputs) != 1 {
		t.Errorf("outputs = %d, want 1", len(h.outputs))
	}
	if h.ended != 1 {
		t.Errorf("teardown ran %d times, want 1", h.ended)
	}
	mu.Lock()
	defer mu.Unlock()
	if polls != 3 {
		t.Errorf("polls = %d, want 3 (error retried on next tick, not inline)", polls)
	}
}

func TestPollerSingleInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	poll := func(ctx context.Context, since uint64) (PollResult, error) {
		close(started)
		<-release
		return PollResult{OK: true}, nil
	}
	p := NewPoller(NewChannel(RoleSharer), poll, &recordingHandler{}, PollerConfig{})

	done := make(chan struct{})
	go func() {
		p.pollOnce(context.Background())
		close(done)
	}()
	<-started

	// A second poll while the first is outstanding must be skipped, not
	// queued behind it.
	finished := make(chan struct{})
	go func() {
		p.pollOnce(context.Background())
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("overlapping poll was not skipped")
	}

	close(release)
	<-done
}
