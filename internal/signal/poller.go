package signal

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

// PollFunc fetches the session log from the relay starting at `since`.
// Implemented by the relay client.
type PollFunc func(ctx context.Context, since uint64) (PollResult, error)

// PollerConfig holds tuning for a Poller. Zero values take defaults
// matching the relay's expected load profile.
type PollerConfig struct {
	// Base is the interval while messages are flowing (default 1s).
	Base time.Duration

	// Max caps the backed-off interval (default 10s).
	Max time.Duration

	// LogFn is an optional callback for logging (if nil, silent).
	LogFn func(level, msg string)
}

// Poller drives a Channel on an adaptive interval: fast while messages
// flow, backing off exponentially (with jitter) while the log is quiet.
// At most one poll request is in flight at any time; a tick that fires
// while a request is outstanding is skipped.
type Poller struct {
	channel    *Channel
	poll       PollFunc
	handler    Handler
	cfg        PollerConfig
	emptyPolls int
	inFlight   atomic.Bool
}

// NewPoller creates a poller over the given channel cursor.
func NewPoller(channel *Channel, poll PollFunc, handler Handler, cfg PollerConfig) *Poller {
	if cfg.Base == 0 {
		cfg.Base = time.Second
	}
	if cfg.Max == 0 {
		cfg.Max = 10 * time.Second
	}
	return &Poller{channel: channel, poll: poll, handler: handler, cfg: cfg}
}

func (p *Poller) log(level, format string, args ...any) {
	if p.cfg.LogFn != nil {
		p.cfg.LogFn(level, fmt.Sprintf(format, args...))
	}
}

// Run polls until the session ends or the context is cancelled. A
// transport error is logged and retried on the next scheduled tick,
// never inline.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(0) // first poll immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if ended := p.pollOnce(ctx); ended {
			return nil
		}
		timer.Reset(p.nextInterval())
	}
}

// pollOnce performs a single guarded poll and applies the result.
func (p *Poller) pollOnce(ctx context.Context) (ended bool) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer p.inFlight.Store(false)

	res, err := p.poll(ctx, p.channel.LastSeen())
	if err != nil {
		p.log("warning", "signal poll failed: %v", err)
		p.emptyPolls++
		return false
	}

	if len(res.Messages) > 0 {
		p.emptyPolls = 0
	} else {
		p.emptyPolls++
	}

	return p.channel.Apply(res, p.handler)
}

// nextInterval computes base × 2^consecutive-empty-polls, capped at
// Max, with ±200ms jitter and a 100ms floor.
func (p *Poller) nextInterval() time.Duration {
	shift := p.emptyPolls
	if shift > 4 {
		shift = 4
	}
	interval := p.cfg.Base << shift
	if interval > p.cfg.Max {
		interval = p.cfg.Max
	}
	jitter := time.Duration(rand.Intn(401)-200) * time.Millisecond
	interval += jitter
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}
