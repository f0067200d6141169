package session

import (
	"context"
	"fmt"
)

// Incoming is a request from a renter awaiting this sharer's answer.
type Incoming struct {
	Renter string
}

// Sharer is the sharer-side negotiator. Not safe for concurrent use;
// it belongs to the sharing control loop.
type Sharer struct {
	relay    Relay
	username string

	state State
	token string

	// asked dedups the incoming prompt: a request from the same renter
	// is surfaced once per answer, not on every poll tick.
	asked string
}

// NewSharer creates a sharer negotiator in the Idle state.
func NewSharer(r Relay, username string) *Sharer {
	return &Sharer{relay: r, username: username}
}

// State returns the current negotiation state.
func (s *Sharer) State() State { return s.state }

// Token returns the active session token, empty unless Active.
func (s *Sharer) Token() string { return s.token }

// PollIncoming checks the relay for a request addressed to this
// sharer. Returns nil when there is nothing new to answer: no request,
// a request already surfaced, or an active session in progress.
func (s *Sharer) PollIncoming(ctx context.Context) (*Incoming, error) {
	if s.state == StateActive {
		return nil, nil
	}

	pending, err := s.relay.PollIncoming(ctx, s.username)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		// Request withdrawn or expired; allow the next one through.
		s.asked = ""
		if s.state == StatePendingIncoming {
			s.state = StateIdle
		}
		return nil, nil
	}

	switch pending.State {
	case "pending":
		if s.asked == pending.Renter {
			return nil, nil
		}
		s.asked = pending.Renter
		s.state = StatePendingIncoming
		return &Incoming{Renter: pending.Renter}, nil
	case "accepted":
		// Already answered; nothing to surface.
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected pending state %q", pending.State)
	}
}

// Respond answers the surfaced request. On accept the session token is
// stored and the negotiator becomes Active; on decline it returns to
// Idle and the same request will not be surfaced again.
func (s *Sharer) Respond(ctx context.Context, accept bool) (string, error) {
	if s.state != StatePendingIncoming {
		return "", fmt.Errorf("respond in state %s", s.state)
	}

	res, err := s.relay.Respond(ctx, s.username, accept)
	if err != nil {
		return "", err
	}

	if !accept {
		s.state = StateIdle
		return "", nil
	}

	s.state = StateActive
	s.token = res.Token
	s.asked = ""
	return res.Token, nil
}

// End requests explicit termination of the active session.
func (s *Sharer) End(ctx context.Context) error {
	if s.state != StateActive {
		return ErrNotActive
	}
	err := s.relay.EndSession(ctx, s.token)
	s.Teardown()
	return err
}

// Teardown clears local session state without calling the relay.
func (s *Sharer) Teardown() {
	s.state = StateIdle
	s.token = ""
	s.asked = ""
}
