package session

import (
	"context"
	"fmt"

	"github.com/gpulend/gpulend-cli/internal/relay"
)

// PendingEvent is the outcome of one renter-side pending poll.
type PendingEvent int

const (
	// PendingWaiting means the sharer has not answered yet.
	PendingWaiting PendingEvent = iota

	// PendingAccepted means a session token was issued; the negotiator
	// is now Active.
	PendingAccepted

	// PendingClosed means the relay no longer tracks the request. The
	// protocol does not distinguish an explicit decline from expiry, so
	// neither does this event; both return the negotiator to Idle.
	PendingClosed
)

// Renter is the renter-side negotiator. Not safe for concurrent use;
// it belongs to the renter's control loop.
type Renter struct {
	relay    Relay
	username string
	pwd      string

	state  State
	target string // matched sharer, set while a request is out
	token  string
}

// NewRenter creates a renter negotiator in the Idle state.
func NewRenter(r Relay, username, pwd string) *Renter {
	return &Renter{relay: r, username: username, pwd: pwd}
}

// State returns the current negotiation state.
func (r *Renter) State() State { return r.state }

// Token returns the active session token, empty unless Active.
func (r *Renter) Token() string { return r.token }

// Target returns the matched sharer's identity while a request is out.
func (r *Renter) Target() string { return r.target }

// Request submits resource requirements and transitions to
// RequestSent. Returns relay.ErrNoMatch (state unchanged) when no
// eligible sharer exists, ErrSessionActive if a session is already in
// progress.
func (r *Renter) Request(ctx context.Context, req relay.ResourceRequest) (*relay.SharerInfo, error) {
	if r.state != StateIdle {
		return nil, ErrSessionActive
	}
	sharer, err := r.relay.RequestGPU(ctx, r.username, req)
	if err != nil {
		return nil, err
	}
	r.state = StateRequestSent
	r.target = sharer.Username
	return sharer, nil
}

// PollPending checks the outstanding request. Call on a fixed
// interval while in RequestSent. On accept the session token is stored
// and the caller should refresh credits (the relay deducts on accept).
func (r *Renter) PollPending(ctx context.Context) (PendingEvent, error) {
	if r.state != StateRequestSent {
		return PendingWaiting, fmt.Errorf("poll pending in state %s", r.state)
	}

	pending, err := r.relay.PendingFor(ctx, r.username)
	if err != nil {
		// Transport errors are retried on the next scheduled tick.
		return PendingWaiting, err
	}

	if pending == nil {
		// Rejected or expired; the relay doesn't say which.
		r.reset()
		return PendingClosed, nil
	}

	switch pending.State {
	case "pending":
		return PendingWaiting, nil
	case "accepted":
		r.state = StateActive
		r.token = pending.Token
		return PendingAccepted, nil
	default:
		return PendingWaiting, fmt.Errorf("unexpected pending state %q", pending.State)
	}
}

// Cancel cancels a pending request or active session via the relay and
// returns to Idle.
func (r *Renter) Cancel(ctx context.Context) (*relay.CancelResult, error) {
	res, err := r.relay.CancelRent(ctx, r.username, r.pwd)
	if err != nil {
		return nil, err
	}
	r.reset()
	return res, nil
}

// End requests explicit termination of the active session. The sharer
// learns about it via session_ended on its next signal poll.
func (r *Renter) End(ctx context.Context) error {
	if r.state != StateActive {
		return ErrNotActive
	}
	err := r.relay.EndSession(ctx, r.token)
	r.reset()
	return err
}

// Teardown clears local session state without calling the relay. Used
// when session_ended is observed on the signal channel: the session is
// already gone server-side.
func (r *Renter) Teardown() {
	r.reset()
}

func (r *Renter) reset() {
	r.state = StateIdle
	r.target = ""
	r.token = ""
}
