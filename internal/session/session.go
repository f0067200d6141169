// Package session drives the negotiation state machine between a
// renter and a sharer, mediated by the poll-only relay. Each side owns
// its local view of the session exclusively; the only shared state is
// the relay's.
package session

import (
	"context"
	"errors"

	"github.com/gpulend/gpulend-cli/internal/relay"
)

// State is the local negotiation state.
type State int

const (
	// StateIdle means no request or session exists.
	StateIdle State = iota

	// StateRequestSent means a renter request awaits the sharer's answer.
	StateRequestSent

	// StatePendingIncoming means an incoming request awaits the local
	// sharer's answer.
	StatePendingIncoming

	// StateActive means a session token is held and signaling may run.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestSent:
		return "request-sent"
	case StatePendingIncoming:
		return "pending-incoming"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// ErrSessionActive is returned when a new request is attempted while a
// session is already active or being negotiated. At most one session
// per client exists at a time.
var ErrSessionActive = errors.New("a session is already active or pending")

// ErrNotActive is returned for session operations that need a token.
var ErrNotActive = errors.New("no active session")

// Relay is the slice of the relay client the negotiators use.
type Relay interface {
	RequestGPU(ctx context.Context, username string, req relay.ResourceRequest) (*relay.SharerInfo, error)
	PendingFor(ctx context.Context, renter string) (*relay.Pending, error)
	PollIncoming(ctx context.Context, sharer string) (*relay.Pending, error)
	Respond(ctx context.Context, sharer string, accept bool) (*relay.RespondResult, error)
	CancelRent(ctx context.Context, username, pwd string) (*relay.CancelResult, error)
	EndSession(ctx context.Context, token string) error
}
