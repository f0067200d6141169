package signal

// Handler consumes the messages a channel delivers. One method per
// payload variant keeps handling exhaustive.
type Handler interface {
	HandleBegin(Begin)
	HandleOutput(Output)
	HandleDone(Done)
	HandleSessionEnded()
}

// Channel tracks the local consumption cursor for one session. It
// guarantees each message index is acted on at most once, in order,
// and that messages authored by the local role are never acted on.
//
// A Channel is owned by a single polling loop and is not safe for
// concurrent use.
type Channel struct {
	role         string
	lastSeen     uint64
	endedHandled bool
}

// NewChannel creates a channel cursor for the given local role.
func NewChannel(role string) *Channel {
	return &Channel{role: role}
}

// LastSeen returns the index the next poll should resume from.
func (c *Channel) LastSeen() uint64 {
	return c.lastSeen
}

// Reset clears the cursor for a new session.
func (c *Channel) Reset() {
	c.lastSeen = 0
	c.endedHandled = false
}

// Apply processes one poll result through the handler and reports
// whether the session has ended. Rules, in order:
//
//   - session_ended fires the teardown handler at most once per
//     session, regardless of how many polls repeat the flag.
//   - a message with index below the cursor is skipped (already done).
//   - the cursor advances past a message before its side effects run,
//     so a handler that triggers another poll cannot reprocess it.
//   - messages authored by the local role are skipped after the cursor
//     advances; the relay echoes everything to both peers.
func (c *Channel) Apply(res PollResult, h Handler) (ended bool) {
	if res.SessionEnded {
		if !c.endedHandled {
			c.endedHandled = true
			c.lastSeen = 0
			h.HandleSessionEnded()
		}
		return true
	}
	// A fresh session on the same channel clears the latch.
	c.endedHandled = false

	for _, m := range res.Messages {
		if m.Index < c.lastSeen {
			continue
		}
		c.lastSeen = max(c.lastSeen, m.Index+1)

		if m.From == c.role {
			continue
		}

		switch p := m.Payload.(type) {
		case Begin:
			h.HandleBegin(p)
		case Output:
			h.HandleOutput(p)
		case Done:
			h.HandleDone(p)
		}
	}

	c.lastSeen = max(c.lastSeen, res.NextIndex)
	return false
}
