package signal

import (
	"reflect"
	"testing"
)

// recordingHandler captures every delivered event in order.
type recordingHandler struct {
	begins  []Begin
	outputs []Output
	dones   []Done
	ended   int
}

func (h *recordingHandler) HandleBegin(p Begin)   { h.begins = append(h.begins, p) }
func (h *recordingHandler) HandleOutput(p Output) { h.outputs = append(h.outputs, p) }
func (h *recordingHandler) HandleDone(p Done)     { h.dones = append(h.dones, p) }
func (h *recordingHandler) HandleSessionEnded()   { h.ended++ }

func msg(index uint64, from string, p Payload) Message {
	return Message{Index: index, From: from, Payload: p}
}

func TestApplyDeliversInOrderWithoutDuplicates(t *testing.T) {
	ch := NewChannel(RoleRenter)
	h := &recordingHandler{}

	res := PollResult{
		OK: true,
		Messages: []Message{
			msg(0, RoleSharer, Output{Status: "running", Message: "step 1"}),
			msg(1, RoleSharer, Output{Status: "running", Message: "step 2"}),
		},
		NextIndex: 2,
	}
	ch.Apply(res, h)

	// Relay re-delivers message 1 alongside the next one.
	res = PollResult{
		OK: true,
		Messages: []Message{
			msg(1, RoleSharer, Output{Status: "running", Message: "step 2"}),
			msg(2, RoleSharer, Done{Status: "done", Message: "finished"}),
		},
		NextIndex: 3,
	}
	ch.Apply(res, h)

	got := make([]string, 0, len(h.outputs))
	for _, o := range h.outputs {
		got = append(got, o.Message)
	}
	if !reflect.DeepEqual(got, []string{"step 1", "step 2"}) {
		t.Errorf("outputs processed = %v, want each index exactly once in order", got)
	}
	if len(h.dones) != 1 {
		t.Errorf("dones = %d, want 1", len(h.dones))
	}
	if ch.LastSeen() != 3 {
		t.Errorf("LastSeen = %d, want 3", ch.LastSeen())
	}
}

func TestLastSeenIsNonDecreasing(t *testing.T) {
	ch := NewChannel(RoleRenter)
	h := &recordingHandler{}

	prev := uint64(0)
	results := []PollResult{
		{OK: true, Messages: []Message{msg(0, RoleSharer, Output{})}, NextIndex: 1},
		{OK: true, NextIndex: 1},
		{OK: true, Messages: []Message{msg(1, RoleSharer, Output{}), msg(2, RoleSharer, Output{})}, NextIndex: 3},
		{OK: true, Messages: []Message{msg(0, RoleSharer, Output{})}, NextIndex: 1}, // stale replay
	}
	for i, res := range results {
		ch.Apply(res, h)
		if ch.LastSeen() < prev {
			t.Fatalf("poll %d: LastSeen decreased %d -> %d", i, prev, ch.LastSeen())
		}
		prev = ch.LastSeen()
	}
	if len(h.outputs) != 3 {
		t.Errorf("processed %d outputs, want 3 (no duplicates)", len(h.outputs))
	}
}

func TestSelfEchoSuppression(t *testing.T) {
	for _, role := range []string{RoleSharer, RoleRenter} {
		ch := NewChannel(role)
		h := &recordingHandler{}
		res := PollResult{
			OK: true,
			Messages: []Message{
				msg(0, role, Begin{Filename: "job.zip"}),
				msg(1, role, Output{Status: "done"}),
				msg(2, role, Done{Status: "done"}),
			},
			NextIndex: 3,
		}
		ch.Apply(res, h)
		if len(h.begins)+len(h.outputs)+len(h.dones) != 0 {
			t.Errorf("role %s: acted on self-authored messages", role)
		}
		if ch.LastSeen() != 3 {
			t.Errorf("role %s: self echoes must still advance the cursor, LastSeen=%d", role, ch.LastSeen())
		}
	}
}

func TestSessionEndedHandledOnce(t *testing.T) {
	ch := NewChannel(RoleRenter)
	h := &recordingHandler{}

	endedRes := PollResult{OK: true, SessionEnded: true}
	if ended := ch.Apply(endedRes, h); !ended {
		t.Error("Apply should report session end")
	}
	if ended := ch.Apply(endedRes, h); !ended {
		t.Error("repeated session_ended still reports ended")
	}
	if h.ended != 1 {
		t.Errorf("teardown ran %d times, want exactly once", h.ended)
	}
	if ch.LastSeen() != 0 {
		t.Errorf("cursor should reset on session end, LastSeen=%d", ch.LastSeen())
	}
}

func TestNewSessionClearsEndedLatch(t *testing.T) {
	ch := NewChannel(RoleSharer)
	h := &recordingHandler{}

	ch.Apply(PollResult{OK: true, SessionEnded: true}, h)
	// New session begins on the same channel.
	ch.Apply(PollResult{OK: true, NextIndex: 0}, h)
	ch.Apply(PollResult{OK: true, SessionEnded: true}, h)

	if h.ended != 2 {
		t.Errorf("each session end should tear down once, got %d", h.ended)
	}
}
