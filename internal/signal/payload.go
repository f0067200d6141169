// Package signal implements the per-session message channel both peers
// poll during an active session. The relay stores an append-only,
// index-ordered log per session and echoes every message back to both
// roles; this package handles ordering, duplicate suppression and
// self-echo filtering on the consuming side.
package signal

import (
	"encoding/json"
	"fmt"
)

// Peer roles as recorded by the relay on each message.
const (
	RoleSharer = "sharer"
	RoleRenter = "renter"
)

// Payload is the closed set of message kinds a peer can send. Keeping
// it a tagged variant (rather than a free-form map) makes handlers
// exhaustive by construction.
type Payload interface {
	Flag() string
}

// Begin announces an uploaded job to the sharer.
type Begin struct {
	Filename   string `json:"filename"`
	Cmd        string `json:"cmd"`
	ArtifactID string `json:"artifact_id,omitempty"`
	MaxTime    int    `json:"max_time"` // seconds; cooperative runtime ceiling
}

// Output carries intermediate run logs back to the renter.
type Output struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Done is the terminal outcome of a job, addressed to the renter.
type Done struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Artifact *Artifact `json:"artifact,omitempty"`
}

// Artifact describes a result archive held by the relay. The client
// only ever keeps the handle, never a mirror of the stored bytes.
type Artifact struct {
	ArtifactID string `json:"artifact_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Uploaded   bool   `json:"uploaded"`
	Error      string `json:"error,omitempty"`
}

func (Begin) Flag() string  { return "begin" }
func (Output) Flag() string { return "output" }
func (Done) Flag() string   { return "done" }

// EncodePayload serializes a payload with its "flag" discriminator.
func EncodePayload(p Payload) (json.RawMessage, error) {
	switch v := p.(type) {
	case Begin:
		return json.Marshal(struct {
			Flag string `json:"flag"`
			Begin
		}{v.Flag(), v})
	case Output:
		return json.Marshal(struct {
			Flag string `json:"flag"`
			Output
		}{v.Flag(), v})
	case Done:
		return json.Marshal(struct {
			Flag string `json:"flag"`
			Done
		}{v.Flag(), v})
	default:
		return nil, fmt.Errorf("unknown payload type %T", p)
	}
}

// DecodePayload parses a wire payload by its "flag" discriminator.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var head struct {
		Flag string `json:"flag"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode payload header: %w", err)
	}
	switch head.Flag {
	case "begin":
		var p Begin
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "output":
		var p Output
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "done":
		var p Done
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payload flag %q", head.Flag)
	}
}

// Message is one entry of the relay's per-session log. Index is
// server-assigned and strictly increasing within a session.
type Message struct {
	Index   uint64
	From    string
	Payload Payload
}

// UnmarshalJSON decodes the wire form, resolving the payload variant.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire struct {
		Index   uint64          `json:"index"`
		From    string          `json:"from"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := DecodePayload(wire.Payload)
	if err != nil {
		return err
	}
	m.Index = wire.Index
	m.From = wire.From
	m.Payload = payload
	return nil
}

// MarshalJSON encodes the wire form with the payload flag inlined.
func (m Message) MarshalJSON() ([]byte, error) {
	payload, err := EncodePayload(m.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Index   uint64          `json:"index"`
		From    string          `json:"from"`
		Payload json.RawMessage `json:"payload"`
	}{m.Index, m.From, payload})
}

// PollResult is one relay poll response for a session.
type PollResult struct {
	OK           bool      `json:"ok"`
	Messages     []Message `json:"messages"`
	NextIndex    uint64    `json:"next_msg_index"`
	SessionEnded bool      `json:"session_ended"`
}
