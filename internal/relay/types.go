package relay

import "fmt"

// ResourceRequest is the renter's declared requirement set sent to
// /request_gpu for matchmaking.
type ResourceRequest struct {
	VRAM       int `json:"vram"`
	MaxTime    int `json:"max_time"` // minutes
	CPUCores   int `json:"cpu_cores"`
	CPUThreads int `json:"cpu_threads"`
	NumGPU     int `json:"num_gpu"`
	RAMGB      int `json:"ram_gb"`
}

// SharerInfo identifies the sharer the relay matched a request to.
type SharerInfo struct {
	Username string  `json:"username"`
	GPU      string  `json:"gpu"`
	VRAM     float64 `json:"vram"`
}

// Pending is the relay's view of an outstanding request, as seen by
// either side. State is "pending" or "accepted"; a request the relay
// no longer tracks comes back as an absent pending record.
type Pending struct {
	State  string `json:"state"`
	Sharer string `json:"sharer"`
	Renter string `json:"renter"`
	GPU    string `json:"gpu"`
	Tier   string `json:"tier"`
	Token  string `json:"token"`
}

// GPUName returns the best available GPU label for display.
func (p *Pending) GPUName() string {
	if p.GPU != "" {
		return p.GPU
	}
	return p.Tier
}

// RespondResult is returned when a sharer answers an incoming request.
type RespondResult struct {
	Token         string   `json:"token"`
	RenterCredits *float64 `json:"renter_credits"`
}

// CancelResult reports what /cancel_rent actually cancelled.
type CancelResult struct {
	CancelledPending       bool `json:"cancelled_pending"`
	CancelledActiveSession bool `json:"cancelled_active_session"`
	Refunded               bool `json:"refunded"`
}

// Counts is the relay's public presence counters.
type Counts struct {
	Sharing int `json:"sharing"`
	Renting int `json:"renting"`
}

// APIError is a relay response that carried ok=false.
type APIError struct {
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay %s: request rejected", e.Endpoint)
	}
	return fmt.Sprintf("relay %s: %s", e.Endpoint, e.Message)
}

// ErrNoMatch is returned by RequestGPU when no eligible sharer exists.
var ErrNoMatch = fmt.Errorf("no matching sharer available")
