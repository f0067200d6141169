// Package relay is the HTTP client for the GPULend relay server: the
// stateless matchmaking, signaling and artifact store both peers talk
// to. The relay is poll-only; nothing here assumes push or streaming.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/gpulend/gpulend-cli/internal/platform"
	"github.com/gpulend/gpulend-cli/internal/signal"
)

// Client talks to one relay server. All methods are safe for
// concurrent use; a shared limiter bounds the request rate so polling
// loops cannot storm the relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientConfig holds configuration for the relay client.
type ClientConfig struct {
	// BaseURL is the relay server URL (e.g., "http://127.0.0.1:8000")
	BaseURL string

	// Timeout is the HTTP request timeout (default: 15s). Artifact
	// transfers use their own longer timeout.
	Timeout time.Duration

	// RequestsPerSecond bounds the outbound request rate (default: 10).
	RequestsPerSecond float64
}

// NewClient creates a relay client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 10
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 2*int(cfg.RequestsPerSecond)),
	}
}

// BaseURL returns the configured relay URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends one request and decodes the JSON response into out (which
// may be nil). Responses are tolerant-parsed: an explicit ok=false is
// an error, but a response without an ok flag counts as success.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relay %s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay %s: HTTP %d: %s", path, resp.StatusCode, truncateBody(data))
	}

	var probe struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("relay %s: decode response: %w", path, err)
	}
	if probe.OK != nil && !*probe.OK {
		return &APIError{Endpoint: path, Message: probe.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("relay %s: decode response: %w", path, err)
		}
	}
	return nil
}

func truncateBody(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// Register creates an account and returns the starting credit balance.
func (c *Client) Register(ctx context.Context, username, pwd string) (float64, error) {
	var out struct {
		Credits float64 `json:"credits"`
	}
	err := c.do(ctx, http.MethodPost, "/register", nil,
		map[string]any{"username": username, "pwd": pwd, "credits": 0}, &out)
	return out.Credits, err
}

// Login verifies credentials and returns the credit balance.
func (c *Client) Login(ctx context.Context, username, pwd string) (float64, error) {
	var out struct {
		Credits float64 `json:"credits"`
	}
	err := c.do(ctx, http.MethodPost, "/login", nil,
		map[string]any{"username": username, "pwd": pwd}, &out)
	return out.Credits, err
}

// Credits fetches the server-owned balance. The client never computes
// a balance locally, only observes it.
func (c *Client) Credits(ctx context.Context, username, pwd string) (float64, error) {
	var out struct {
		Credits float64 `json:"credits"`
	}
	err := c.do(ctx, http.MethodPost, "/credits", nil,
		map[string]any{"username": username, "pwd": pwd}, &out)
	return out.Credits, err
}

// Counts fetches the public sharing/renting presence counters.
func (c *Client) Counts(ctx context.Context) (Counts, error) {
	var out Counts
	err := c.do(ctx, http.MethodGet, "/counts", nil, nil, &out)
	return out, err
}

// UpdateStatus announces this client's presence ("sharing" or "idle")
// together with the declared machine profile.
func (c *Client) UpdateStatus(ctx context.Context, username, pwd, status string, profile *platform.Profile) error {
	payload := map[string]any{
		"username": username,
		"pwd":      pwd,
		"status":   status,
	}
	if profile != nil {
		payload["gpu"] = profile.GPUName
		payload["vram"] = int(profile.VRAMGB)
		payload["num_gpu"] = profile.NumGPU
		payload["cpu_cores"] = profile.CPUCores
		payload["cpu_threads"] = profile.CPUThreads
		payload["ram_gb"] = int(profile.RAMGB)
	}
	return c.do(ctx, http.MethodPost, "/update_status", nil, payload, nil)
}

// RequestGPU submits resource requirements for matchmaking. Returns
// ErrNoMatch when the relay reports no eligible sharer.
func (c *Client) RequestGPU(ctx context.Context, username string, req ResourceRequest) (*SharerInfo, error) {
	payload := map[string]any{
		"username":    username,
		"vram":        req.VRAM,
		"max_time":    req.MaxTime,
		"cpu_cores":   req.CPUCores,
		"cpu_threads": req.CPUThreads,
		"num_gpu":     req.NumGPU,
		"ram_gb":      req.RAMGB,
	}
	var out struct {
		Sharer *SharerInfo `json:"sharer"`
		GPU    *SharerInfo `json:"gpu"` // older relays use this key
	}
	if err := c.do(ctx, http.MethodPost, "/request_gpu", nil, payload, &out); err != nil {
		return nil, err
	}
	sharer := out.Sharer
	if sharer == nil {
		sharer = out.GPU
	}
	if sharer == nil {
		return nil, ErrNoMatch
	}
	return sharer, nil
}

// PendingFor polls the renter's own outstanding request. A nil Pending
// with nil error means the relay no longer tracks the request: the
// sharer declined or the request expired (the protocol does not say
// which).
func (c *Client) PendingFor(ctx context.Context, renter string) (*Pending, error) {
	var out struct {
		Pending *Pending `json:"pending"`
		Token   string   `json:"token"`
	}
	q := url.Values{"renter": {renter}}
	if err := c.do(ctx, http.MethodGet, "/pending_for", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Pending != nil && out.Pending.Token == "" {
		out.Pending.Token = out.Token
	}
	return out.Pending, nil
}

// PollIncoming polls for a request addressed to this sharer.
func (c *Client) PollIncoming(ctx context.Context, sharer string) (*Pending, error) {
	var out struct {
		Pending *Pending `json:"pending"`
	}
	q := url.Values{"username": {sharer}}
	if err := c.do(ctx, http.MethodGet, "/poll", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}

// Respond answers a pending incoming request. On accept the result
// carries the new session token.
func (c *Client) Respond(ctx context.Context, sharer string, accept bool) (*RespondResult, error) {
	var out struct {
		Token         string   `json:"token"`
		Session       *Pending `json:"session"`
		RenterCredits *float64 `json:"renter_credits"`
	}
	payload := map[string]any{"sharer": sharer, "accept": accept}
	if err := c.do(ctx, http.MethodPost, "/respond", nil, payload, &out); err != nil {
		return nil, err
	}
	token := out.Token
	if token == "" && out.Session != nil {
		token = out.Session.Token
	}
	return &RespondResult{Token: token, RenterCredits: out.RenterCredits}, nil
}

// CancelRent cancels the renter's pending or active session.
func (c *Client) CancelRent(ctx context.Context, username, pwd string) (*CancelResult, error) {
	var out CancelResult
	err := c.do(ctx, http.MethodPost, "/cancel_rent", nil,
		map[string]any{"username": username, "pwd": pwd}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EndSession requests explicit termination. The peer learns about it
// only through session_ended on its next signal poll.
func (c *Client) EndSession(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/end_session", nil, map[string]any{"token": token}, nil)
}

// PollSignals fetches the session log from index `since` onward.
func (c *Client) PollSignals(ctx context.Context, token, role string, since uint64) (signal.PollResult, error) {
	q := url.Values{
		"token": {token},
		"role":  {role},
		"since": {strconv.FormatUint(since, 10)},
	}
	var out signal.PollResult
	if err := c.do(ctx, http.MethodGet, "/signal/poll", q, nil, &out); err != nil {
		return signal.PollResult{}, err
	}
	return out, nil
}

// SendSignal publishes one payload to the session log. `role` is the
// role the message is recorded under; a sharer posts its final done
// under the renter role so the relay addresses it to the renter.
func (c *Client) SendSignal(ctx context.Context, token, role string, payload signal.Payload) error {
	encoded, err := signal.EncodePayload(payload)
	if err != nil {
		return err
	}
	body := map[string]any{"token": token, "role": role, "payload": json.RawMessage(encoded)}
	return c.do(ctx, http.MethodPost, "/signal/message", nil, body, nil)
}
