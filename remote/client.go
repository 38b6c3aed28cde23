// Package remote applies mutations against the fitness coaching API over
// HTTP. The Client implements mutation.Applier for every entity type the
// agent syncs, mapping operations onto REST calls:
//
//	create → POST   /v1/<collection>
//	update → PUT    /v1/<collection>/<entityID>
//	delete → DELETE /v1/<collection>/<entityID>
//
// Apply errors are classified so the executor knows whether retrying can
// help: network failures, timeouts, 5xx, 408 and 429 are transient; any
// other 4xx means the remote rejected the mutation and is permanent.
//
//	c, err := remote.New("https://api.example.com",
//	    remote.WithToken(token),
//	    remote.WithDeviceID(deviceID),
//	)
//	if err != nil { ... }
//	c.RegisterAll(registry)
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Compile-time check that Client can serve as an applier.
var _ mutation.Applier = (*Client)(nil)

// DefaultTimeout bounds a single apply call when no custom http.Client is
// supplied. Mobile radios stall for long stretches; the per-mutation
// Timeout middleware provides the tighter bound.
const DefaultTimeout = 30 * time.Second

// collections maps entity types onto their REST collection segments.
var collections = map[mutation.EntityType]string{
	mutation.EntityWorkout:     "workouts",
	mutation.EntityWorkoutLog:  "workout-logs",
	mutation.EntityReadiness:   "readiness",
	mutation.EntityUserProfile: "profile",
}

// Client applies mutations against the remote fitness API.
type Client struct {
	baseURL  string
	token    string
	deviceID id.DeviceID
	httpc    *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithDeviceID sets the device identifier sent in the X-Fitsync-Device
// header, letting the server attribute writes and suppress echo events.
func WithDeviceID(deviceID id.DeviceID) Option {
	return func(c *Client) { c.deviceID = deviceID }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("fitsync/remote: base URL is required")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RegisterAll registers the client as the applier for every entity type
// the agent knows about.
func (c *Client) RegisterAll(r *mutation.Registry) {
	for _, et := range mutation.KnownEntityTypes() {
		r.Register(et, c)
	}
}

// Apply implements mutation.Applier. The returned error is classified;
// see Classify.
func (c *Client) Apply(ctx context.Context, m *mutation.Mutation) error {
	collection, ok := collections[m.EntityType]
	if !ok {
		return fitsync.Permanent(fmt.Errorf("fitsync/remote: %w: %q", fitsync.ErrUnknownEntityType, m.EntityType))
	}

	var (
		method string
		path   string
		body   io.Reader
	)
	switch m.Operation {
	case mutation.OpCreate:
		method = http.MethodPost
		path = "/v1/" + collection
		body = bytes.NewReader(m.Payload)
	case mutation.OpUpdate:
		method = http.MethodPut
		path = "/v1/" + collection + "/" + m.EntityID
		body = bytes.NewReader(m.Payload)
	case mutation.OpDelete:
		method = http.MethodDelete
		path = "/v1/" + collection + "/" + m.EntityID
	default:
		return fitsync.Permanent(fmt.Errorf("fitsync/remote: unknown operation %q", m.Operation))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fitsync.Permanent(fmt.Errorf("fitsync/remote: build request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if !c.deviceID.IsNil() {
		req.Header.Set("X-Fitsync-Device", c.deviceID.String())
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Transport errors (DNS, refused connection, timeout) are
		// transient: the device may simply be offline.
		return fmt.Errorf("fitsync/remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := &Error{
		Status:  resp.StatusCode,
		Method:  method,
		Path:    path,
		Message: readErrorMessage(resp.Body),
	}
	if retryableStatus(resp.StatusCode) {
		return apiErr
	}
	return fitsync.Permanent(apiErr)
}

// retryableStatus reports whether the status code warrants another
// attempt. 408 and 429 are the 4xx carve-outs: the request itself was
// fine, the server just could not take it right now.
func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

// readErrorMessage extracts a human-readable message from an error
// response body. The API wraps messages as {"error": "..."} or
// {"message": "..."}; anything else is returned as raw text.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
