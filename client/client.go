// Package client provides a Go client for a running syncd daemon: typed
// calls against the admin API plus a live WebSocket subscription to the
// event feed.
//
// Usage:
//
//	c := client.New("http://localhost:8484",
//	    client.WithToken("fk_..."),
//	)
//
//	// Inspect and drain the dead-letter set.
//	count, err := c.DeadLetterCount(ctx)
//	res, err := c.RecoverDeadLetters(ctx)
//
//	// Watch live sync events.
//	f, err := c.Feed(ctx, feed.TopicFirehose)
//	defer f.Close()
//	for evt := range f.Events() {
//	    fmt.Printf("%s %s\n", evt.Type, evt.Topic)
//	}
package client

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

	"github.com/saicgr/AIFitnessCoach-sub010/feed"
	"github.com/saicgr/AIFitnessCoach-sub010/status"
)

// Client talks to a syncd daemon.
type Client struct {
	baseURL string
	token   string
	format  string
	http    *http.Client
	logger  *slog.Logger

	// Feed reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration
}

// New creates a client for the daemon at baseURL (e.g.
// "http://localhost:8484").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		format:     feed.CodecNameJSON,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fitsync/client: server returned %d: %s", e.StatusCode, e.Message)
}

// do performs one JSON request against the admin API and decodes the
// response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fitsync/client: marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("fitsync/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fitsync/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if data, readErr := io.ReadAll(resp.Body); readErr == nil && json.Unmarshal(data, &errBody) == nil {
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fitsync/client: decode response: %w", err)
	}
	return nil
}

// Status returns the daemon's current status snapshot.
func (c *Client) Status(ctx context.Context) (*status.Snapshot, error) {
	var snap status.Snapshot
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SyncNow asks the daemon to run a sync pass immediately. The pass runs
// asynchronously; watch the feed or poll Status for its outcome.
func (c *Client) SyncNow(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/sync", nil, nil)
}

// Stats aggregates queue counts, the dead-letter size and the live
// status snapshot.
type Stats struct {
	Mutations   Counts          `json:"mutations"`
	DeadLetters int64           `json:"dead_letters"`
	Status      status.Snapshot `json:"status"`
}

// Stats retrieves aggregated daemon statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
