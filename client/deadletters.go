package client

import (
	"context"
	"net/http"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// RecoverResult reports a bulk dead-letter recovery.
type RecoverResult struct {
	Recovered int64 `json:"recovered"`
}

// PurgeResult reports how many dead letters a purge removed.
type PurgeResult struct {
	Purged int64 `json:"purged"`
}

// ListDeadLetters returns the dead-letter set.
func (c *Client) ListDeadLetters(ctx context.Context, opts ListOptions) ([]*mutation.Mutation, error) {
	opts.State = "" // the endpoint is already state-scoped
	var muts []*mutation.Mutation
	if err := c.do(ctx, http.MethodGet, "/v1/deadletters"+opts.query(), nil, &muts); err != nil {
		return nil, err
	}
	return muts, nil
}

// DeadLetterCount returns the dead-letter set size.
func (c *Client) DeadLetterCount(ctx context.Context) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/deadletters/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// RecoverDeadLetters returns every dead-lettered mutation to the active
// queue and triggers a sync pass. A concurrent recovery yields a 409
// APIError.
func (c *Client) RecoverDeadLetters(ctx context.Context) (*RecoverResult, error) {
	var res RecoverResult
	if err := c.do(ctx, http.MethodPost, "/v1/deadletters/recover", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ExportDeadLetters writes a diagnostic export on the daemon host and
// returns its file handle.
func (c *Client) ExportDeadLetters(ctx context.Context) (*export.File, error) {
	var f export.File
	if err := c.do(ctx, http.MethodPost, "/v1/deadletters/export", nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// PurgeDeadLetters deletes dead letters older than the given age. Zero
// means the server's default retention window.
func (c *Client) PurgeDeadLetters(ctx context.Context, olderThan time.Duration) (*PurgeResult, error) {
	req := struct {
		OlderThanHours int `json:"older_than_hours"`
	}{OlderThanHours: int(olderThan / time.Hour)}

	var res PurgeResult
	if err := c.do(ctx, http.MethodPost, "/v1/deadletters/purge", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
