package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Counts groups queue totals by mutation state.
type Counts struct {
	Pending  int64 `json:"pending"`
	Inflight int64 `json:"inflight"`
	Synced   int64 `json:"synced"`
	Retrying int64 `json:"retrying"`
	Dead     int64 `json:"dead"`
}

// ListOptions filters and paginates list calls.
type ListOptions struct {
	// State filters mutations by state. Empty means the server default
	// (pending).
	State string
	// EntityType filters by entity type. Empty means all types.
	EntityType string
	// Limit caps the page size. Zero means the server default.
	Limit int
	// Offset skips the first n results.
	Offset int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.State != "" {
		q.Set("state", o.State)
	}
	if o.EntityType != "" {
		q.Set("entity_type", o.EntityType)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListMutations returns queued mutations, pending ones by default.
func (c *Client) ListMutations(ctx context.Context, opts ListOptions) ([]*mutation.Mutation, error) {
	var muts []*mutation.Mutation
	if err := c.do(ctx, http.MethodGet, "/v1/mutations"+opts.query(), nil, &muts); err != nil {
		return nil, err
	}
	return muts, nil
}

// GetMutation retrieves a single mutation by ID.
func (c *Client) GetMutation(ctx context.Context, mutationID string) (*mutation.Mutation, error) {
	var m mutation.Mutation
	if err := c.do(ctx, http.MethodGet, "/v1/mutations/"+url.PathEscape(mutationID), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMutation removes a pending, retrying or dead mutation from the
// queue. Inflight and synced mutations cannot be deleted.
func (c *Client) DeleteMutation(ctx context.Context, mutationID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/mutations/"+url.PathEscape(mutationID), nil, nil)
}

// MutationCounts returns per-state queue totals.
func (c *Client) MutationCounts(ctx context.Context) (*Counts, error) {
	var counts Counts
	if err := c.do(ctx, http.MethodGet, "/v1/mutations/counts", nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}
