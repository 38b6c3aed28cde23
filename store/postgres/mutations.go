package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// mutationColumns is the canonical column list shared by every query that
// returns full mutation rows.
const mutationColumns = `
	id, entity_type, entity_id, operation, payload, state,
	max_retries, retry_count, last_error, user_id, device_id,
	run_at, started_at, synced_at, dead_at, heartbeat_at,
	timeout, created_at, updated_at`

// EnqueueMutation persists a new mutation in pending state.
func (s *Store) EnqueueMutation(ctx context.Context, m *mutation.Mutation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fitsync_mutations (
			id, entity_type, entity_id, operation, payload, state,
			max_retries, retry_count, last_error, user_id, device_id,
			run_at, started_at, synced_at, dead_at, heartbeat_at,
			timeout, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19
		)`,
		m.ID.String(), string(m.EntityType), m.EntityID, string(m.Operation),
		m.Payload, string(m.State),
		m.MaxRetries, m.RetryCount, m.LastError, m.UserID, m.DeviceID,
		m.RunAt, m.StartedAt, m.SyncedAt, m.DeadAt, m.HeartbeatAt,
		m.Timeout.Nanoseconds(), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fitsync.ErrMutationExists
		}
		return fmt.Errorf("fitsync/postgres: enqueue mutation: %w", err)
	}
	return nil
}

// DequeueMutations atomically claims up to limit eligible mutations for
// the given entity types, sets them to inflight, and returns them. Uses
// SELECT FOR UPDATE SKIP LOCKED so concurrent daemons never claim the
// same mutation twice.
func (s *Store) DequeueMutations(ctx context.Context, entityTypes []mutation.EntityType, limit int) ([]*mutation.Mutation, error) {
	var types []string
	for _, et := range entityTypes {
		types = append(types, string(et))
	}

	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE fitsync_mutations
			SET state = 'inflight', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM fitsync_mutations
				WHERE state IN ('pending', 'retrying')
				  AND ($1::text[] IS NULL OR entity_type = ANY($1::text[]))
				  AND run_at <= NOW()
				ORDER BY run_at ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT NULLIF($2, 0)
			)
			RETURNING `+mutationColumns+`
		)
		SELECT * FROM dequeued ORDER BY run_at ASC, created_at ASC`,
		types, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fitsync/postgres: dequeue mutations: %w", err)
	}
	defer rows.Close()

	return collectMutations(rows)
}

// GetMutation retrieves a mutation by ID.
func (s *Store) GetMutation(ctx context.Context, mutationID id.MutationID) (*mutation.Mutation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+mutationColumns+` FROM fitsync_mutations WHERE id = $1`,
		mutationID.String(),
	)

	m, err := scanMutation(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fitsync.ErrMutationNotFound
		}
		return nil, fmt.Errorf("fitsync/postgres: get mutation: %w", err)
	}
	return m, nil
}

// UpdateMutation persists changes to an existing mutation.
func (s *Store) UpdateMutation(ctx context.Context, m *mutation.Mutation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE fitsync_mutations SET
			entity_type = $2, entity_id = $3, operation = $4, payload = $5,
			state = $6, max_retries = $7, retry_count = $8, last_error = $9,
			user_id = $10, device_id = $11, run_at = $12, started_at = $13,
			synced_at = $14, dead_at = $15, heartbeat_at = $16, timeout = $17,
			updated_at = NOW()
		WHERE id = $1`,
		m.ID.String(), string(m.EntityType), m.EntityID, string(m.Operation),
		m.Payload, string(m.State), m.MaxRetries, m.RetryCount, m.LastError,
		m.UserID, m.DeviceID, m.RunAt, m.StartedAt,
		m.SyncedAt, m.DeadAt, m.HeartbeatAt, m.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("fitsync/postgres: update mutation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fitsync.ErrMutationNotFound
	}
	return nil
}

// DeleteMutation removes a mutation by ID.
func (s *Store) DeleteMutation(ctx context.Context, mutationID id.MutationID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM fitsync_mutations WHERE id = $1`,
		mutationID.String(),
	)
	if err != nil {
		return fmt.Errorf("fitsync/postgres: delete mutation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fitsync.ErrMutationNotFound
	}
	return nil
}

// ListMutationsByState returns mutations matching the given state.
func (s *Store) ListMutationsByState(ctx context.Context, state mutation.State, opts mutation.ListOpts) ([]*mutation.Mutation, error) {
	query := `SELECT` + mutationColumns + ` FROM fitsync_mutations WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argIdx)
		args = append(args, string(opts.EntityType))
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fitsync/postgres: list mutations by state: %w", err)
	}
	defer rows.Close()

	return collectMutations(rows)
}

// HeartbeatMutation updates the heartbeat timestamp for an inflight mutation.
func (s *Store) HeartbeatMutation(ctx context.Context, mutationID id.MutationID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fitsync_mutations SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`,
		mutationID.String(),
	)
	if err != nil {
		return fmt.Errorf("fitsync/postgres: heartbeat mutation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fitsync.ErrMutationNotFound
	}
	return nil
}

// ReapStaleInflight returns inflight mutations whose last heartbeat is
// older than the given threshold.
func (s *Store) ReapStaleInflight(ctx context.Context, threshold time.Duration) ([]*mutation.Mutation, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.pool.Query(ctx,
		`SELECT`+mutationColumns+` FROM fitsync_mutations
		WHERE state = 'inflight'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("fitsync/postgres: reap stale inflight: %w", err)
	}
	defer rows.Close()

	return collectMutations(rows)
}

// CountMutations returns the number of mutations matching the given options.
func (s *Store) CountMutations(ctx context.Context, opts mutation.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM fitsync_mutations WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argIdx)
		args = append(args, string(opts.EntityType))
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("fitsync/postgres: count mutations: %w", err)
	}
	return count, nil
}

// PurgeSynced removes synced mutations older than the given cutoff.
func (s *Store) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM fitsync_mutations WHERE state = 'synced' AND synced_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("fitsync/postgres: purge synced: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanMutation scans a single mutation row.
func scanMutation(row pgx.Row) (*mutation.Mutation, error) {
	var (
		m         mutation.Mutation
		idStr     string
		etStr     string
		opStr     string
		stateStr  string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &etStr, &m.EntityID, &opStr, &m.Payload, &stateStr,
		&m.MaxRetries, &m.RetryCount, &m.LastError, &m.UserID, &m.DeviceID,
		&m.RunAt, &m.StartedAt, &m.SyncedAt, &m.DeadAt, &m.HeartbeatAt,
		&timeoutNs, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseMutationID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("fitsync/postgres: parse mutation id %q: %w", idStr, parseErr)
	}
	m.ID = parsedID
	m.EntityType = mutation.EntityType(etStr)
	m.Operation = mutation.Operation(opStr)
	m.State = mutation.State(stateStr)
	m.Timeout = time.Duration(timeoutNs)

	return &m, nil
}

// collectMutations drains rows into a slice.
func collectMutations(rows pgx.Rows) ([]*mutation.Mutation, error) {
	var result []*mutation.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("fitsync/postgres: scan mutation row: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fitsync/postgres: iterate mutation rows: %w", err)
	}
	return result, nil
}
