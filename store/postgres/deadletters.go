package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/deadletter"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// ListDeadLetters returns dead-lettered mutations matching the given options.
func (s *Store) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*mutation.Mutation, error) {
	query := `SELECT` + mutationColumns + ` FROM fitsync_mutations WHERE state = 'dead'`
	args := []any{}
	argIdx := 1

	if opts.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argIdx)
		args = append(args, string(opts.EntityType))
		argIdx++
	}

	query += " ORDER BY dead_at ASC"

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
		return nil, fmt.Errorf("fitsync/postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	return collectMutations(rows)
}

// CountDeadLetters returns the number of dead-lettered mutations.
func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM fitsync_mutations WHERE state = 'dead'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("fitsync/postgres: count dead letters: %w", err)
	}
	return count, nil
}

// RecoverDeadLetters atomically returns every dead-lettered mutation to
// the active queue. A single UPDATE statement makes the bulk transition
// all-or-nothing; LastError is left in place for later inspection.
func (s *Store) RecoverDeadLetters(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE fitsync_mutations
		SET state = 'pending', retry_count = 0, run_at = NOW(),
		    dead_at = NULL, updated_at = NOW()
		WHERE state = 'dead'`,
	)
	if err != nil {
		return 0, fmt.Errorf("fitsync/postgres: recover dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeDeadLetters removes dead-lettered mutations with DeadAt before the
// given time.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM fitsync_mutations WHERE state = 'dead' AND dead_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("fitsync/postgres: purge dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}
