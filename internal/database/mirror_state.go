package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"captaincrm/internal/models"
)

// markPending records that a write has not reached the mirror yet: new
// entities (and those never mirrored) stay unsynced, everything else turns stale.
func (db *DB) markPending(ctx context.Context, kind models.EntityKind, id int64, created bool) error {
	state := models.MirrorStale
	if created {
		state = models.MirrorUnsynced
	}
	query := `INSERT INTO mirror_state (kind, entity_id, state, last_error, updated_at)
              VALUES (?, ?, ?, '', ?)
              ON CONFLICT(kind, entity_id) DO UPDATE SET
                  state = CASE WHEN mirror_state.state = 'unsynced' THEN 'unsynced' ELSE 'stale' END,
                  updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, string(kind), id, string(state), db.now()); err != nil {
		return fmt.Errorf("failed to mark mirror state: %w", err)
	}
	return nil
}

func (db *DB) MarkMirrorState(ctx context.Context, kind models.EntityKind, id int64, state models.MirrorState, lastErr string) error {
	now := db.now()
	var syncedAt any
	if state == models.MirrorSynced || state == models.MirrorDeleted {
		syncedAt = now
	}

	query := `INSERT INTO mirror_state (kind, entity_id, state, last_error, synced_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(kind, entity_id) DO UPDATE SET
                  state = excluded.state,
                  last_error = excluded.last_error,
                  synced_at = COALESCE(excluded.synced_at, mirror_state.synced_at),
                  updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, string(kind), id, string(state), lastErr, syncedAt, now); err != nil {
		return fmt.Errorf("failed to update mirror state: %w", err)
	}
	return nil
}

func scanMirrorStatus(row rowScanner) (*models.MirrorStatus, error) {
	var (
		s        models.MirrorStatus
		kind     string
		state    string
		syncedAt sql.NullTime
	)
	if err := row.Scan(&kind, &s.EntityID, &state, &s.LastError, &syncedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Kind = models.EntityKind(kind)
	s.State = models.MirrorState(state)
	if syncedAt.Valid {
		t := syncedAt.Time
		s.SyncedAt = &t
	}
	return &s, nil
}

func (db *DB) GetMirrorState(ctx context.Context, kind models.EntityKind, id int64) (*models.MirrorStatus, error) {
	row := db.QueryRowContext(ctx, `SELECT kind, entity_id, state, last_error, synced_at, updated_at
              FROM mirror_state WHERE kind = ? AND entity_id = ?`, string(kind), id)
	s, err := scanMirrorStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mirror state: %w", err)
	}
	return s, nil
}

// ListMirrorStates returns entities of kind in any of the given states, oldest first.
func (db *DB) ListMirrorStates(ctx context.Context, kind models.EntityKind, states ...models.MirrorState) ([]models.MirrorStatus, error) {
	query := `SELECT kind, entity_id, state, last_error, synced_at, updated_at FROM mirror_state WHERE kind = ?`
	args := []any{string(kind)}
	if len(states) > 0 {
		query += ` AND state IN (` + placeholders(len(states)) + `)`
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY updated_at ASC, entity_id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror states: %w", err)
	}
	defer rows.Close()

	var out []models.MirrorStatus
	for rows.Next() {
		s, err := scanMirrorStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mirror state: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (db *DB) MirrorStateCounts(ctx context.Context) (map[models.EntityKind]map[models.MirrorState]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT kind, state, COUNT(*) FROM mirror_state GROUP BY kind, state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count mirror states: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EntityKind]map[models.MirrorState]int64)
	for rows.Next() {
		var (
			kind, state string
			n           int64
		)
		if err := rows.Scan(&kind, &state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan mirror state count: %w", err)
		}
		k := models.EntityKind(strings.TrimSpace(kind))
		if counts[k] == nil {
			counts[k] = make(map[models.MirrorState]int64)
		}
		counts[k][models.MirrorState(state)] = n
	}
	return counts, rows.Err()
}
