package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/etenlab/core/internal/cpg/schema"
)

// CreateSyncSession records the start of an out-sync covering layers
// [from, to] and returns its id.
func (s *Store) CreateSyncSession(ctx context.Context, from, to int64) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO sync_sessions (sync_from, sync_to, created_at, completed) VALUES (?, ?, ?, 0)`,
		from, to, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to create sync session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync session id: %w", err)
	}
	return id, nil
}

// CompleteSyncSession marks a session completed, recording syncErr when the
// attempt failed.
func (s *Store) CompleteSyncSession(ctx context.Context, id int64, syncErr error) error {
	var errText sql.NullString
	if syncErr != nil {
		errText = sql.NullString{String: syncErr.Error(), Valid: true}
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE sync_sessions SET completed = 1, error = ? WHERE id = ?`, errText, id)
	if err != nil {
		return fmt.Errorf("failed to complete sync session %d: %w", id, err)
	}
	return nil
}

// ListSyncSessions returns the most recent sessions first. A limit of zero
// or less returns all of them.
func (s *Store) ListSyncSessions(ctx context.Context, limit int) ([]*schema.SyncSession, error) {
	query := `SELECT id, sync_from, sync_to, created_at, completed, error FROM sync_sessions ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*schema.SyncSession
	for rows.Next() {
		var (
			sess      schema.SyncSession
			createdAt string
			completed int
			errText   sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.SyncFrom, &sess.SyncTo, &createdAt, &completed, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan sync session: %w", err)
		}
		if sess.CreatedAt, err = schema.ParseTime(createdAt); err != nil {
			return nil, err
		}
		sess.Completed = completed != 0
		sess.Error = nullStringToString(errText)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync sessions: %w", err)
	}
	return sessions, nil
}
