package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/sqlitedb"
	"github.com/google/uuid"
)

// Log implements memory.HistoryLog on a migrated database.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// NewLog wraps an already migrated database.
func NewLog(db *sql.DB) *Log {
	return &Log{db: db, now: time.Now}
}

// AddHistory appends entry. A missing ID or CreatedAt is filled in.
func (l *Log) AddHistory(ctx context.Context, e memory.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO history (id, memory_id, previous_value, new_value, event,
		                     actor_id, role, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MemoryID, nullable(e.PreviousValue), nullable(e.NewValue), string(e.Event),
		nullable(e.ActorID), nullable(e.Role), formatTime(e.CreatedAt), nullableTime(e.UpdatedAt),
		boolInt(e.IsDeleted),
	)
	if err != nil {
		return fmt.Errorf("sqlite: add history: %w", sqlitedb.Classify(err))
	}
	return nil
}

// History returns the entries of memoryID, oldest first.
func (l *Log) History(ctx context.Context, memoryID string) ([]memory.HistoryEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, memory_id, previous_value, new_value, event,
		       actor_id, role, created_at, updated_at, is_deleted
		FROM history
		WHERE memory_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		memoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history: %w", sqlitedb.Classify(err))
	}
	defer func() { _ = rows.Close() }()

	var out []memory.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", sqlitedb.Classify(err))
	}
	return out, nil
}

// Count returns the number of rows in the log.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count history: %w", sqlitedb.Classify(err))
	}
	return n, nil
}

// Reset drops and recreates the history table inside one transaction.
func (l *Log) Reset(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin reset tx: %w", sqlitedb.Classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DROP TABLE IF EXISTS history", createHistory, createHistoryIndex} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: reset history: %w", sqlitedb.Classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit reset: %w", sqlitedb.Classify(err))
	}
	return nil
}

// DeleteExcept removes every row whose memory id is not in keep. The keep set
// is staged in a temporary table so its size is not bound by the SQLite
// parameter limit.
func (l *Log) DeleteExcept(ctx context.Context, keep []string) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin delete tx: %w", sqlitedb.Classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE IF NOT EXISTS keep_ids (id TEXT PRIMARY KEY)"); err != nil {
		return 0, fmt.Errorf("sqlite: stage keep set: %w", sqlitedb.Classify(err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM keep_ids"); err != nil {
		return 0, fmt.Errorf("sqlite: stage keep set: %w", sqlitedb.Classify(err))
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO keep_ids (id) VALUES (?)")
	if err != nil {
		return 0, fmt.Errorf("sqlite: stage keep set: %w", sqlitedb.Classify(err))
	}
	defer func() { _ = stmt.Close() }()
	for _, id := range keep {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return 0, fmt.Errorf("sqlite: stage keep id: %w", sqlitedb.Classify(err))
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM history WHERE memory_id NOT IN (SELECT id FROM keep_ids)")
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete history: %w", sqlitedb.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM keep_ids"); err != nil {
		return 0, fmt.Errorf("sqlite: clear keep set: %w", sqlitedb.Classify(err))
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit delete: %w", sqlitedb.Classify(err))
	}
	return int(n), nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (memory.HistoryEntry, error) {
	var (
		e                       memory.HistoryEntry
		prev, next, actor, role sql.NullString
		updated                 sql.NullString
		event, created          string
		deleted                 int
	)
	if err := s.Scan(&e.ID, &e.MemoryID, &prev, &next, &event, &actor, &role, &created, &updated, &deleted); err != nil {
		return e, fmt.Errorf("sqlite: scan history: %w", err)
	}
	e.PreviousValue = prev.String
	e.NewValue = next.String
	e.Event = memory.Event(event)
	e.ActorID = actor.String
	e.Role = role.String
	e.IsDeleted = deleted != 0

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return e, fmt.Errorf("sqlite: parse created_at %q: %w", created, err)
	}
	if updated.Valid && updated.String != "" {
		if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated.String); err != nil {
			return e, fmt.Errorf("sqlite: parse updated_at %q: %w", updated.String, err)
		}
	}
	return e, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
