package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Journal appends events to a SQLite table so the governance history
// survives restarts and can be read back with the audit command.
type Journal struct {
	db     *sql.DB
	ownsDB bool
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	j, err := NewJournal(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.ownsDB = true
	return j, nil
}

// NewJournal wraps an open database and creates the table if needed.
func NewJournal(ctx context.Context, db *sql.DB) (*Journal, error) {
	j := &Journal{db: db}
	if err := j.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS governance_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		use_case_id TEXT NOT NULL,
		requirement_id TEXT NOT NULL,
		register_name TEXT NOT NULL,
		action_name TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);`
	if _, err := j.db.ExecContext(ctx, query); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_governance_events_use_case ON governance_events (use_case_id, seq);`)
	return err
}

// Publish inserts the event. Replays of the same event id are ignored.
func (j *Journal) Publish(ctx context.Context, e Event) error {
	query := `INSERT OR IGNORE INTO governance_events (
		event_id, type, timestamp, use_case_id, requirement_id, register_name, action_name, from_status, to_status, actor_role, reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		e.ID, e.Type, e.Timestamp.UTC().Format(time.RFC3339Nano), e.UseCaseID, e.RequirementID,
		e.Register, e.Action, e.From, e.To, e.ActorRole, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// List returns the journaled events newest first, so a limit keeps the most
// recent ones. An empty useCaseID lists every use case; limit <= 0 means no
// limit.
func (j *Journal) List(ctx context.Context, useCaseID string, limit int) ([]Event, error) {
	query := `
	SELECT event_id, type, timestamp, use_case_id, requirement_id, register_name, action_name, from_status, to_status, actor_role, reason
	FROM governance_events
	WHERE (? = '' OR use_case_id = ?)
	ORDER BY seq DESC`
	args := []any{useCaseID, useCaseID}
	if limit > 0 {
		query += "\n\tLIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			ts string
		)
		if err := rows.Scan(&e.ID, &e.Type, &ts, &e.UseCaseID, &e.RequirementID,
			&e.Register, &e.Action, &e.From, &e.To, &e.ActorRole, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database when the journal opened it.
func (j *Journal) Close() error {
	if !j.ownsDB {
		return nil
	}
	return j.db.Close()
}
