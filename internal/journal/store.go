package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - executions table with session index
const currentSchemaVersion = 1

// Store persists journal entries in SQLite
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal database at path, applying pragmas
// (WAL, NORMAL sync, 5s busy timeout) and the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Append inserts an entry. A zero RecordedAt is set to now.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
		(session_id, request_id, worksheet_id, cell_id, ordinal, event, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.SessionID,
		e.RequestID,
		e.WorksheetID,
		e.CellID,
		int64(e.Ordinal),
		string(e.Event),
		e.Detail,
		e.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// List returns the entries of a session in insertion order
func (s *Store) List(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, request_id, worksheet_id, cell_id, ordinal, event, detail, recorded_at
		FROM executions
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			ordinal    int64
			event      string
			recordedAt int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.RequestID, &e.WorksheetID, &e.CellID,
			&ordinal, &event, &e.Detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Ordinal = uint64(ordinal)
		e.Event = Event(event)
		e.RecordedAt = time.Unix(0, recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}

// CountByEvent returns how many entries of each event a session has
func (s *Store) CountByEvent(ctx context.Context, sessionID string) (map[Event]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event, COUNT(*) FROM executions WHERE session_id = ? GROUP BY event
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count journal entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Event]int)
	for rows.Next() {
		var (
			event string
			n     int
		)
		if err := rows.Scan(&event, &n); err != nil {
			return nil, fmt.Errorf("scan journal count: %w", err)
		}
		counts[Event(event)] = n
	}
	return counts, rows.Err()
}

// Sessions returns the ids of journaled sessions, oldest first
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM executions GROUP BY session_id ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, fmt.Errorf("list journal sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan journal session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
