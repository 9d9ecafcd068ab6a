package out

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kimaid/internal/modules/timesheet/domain"

	_ "modernc.org/sqlite"
)

const defaultHistoryLimit = 20

// SQLiteHistoryStore is the audit trail of logins, submissions and give-ups.
type SQLiteHistoryStore struct {
	db *sql.DB
}

func NewSQLiteHistoryStore(dbPath string) (*SQLiteHistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store := &SQLiteHistoryStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteHistoryStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  occurred_at INTEGER NOT NULL,
  kind TEXT NOT NULL,
  username TEXT,
  ok INTEGER NOT NULL,
  detail TEXT,
  entry_day TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}

func (s *SQLiteHistoryStore) Append(ctx context.Context, event domain.Event) error {
	const stmt = `
INSERT INTO events (id, occurred_at, kind, username, ok, detail, entry_day)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
	ok := 0
	if event.OK {
		ok = 1
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		event.ID,
		event.OccurredAt.UnixNano(),
		string(event.Kind),
		event.Username,
		ok,
		event.Detail,
		event.EntryDay,
	); err != nil {
		return fmt.Errorf("insert event %s: %w", event.ID, err)
	}
	return nil
}

// Tail returns the most recent events, newest first.
func (s *SQLiteHistoryStore) Tail(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, occurred_at, kind, username, ok, detail, entry_day
FROM events
ORDER BY occurred_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var (
			event            domain.Event
			occurred         int64
			kind             string
			ok               int
			username, detail sql.NullString
			entryDay         sql.NullString
		)
		if err := rows.Scan(&event.ID, &occurred, &kind, &username, &ok, &detail, &entryDay); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.OccurredAt = time.Unix(0, occurred)
		event.Kind = domain.EventKind(kind)
		event.Username = username.String
		event.OK = ok == 1
		event.Detail = detail.String
		event.EntryDay = entryDay.String
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (s *SQLiteHistoryStore) Close() error {
	return s.db.Close()
}
