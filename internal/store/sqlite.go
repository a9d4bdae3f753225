package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/i474232898/weather-station/internal/weather"
)

var _ weather.Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS weather_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	subject     TEXT    NOT NULL,
	condition   TEXT    NOT NULL,
	produced_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weather_events_subject_time
	ON weather_events (subject, produced_at);
`

// SQLiteStore persists weather events in a SQLite file.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
	maxAge     time.Duration
	now        func() time.Time
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// OpenSQLite opens (creating if needed) the database at path. Retention
// limits behave as for NewMemoryStore.
func OpenSQLite(path string, maxHistory int, maxAge time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{
		db:         db,
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveEvent inserts ev and trims the subject's history in one transaction.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev weather.WeatherEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO weather_events (subject, condition, produced_at) VALUES (?, ?, ?)`,
		ev.Subject, ev.Condition, toMillis(ev.ProducedAt),
	); err != nil {
		return fmt.Errorf("insert weather event: %w", err)
	}

	if s.maxAge > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM weather_events WHERE subject = ? AND produced_at < ?`,
			ev.Subject, toMillis(s.now().Add(-s.maxAge)),
		); err != nil {
			return fmt.Errorf("trim by age: %w", err)
		}
	}

	if s.maxHistory > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM weather_events
			  WHERE subject = ?
			    AND id NOT IN (
			      SELECT id FROM weather_events
			       WHERE subject = ?
			       ORDER BY produced_at DESC, id DESC
			       LIMIT ?)`,
			ev.Subject, ev.Subject, s.maxHistory,
		); err != nil {
			return fmt.Errorf("trim by count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit weather event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLatest(ctx context.Context, subject string) (weather.WeatherEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT subject, condition, produced_at FROM weather_events
		  WHERE subject = ?
		  ORDER BY produced_at DESC, id DESC
		  LIMIT 1`,
		subject,
	)

	var (
		ev         weather.WeatherEvent
		producedAt int64
	)
	if err := row.Scan(&ev.Subject, &ev.Condition, &producedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return weather.WeatherEvent{}, ErrNotFound
		}
		return weather.WeatherEvent{}, fmt.Errorf("get latest weather event: %w", err)
	}
	ev.ProducedAt = fromMillis(producedAt)
	return ev, nil
}

func (s *SQLiteStore) GetRange(ctx context.Context, subject string, from, to time.Time) ([]weather.WeatherEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject, condition, produced_at FROM weather_events
		  WHERE subject = ? AND produced_at >= ? AND produced_at <= ?
		  ORDER BY produced_at ASC, id ASC`,
		subject, toMillis(from), toMillis(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query weather events: %w", err)
	}
	defer rows.Close()

	var result []weather.WeatherEvent
	for rows.Next() {
		var (
			ev         weather.WeatherEvent
			producedAt int64
		)
		if err := rows.Scan(&ev.Subject, &ev.Condition, &producedAt); err != nil {
			return nil, fmt.Errorf("scan weather event: %w", err)
		}
		ev.ProducedAt = fromMillis(producedAt)
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weather events: %w", err)
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
