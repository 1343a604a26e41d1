package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	apns "github.com/mdigger/pushgate"
)

// SQLite keeps the feedback records in a table, one row per device token with
// the time of its latest report.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database file at path; ":memory:" keeps it
// in memory.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// an in-memory database exists per connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS feedback (
			token TEXT PRIMARY KEY,
			reported_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_reported_at ON feedback(reported_at);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("error creating schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Save stores the records in one transaction. A token already present keeps
// the later of the two timestamps.
func (s *SQLite) Save(ctx context.Context, records []apns.FeedbackRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO feedback (token, reported_at) VALUES (?, ?)
		ON CONFLICT(token) DO UPDATE SET reported_at = MAX(reported_at, excluded.reported_at)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, record := range records {
		if _, err := stmt.ExecContext(ctx, record.Token, record.Timestamp.Unix()); err != nil {
			return fmt.Errorf("failed to save %s: %w", record.Token, err)
		}
	}
	return tx.Commit()
}

// List returns the records reported at or after since, oldest first. A zero
// since returns all of them.
func (s *SQLite) List(ctx context.Context, since time.Time) ([]apns.FeedbackRecord, error) {
	var from int64
	if !since.IsZero() {
		from = since.Unix()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, reported_at FROM feedback WHERE reported_at >= ? ORDER BY reported_at, token`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]apns.FeedbackRecord, 0)
	for rows.Next() {
		var (
			record apns.FeedbackRecord
			unix   int64
		)
		if err := rows.Scan(&record.Token, &unix); err != nil {
			return nil, err
		}
		record.Timestamp = time.Unix(unix, 0).UTC()
		records = append(records, record)
	}
	return records, rows.Err()
}

// Remove forgets the token, for example after the device registered again.
func (s *SQLite) Remove(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM feedback WHERE token = ?`, strings.ToLower(token))
	return err
}

// IsSuppressed returns true if the token was reported by the feedback service.
func (s *SQLite) IsSuppressed(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM feedback WHERE token = ?)`, strings.ToLower(token)).Scan(&exists)
	return exists, err
}
