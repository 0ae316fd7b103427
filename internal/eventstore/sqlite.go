package eventstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"eventreminder/internal/domain"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) FindEventByID(ctx context.Context, id int64) (domain.Event, error) {
	ev := domain.Event{ID: id}
	var startAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, organizer, start_at FROM events WHERE id = ?`, id,
	).Scan(&ev.Name, &ev.Organizer, &startAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	if ev.StartAt, err = time.Parse(time.RFC3339Nano, startAt); err != nil {
		return domain.Event{}, fmt.Errorf("event %d: start_at: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM event_participants WHERE event_id = ? ORDER BY position`, id)
	if err != nil {
		return domain.Event{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return domain.Event{}, err
		}
		ev.Participants = append(ev.Participants, name)
	}
	return ev, rows.Err()
}

func (s *SQLite) FindUserByName(ctx context.Context, name string) (domain.User, error) {
	u := domain.User{Name: strings.TrimSpace(name)}
	err := s.db.QueryRowContext(ctx, `SELECT email FROM users WHERE name = ?`, u.Name).Scan(&u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (s *SQLite) PutEvent(ctx context.Context, ev domain.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events(id, name, organizer, start_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, organizer=excluded.organizer, start_at=excluded.start_at`,
		ev.ID, ev.Name, ev.Organizer, ev.StartAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_participants WHERE event_id = ?`, ev.ID); err != nil {
		return err
	}
	for i, name := range ev.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_participants(event_id, position, name) VALUES(?,?,?)`, ev.ID, i, name,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) PutUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(name, email) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET email=excluded.email`,
		strings.TrimSpace(u.Name), u.Email,
	)
	return err
}

func (s *SQLite) DeleteEvent(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_participants WHERE event_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
