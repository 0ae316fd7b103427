package eventstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventreminder/internal/domain"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Postgres reads events and users through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) FindEventByID(ctx context.Context, id int64) (domain.Event, error) {
	ev := domain.Event{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT name, organizer, start_at, participants FROM events WHERE id = $1`, id,
	).Scan(&ev.Name, &ev.Organizer, &ev.StartAt, &ev.Participants)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (p *Postgres) FindUserByName(ctx context.Context, name string) (domain.User, error) {
	u := domain.User{Name: strings.TrimSpace(name)}
	err := p.pool.QueryRow(ctx, `SELECT email FROM users WHERE name = $1`, u.Name).Scan(&u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (p *Postgres) PutEvent(ctx context.Context, ev domain.Event) error {
	participants := ev.Participants
	if participants == nil {
		participants = []string{}
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO events(id, name, organizer, start_at, participants) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, organizer=EXCLUDED.organizer,
		   start_at=EXCLUDED.start_at, participants=EXCLUDED.participants`,
		ev.ID, ev.Name, ev.Organizer, ev.StartAt, participants,
	)
	return err
}

func (p *Postgres) PutUser(ctx context.Context, u domain.User) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users(name, email) VALUES($1,$2)
		 ON CONFLICT (name) DO UPDATE SET email=EXCLUDED.email`,
		strings.TrimSpace(u.Name), u.Email,
	)
	return err
}

func (p *Postgres) DeleteEvent(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	return err
}
