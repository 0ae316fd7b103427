package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventreminder/internal/domain"
	"eventreminder/internal/metrics"
	logx "eventreminder/pkg/logx"
)

// Store is an EventStore owning resources that must be released.
type Store interface {
	domain.EventStore
	Close() error
}

// Writer seeds or edits a store. Memory, SQLite and PostgreSQL stores
// implement it.
type Writer interface {
	PutEvent(ctx context.Context, ev domain.Event) error
	PutUser(ctx context.Context, u domain.User) error
	DeleteEvent(ctx context.Context, id int64) error
}

type Config struct {
	Driver string
	// Path is the SQLite database file.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
	// Fixtures is a YAML or JSON file loaded into the store on open.
	Fixtures    string
	BusyTimeout time.Duration
	Cache       CacheConfig
}

type CacheConfig struct {
	Enabled bool
	URL     string
	TTL     time.Duration
	Prefix  string
}

// Open builds the configured store, seeds it from fixtures and wraps it in
// the Redis cache when enabled.
func Open(ctx context.Context, cfg Config, log logx.Logger, sink metrics.Sink) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var (
		st  Store
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		st = NewMemory()
	case "sqlite", "sqlite3":
		st, err = OpenSQLite(ctx, cfg.Path, cfg.BusyTimeout)
	case "postgres", "postgresql", "pgx":
		st, err = OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, errors.New("unknown event store driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Fixtures) != "" {
		w, ok := st.(Writer)
		if !ok {
			_ = st.Close()
			return nil, fmt.Errorf("event store driver %q cannot load fixtures", cfg.Driver)
		}
		n, err := LoadFixtures(ctx, cfg.Fixtures, w)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		log.Info("fixtures loaded", logx.String("path", cfg.Fixtures), logx.Int("records", n))
	}

	if cfg.Cache.Enabled {
		cached, err := NewCached(ctx, st, cfg.Cache, log, sink)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		st = cached
	}
	return st, nil
}
