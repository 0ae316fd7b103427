package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"eventreminder/internal/domain"
	"eventreminder/internal/metrics"
	logx "eventreminder/pkg/logx"
)

// Cached is a Redis read-through cache of users in front of another store.
// Events are always read from the backing store so a firing sees the
// current participant list and deletions at once. Redis errors are logged
// and the backing store is used instead.
type Cached struct {
	next    Store
	client  cacheClient
	ttl     time.Duration
	prefix  string
	log     logx.Logger
	metrics metrics.Sink
}

type cacheClient interface {
	redis.Cmdable
	Close() error
}

func NewCached(ctx context.Context, next Store, cfg CacheConfig, log logx.Logger, sink metrics.Sink) (*Cached, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("event store cache: redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("event store cache: %w", err)
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("event store cache: ping: %w", err)
	}
	return newCached(next, client, cfg, log, sink), nil
}

func newCached(next Store, client cacheClient, cfg CacheConfig, log logx.Logger, sink metrics.Sink) *Cached {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "reminder:"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Cached{next: next, client: client, ttl: cfg.TTL, prefix: cfg.Prefix, log: log, metrics: sink}
}

func (c *Cached) FindEventByID(ctx context.Context, id int64) (domain.Event, error) {
	return c.next.FindEventByID(ctx, id)
}

func (c *Cached) FindUserByName(ctx context.Context, name string) (domain.User, error) {
	var u domain.User
	key := c.userKey(name)
	if c.get(ctx, key, &u) {
		return u, nil
	}
	u, err := c.next.FindUserByName(ctx, name)
	if err != nil {
		return u, err
	}
	c.set(ctx, key, u)
	return u, nil
}

func (c *Cached) PutEvent(ctx context.Context, ev domain.Event) error {
	w, err := c.writer()
	if err != nil {
		return err
	}
	return w.PutEvent(ctx, ev)
}

// PutUser writes through and drops the cached copy.
func (c *Cached) PutUser(ctx context.Context, u domain.User) error {
	w, err := c.writer()
	if err != nil {
		return err
	}
	if err := w.PutUser(ctx, u); err != nil {
		return err
	}
	c.Invalidate(ctx, u.Name)
	return nil
}

func (c *Cached) DeleteEvent(ctx context.Context, id int64) error {
	w, err := c.writer()
	if err != nil {
		return err
	}
	return w.DeleteEvent(ctx, id)
}

// Invalidate drops the cached copy of a user.
func (c *Cached) Invalidate(ctx context.Context, name string) {
	key := c.userKey(name)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warn("cache invalidation failed", logx.String("key", key), logx.Err(err))
	}
}

func (c *Cached) Close() error {
	return errors.Join(c.client.Close(), c.next.Close())
}

func (c *Cached) writer() (Writer, error) {
	w, ok := c.next.(Writer)
	if !ok {
		return nil, errors.New("event store cache: backing store is read-only")
	}
	return w, nil
}

func (c *Cached) userKey(name string) string {
	return c.prefix + "user:" + strings.TrimSpace(name)
}

func (c *Cached) get(ctx context.Context, key string, dst any) bool {
	b, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		c.metrics.CacheLookup(false)
		return false
	case err != nil:
		c.metrics.CacheLookup(false)
		c.log.Debug("cache read failed", logx.String("key", key), logx.Err(err))
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		c.metrics.CacheLookup(false)
		c.log.Debug("cache entry corrupt", logx.String("key", key), logx.Err(err))
		return false
	}
	c.metrics.CacheLookup(true)
	return true
}

func (c *Cached) set(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.log.Debug("cache write failed", logx.String("key", key), logx.Err(err))
	}
}
