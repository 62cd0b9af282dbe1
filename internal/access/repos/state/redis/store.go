package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/repos/state"
)

// client is the subset of the go-redis API the store needs.
type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// Options configures the connection and the startup retry loop.
type Options struct {
	Addr           string
	DB             int
	ConnectTimeout time.Duration // total time allowed for the first ping
	RetryInterval  time.Duration // initial wait between pings, doubled up to MaxWait
	MaxWait        time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 250 * time.Millisecond
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 2 * time.Second
	}
	return o
}

// redisStore implements state.KV on plain GET/SET of one key.
type redisStore struct {
	c client
}

// New connects to Redis, retrying with exponential backoff until
// ConnectTimeout, and returns a state.KV.
func New(ctx context.Context, opts Options, logger log.Logger) (state.KV, error) {
	opts = opts.withDefaults()
	c := goredis.NewClient(&goredis.Options{Addr: opts.Addr, DB: opts.DB})
	if err := connect(ctx, c, opts, logger); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &redisStore{c: c}, nil
}

func connect(ctx context.Context, c client, opts Options, logger log.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	wait := opts.RetryInterval
	for attempt := 1; ; attempt++ {
		err := c.Ping(ctx).Err()
		if err == nil {
			logger.Info(map[string]any{"addr": opts.Addr, "attempts": attempt}, "connected to redis")
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
			logger.Warn(map[string]any{"addr": opts.Addr, "attempt": attempt, "next_retry_in": wait.String(), "err": err}, "redis connection failed, retrying")
			wait *= 2
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
		}
	}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.c.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Close() error { return s.c.Close() }
