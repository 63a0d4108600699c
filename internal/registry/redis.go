package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "stacks:processing:"
	DefaultRedisTTL    = 30 * time.Minute
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the expiry only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures a Redis registry.
type RedisConfig struct {
	URL    string
	Prefix string
	// TTL bounds how long a crashed holder keeps a document locked. A live
	// holder extends it every TTL/3 until release.
	TTL    time.Duration
	Logger *slog.Logger
}

// Redis is a Registry shared by every process using the same Redis server.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects to Redis and returns a registry.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Redis{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, logger: cfg.Logger}
}

// Acquire implements Registry.
func (r *Redis) Acquire(ctx context.Context, id string) (func(), error) {
	key := r.prefix + id
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire processing lock for %s: %w", id, err)
	}
	if !ok {
		return nil, ErrAlreadyProcessing
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(context.WithoutCancel(ctx), id, key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
				r.logger.Warn("failed to release processing lock", "document_id", id, "error", err)
			}
		})
	}, nil
}

// keepAlive extends the lock while it is held so that jobs longer than the
// TTL stay exclusive.
func (r *Redis) keepAlive(ctx context.Context, id, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		extendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		n, err := extendScript.Run(extendCtx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			r.logger.Warn("failed to extend processing lock", "document_id", id, "error", err)
		case n == 0:
			r.logger.Warn("processing lock lost before release", "document_id", id)
			return
		}
	}
}

// Active implements Registry.
func (r *Redis) Active(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list processing locks: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsActive implements Registry.
func (r *Redis) IsActive(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processing lock for %s: %w", id, err)
	}
	return n > 0, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Registry = (*Redis)(nil)
