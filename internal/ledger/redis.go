package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "alert-ledger:"

// RedisConfig configures the Redis ledger.
type RedisConfig struct {
	URL       string
	Retention time.Duration
	Clock     func() time.Time
}

// RedisLedger claims keys with SET NX and lets Redis expire them after the retention window.
type RedisLedger struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	clock     func() time.Time
}

// NewRedisLedger connects to the configured Redis URL and verifies the connection.
func NewRedisLedger(cfg RedisConfig) (*RedisLedger, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: redis url is required", ErrInvalidConfig)
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrInvalidConfig, err)
	}
	opts.MaxRetries = 5
	opts.MinRetryBackoff = 8 * time.Millisecond
	opts.MaxRetryBackoff = 512 * time.Millisecond
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect to redis: %v", ErrUnavailable, err)
	}

	return NewRedisLedgerWithClient(client, cfg.Retention, cfg.Clock), nil
}

// NewRedisLedgerWithClient wraps an existing client.
func NewRedisLedgerWithClient(client *redis.Client, retention time.Duration, clock func() time.Time) *RedisLedger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisLedger{
		client:    client,
		prefix:    redisKeyPrefix,
		retention: retention,
		clock:     clock,
	}
}

func (l *RedisLedger) key(key draft.DedupKey) string {
	return l.prefix + key.String()
}

// TryMark stores the fired timestamp only if the key is absent.
func (l *RedisLedger) TryMark(ctx context.Context, key draft.DedupKey) (bool, error) {
	marked, err := l.client.SetNX(ctx, l.key(key), l.clock().UTC().Unix(), l.retention).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	return marked, nil
}

// Release deletes the claim for key.
func (l *RedisLedger) Release(ctx context.Context, key draft.DedupKey) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Sweep is a no-op: entries carry a TTL.
func (l *RedisLedger) Sweep(context.Context) (int64, error) {
	return 0, nil
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
