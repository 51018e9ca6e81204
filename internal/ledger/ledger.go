// Package ledger records which alert occasions already fired so that redundant dispatcher
// invocations deliver each occasion at most once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultRetention bounds ledger growth. It comfortably exceeds the lifetime of a single draft.
const DefaultRetention = 24 * time.Hour

var (
	// ErrUnavailable indicates that the backing store could not complete a ledger operation.
	ErrUnavailable = errors.New("ledger: backend unavailable")
	// ErrInvalidConfig indicates a ledger configuration that cannot be opened.
	ErrInvalidConfig = errors.New("ledger: invalid config")
)

// Ledger is a durable, key-addressed record of fired occasions.
//
// TryMark is the only way to record a key: it atomically claims the key and reports true if and
// only if no unexpired entry existed. Callers must never emulate it with a read followed by a write.
type Ledger interface {
	TryMark(ctx context.Context, key draft.DedupKey) (bool, error)
	// Release drops a claim whose delivery ended in a retryable failure.
	Release(ctx context.Context, key draft.DedupKey) error
	// Sweep reclaims storage held by expired entries and reports how many were removed.
	// It is advisory; correctness never depends on it running.
	Sweep(ctx context.Context) (int64, error)
	Close() error
}

// Backend names a ledger storage medium.
type Backend string

const (
	BackendSQL    Backend = "sql"
	BackendRedis  Backend = "redis"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

// ParseBackend normalizes a configured backend name.
func ParseBackend(value string) (Backend, error) {
	switch backend := Backend(strings.ToLower(strings.TrimSpace(value))); backend {
	case BackendSQL, BackendRedis, BackendBadger, BackendMemory:
		return backend, nil
	case "":
		return BackendSQL, nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, value)
	}
}

// Config selects and configures a ledger backend.
type Config struct {
	Backend    Backend
	Retention  time.Duration
	Database   *gorm.DB
	RedisURL   string
	BadgerPath string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Open constructs the configured ledger backend.
func Open(cfg Config) (Ledger, error) {
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	switch cfg.Backend {
	case BackendSQL, "":
		sqlLedger, err := NewSQLLedger(SQLConfig{Database: cfg.Database, Retention: retention, Clock: clock})
		if err != nil {
			return nil, err
		}
		return sqlLedger, nil
	case BackendRedis:
		redisLedger, err := NewRedisLedger(RedisConfig{URL: cfg.RedisURL, Retention: retention, Clock: clock})
		if err != nil {
			return nil, err
		}
		return redisLedger, nil
	case BackendBadger:
		badgerLedger, err := OpenBadgerLedger(BadgerConfig{Path: cfg.BadgerPath, Retention: retention, Clock: clock, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		return badgerLedger, nil
	case BackendMemory:
		return NewMemoryLedger(retention, clock), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
