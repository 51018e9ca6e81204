package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const badgerGCDiscardRatio = 0.5

var errAlreadyMarked = errors.New("ledger: key already marked")

// BadgerConfig configures the embedded ledger. An empty Path with InMemory set opens a
// throwaway store.
type BadgerConfig struct {
	Path      string
	InMemory  bool
	Retention time.Duration
	Clock     func() time.Time
	Logger    *zap.Logger
}

// BadgerLedger keeps entries in an embedded Badger store for single-node deployments.
// Serializable transactions make a lost race surface as badger.ErrConflict.
type BadgerLedger struct {
	db        *badger.DB
	retention time.Duration
	clock     func() time.Time
}

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// OpenBadgerLedger opens (creating if needed) the Badger directory.
func OpenBadgerLedger(cfg BadgerConfig) (*BadgerLedger, error) {
	path := strings.TrimSpace(cfg.Path)
	if !cfg.InMemory && path == "" {
		return nil, fmt.Errorf("%w: badger path is required", ErrInvalidConfig)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create badger directory %s: %v", ErrUnavailable, path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", ErrUnavailable, err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &BadgerLedger{db: db, retention: retention, clock: clock}, nil
}

// TryMark reads and writes the key inside one transaction. A concurrent writer of the same key
// makes the commit fail with ErrConflict, which counts as a lost race.
func (l *BadgerLedger) TryMark(_ context.Context, key draft.DedupKey) (bool, error) {
	storageKey := []byte(key.String())
	firedAt := strconv.AppendInt(nil, l.clock().UTC().Unix(), 10)

	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(storageKey)
		if err == nil {
			return errAlreadyMarked
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(storageKey, firedAt).WithTTL(l.retention))
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errAlreadyMarked), errors.Is(err, badger.ErrConflict):
		return false, nil
	default:
		return false, fmt.Errorf("%w: mark %s: %v", ErrUnavailable, key, err)
	}
}

// Release deletes the claim for key.
func (l *BadgerLedger) Release(_ context.Context, key draft.DedupKey) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key.String()))
	})
	if err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Sweep runs value log garbage collection; expired entries are already invisible through TTL.
func (l *BadgerLedger) Sweep(context.Context) (int64, error) {
	err := l.db.RunValueLogGC(badgerGCDiscardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return 0, fmt.Errorf("%w: value log gc: %v", ErrUnavailable, err)
	}
	return 0, nil
}

// Close flushes and closes the store.
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}
