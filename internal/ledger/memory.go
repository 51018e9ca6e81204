package ledger

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/puzpuzpuz/xsync"
)

const (
	releasedMark int64 = 0
	sweptMark    int64 = -1
)

// memoryEntry holds the claim time in unix nanoseconds. An entry marked swept is about to leave the
// map and must not be claimed again.
type memoryEntry struct {
	firedAt atomic.Int64
}

func newMemoryEntry(firedAt int64) *memoryEntry {
	entry := &memoryEntry{}
	entry.firedAt.Store(firedAt)
	return entry
}

// MemoryLedger is a process-local ledger for development and tests. Entries vanish on restart.
type MemoryLedger struct {
	entries   *xsync.MapOf[string, *memoryEntry]
	retention time.Duration
	clock     func() time.Time
}

// NewMemoryLedger constructs an empty in-process ledger.
func NewMemoryLedger(retention time.Duration, clock func() time.Time) *MemoryLedger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLedger{
		entries:   xsync.NewMapOf[*memoryEntry](),
		retention: retention,
		clock:     clock,
	}
}

// TryMark claims the key with LoadOrStore, or by swapping the claim time of an expired or released
// entry. Racing callers agree on a single winner through the compare-and-swap.
func (l *MemoryLedger) TryMark(_ context.Context, key draft.DedupKey) (bool, error) {
	now := l.clock().UnixNano()
	for {
		entry, loaded := l.entries.LoadOrStore(key.String(), newMemoryEntry(now))
		if !loaded {
			return true, nil
		}
		for {
			firedAt := entry.firedAt.Load()
			if firedAt == sweptMark {
				break
			}
			if firedAt != releasedMark && !l.expired(firedAt, now) {
				return false, nil
			}
			if entry.firedAt.CompareAndSwap(firedAt, now) {
				return true, nil
			}
		}
		runtime.Gosched()
	}
}

// Release drops the claim for key.
func (l *MemoryLedger) Release(_ context.Context, key draft.DedupKey) error {
	entry, ok := l.entries.Load(key.String())
	if !ok {
		return nil
	}
	for {
		firedAt := entry.firedAt.Load()
		if firedAt == sweptMark || firedAt == releasedMark {
			return nil
		}
		if entry.firedAt.CompareAndSwap(firedAt, releasedMark) {
			return nil
		}
	}
}

// Sweep removes expired and released entries.
func (l *MemoryLedger) Sweep(context.Context) (int64, error) {
	now := l.clock().UnixNano()
	var keys []string
	l.entries.Range(func(key string, _ *memoryEntry) bool {
		keys = append(keys, key)
		return true
	})

	var removed int64
	for _, key := range keys {
		entry, ok := l.entries.Load(key)
		if !ok {
			continue
		}
		firedAt := entry.firedAt.Load()
		if firedAt == sweptMark || (firedAt != releasedMark && !l.expired(firedAt, now)) {
			continue
		}
		if entry.firedAt.CompareAndSwap(firedAt, sweptMark) {
			l.entries.Delete(key)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op.
func (l *MemoryLedger) Close() error {
	return nil
}

func (l *MemoryLedger) expired(firedAt, now int64) bool {
	return time.Duration(now-firedAt) >= l.retention
}
