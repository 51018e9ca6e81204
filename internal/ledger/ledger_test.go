package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const racingCallers = 16

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1760000000, 0).UTC()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(duration)
}

func onTheClockKey(round int) draft.DedupKey {
	return draft.Occasion{
		Kind:    draft.AlertOnTheClock,
		RoomID:  "room-1",
		Round:   round,
		Subject: "user-1",
	}.KeyFor("user-1")
}

func newSQLTestLedger(t *testing.T, clock *manualClock) *SQLLedger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate ledger: %v", err)
	}
	ledger, err := NewSQLLedger(SQLConfig{Database: db, Retention: DefaultRetention, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	return ledger
}

func newRedisTestLedger(t *testing.T, clock *manualClock) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	ledger, err := NewRedisLedger(RedisConfig{URL: "redis://" + server.Addr(), Retention: DefaultRetention, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build redis ledger: %v", err)
	}
	t.Cleanup(func() {
		_ = ledger.Close()
	})
	return ledger, server
}

func newBadgerTestLedger(t *testing.T, clock *manualClock) *BadgerLedger {
	t.Helper()
	ledger, err := OpenBadgerLedger(BadgerConfig{InMemory: true, Retention: DefaultRetention, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to open badger ledger: %v", err)
	}
	t.Cleanup(func() {
		_ = ledger.Close()
	})
	return ledger
}

func forEachBackend(t *testing.T, run func(t *testing.T, ledger Ledger)) {
	t.Run("sql", func(t *testing.T) {
		run(t, newSQLTestLedger(t, newManualClock()))
	})
	t.Run("redis", func(t *testing.T) {
		ledger, _ := newRedisTestLedger(t, newManualClock())
		run(t, ledger)
	})
	t.Run("badger", func(t *testing.T) {
		run(t, newBadgerTestLedger(t, newManualClock()))
	})
	t.Run("memory", func(t *testing.T) {
		run(t, NewMemoryLedger(DefaultRetention, newManualClock().Now))
	})
}

func TestTryMarkRecordsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ledger Ledger) {
		ctx := context.Background()
		marked, err := ledger.TryMark(ctx, onTheClockKey(1))
		if err != nil || !marked {
			t.Fatalf("expected first mark to succeed, got %v (%v)", marked, err)
		}
		marked, err = ledger.TryMark(ctx, onTheClockKey(1))
		if err != nil || marked {
			t.Fatalf("expected second mark to be rejected, got %v (%v)", marked, err)
		}
		marked, err = ledger.TryMark(ctx, onTheClockKey(2))
		if err != nil || !marked {
			t.Fatalf("expected next round to be independent, got %v (%v)", marked, err)
		}
	})
}

func TestTryMarkConcurrentCallersSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ledger Ledger) {
		var winners atomic.Int32
		var failures atomic.Int32
		var group sync.WaitGroup
		start := make(chan struct{})
		for caller := 0; caller < racingCallers; caller++ {
			group.Add(1)
			go func() {
				defer group.Done()
				<-start
				marked, err := ledger.TryMark(context.Background(), onTheClockKey(3))
				if err != nil {
					failures.Add(1)
					return
				}
				if marked {
					winners.Add(1)
				}
			}()
		}
		close(start)
		group.Wait()

		if failures.Load() != 0 {
			t.Fatalf("expected no backend failures, got %d", failures.Load())
		}
		if winners.Load() != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners.Load())
		}
	})
}

func TestReleaseMakesKeyMarkableAgain(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ledger Ledger) {
		ctx := context.Background()
		key := onTheClockKey(4)
		if marked, err := ledger.TryMark(ctx, key); err != nil || !marked {
			t.Fatalf("expected mark, got %v (%v)", marked, err)
		}
		if err := ledger.Release(ctx, key); err != nil {
			t.Fatalf("release failed: %v", err)
		}
		if marked, err := ledger.TryMark(ctx, key); err != nil || !marked {
			t.Fatalf("expected mark after release, got %v (%v)", marked, err)
		}
	})
}

func TestSQLLedgerExpiredEntryIsReclaimed(t *testing.T) {
	clock := newManualClock()
	ledger := newSQLTestLedger(t, clock)
	ctx := context.Background()

	if marked, _ := ledger.TryMark(ctx, onTheClockKey(1)); !marked {
		t.Fatalf("expected initial mark")
	}
	clock.Advance(2 * time.Hour)
	if marked, _ := ledger.TryMark(ctx, onTheClockKey(1)); marked {
		t.Fatalf("entry must hold within the retention window")
	}
	clock.Advance(DefaultRetention)
	if marked, err := ledger.TryMark(ctx, onTheClockKey(1)); err != nil || !marked {
		t.Fatalf("expected expired entry to be reclaimable, got %v (%v)", marked, err)
	}
}

func TestSQLLedgerSweepRemovesOnlyExpired(t *testing.T) {
	clock := newManualClock()
	ledger := newSQLTestLedger(t, clock)
	ctx := context.Background()

	_, _ = ledger.TryMark(ctx, onTheClockKey(1))
	clock.Advance(DefaultRetention + time.Minute)
	_, _ = ledger.TryMark(ctx, onTheClockKey(2))

	removed, err := ledger.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired entry removed, got %d", removed)
	}

	var remaining []Entry
	if err := ledger.db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to load entries: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Round != 2 {
		t.Fatalf("unexpected remaining entries: %+v", remaining)
	}
	if remaining[0].RecipientID != "user-1" || remaining[0].AlertKind != string(draft.AlertOnTheClock) {
		t.Fatalf("unexpected entry columns: %+v", remaining[0])
	}
}

func TestRedisLedgerEntriesExpire(t *testing.T) {
	ledger, server := newRedisTestLedger(t, newManualClock())
	ctx := context.Background()

	if marked, _ := ledger.TryMark(ctx, onTheClockKey(1)); !marked {
		t.Fatalf("expected initial mark")
	}
	if ttl := server.TTL(redisKeyPrefix + onTheClockKey(1).String()); ttl != DefaultRetention {
		t.Fatalf("expected retention ttl, got %s", ttl)
	}
	server.FastForward(DefaultRetention + time.Second)
	if marked, err := ledger.TryMark(ctx, onTheClockKey(1)); err != nil || !marked {
		t.Fatalf("expected expired key to be markable, got %v (%v)", marked, err)
	}
}

func TestRedisLedgerReportsUnavailable(t *testing.T) {
	ledger, server := newRedisTestLedger(t, newManualClock())
	server.Close()

	_, err := ledger.TryMark(context.Background(), onTheClockKey(1))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestMemoryLedgerSweep(t *testing.T) {
	clock := newManualClock()
	ledger := NewMemoryLedger(time.Hour, clock.Now)
	ctx := context.Background()

	_, _ = ledger.TryMark(ctx, onTheClockKey(1))
	clock.Advance(2 * time.Hour)
	_, _ = ledger.TryMark(ctx, onTheClockKey(2))

	removed, err := ledger.Sweep(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected one removal, got %d (%v)", removed, err)
	}
	if marked, _ := ledger.TryMark(ctx, onTheClockKey(2)); marked {
		t.Fatalf("fresh entry must survive the sweep")
	}
}

func TestMemoryLedgerReclaimsExpiredAndReleasedEntries(t *testing.T) {
	clock := newManualClock()
	ledger := NewMemoryLedger(time.Hour, clock.Now)
	ctx := context.Background()

	if marked, _ := ledger.TryMark(ctx, onTheClockKey(1)); !marked {
		t.Fatalf("expected first mark to win")
	}
	clock.Advance(30 * time.Minute)
	if marked, _ := ledger.TryMark(ctx, onTheClockKey(1)); marked {
		t.Fatalf("unexpired entry must not be claimed again")
	}
	clock.Advance(time.Hour)
	if marked, _ := ledger.TryMark(ctx, onTheClockKey(1)); !marked {
		t.Fatalf("expected expired entry to be reclaimed")
	}

	_, _ = ledger.TryMark(ctx, onTheClockKey(2))
	if err := ledger.Release(ctx, onTheClockKey(2)); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	removed, err := ledger.Sweep(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected the released entry to be swept, got %d (%v)", removed, err)
	}
	if _, present := ledger.entries.Load(onTheClockKey(2).String()); present {
		t.Fatalf("expected released entry to leave the map")
	}
	if marked, _ := ledger.TryMark(ctx, onTheClockKey(1)); marked {
		t.Fatalf("live claim must survive the sweep")
	}
}

func TestMemoryLedgerSweepRacingClaimsKeepSingleWinner(t *testing.T) {
	clock := newManualClock()
	ledger := NewMemoryLedger(time.Hour, clock.Now)
	ctx := context.Background()
	_, _ = ledger.TryMark(ctx, onTheClockKey(5))
	clock.Advance(2 * time.Hour)

	var winners atomic.Int32
	var group sync.WaitGroup
	start := make(chan struct{})
	for caller := 0; caller < racingCallers; caller++ {
		group.Add(1)
		go func() {
			defer group.Done()
			<-start
			if marked, _ := ledger.TryMark(ctx, onTheClockKey(5)); marked {
				winners.Add(1)
			}
		}()
	}
	group.Add(1)
	go func() {
		defer group.Done()
		<-start
		_, _ = ledger.Sweep(ctx)
	}()
	close(start)
	group.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner across sweep and claims, got %d", winners.Load())
	}
}

func TestParseBackend(t *testing.T) {
	backend, err := ParseBackend(" Redis ")
	if err != nil || backend != BackendRedis {
		t.Fatalf("expected redis backend, got %q (%v)", backend, err)
	}
	if backend, _ := ParseBackend(""); backend != BackendSQL {
		t.Fatalf("expected sql default, got %q", backend)
	}
	if _, err := ParseBackend("etcd"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestOpenRequiresBackendSettings(t *testing.T) {
	if _, err := Open(Config{Backend: BackendSQL}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected sql backend to require a database, got %v", err)
	}
	if _, err := Open(Config{Backend: BackendRedis}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected redis backend to require a url, got %v", err)
	}
	if _, err := Open(Config{Backend: BackendBadger}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected badger backend to require a path, got %v", err)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	ledger := NewMemoryLedger(time.Millisecond, nil)
	_, _ = ledger.TryMark(context.Background(), onTheClockKey(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, ledger, 5*time.Millisecond, nil)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if _, present := ledger.entries.Load(onTheClockKey(1).String()); !present {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected sweeper to reclaim the expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected sweeper to stop after cancellation")
	}
}
