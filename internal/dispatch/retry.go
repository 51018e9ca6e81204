package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	defaultRetryBackoff = 2 * time.Second
	maxRetryBackoff     = 5 * time.Minute
)

// RetryConfig bounds the retry queue.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// RetryQueue runs delayed delivery attempts keyed by dedup key. At most one attempt per key is pending.
type RetryQueue struct {
	mu         sync.Mutex
	pending    map[string]*time.Timer
	maxRetries int
	backoff    time.Duration
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	inFlight   sync.WaitGroup
}

// NewRetryQueue constructs a retry queue. MaxRetries of zero disables retries.
func NewRetryQueue(cfg RetryConfig) *RetryQueue {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetryQueue{
		pending:    make(map[string]*time.Timer),
		maxRetries: maxRetries,
		backoff:    backoff,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Backoff returns the delay before the given retry, starting at one: base, 2*base, 4*base and so on.
func Backoff(base time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := base
	for step := 1; step < retry; step++ {
		delay *= 2
		if delay >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return delay
}

// Schedule arranges for run to execute before attempt number attempt (the first send is attempt 1).
// It reports false when the retry budget is spent, the key already has a pending attempt, or the
// queue is closed.
func (q *RetryQueue) Schedule(key string, attempt int, run func(ctx context.Context)) bool {
	retry := attempt - 1
	if retry < 1 || retry > q.maxRetries {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if _, exists := q.pending[key]; exists {
		return false
	}

	var timer *time.Timer
	timer = time.AfterFunc(Backoff(q.backoff, retry), func() {
		q.mu.Lock()
		if q.closed || q.pending[key] != timer {
			q.mu.Unlock()
			return
		}
		delete(q.pending, key)
		q.inFlight.Add(1)
		q.mu.Unlock()

		defer q.inFlight.Done()
		run(q.ctx)
	})
	q.pending[key] = timer
	return true
}

// Cancel drops the pending attempt for key, if it has not started yet.
func (q *RetryQueue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	timer, exists := q.pending[key]
	if !exists {
		return false
	}
	timer.Stop()
	delete(q.pending, key)
	return true
}

// CancelPrefix drops every pending attempt whose key starts with prefix and returns how many.
func (q *RetryQueue) CancelPrefix(prefix string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancelled := 0
	for key, timer := range q.pending {
		if strings.HasPrefix(key, prefix) {
			timer.Stop()
			delete(q.pending, key)
			cancelled++
		}
	}
	return cancelled
}

// Pending returns the number of attempts waiting for their timer.
func (q *RetryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close drops every pending attempt and waits for running ones to return.
func (q *RetryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for key, timer := range q.pending {
		timer.Stop()
		delete(q.pending, key)
	}
	q.mu.Unlock()

	q.cancel()
	q.inFlight.Wait()
}
