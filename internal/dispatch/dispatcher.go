package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/delivery"
	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/ErinHernandez/TopDog-sub011/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrency = 8

var noOpLogger = zap.NewNop()

// State is the stage a change has reached inside HandleChange.
type State string

const (
	StateReceived   State = "received"
	StateEvaluated  State = "evaluated"
	StateResolving  State = "resolving"
	StateDelivering State = "delivering"
	StateDone       State = "done"
)

// Deliverer plans and performs delivery for one recipient.
type Deliverer interface {
	Plan(ctx context.Context, occasion draft.Occasion, recipient draft.UserID) (delivery.Plan, error)
	Send(ctx context.Context, plan delivery.Plan, attempt int) delivery.Record
	DropStaleToken(ctx context.Context, recipient draft.UserID, token string) error
}

// Config describes the dependencies of the dispatcher.
type Config struct {
	Ledger         ledger.Ledger
	Delivery       Deliverer
	Metrics        *Metrics
	Logger         *zap.Logger
	MaxConcurrency int
	RetryAttempts  int
	RetryBackoff   time.Duration
}

// Dispatcher runs evaluation, deduplication, resolution and delivery for each draft change.
// It keeps no per-room state; concurrent invocations are serialized only by the ledger.
type Dispatcher struct {
	ledger         ledger.Ledger
	delivery       Deliverer
	metrics        *Metrics
	logger         *zap.Logger
	maxConcurrency int
	retries        *RetryQueue
}

// Report summarizes one HandleChange invocation.
type Report struct {
	EventID          string
	RoomID           draft.RoomID
	State            State
	Occasions        []draft.Occasion
	Issues           []error
	Records          []delivery.Record
	Skipped          int
	Contended        int
	Unresolved       int
	RetriesScheduled int
}

type deliveryTask struct {
	occasion  draft.Occasion
	recipient draft.UserID
}

type taskResult struct {
	record    *delivery.Record
	skipped   bool
	contended bool
	retried   bool
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Ledger == nil {
		return nil, newServiceError(opDispatcherNew, reasonMissingLedger, errMissingLedger)
	}
	if cfg.Delivery == nil {
		return nil, newServiceError(opDispatcherNew, reasonMissingDelivery, errMissingDelivery)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Dispatcher{
		ledger:         cfg.Ledger,
		delivery:       cfg.Delivery,
		metrics:        cfg.Metrics,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		retries:        NewRetryQueue(RetryConfig{MaxRetries: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}),
	}, nil
}

// HandleChange processes one authoritative write. It is safe to call concurrently and repeatedly
// for the same change. The returned error is non-nil only when the ledger is unavailable, in which
// case the caller should redeliver the change later.
func (d *Dispatcher) HandleChange(ctx context.Context, change draft.Change) (Report, error) {
	started := time.Now()
	defer func() {
		d.metrics.observeDuration(time.Since(started))
	}()

	report := Report{
		EventID: change.EventID,
		RoomID:  change.After.Snapshot.RoomID,
		State:   StateReceived,
	}
	logger := d.logger.With(
		zap.String("event_id", change.EventID),
		zap.String("room_id", report.RoomID.String()),
	)

	evaluation := draft.Evaluate(change.Before, change.After)
	report.State = StateEvaluated
	report.Occasions = evaluation.Occasions
	report.Issues = evaluation.Issues
	for _, issue := range evaluation.Issues {
		logger.Warn("alert evaluation issue",
			zap.String("operation", opHandleChange),
			zap.String("reason", reasonEvaluationIssue),
			zap.Error(issue),
		)
	}
	if change.After.Snapshot.Status == draft.StatusCompleted {
		if cancelled := d.retries.CancelPrefix(report.RoomID.String() + "|"); cancelled > 0 {
			logger.Info("pending alert retries cancelled for completed draft", zap.Int("cancelled", cancelled))
		}
	}
	if len(evaluation.Occasions) == 0 {
		report.State = StateDone
		return report, nil
	}

	// Sends already under way are not abandoned when the trigger goes away.
	ctx = context.WithoutCancel(ctx)
	report.State = StateResolving
	var (
		tasks      []deliveryTask
		roomClaims []draft.DedupKey
	)
	for _, occasion := range evaluation.Occasions {
		d.metrics.observeOccasion(occasion.Kind)
		recipients, err := ResolveRecipients(occasion, change.After.Snapshot)
		if err != nil {
			report.Unresolved++
			logger.Warn("alert occasion dropped",
				zap.String("operation", opHandleChange),
				zap.String("reason", reasonUnresolvedRecipient),
				zap.String("alert_kind", occasion.Kind.String()),
				zap.Error(err),
			)
			continue
		}
		if occasion.Kind.RoomScoped() {
			roomKey := occasion.RoomKey()
			marked, err := d.ledger.TryMark(ctx, roomKey)
			if err != nil {
				d.releaseRoomClaims(ctx, logger, roomClaims)
				logger.Error("alert dispatch aborted",
					zap.String("operation", opHandleChange),
					zap.String("reason", reasonLedgerUnavailable),
					zap.Error(err),
				)
				return report, newServiceError(opHandleChange, reasonLedgerUnavailable, err)
			}
			if !marked {
				report.Contended++
				d.metrics.observeContention(occasion.Kind)
				logger.Debug("room alert already fired",
					zap.String("alert_kind", occasion.Kind.String()),
					zap.String("dedup_key", roomKey.String()),
				)
				continue
			}
			roomClaims = append(roomClaims, roomKey)
		}
		for _, recipient := range recipients {
			tasks = append(tasks, deliveryTask{occasion: occasion, recipient: recipient})
		}
	}

	report.State = StateDelivering
	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(d.maxConcurrency)
	for _, task := range tasks {
		group.Go(func() error {
			result, err := d.deliver(ctx, task, 1)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			report.absorb(result)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		d.releaseRoomClaims(ctx, logger, roomClaims)
		logger.Error("alert dispatch aborted",
			zap.String("operation", opHandleChange),
			zap.String("reason", reasonLedgerUnavailable),
			zap.Error(err),
		)
		return report, newServiceError(opHandleChange, reasonLedgerUnavailable, err)
	}

	report.State = StateDone
	logger.Debug("draft change dispatched",
		zap.Int("occasions", len(report.Occasions)),
		zap.Int("attempts", len(report.Records)),
		zap.Int("contended", report.Contended),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// Close stops pending retries and waits for running ones.
func (d *Dispatcher) Close() {
	d.retries.Close()
}

// PendingRetries returns the number of delivery attempts waiting for their backoff.
func (d *Dispatcher) PendingRetries() int {
	return d.retries.Pending()
}

// deliver runs plan, claim and send for one recipient. The ledger is claimed only once a
// deliverable channel exists, and released again when the send failed transiently.
func (d *Dispatcher) deliver(ctx context.Context, task deliveryTask, attempt int) (taskResult, error) {
	key := task.occasion.KeyFor(task.recipient)
	fields := []zap.Field{
		zap.String("dedup_key", key.String()),
		zap.Int("attempt", attempt),
	}

	plan, err := d.delivery.Plan(ctx, task.occasion, task.recipient)
	if err != nil {
		d.logError(opDeliver, reasonPreferenceLookup, err, fields...)
		return taskResult{retried: d.scheduleRetry(task, attempt)}, nil
	}
	if !plan.Deliverable() {
		outcome := outcomeSkippedUnreachable
		if plan.Disabled {
			outcome = outcomeSkippedDisabled
		}
		d.metrics.observeDelivery(task.occasion.Kind, plan.Channel, outcome)
		return taskResult{skipped: true}, nil
	}

	marked, err := d.ledger.TryMark(ctx, key)
	if err != nil {
		return taskResult{}, err
	}
	if !marked {
		d.metrics.observeContention(task.occasion.Kind)
		return taskResult{contended: true}, nil
	}

	record := d.delivery.Send(ctx, plan, attempt)
	d.metrics.observeDelivery(task.occasion.Kind, record.Channel, string(record.Outcome.Status))
	result := taskResult{record: &record}
	fields = append(fields, zap.String("channel", string(record.Channel)), zap.String("record_id", record.ID))

	switch record.Outcome.Status {
	case delivery.OutcomeDelivered:
	case delivery.OutcomePermanent:
		d.logger.Warn("alert delivery failed permanently", append(fields, zap.String("cause", record.Outcome.Reason))...)
		if record.Outcome.StaleToken && plan.Token != "" {
			if err := d.delivery.DropStaleToken(ctx, task.recipient, plan.Token); err != nil {
				d.logError(opDeliver, reasonStaleTokenRemoval, err, fields...)
			}
		}
	case delivery.OutcomeTransient:
		d.logger.Info("alert delivery failed transiently", append(fields, zap.String("cause", record.Outcome.Reason))...)
		if err := d.ledger.Release(ctx, key); err != nil {
			d.logError(opDeliver, reasonLedgerRelease, err, fields...)
			return result, nil
		}
		result.retried = d.scheduleRetry(task, attempt)
	}
	return result, nil
}

// releaseRoomClaims gives room-wide claims back after an aborted dispatch so a redelivered change
// can fire them again. Recipients already served keep their own keys.
func (d *Dispatcher) releaseRoomClaims(ctx context.Context, logger *zap.Logger, keys []draft.DedupKey) {
	for _, key := range keys {
		if err := d.ledger.Release(ctx, key); err != nil {
			logger.Error("dispatch error",
				zap.String("operation", opHandleChange),
				zap.String("reason", reasonLedgerRelease),
				zap.String("dedup_key", key.String()),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) scheduleRetry(task deliveryTask, attempt int) bool {
	key := task.occasion.KeyFor(task.recipient)
	scheduled := d.retries.Schedule(key.String(), attempt+1, func(ctx context.Context) {
		if _, err := d.deliver(ctx, task, attempt+1); err != nil {
			d.logError(opDeliver, reasonLedgerUnavailable, err,
				zap.String("dedup_key", key.String()),
				zap.Int("attempt", attempt+1),
			)
		}
	})
	if scheduled {
		d.metrics.observeRetry(task.occasion.Kind)
		return true
	}
	d.logger.Warn("alert delivery abandoned",
		zap.String("operation", opDeliver),
		zap.String("reason", reasonRetryExhausted),
		zap.String("dedup_key", key.String()),
		zap.Int("attempt", attempt),
	)
	return false
}

func (d *Dispatcher) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	d.logger.Error("dispatch error", attrs...)
}

func (r *Report) absorb(result taskResult) {
	if result.record != nil {
		r.Records = append(r.Records, *result.record)
	}
	if result.skipped {
		r.Skipped++
	}
	if result.contended {
		r.Contended++
	}
	if result.retried {
		r.RetriesScheduled++
	}
}
