package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

const (
	initialRedeliveryDelay = 500 * time.Millisecond
	maxRedeliveryDelay     = 30 * time.Second
	consumerRestartDelay   = time.Second
)

// ChangeHandler processes one draft change.
type ChangeHandler interface {
	HandleChange(ctx context.Context, change draft.Change) (Report, error)
}

// KafkaConfig describes the change-feed consumer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  *zap.Logger
}

// KafkaTrigger feeds draft changes published by the draft engine into the dispatcher.
// A message is committed only after its change was handled, so ledger outages stall the
// partition instead of skipping alerts.
type KafkaTrigger struct {
	group    sarama.ConsumerGroup
	topic    string
	consumer *changeConsumer
	logger   *zap.Logger
}

// NewKafkaTrigger joins the consumer group.
func NewKafkaTrigger(cfg KafkaConfig, handler ChangeHandler) (*KafkaTrigger, error) {
	if len(cfg.Brokers) == 0 {
		return nil, newServiceError(opKafkaTriggerNew, reasonMissingBrokers, errMissingBrokers)
	}
	if handler == nil {
		return nil, newServiceError(opKafkaTriggerNew, reasonMissingHandler, errMissingHandler)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	config := sarama.NewConfig()
	config.ClientID = cfg.GroupID
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, newServiceError(opKafkaTriggerNew, reasonConsumerGroupFailed, err)
	}
	return &KafkaTrigger{
		group:    group,
		topic:    cfg.Topic,
		consumer: newChangeConsumer(handler, logger),
		logger:   logger,
	}, nil
}

// Run consumes until ctx is cancelled. Consume returns on every rebalance, so it is called in a loop.
func (k *KafkaTrigger) Run(ctx context.Context) error {
	go func() {
		for err := range k.group.Errors() {
			k.logger.Warn("kafka consumer error", zap.Error(err))
		}
	}()
	for {
		if err := k.group.Consume(ctx, []string{k.topic}, k.consumer); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			k.logger.Error("kafka consume failed",
				zap.String("operation", opKafkaConsume),
				zap.String("reason", reasonConsumerGroupFailed),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(consumerRestartDelay):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (k *KafkaTrigger) Close() error {
	return k.group.Close()
}

type changeConsumer struct {
	handler ChangeHandler
	logger  *zap.Logger
	sleep   func(ctx context.Context, delay time.Duration) bool
}

func newChangeConsumer(handler ChangeHandler, logger *zap.Logger) *changeConsumer {
	return &changeConsumer{handler: handler, logger: logger, sleep: sleepContext}
}

func (c *changeConsumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *changeConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *changeConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !c.handleMessage(session.Context(), message) {
				return nil
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage reports whether message may be committed. Malformed messages are committed so
// they cannot block the partition; infrastructure failures are retried until ctx ends.
func (c *changeConsumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) bool {
	var change draft.Change
	if err := json.Unmarshal(message.Value, &change); err != nil {
		c.logger.Warn("kafka change message dropped",
			zap.String("operation", opKafkaConsume),
			zap.String("reason", reasonMalformedMessage),
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
			zap.Error(err),
		)
		return true
	}
	if change.EventID == "" {
		change.EventID = string(message.Key)
	}

	delay := initialRedeliveryDelay
	for {
		_, err := c.handler.HandleChange(ctx, change)
		if err == nil {
			return true
		}
		c.logger.Warn("kafka change handling failed",
			zap.String("operation", opKafkaConsume),
			zap.String("reason", reasonHandleFailed),
			zap.String("event_id", change.EventID),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		if !c.sleep(ctx, delay) {
			return false
		}
		delay *= 2
		if delay > maxRedeliveryDelay {
			delay = maxRedeliveryDelay
		}
	}
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
