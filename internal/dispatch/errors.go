package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedRecipient indicates a turn-based occasion whose subject holds no seat.
	ErrUnresolvedRecipient = errors.New("dispatch: occasion subject is not a participant")

	errMissingLedger   = errors.New("ledger dependency is required")
	errMissingDelivery = errors.New("delivery dependency is required")
	errMissingHandler  = errors.New("change handler is required")
	errMissingBrokers  = errors.New("kafka brokers are required")
)

const (
	opDispatcherNew   = "dispatch.new"
	opHandleChange    = "dispatch.handle_change"
	opDeliver         = "dispatch.deliver"
	opKafkaTriggerNew = "dispatch.kafka_trigger.new"
	opKafkaConsume    = "dispatch.kafka_trigger.consume"

	reasonMissingLedger       = "missing_ledger"
	reasonMissingDelivery     = "missing_delivery"
	reasonMissingHandler      = "missing_handler"
	reasonMissingBrokers      = "missing_brokers"
	reasonConsumerGroupFailed = "consumer_group_failed"
	reasonLedgerUnavailable   = "ledger_unavailable"
	reasonEvaluationIssue     = "evaluation_issue"
	reasonUnresolvedRecipient = "unresolved_recipient"
	reasonPreferenceLookup    = "preference_lookup_failed"
	reasonLedgerRelease       = "ledger_release_failed"
	reasonStaleTokenRemoval   = "stale_token_removal_failed"
	reasonRetryExhausted      = "retry_exhausted"
	reasonMalformedMessage    = "malformed_message"
	reasonHandleFailed        = "handle_failed"
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
