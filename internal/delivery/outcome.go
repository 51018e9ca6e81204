package delivery

// OutcomeStatus classifies a delivery attempt.
type OutcomeStatus string

const (
	OutcomeDelivered OutcomeStatus = "delivered"
	OutcomePermanent OutcomeStatus = "permanent_failure"
	OutcomeTransient OutcomeStatus = "transient_failure"
)

// Outcome is the result of one send attempt. StaleToken marks a permanent failure
// caused by a channel token the gateway no longer accepts.
type Outcome struct {
	Status     OutcomeStatus
	Reason     string
	StaleToken bool
}

func delivered() Outcome {
	return Outcome{Status: OutcomeDelivered}
}

func permanentFailure(reason string, staleToken bool) Outcome {
	return Outcome{Status: OutcomePermanent, Reason: reason, StaleToken: staleToken}
}

func transientFailure(reason string) Outcome {
	return Outcome{Status: OutcomeTransient, Reason: reason}
}

// Retryable reports whether the attempt may be repeated.
func (o Outcome) Retryable() bool {
	return o.Status == OutcomeTransient
}
