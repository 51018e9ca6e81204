package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/ErinHernandez/TopDog-sub011/internal/preferences"
)

const defaultSendTimeout = 5 * time.Second

var (
	errMissingPreferenceSource = errors.New("delivery: preference source required")
	errMissingLiveChannel      = errors.New("delivery: live channel required")
)

// PreferenceSource exposes the recipient profile owned by the user profile store.
type PreferenceSource interface {
	Lookup(ctx context.Context, userID draft.UserID) (preferences.Preference, error)
	RemoveChannelToken(ctx context.Context, userID draft.UserID, token string) error
}

// PushSender delivers a remote push notification.
type PushSender interface {
	Send(ctx context.Context, token string, message Message) Outcome
}

// LiveChannel delivers native alerts to connected sessions.
type LiveChannel interface {
	Reachable(userID draft.UserID) bool
	Publish(message Message) int
}

// AdapterConfig describes the dependencies of the delivery adapter. A nil Push disables remote push.
type AdapterConfig struct {
	Preferences  PreferenceSource
	Push         PushSender
	Live         LiveChannel
	Timeout      time.Duration
	DeepLinkBase string
	Clock        func() time.Time
}

// Adapter turns an occasion and recipient into a channel choice and performs the send.
type Adapter struct {
	preferences  PreferenceSource
	push         PushSender
	live         LiveChannel
	timeout      time.Duration
	deepLinkBase string
	clock        func() time.Time
}

// Plan is the delivery decision for one recipient of one occasion.
type Plan struct {
	Occasion  draft.Occasion
	Recipient draft.UserID
	Channel   Channel
	Disabled  bool
	Token     string
	Message   Message
}

// Deliverable reports whether a send should be attempted.
func (p Plan) Deliverable() bool {
	return p.Channel != ChannelNone
}

// NewAdapter constructs a delivery adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Preferences == nil {
		return nil, errMissingPreferenceSource
	}
	if cfg.Live == nil {
		return nil, errMissingLiveChannel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Adapter{
		preferences:  cfg.Preferences,
		push:         cfg.Push,
		live:         cfg.Live,
		timeout:      timeout,
		deepLinkBase: cfg.DeepLinkBase,
		clock:        clock,
	}, nil
}

// Plan looks up the recipient's preference and selects a channel.
func (a *Adapter) Plan(ctx context.Context, occasion draft.Occasion, recipient draft.UserID) (Plan, error) {
	preference, err := a.preferences.Lookup(ctx, recipient)
	if err != nil {
		return Plan{}, fmt.Errorf("delivery: lookup preference: %w", err)
	}
	plan := Plan{
		Occasion:  occasion,
		Recipient: recipient,
		Disabled:  !preference.Enabled(occasion.Kind),
		Token:     preference.ChannelToken,
	}
	plan.Channel = Select(preference, occasion.Kind, a.live.Reachable(recipient), a.push != nil)
	if plan.Deliverable() {
		plan.Message = BuildMessage(occasion, recipient, a.deepLinkBase, a.clock())
	}
	return plan, nil
}

// Send performs one attempt for plan. Native alerts that reach no session fall back to push.
func (a *Adapter) Send(ctx context.Context, plan Plan, attempt int) Record {
	record := Record{
		ID:          newRecordID(),
		RecipientID: plan.Recipient,
		Kind:        plan.Occasion.Kind,
		Channel:     plan.Channel,
		Attempt:     attempt,
	}

	switch plan.Channel {
	case ChannelNative:
		if a.live.Publish(plan.Message) > 0 {
			record.Outcome = delivered()
			return record
		}
		if a.push == nil || plan.Token == "" {
			record.Outcome = transientFailure("no live session accepted the alert")
			return record
		}
		record.Channel = ChannelPush
		record.Outcome = a.sendPush(ctx, plan)
	case ChannelPush:
		if a.push == nil {
			record.Outcome = permanentFailure("remote push disabled", false)
			return record
		}
		record.Outcome = a.sendPush(ctx, plan)
	default:
		record.Outcome = permanentFailure("recipient unreachable", false)
	}
	return record
}

// DropStaleToken asks the preference store to forget a token the gateway rejected.
func (a *Adapter) DropStaleToken(ctx context.Context, recipient draft.UserID, token string) error {
	return a.preferences.RemoveChannelToken(ctx, recipient, token)
}

func (a *Adapter) sendPush(ctx context.Context, plan Plan) Outcome {
	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	outcome := a.push.Send(sendCtx, plan.Token, plan.Message)
	if outcome.Status != OutcomeDelivered && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		return transientFailure(fmt.Sprintf("send timed out after %s", a.timeout))
	}
	return outcome
}
