package draft

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownAlertKind indicates an alert kind outside the supported set.
var ErrUnknownAlertKind = errors.New("draft: unknown alert kind")

// AlertKind enumerates the alerts derived from draft transitions.
type AlertKind string

const (
	AlertRoomFilled          AlertKind = "room_filled"
	AlertDraftStarting       AlertKind = "draft_starting"
	AlertTwoPicksAway        AlertKind = "two_picks_away"
	AlertOnTheClock          AlertKind = "on_the_clock"
	AlertTenSecondsRemaining AlertKind = "ten_seconds_remaining"
)

// AlertKinds lists every kind in evaluation order.
var AlertKinds = []AlertKind{
	AlertRoomFilled,
	AlertDraftStarting,
	AlertTwoPicksAway,
	AlertOnTheClock,
	AlertTenSecondsRemaining,
}

// ParseAlertKind converts a stored or wire value into an AlertKind.
func ParseAlertKind(value string) (AlertKind, error) {
	normalized := AlertKind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range AlertKinds {
		if kind == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlertKind, value)
}

// Scope describes who receives an alert kind.
type Scope string

const (
	ScopeAllParticipants Scope = "all_participants"
	ScopeTurnHolder      Scope = "turn_holder"
)

// Scope returns the recipient scope for the kind.
func (k AlertKind) Scope() Scope {
	if k.RoomScoped() {
		return ScopeAllParticipants
	}
	return ScopeTurnHolder
}

// RoomScoped reports whether the kind fires at most once for a room's lifetime.
func (k AlertKind) RoomScoped() bool {
	return k == AlertRoomFilled || k == AlertDraftStarting
}

// Urgent reports whether delivery should request device sound and vibration.
func (k AlertKind) Urgent() bool {
	return k == AlertOnTheClock || k == AlertTenSecondsRemaining
}

// String returns the wire value.
func (k AlertKind) String() string {
	return string(k)
}

// Occasion is one alert kind becoming due for a room. Occasions are plain values and compare
// structurally. Subject is the turn holder for turn-based kinds and empty for room-scoped kinds.
type Occasion struct {
	Kind    AlertKind
	RoomID  RoomID
	Round   int
	Subject UserID
}

// KeyFor returns the ledger key for delivering the occasion to recipient.
func (o Occasion) KeyFor(recipient UserID) DedupKey {
	round := o.Round
	if o.Kind.RoomScoped() {
		round = 0
	}
	return DedupKey{
		RoomID:      o.RoomID,
		Kind:        o.Kind,
		Round:       round,
		RecipientID: recipient,
	}
}

// RoomKey returns the room-wide ledger key of a room-scoped occasion. Claiming it first makes the
// kind fire once per room, whoever holds the seats when it fires.
func (o Occasion) RoomKey() DedupKey {
	return DedupKey{RoomID: o.RoomID, Kind: o.Kind}
}

// DedupKey addresses one ledger entry. Round is always 0 for room-scoped kinds.
type DedupKey struct {
	RoomID      RoomID
	Kind        AlertKind
	Round       int
	RecipientID UserID
}

const dedupKeySeparator = "|"

// String serializes the key uniformly for every backend.
func (k DedupKey) String() string {
	return strings.Join([]string{
		k.RoomID.String(),
		k.Kind.String(),
		strconv.Itoa(k.Round),
		k.RecipientID.String(),
	}, dedupKeySeparator)
}
