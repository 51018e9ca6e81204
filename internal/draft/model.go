package draft

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxIdentifierLength = 190
	// reservedIdentifierChar separates the components of ledger keys.
	reservedIdentifierChar = "|"
)

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("draft: invalid room id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("draft: invalid user id")
)

// RoomID identifies a draft room.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	if strings.Contains(trimmed, reservedIdentifierChar) {
		return "", fmt.Errorf("%w: contains %q", ErrInvalidRoomID, reservedIdentifierChar)
	}
	return RoomID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// UserID identifies a draft participant.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	if strings.Contains(trimmed, reservedIdentifierChar) {
		return "", fmt.Errorf("%w: contains %q", ErrInvalidUserID, reservedIdentifierChar)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Status enumerates the lifecycle phases of a draft room.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Snapshot is an immutable view of a draft room at one instant, as reported by the draft engine.
// CurrentPickerID is supplied by the turn-order oracle.
type Snapshot struct {
	RoomID                   RoomID   `json:"room_id" validate:"required,max=190,excludesall=0x7C"`
	Status                   Status   `json:"status" validate:"required,oneof=waiting active paused completed"`
	Participants             []UserID `json:"participants" validate:"unique,dive,required,max=190,excludesall=0x7C"`
	MaxParticipants          int      `json:"max_participants" validate:"gte=1"`
	PreDraftCountdownSeconds int      `json:"pre_draft_countdown_seconds" validate:"gte=0"`
	CurrentRound             int      `json:"current_round" validate:"gte=0"`
	CurrentPickIndex         int      `json:"current_pick_index" validate:"gte=0"`
	TurnTimerSeconds         int      `json:"turn_timer_seconds" validate:"gte=0"`
	CurrentPickerID          UserID   `json:"current_picker_id,omitempty" validate:"max=190,excludesall=0x7C"`
}

// HasParticipant reports whether userID occupies a seat in the room.
func (s Snapshot) HasParticipant(userID UserID) bool {
	for _, participant := range s.Participants {
		if participant == userID {
			return true
		}
	}
	return false
}

// Full reports whether every seat is taken.
func (s Snapshot) Full() bool {
	return s.MaxParticipants > 0 && len(s.Participants) == s.MaxParticipants
}

// Observation pairs a snapshot with the per-user turn distance derived by the scheduling oracle.
// PicksUntilTurn is not part of the stored draft record.
type Observation struct {
	Snapshot       Snapshot       `json:"snapshot"`
	PicksUntilTurn map[UserID]int `json:"picks_until_turn,omitempty"`
}

// PicksUntil returns the oracle's turn distance for userID.
func (o Observation) PicksUntil(userID UserID) (int, bool) {
	if o.PicksUntilTurn == nil {
		return 0, false
	}
	picks, ok := o.PicksUntilTurn[userID]
	return picks, ok
}

// Change is one authoritative write to a draft record: the state before and after it.
// Before is nil when the record was created by the write or no prior state is known.
type Change struct {
	EventID string       `json:"event_id"`
	Before  *Observation `json:"before,omitempty"`
	After   Observation  `json:"after"`
}
