package draft

import (
	"errors"
	"fmt"
)

const (
	draftStartingWindowSeconds = 60
	finalCountdownSeconds      = 10
	twoPicksAwayDistance       = 2
)

var (
	// ErrRoomMismatch indicates that the two observations describe different rooms.
	ErrRoomMismatch = errors.New("draft: observations belong to different rooms")
	// ErrMissingCurrentPicker indicates an active draft for which the oracle reported no picker.
	ErrMissingCurrentPicker = errors.New("draft: current picker missing")
	// ErrMissingTurnDistance indicates an active draft for which the oracle reported no turn distances.
	ErrMissingTurnDistance = errors.New("draft: picks until turn missing")
)

// Evaluation is the result of comparing two observations of one room.
// Issues describe kinds that could not be evaluated; they never abort the other kinds.
type Evaluation struct {
	Occasions []Occasion
	Issues    []error
}

type transitionRule func(before, after Observation) (Occasion, bool, error)

var transitionRules = []transitionRule{
	roomFilledRule,
	draftStartingRule,
	twoPicksAwayRule,
	onTheClockRule,
	tenSecondsRemainingRule,
}

// Evaluate derives the alert occasions implied by moving from prev to curr. It is pure and
// deterministic, so redundant invocations for the same write yield the same occasions.
// Nothing fires when prev is nil: every transition must be observed.
func Evaluate(prev *Observation, curr Observation) Evaluation {
	var evaluation Evaluation
	if err := Validate(curr.Snapshot); err != nil {
		evaluation.Issues = append(evaluation.Issues, fmt.Errorf("current snapshot: %w", err))
		return evaluation
	}
	if prev == nil {
		return evaluation
	}
	if err := Validate(prev.Snapshot); err != nil {
		evaluation.Issues = append(evaluation.Issues, fmt.Errorf("previous snapshot: %w", err))
		return evaluation
	}
	if prev.Snapshot.RoomID != curr.Snapshot.RoomID {
		evaluation.Issues = append(evaluation.Issues,
			fmt.Errorf("%w: %s != %s", ErrRoomMismatch, prev.Snapshot.RoomID, curr.Snapshot.RoomID))
		return evaluation
	}

	for _, rule := range transitionRules {
		occasion, fired, err := rule(*prev, curr)
		if err != nil {
			evaluation.Issues = append(evaluation.Issues, err)
			continue
		}
		if fired {
			evaluation.Occasions = append(evaluation.Occasions, occasion)
		}
	}
	return evaluation
}

func roomFilledRule(before, after Observation) (Occasion, bool, error) {
	b, a := before.Snapshot, after.Snapshot
	if !a.Full() || len(b.Participants) >= a.MaxParticipants {
		return Occasion{}, false, nil
	}
	return Occasion{Kind: AlertRoomFilled, RoomID: a.RoomID}, true, nil
}

func draftStartingRule(before, after Observation) (Occasion, bool, error) {
	b, a := before.Snapshot, after.Snapshot
	if a.Status != StatusWaiting {
		return Occasion{}, false, nil
	}
	if b.PreDraftCountdownSeconds != 0 {
		return Occasion{}, false, nil
	}
	if a.PreDraftCountdownSeconds <= 0 || a.PreDraftCountdownSeconds > draftStartingWindowSeconds {
		return Occasion{}, false, nil
	}
	return Occasion{Kind: AlertDraftStarting, RoomID: a.RoomID}, true, nil
}

func twoPicksAwayRule(before, after Observation) (Occasion, bool, error) {
	a := after.Snapshot
	if a.Status != StatusActive {
		return Occasion{}, false, nil
	}
	if len(after.PicksUntilTurn) == 0 {
		return Occasion{}, false, fmt.Errorf("%w: room %s round %d", ErrMissingTurnDistance, a.RoomID, a.CurrentRound)
	}
	for _, participant := range a.Participants {
		picks, ok := after.PicksUntil(participant)
		if !ok || picks != twoPicksAwayDistance {
			continue
		}
		if previous, known := before.PicksUntil(participant); known && previous == twoPicksAwayDistance {
			continue
		}
		return Occasion{
			Kind:    AlertTwoPicksAway,
			RoomID:  a.RoomID,
			Round:   a.CurrentRound,
			Subject: participant,
		}, true, nil
	}
	return Occasion{}, false, nil
}

func onTheClockRule(before, after Observation) (Occasion, bool, error) {
	b, a := before.Snapshot, after.Snapshot
	if a.Status != StatusActive || a.TurnTimerSeconds <= 0 {
		return Occasion{}, false, nil
	}
	if a.CurrentPickerID == "" {
		return Occasion{}, false, fmt.Errorf("%w: room %s round %d", ErrMissingCurrentPicker, a.RoomID, a.CurrentRound)
	}
	if onTheClock(b, a.CurrentPickerID) && sameTurn(b, a) {
		return Occasion{}, false, nil
	}
	return Occasion{
		Kind:    AlertOnTheClock,
		RoomID:  a.RoomID,
		Round:   a.CurrentRound,
		Subject: a.CurrentPickerID,
	}, true, nil
}

// tenSecondsRemainingRule also fires when the timer lands on 0 within the same turn, so a dropped
// tick between 11 and 0 still warns.
func tenSecondsRemainingRule(before, after Observation) (Occasion, bool, error) {
	b, a := before.Snapshot, after.Snapshot
	if a.Status != StatusActive || a.CurrentPickerID == "" || !onTheClock(b, a.CurrentPickerID) {
		return Occasion{}, false, nil
	}
	if !sameTurn(b, a) {
		return Occasion{}, false, nil
	}
	if b.TurnTimerSeconds <= finalCountdownSeconds || a.TurnTimerSeconds > finalCountdownSeconds {
		return Occasion{}, false, nil
	}
	return Occasion{
		Kind:    AlertTenSecondsRemaining,
		RoomID:  a.RoomID,
		Round:   a.CurrentRound,
		Subject: a.CurrentPickerID,
	}, true, nil
}

func onTheClock(snapshot Snapshot, userID UserID) bool {
	return snapshot.Status == StatusActive &&
		snapshot.TurnTimerSeconds > 0 &&
		snapshot.CurrentPickerID == userID
}

// sameTurn treats a turn as the (picker, round, pick index) triple, so the back-to-back picks of a
// snake draft's round boundary count as two turns.
func sameTurn(before, after Snapshot) bool {
	return before.CurrentPickerID == after.CurrentPickerID &&
		before.CurrentRound == after.CurrentRound &&
		before.CurrentPickIndex == after.CurrentPickIndex
}
