package dispatch

import (
	"fmt"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
)

// ResolveRecipients maps an occasion to the users who should hear about it, using the
// snapshot that produced the occasion. Room-scoped kinds address every participant;
// turn-based kinds address only their subject.
func ResolveRecipients(occasion draft.Occasion, snapshot draft.Snapshot) ([]draft.UserID, error) {
	if occasion.Kind.RoomScoped() {
		recipients := make([]draft.UserID, len(snapshot.Participants))
		copy(recipients, snapshot.Participants)
		return recipients, nil
	}
	if occasion.Subject == "" || !snapshot.HasParticipant(occasion.Subject) {
		return nil, fmt.Errorf("%w: %s in %s", ErrUnresolvedRecipient, occasion.Subject, snapshot.RoomID)
	}
	return []draft.UserID{occasion.Subject}, nil
}
