package delivery

import (
	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/google/uuid"
)

// Record describes one delivery attempt. Records are kept only for retry bookkeeping and logs.
type Record struct {
	ID          string
	RecipientID draft.UserID
	Kind        draft.AlertKind
	Channel     Channel
	Attempt     int
	Outcome     Outcome
}

func newRecordID() string {
	identifier, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return identifier.String()
}
