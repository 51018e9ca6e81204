package draft

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSnapshot indicates a snapshot that cannot be evaluated.
var ErrInvalidSnapshot = errors.New("draft: invalid snapshot")

var snapshotValidator = validator.New()

// Validate checks the structure of a snapshot reported by the draft engine.
func Validate(snapshot Snapshot) error {
	if err := snapshotValidator.Struct(snapshot); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			first := validationErrors[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidSnapshot, first.Namespace(), first.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if len(snapshot.Participants) > snapshot.MaxParticipants {
		return fmt.Errorf("%w: %d participants exceed max %d", ErrInvalidSnapshot, len(snapshot.Participants), snapshot.MaxParticipants)
	}
	return nil
}
