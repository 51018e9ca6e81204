package presence

import (
	"github.com/ErinHernandez/TopDog-sub011/internal/delivery"
	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
)

// Cue is the local feedback a client plays for an alert.
type Cue string

const (
	CueNone        Cue = "none"
	CueSoundHaptic Cue = "sound_haptic"
)

// View is what the client currently shows.
type View struct {
	RoomID     draft.RoomID
	Foreground bool
	Visible    bool
}

// Viewing reports whether the user is looking at roomID right now.
func (v View) Viewing(roomID draft.RoomID) bool {
	return v.Foreground && v.Visible && v.RoomID != "" && v.RoomID == roomID
}

// Decision is the client-side treatment of one alert.
type Decision struct {
	PlayCue          bool
	Cue              Cue
	ShowNotification bool
}

// Gate decides locally how an alert that reached this client is surfaced. It only shapes the
// local experience; the server has already claimed and delivered the alert for every recipient.
type Gate struct{}

// NewGate constructs a presence gate.
func NewGate() *Gate {
	return &Gate{}
}

// Decide returns the treatment for message given the current view.
func (g *Gate) Decide(view View, message delivery.Message) Decision {
	urgent := message.Urgent || message.Data.AlertKind.Urgent()
	if view.Viewing(message.Data.RoomID) {
		if urgent {
			return Decision{PlayCue: true, Cue: CueSoundHaptic}
		}
		return Decision{Cue: CueNone}
	}
	decision := Decision{Cue: CueNone, ShowNotification: true}
	if urgent {
		decision.PlayCue = true
		decision.Cue = CueSoundHaptic
	}
	return decision
}
