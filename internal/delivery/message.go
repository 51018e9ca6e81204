package delivery

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
)

// Message is the payload handed to a transport.
type Message struct {
	RecipientID draft.UserID `json:"recipientId"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Urgent      bool         `json:"urgent"`
	Data        MessageData  `json:"data"`
}

// MessageData is the structured part of a notification used by the host application.
type MessageData struct {
	AlertKind   draft.AlertKind `json:"alertKind"`
	RoomID      draft.RoomID    `json:"roomId"`
	Round       int             `json:"round"`
	DeepLinkURL string          `json:"deepLinkUrl"`
	Timestamp   int64           `json:"timestamp"`
}

// DeepLink returns the activation target for a room, relative when base is empty. The room id is
// escaped as a single path segment.
func DeepLink(base string, roomID draft.RoomID) string {
	return strings.TrimRight(base, "/") + "/draft/" + url.PathEscape(roomID.String())
}

// BuildMessage renders the notification for one recipient of an occasion.
func BuildMessage(occasion draft.Occasion, recipient draft.UserID, deepLinkBase string, now time.Time) Message {
	title, body := render(occasion)
	return Message{
		RecipientID: recipient,
		Title:       title,
		Body:        body,
		Urgent:      occasion.Kind.Urgent(),
		Data: MessageData{
			AlertKind:   occasion.Kind,
			RoomID:      occasion.RoomID,
			Round:       occasion.Round,
			DeepLinkURL: DeepLink(deepLinkBase, occasion.RoomID),
			Timestamp:   now.UnixMilli(),
		},
	}
}

func render(occasion draft.Occasion) (string, string) {
	switch occasion.Kind {
	case draft.AlertRoomFilled:
		return "Draft room filled", "Every seat is taken. The draft will start soon."
	case draft.AlertDraftStarting:
		return "Draft starting soon", "Your draft starts in less than a minute."
	case draft.AlertTwoPicksAway:
		return "Two picks away", fmt.Sprintf("You pick in two turns (round %d).", occasion.Round)
	case draft.AlertOnTheClock:
		return "You're on the clock", fmt.Sprintf("It's your pick in round %d.", occasion.Round)
	case draft.AlertTenSecondsRemaining:
		return "10 seconds left", "Make your pick before the timer runs out."
	default:
		return "Draft update", "Something changed in your draft."
	}
}
