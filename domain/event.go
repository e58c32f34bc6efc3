package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// EventType tags the realtime event union.
type EventType string

const (
	BoardUpdated   EventType = "board:update"
	ListCreated    EventType = "list:create"
	ListUpdated    EventType = "list:update"
	ListDeleted    EventType = "list:delete"
	CardCreated    EventType = "card:create"
	CardUpdated    EventType = "card:update"
	CardDeleted    EventType = "card:delete"
	CommentCreated EventType = "comment:create"
	CommentDeleted EventType = "comment:delete"
	LabelCreated   EventType = "label:create"
)

// Event carries only the id a client needs to know what to refetch.
type Event struct {
	Type   EventType `json:"type"`
	ListID string    `json:"listId,omitempty"`
	CardID string    `json:"cardId,omitempty"`
}

var errUnknownEvent = errors.New("unknown event type")

func NewBoardUpdated() Event { return Event{Type: BoardUpdated} }
func NewListCreated() Event { return Event{Type: ListCreated} }
func NewListUpdated() Event { return Event{Type: ListUpdated} }
func NewListDeleted() Event { return Event{Type: ListDeleted} }
func NewCardCreated(listID string) Event { return Event{Type: CardCreated, ListID: listID} }
func NewCardUpdated(cardID string) Event { return Event{Type: CardUpdated, CardID: cardID} }
func NewCardDeleted(cardID string) Event { return Event{Type: CardDeleted, CardID: cardID} }
func NewCommentCreated(cardID string) Event {
	return Event{Type: CommentCreated, CardID: cardID}
}
func NewCommentDeleted(cardID string) Event {
	return Event{Type: CommentDeleted, CardID: cardID}
}
func NewLabelCreated() Event { return Event{Type: LabelCreated} }

// Validate checks the event against the union: known tag, required id
// present, no stray ids.
func (e Event) Validate() error {
	switch e.Type {
	case BoardUpdated, ListCreated, ListUpdated, ListDeleted, LabelCreated:
		if e.ListID != "" || e.CardID != "" {
			return fmt.Errorf("%s carries no ids", e.Type)
		}
	case CardCreated:
		if e.ListID == "" || e.CardID != "" {
			return fmt.Errorf("%s requires listId only", e.Type)
		}
	case CardUpdated, CardDeleted, CommentCreated, CommentDeleted:
		if e.CardID == "" || e.ListID != "" {
			return fmt.Errorf("%s requires cardId only", e.Type)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, e.Type)
	}
	return nil
}

// Marshal encodes the event as the one-object-per-message wire payload.
func (e Event) Marshal() ([]byte, error) {
	return sonic.Marshal(e)
}

// DecodeEvent parses and validates a wire payload.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// BoardEvent is an event scoped to the board it must be delivered on.
type BoardEvent struct {
	BoardID string    `json:"boardId"`
	ActorID string    `json:"actorId,omitempty"`
	Event   Event     `json:"event"`
	At      time.Time `json:"at"`
}
