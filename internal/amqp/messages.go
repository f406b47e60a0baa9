package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	TripCompleted      EventType = "trip.completed"
	RentalCompleted    EventType = "rental.completed"
	TransactionCreated EventType = "transaction.created"
)

func (t EventType) Valid() bool {
	switch t {
	case TripCompleted, RentalCompleted, TransactionCreated:
		return true
	}
	return false
}

// Event announces a lifecycle change. Data carries the record as stored
// after the change so consumers do not need store access.
type Event struct {
	Type       EventType       `json:"type"`
	AccountID  string          `json:"accountId"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func NewEvent(t EventType, account, collection, id string, data []byte) *Event {
	return &Event{
		Type:       t,
		AccountID:  account,
		Collection: collection,
		ID:         id,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if !e.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return &e, nil
}
