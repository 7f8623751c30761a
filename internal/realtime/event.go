// Package realtime carries thread events between the API and connected
// widgets: a room-keyed dispatcher on the server side, a reconnecting
// websocket client on the widget side, and the idempotent merge that applies
// received events onto cached thread state.
package realtime

import "encoding/json"

// Event is the wire envelope for one realtime notification.
type Event struct {
	Op   string          `json:"op"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event envelope.
func NewEvent(room, op string, data any) (Event, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Op: op, Room: room, Data: encoded}, nil
}
