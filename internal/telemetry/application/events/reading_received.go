package events

import "time"

// ReadingReceived is raised after a reading is accepted and stored.
// Alarm evaluation and dashboard fan-out both hang off this event.
type ReadingReceived struct {
	EventID    string             `json:"event_id"`
	DeviceID   string             `json:"device_id"`
	ClientID   string             `json:"client_id"`
	ReadingID  string             `json:"reading_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Parameters map[string]float64 `json:"parameters"`
	OccurredAt time.Time          `json:"occurred_at"`
}
