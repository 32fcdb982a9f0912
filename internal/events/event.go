package events

import (
	"encoding/json"
	"time"

	"qc-dashboard/internal/qc"
)

// Type names a lifecycle signal.
type Type string

const (
	JobCreated  Type = "job.created"
	JobTerminal Type = "job.terminal"
)

const messageVersion = 1

// Event is published on the bus and, when configured, forwarded to SQS.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	JobID     string    `json:"jobId"`
	Status    qc.Status `json:"status"`
	At        time.Time `json:"at"`
	Version   int       `json:"version"`
}

// Encode returns the JSON representation of an event.
func Encode(evt Event) ([]byte, error) {
	if evt.Version == 0 {
		evt.Version = messageVersion
	}
	return json.Marshal(evt)
}

// Decode parses a JSON payload into an Event.
func Decode(payload []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}
