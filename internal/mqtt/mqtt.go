// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/cell-monitor/internal/cell"
)

// topicPrefix is the root of the module's telemetry topics. Each module
// publishes under its own cell ID so a head-end dashboard can subscribe to
// the whole pack with a single wildcard.
const topicPrefix = "bms/cell"

// EventTopic returns the topic for cell state/shunt transition events.
func EventTopic(cellID string) string {
	return fmt.Sprintf("%s/%s/events", topicPrefix, cellID)
}

// SystemTopic returns the topic for system lifecycle events.
func SystemTopic(cellID string) string {
	return fmt.Sprintf("%s/%s/system", topicPrefix, cellID)
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a cell transition event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event cell.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Cell CellPayload `json:"cell"`
}

// CellPayload contains the cell event details.
type CellPayload struct {
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	State      string `json:"state"`
	Shunting   bool   `json:"shunting"`
	Millivolts int    `json:"millivolts"`
}

// FormatPayload creates the JSON payload for a cell event.
func FormatPayload(event cell.Event) ([]byte, error) {
	payload := Payload{
		Cell: CellPayload{
			Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
			Event:      string(event.Type),
			State:      event.State.String(),
			Shunting:   event.Shunting,
			Millivolts: event.Millivolts,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
