// models/event.go
package models

import "time"

// EventType is the wire name of a match notification.
type EventType string

const (
	EventMatchCreated   EventType = "match:created"
	EventMatchJoined    EventType = "match:joined"
	EventMatchCommitted EventType = "match:committed"
	EventMatchRevealed  EventType = "match:revealed"
	EventMatchCompleted EventType = "match:completed"
	EventMatchCancelled EventType = "match:cancelled"
	EventMatchUpdated   EventType = "match:updated"
)

// Event is published on the topic of its match. Only the fields relevant to
// the event type are set.
type Event struct {
	Type      EventType   `json:"type"`
	MatchID   string      `json:"id"`
	Status    MatchStatus `json:"status,omitempty"`
	Wallet    string      `json:"wallet,omitempty"`
	Choice    *Choice     `json:"choice,omitempty"`
	Winner    *string     `json:"winner,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Terminal reports whether the event closes the match.
func (e Event) Terminal() bool {
	return e.Type == EventMatchCompleted || e.Type == EventMatchCancelled
}
