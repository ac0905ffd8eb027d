package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	UserRegistered = "user.registered"

	PatternCreated = "pattern.created"
	PatternUpdated = "pattern.updated"
	PatternDeleted = "pattern.deleted"
)

// Stream names
const (
	AccountEventsStream = "account.events"
	PatternEventsStream = "pattern.events"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Decode copies the event payload into v. Payloads read back from a stream
// arrive as generic JSON values.
func (e Event) Decode(v any) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", e.Type, err)
	}
	return nil
}

type UserRegisteredEvent struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type PatternCreatedEvent struct {
	PatternID int64  `json:"patternId"`
	UserID    int64  `json:"userId"`
	Image     string `json:"image"`
	Size      int    `json:"size"`
}

type PatternUpdatedEvent struct {
	PatternID  int64 `json:"patternId"`
	UserID     int64 `json:"userId"`
	IsFavorite bool  `json:"isFavorite"`
}

// PatternDeletedEvent carries the blob reference the reaper releases.
type PatternDeletedEvent struct {
	PatternID int64  `json:"patternId"`
	UserID    int64  `json:"userId"`
	Image     string `json:"image"`
}
