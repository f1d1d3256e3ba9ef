package domain

import (
	"time"

	"github.com/google/uuid"
)

// Actor identifies the player a timer operation applies to. The name is the
// last known display name and is refreshed on every reconnect.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ActiveTimer is the transient record of a running timer. It is never
// persisted; a disconnect discards it.
type ActiveTimer struct {
	TimerID   string    `json:"timer_id"`
	StartedAt time.Time `json:"started_at"`
}

// Elapsed returns the time spent on the timer so far, in milliseconds.
func (t ActiveTimer) Elapsed(now time.Time) int64 {
	return now.Sub(t.StartedAt).Milliseconds()
}

// LeaderboardEntry is a single ranked row of a timer's leaderboard,
// ordered by best time ascending.
type LeaderboardEntry struct {
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name"`
	BestMillis int64     `json:"best_millis"`
}

// PendingCompletion is the durable "what to do when the player returns"
// record written when a player disconnects mid-timer.
type PendingCompletion struct {
	TimerID  string   `json:"timer_id"`
	Commands []string `json:"commands,omitempty"`
}

// Timer event types carried on the ingest topic.
const (
	EventStart      = "start"
	EventStop       = "stop"
	EventCancel     = "cancel"
	EventReset      = "reset"
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// TimerEvent is the wire format for timer lifecycle events consumed from Kafka.
type TimerEvent struct {
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name,omitempty"`
	TimerID    string    `json:"timer_id,omitempty"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
}
