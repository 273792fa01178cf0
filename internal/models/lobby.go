// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// LobbyState is the lifecycle state of a lobby. Transitions are monotonic
// forward with the single exception of Starting -> Waiting when membership
// drops below the configured minimum before the countdown fires.
type LobbyState string

const (
	LobbyWaiting    LobbyState = "waiting"
	LobbyStarting   LobbyState = "starting"
	LobbyInProgress LobbyState = "inProgress"
	LobbyFinished   LobbyState = "finished"
)

// LobbyConfig is the caller-supplied configuration for lobby creation.
type LobbyConfig struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Visibility  string  `json:"visibility"` // 'public' or 'private'
	EntryFee    float64 `json:"entryFee"`
	MinPlayers  int     `json:"minPlayers"`
	MaxPlayers  int     `json:"maxPlayers"`
}

// LobbyInfo is the durable view of a lobby, mirrored to the persistence
// gateway on every committed transition.
type LobbyInfo struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Visibility  string     `json:"visibility"`
	State       LobbyState `json:"state"`
	CreatorID   uuid.UUID  `json:"creatorId"`
	EntryFee    float64    `json:"entryFee"`
	PrizePool   float64    `json:"prizePool"`
	MinPlayers  int        `json:"minPlayers"`
	MaxPlayers  int        `json:"maxPlayers"`
	Players     int        `json:"players"`
	CreatedAt   time.Time  `json:"createdAt"`

	// CountdownDeadline is set only while State == LobbyStarting.
	CountdownDeadline *time.Time `json:"countdownDeadline,omitempty"`

	// Corrupted marks a session aborted due to inconsistent state; the lobby
	// is Finished with no prize distribution and flagged for audit.
	Corrupted bool `json:"corrupted,omitempty"`
}

// Pooled reports whether this lobby pays out from an entry-fee-funded pool.
func (l *LobbyInfo) Pooled() bool {
	return l.EntryFee > 0
}
