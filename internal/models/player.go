package models

import "github.com/google/uuid"

// Player is one lobby membership: a (lobby, user) pair plus the per-session
// results that accumulate as the game runs. Unique per (lobby, user).
type Player struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Ready       bool      `json:"ready"`

	// Rank is nil until the player is eliminated or the game finishes.
	Rank *int `json:"rank,omitempty"`

	// Prize and WarsPointDelta are this session's results, computed
	// server-side at game end. Client-supplied values are never read.
	Prize          float64 `json:"prize,omitempty"`
	WarsPointDelta float64 `json:"warsPoint,omitempty"`

	// UsedWords are the words this player had accepted this session.
	UsedWords []string `json:"usedWords,omitempty"`
}

// Standing pairs a player with their final rank for the finalStanding event.
type Standing struct {
	Player *Player `json:"player"`
	Rank   int     `json:"rank"`
}
