// internal/game/scoring.go
package game

import (
	"math"

	"github.com/google/uuid"
)

const (
	// MaxWarsPoints caps any single game's wars point award.
	MaxWarsPoints = 50

	// LeavePenalty is the fixed wars point delta for abandoning a game in
	// progress. It replaces the rank formula entirely: no positional credit.
	LeavePenalty = -10
)

// PlayerResult is one player's authoritative per-game outcome, committed
// together with the session snapshot. Client-supplied scores are never read.
type PlayerResult struct {
	UserID     uuid.UUID
	Rank       int
	Prize      float64
	WarsPoints float64
}

// Prize returns the payout for a finishing position from an entry-fee-funded
// pool. Winner takes 50% (70% in a head-to-head), second 30%, third 20%.
// Unpooled games pay nothing.
func Prize(pool float64, totalPlayers, rank int) float64 {
	if pool <= 0 {
		return 0
	}
	switch rank {
	case 1:
		if totalPlayers == 2 {
			return pool * 70 / 100
		}
		return pool * 50 / 100
	case 2:
		return pool * 30 / 100
	case 3:
		return pool * 20 / 100
	default:
		return 0
	}
}

// WarsPoints computes the competitive score delta for a finishing position:
// base = (totalPlayers - rank + 1) * 2, plus a pool bonus of
// prize/totalPlayers + entryFee/5 in pooled games, capped at MaxWarsPoints.
func WarsPoints(totalPlayers, rank int, prize, entryFee float64, pooled bool) float64 {
	base := float64((totalPlayers-rank+1) * 2)
	if pooled {
		base += prize/float64(totalPlayers) + entryFee/5
	}
	return math.Min(base, MaxWarsPoints)
}
