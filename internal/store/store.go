// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lexiwars/backend/internal/models"
)

// ErrUnavailable is returned when the backing store could not be reached
// within the retry budget. Callers proceed in-memory and flag the state as
// stale; gameplay is never halted on persistence failure.
var ErrUnavailable = errors.New("persistence unavailable")

// PlayerStat is one player's results row, committed atomically together with
// the owning session snapshot.
type PlayerStat struct {
	UserID         uuid.UUID `json:"userId"`
	Rank           int       `json:"rank"`
	Prize          float64   `json:"prize"`
	WarsPointDelta float64   `json:"warsPoint"`
}

// MutationRecord is one entry of the per-lobby mutation journal, consumed by
// offline tooling (replays, audit).
type MutationRecord struct {
	LobbyID   uuid.UUID              `json:"lobbyId"`
	Seq       uint64                 `json:"seq"`
	ActorID   uuid.UUID              `json:"actorId"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Gateway abstracts the key-value store backing lobby state, capacity
// accounting, chat history, and session snapshots. It is the source of truth
// for recovery after a restart.
type Gateway interface {
	// ReserveSeat atomically checks-and-increments the lobby's member count
	// against max. Exactly one of two concurrent callers for the last seat
	// succeeds; the loser observes ok == false.
	ReserveSeat(ctx context.Context, lobbyID uuid.UUID, max int) (ok bool, err error)

	// ReleaseSeat decrements the member count, never below zero.
	ReleaseSeat(ctx context.Context, lobbyID uuid.UUID) error

	// SaveLobby mirrors the lobby's durable view. Called before any
	// transition is considered committed.
	SaveLobby(ctx context.Context, info models.LobbyInfo) error

	// DeleteLobby removes the lobby's keys after teardown.
	DeleteLobby(ctx context.Context, lobbyID uuid.UUID) error

	// CommitTurn writes the session snapshot and any player stat deltas in a
	// single multi-key transaction, so a restart resumes from the last
	// committed turn.
	CommitTurn(ctx context.Context, lobbyID uuid.UUID, snapshot interface{}, stats []PlayerStat) error

	// LoadSnapshot reads the last committed session snapshot into out.
	// Returns false if no snapshot exists.
	LoadSnapshot(ctx context.Context, lobbyID uuid.UUID, out interface{}) (bool, error)

	// AppendChat appends a TTL-bounded chat message; expiry is automatic.
	AppendChat(ctx context.Context, msg models.ChatMessage) error

	// ChatHistory returns up to limit most recent messages, oldest first.
	ChatHistory(ctx context.Context, lobbyID uuid.UUID, limit int64) ([]models.ChatMessage, error)

	// JournalMutation appends to the mutation journal. Best effort.
	JournalMutation(ctx context.Context, rec MutationRecord) error

	// Degraded reports whether the store is currently flagged unavailable.
	Degraded() bool
}

// retryPolicy bounds the synchronous retry loop applied to every commit.
type retryPolicy struct {
	attempts int
	base     time.Duration
}

var defaultRetry = retryPolicy{attempts: 3, base: 50 * time.Millisecond}
