// internal/store/memory.go
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/lexiwars/backend/internal/models"
)

// Memory is an in-process Gateway used by tests and local development
// without a Redis instance. It honors the same atomicity contract: seat
// reservation is a single critical section, so concurrent joins for the last
// seat still resolve to exactly one winner.
type Memory struct {
	mu        sync.Mutex
	seats     map[uuid.UUID]int
	lobbies   map[uuid.UUID]models.LobbyInfo
	snapshots map[uuid.UUID][]byte
	chat      map[uuid.UUID][]models.ChatMessage
	journal   []MutationRecord

	// FailNext makes the next n operations return ErrUnavailable, for
	// degraded-mode tests.
	FailNext int
}

func NewMemory() *Memory {
	return &Memory{
		seats:     make(map[uuid.UUID]int),
		lobbies:   make(map[uuid.UUID]models.LobbyInfo),
		snapshots: make(map[uuid.UUID][]byte),
		chat:      make(map[uuid.UUID][]models.ChatMessage),
	}
}

func (m *Memory) failing() bool {
	if m.FailNext > 0 {
		m.FailNext--
		return true
	}
	return false
}

func (m *Memory) ReserveSeat(_ context.Context, lobbyID uuid.UUID, max int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return false, ErrUnavailable
	}
	if m.seats[lobbyID] >= max {
		return false, nil
	}
	m.seats[lobbyID]++
	return true, nil
}

func (m *Memory) ReleaseSeat(_ context.Context, lobbyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return ErrUnavailable
	}
	if m.seats[lobbyID] > 0 {
		m.seats[lobbyID]--
	}
	return nil
}

func (m *Memory) SaveLobby(_ context.Context, info models.LobbyInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return ErrUnavailable
	}
	m.lobbies[info.ID] = info
	return nil
}

func (m *Memory) DeleteLobby(_ context.Context, lobbyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return ErrUnavailable
	}
	delete(m.lobbies, lobbyID)
	delete(m.seats, lobbyID)
	delete(m.snapshots, lobbyID)
	return nil
}

func (m *Memory) CommitTurn(_ context.Context, lobbyID uuid.UUID, snapshot interface{}, _ []PlayerStat) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return ErrUnavailable
	}
	m.snapshots[lobbyID] = data
	return nil
}

func (m *Memory) LoadSnapshot(_ context.Context, lobbyID uuid.UUID, out interface{}) (bool, error) {
	m.mu.Lock()
	data, ok := m.snapshots[lobbyID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (m *Memory) AppendChat(_ context.Context, msg models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return ErrUnavailable
	}
	m.chat[msg.LobbyID] = append(m.chat[msg.LobbyID], msg)
	return nil
}

func (m *Memory) ChatHistory(_ context.Context, lobbyID uuid.UUID, limit int64) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.chat[lobbyID]
	if limit > 0 && int64(len(msgs)) > limit {
		msgs = msgs[int64(len(msgs))-limit:]
	}
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Memory) JournalMutation(_ context.Context, rec MutationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append(m.journal, rec)
	return nil
}

func (m *Memory) Degraded() bool { return false }

// SeatCount reports the reserved seat count for assertions in tests.
func (m *Memory) SeatCount(lobbyID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seats[lobbyID]
}

// Journal returns a copy of the mutation journal for assertions in tests.
func (m *Memory) Journal() []MutationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MutationRecord, len(m.journal))
	copy(out, m.journal)
	return out
}
