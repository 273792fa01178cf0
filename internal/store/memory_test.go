// internal/store/memory_test.go
package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiwars/backend/internal/models"
)

func TestReserveSeatEnforcesCapacity(t *testing.T) {
	m := NewMemory()
	lobbyID := uuid.New()
	ctx := context.Background()

	const seats = 3
	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.ReserveSeat(ctx, lobbyID, seats)
			require.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, seats, admitted)
	assert.Equal(t, seats, m.SeatCount(lobbyID))
}

func TestReleaseSeatNeverGoesNegative(t *testing.T) {
	m := NewMemory()
	lobbyID := uuid.New()
	ctx := context.Background()

	require.NoError(t, m.ReleaseSeat(ctx, lobbyID))
	assert.Equal(t, 0, m.SeatCount(lobbyID))

	ok, err := m.ReserveSeat(ctx, lobbyID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.ReleaseSeat(ctx, lobbyID))
	assert.Equal(t, 0, m.SeatCount(lobbyID))
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := NewMemory()
	lobbyID := uuid.New()
	ctx := context.Background()

	type snap struct {
		TurnID int      `json:"turnId"`
		Words  []string `json:"words"`
	}

	found, err := m.LoadSnapshot(ctx, lobbyID, &snap{})
	require.NoError(t, err)
	assert.False(t, found)

	in := snap{TurnID: 7, Words: []string{"apple", "grape"}}
	require.NoError(t, m.CommitTurn(ctx, lobbyID, in, nil))

	var out snap
	found, err = m.LoadSnapshot(ctx, lobbyID, &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)
}

func TestChatHistoryLimitOldestFirst(t *testing.T) {
	m := NewMemory()
	lobbyID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendChat(ctx, models.ChatMessage{
			ID:        uuid.New(),
			LobbyID:   lobbyID,
			Text:      string(rune('a' + i)),
			Timestamp: time.Unix(int64(i), 0),
		}))
	}

	msgs, err := m.ChatHistory(ctx, lobbyID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c", msgs[0].Text)
	assert.Equal(t, "e", msgs[2].Text)
}

func TestFailNextReturnsUnavailable(t *testing.T) {
	m := NewMemory()
	lobbyID := uuid.New()
	ctx := context.Background()

	m.FailNext = 2
	_, err := m.ReserveSeat(ctx, lobbyID, 4)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, m.ReleaseSeat(ctx, lobbyID), ErrUnavailable)

	ok, err := m.ReserveSeat(ctx, lobbyID, 4)
	require.NoError(t, err)
	assert.True(t, ok)
}
