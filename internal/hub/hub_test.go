// internal/hub/hub_test.go
package hub

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(logger)
}

func drain(sub *Subscriber) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Out:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	h := testHub()
	lobbyID := uuid.New()

	sub, replay, resync := h.Subscribe(lobbyID, uuid.New(), 0)
	assert.Empty(t, replay)
	assert.False(t, resync)

	for i := 1; i <= 5; i++ {
		seq := h.Publish(lobbyID, "turn", map[string]interface{}{"n": i})
		assert.Equal(t, uint64(i), seq)
	}

	events := drain(sub)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestReconnectReplaysExactGapInOrder(t *testing.T) {
	h := testHub()
	lobbyID := uuid.New()
	userID := uuid.New()

	for i := 1; i <= 10; i++ {
		h.Publish(lobbyID, "turn", map[string]interface{}{"n": i})
	}

	_, replay, resync := h.Subscribe(lobbyID, userID, 6)
	assert.False(t, resync)
	require.Len(t, replay, 4)
	for i, ev := range replay {
		assert.Equal(t, uint64(7+i), ev.Seq)
	}
}

func TestReconnectUpToDateReplaysNothing(t *testing.T) {
	h := testHub()
	lobbyID := uuid.New()

	h.Publish(lobbyID, "turn", nil)
	h.Publish(lobbyID, "turn", nil)

	_, replay, resync := h.Subscribe(lobbyID, uuid.New(), 2)
	assert.Empty(t, replay)
	assert.False(t, resync)
}

func TestGapBeyondWindowRequiresResync(t *testing.T) {
	h := testHub()
	lobbyID := uuid.New()

	for i := 0; i < defaultWindow+50; i++ {
		h.Publish(lobbyID, "turn", nil)
	}

	_, replay, resync := h.Subscribe(lobbyID, uuid.New(), 1)
	assert.True(t, resync)
	assert.Empty(t, replay)
}

func TestSlowSubscriberIsForceDropped(t *testing.T) {
	h := testHub()
	lobbyID := uuid.New()
	userID := uuid.New()

	sub, _, _ := h.Subscribe(lobbyID, userID, 0)

	// Fill the queue without draining, then one more.
	for i := 0; i < defaultQueueSize+1; i++ {
		h.Publish(lobbyID, "turn", map[string]interface{}{"n": i})
	}

	assert.False(t, h.Subscribed(lobbyID, userID))

	events := drain(sub)
	assert.Len(t, events, defaultQueueSize)
	_, open := <-sub.Out
	assert.False(t, open, "channel should be closed after force-drop")

	// The stream itself is unaffected.
	assert.Equal(t, uint64(defaultQueueSize+1), h.Seq(lobbyID))
}

func TestResubscribeReplacesOldConnection(t *testing.T) {
	h := testHub()
	lobbyID := uuid.New()
	userID := uuid.New()

	old, _, _ := h.Subscribe(lobbyID, userID, 0)
	fresh, _, _ := h.Subscribe(lobbyID, userID, 0)

	_, open := <-old.Out
	assert.False(t, open, "old channel should be closed on resubscribe")

	h.Publish(lobbyID, "turn", nil)
	events := drain(fresh)
	require.Len(t, events, 1)
}

func TestPublishToIsUnsequenced(t *testing.T) {
	h := testHub()
	lobbyID := uuid.New()
	userID := uuid.New()
	other := uuid.New()

	sub, _, _ := h.Subscribe(lobbyID, userID, 0)
	otherSub, _, _ := h.Subscribe(lobbyID, other, 0)

	h.PublishTo(lobbyID, userID, "validate", map[string]interface{}{"message": "too short"})

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Zero(t, events[0].Seq)
	assert.Empty(t, drain(otherSub))
	assert.Zero(t, h.Seq(lobbyID))
}

func TestEventMarshalFlattensPayload(t *testing.T) {
	ev := Event{Seq: 7, Type: "wordEntry", Data: map[string]interface{}{"word": "apple"}}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "wordEntry", decoded["type"])
	assert.Equal(t, "apple", decoded["word"])
	assert.Equal(t, float64(7), decoded["seq"])

	// Unsequenced frames omit seq entirely.
	raw, err = json.Marshal(Event{Type: "pong"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "seq")
}

func TestCloseLobbyDropsEveryone(t *testing.T) {
	h := testHub()
	lobbyID := uuid.New()

	subs := make([]*Subscriber, 3)
	for i := range subs {
		subs[i], _, _ = h.Subscribe(lobbyID, uuid.New(), 0)
	}

	h.CloseLobby(lobbyID)

	for i, sub := range subs {
		_, open := <-sub.Out
		assert.False(t, open, fmt.Sprintf("subscriber %d should be closed", i))
	}
	assert.Zero(t, h.Seq(lobbyID))
}
