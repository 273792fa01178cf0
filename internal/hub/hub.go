// internal/hub/hub.go
package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is one sequenced server->client frame. Seq is the per-lobby commit
// order; a subscriber that sees a gap in Seq knows it missed events.
// Sender-only frames (validation errors, pongs) carry Seq 0 and are excluded
// from the replay window.
type Event struct {
	Seq  uint64
	Type string
	Data map[string]interface{}
}

// MarshalJSON flattens Data next to the type and seq fields, matching the
// wire schema where payload fields sit at the top level of each frame.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Data)+2)
	for k, v := range e.Data {
		out[k] = v
	}
	out["type"] = e.Type
	if e.Seq > 0 {
		out["seq"] = e.Seq
	}
	return json.Marshal(out)
}

const (
	// defaultWindow is how many committed events are retained per lobby for
	// reconnection replay.
	defaultWindow = 256

	// defaultQueueSize bounds each subscriber's outbound channel. A consumer
	// that falls this far behind is force-dropped rather than allowed to
	// grow memory without bound.
	defaultQueueSize = 64
)

// Subscriber is one live connection's view onto a lobby's event stream.
type Subscriber struct {
	UserID  uuid.UUID
	LobbyID uuid.UUID

	// Out delivers events in commit order. Closed when the subscriber is
	// dropped or unsubscribed.
	Out chan Event

	lastAck uint64
	closed  bool
}

type room struct {
	mu      sync.Mutex
	lobbyID uuid.UUID
	seq     uint64
	subs    map[uuid.UUID]*Subscriber

	// ring holds the most recent sequenced events, oldest first.
	ring []Event
}

// Hub fans committed lobby mutations out to live connections, one sequenced
// stream per lobby. Delivery to any one connection is asynchronous and
// non-blocking relative to the publisher.
type Hub struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*room
	log   *logrus.Logger

	window    int
	queueSize int
}

func New(logger *logrus.Logger) *Hub {
	return &Hub{
		rooms:     make(map[uuid.UUID]*room),
		log:       logger,
		window:    defaultWindow,
		queueSize: defaultQueueSize,
	}
}

func (h *Hub) getOrCreateRoom(lobbyID uuid.UUID) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[lobbyID]
	if !ok {
		r = &room{lobbyID: lobbyID, subs: make(map[uuid.UUID]*Subscriber)}
		h.rooms[lobbyID] = r
	}
	return r
}

func (h *Hub) getRoom(lobbyID uuid.UUID) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[lobbyID]
}

// Publish assigns the next sequence number to the event and enqueues it to
// every current subscriber in commit order. It returns the assigned sequence
// number. Subscribers whose queues are full are force-dropped.
func (h *Hub) Publish(lobbyID uuid.UUID, msgType string, data map[string]interface{}) uint64 {
	r := h.getOrCreateRoom(lobbyID)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	ev := Event{Seq: r.seq, Type: msgType, Data: data}

	r.ring = append(r.ring, ev)
	if len(r.ring) > h.window {
		r.ring = r.ring[len(r.ring)-h.window:]
	}

	for uid, sub := range r.subs {
		select {
		case sub.Out <- ev:
		default:
			// Slow consumer: treat as disconnect, never as elimination.
			h.log.Warnf("hub: force-dropping slow subscriber %s in lobby %s at seq %d", uid, lobbyID, ev.Seq)
			delete(r.subs, uid)
			sub.closed = true
			close(sub.Out)
		}
	}
	return ev.Seq
}

// PublishTo sends an unsequenced frame to a single subscriber, if connected.
// Used for sender-only responses that cause no state change and no broadcast.
func (h *Hub) PublishTo(lobbyID, userID uuid.UUID, msgType string, data map[string]interface{}) {
	r := h.getRoom(lobbyID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[userID]
	if !ok {
		return
	}
	select {
	case sub.Out <- Event{Type: msgType, Data: data}:
	default:
		h.log.Warnf("hub: dropping direct %s to slow subscriber %s in lobby %s", msgType, userID, lobbyID)
	}
}

// Subscribe registers the user's connection on the lobby stream. lastSeen is
// the client's last-acknowledged sequence number (0 for a fresh connection).
// It returns the subscriber, the replayable gap in original order, and
// whether the gap exceeded the retention window, in which case the caller
// must deliver a full resync instead of the partial replay.
func (h *Hub) Subscribe(lobbyID, userID uuid.UUID, lastSeen uint64) (*Subscriber, []Event, bool) {
	r := h.getOrCreateRoom(lobbyID)

	r.mu.Lock()
	defer r.mu.Unlock()

	// A reconnect replaces any previous subscription for the same user.
	if old, ok := r.subs[userID]; ok {
		old.closed = true
		close(old.Out)
	}

	sub := &Subscriber{
		UserID:  userID,
		LobbyID: lobbyID,
		Out:     make(chan Event, h.queueSize),
		lastAck: lastSeen,
	}
	r.subs[userID] = sub

	if lastSeen == 0 || lastSeen >= r.seq {
		return sub, nil, false
	}

	oldest := r.seq - uint64(len(r.ring)) + 1
	if len(r.ring) == 0 || lastSeen+1 < oldest {
		// Gap exceeds the retained window.
		return sub, nil, true
	}

	replay := make([]Event, 0, r.seq-lastSeen)
	for _, ev := range r.ring {
		if ev.Seq > lastSeen {
			replay = append(replay, ev)
		}
	}
	return sub, replay, false
}

// Unsubscribe removes the connection from the live set. Lobby membership is
// untouched; the retained window keeps covering the user for a later
// reconnect.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	r := h.getRoom(sub.LobbyID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.subs[sub.UserID]
	if !ok || current != sub || sub.closed {
		return
	}
	delete(r.subs, sub.UserID)
	sub.closed = true
	close(sub.Out)
}

// CloseLobby drops every subscriber and discards the lobby's stream state.
// Called when the registry tears a finished lobby down.
func (h *Hub) CloseLobby(lobbyID uuid.UUID) {
	h.mu.Lock()
	r, ok := h.rooms[lobbyID]
	if ok {
		delete(h.rooms, lobbyID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, sub := range r.subs {
		delete(r.subs, uid)
		sub.closed = true
		close(sub.Out)
	}
	r.ring = nil
}

// Seq returns the lobby's current sequence number.
func (h *Hub) Seq(lobbyID uuid.UUID) uint64 {
	r := h.getRoom(lobbyID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Subscribed reports whether the user currently has a live subscription.
func (h *Hub) Subscribed(lobbyID, userID uuid.UUID) bool {
	r := h.getRoom(lobbyID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[userID]
	return ok
}
