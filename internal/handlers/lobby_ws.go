// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lexiwars/backend/internal/database"
	"github.com/lexiwars/backend/internal/game"
	"github.com/lexiwars/backend/internal/hub"
	"github.com/lexiwars/backend/internal/middleware"
	"github.com/lexiwars/backend/internal/models"
)

// LobbyWSHandler serves the per-lobby WebSocket at /lobby/ws/{lobby_id}.
// A fresh connection joins the lobby; a reconnection resumes the member's
// event stream from the lastSeen sequence number in the query string.
func (s *Server) LobbyWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/lobby/ws/"), "/")
		if len(pathParts) < 1 || pathParts[0] == "" {
			http.Error(w, "missing lobby_id", http.StatusBadRequest)
			return
		}
		lobbyID, err := uuid.Parse(pathParts[0])
		if err != nil {
			http.Error(w, "invalid lobby_id", http.StatusBadRequest)
			return
		}

		userID, err := authenticateRequest(r)
		if err != nil {
			http.Error(w, "authentication required", http.StatusForbidden)
			return
		}

		var lastSeen uint64
		if v := r.URL.Query().Get("lastSeen"); v != "" {
			lastSeen, _ = strconv.ParseUint(v, 10, 64)
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"lexiwars"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Log.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "lexiwars" {
			c.Close(BadSubprotocolError, "client must speak the lexiwars subprotocol")
			return
		}

		if _, err := s.Registry.Get(lobbyID); err != nil {
			c.Close(InvalidLobbyIDError, "lobby does not exist")
			return
		}

		rejoining := s.isMember(lobbyID, userID)
		if !rejoining {
			displayName := s.resolveDisplayName(r, userID)
			if _, err := s.Registry.Join(r.Context(), lobbyID, userID, displayName); err != nil {
				s.Log.Infof("lobby %s: join rejected for %s: %v", lobbyID, userID, err)
				c.Close(websocket.StatusPolicyViolation, err.Error())
				return
			}
		}

		sub, replay, resyncNeeded := s.Hub.Subscribe(lobbyID, userID, lastSeen)
		defer s.Hub.Unsubscribe(sub)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if err := s.sendInitialFrames(ctx, c, lobbyID, lastSeen, replay, resyncNeeded); err != nil {
			s.Log.Warnf("lobby %s: initial frames for %s failed: %v", lobbyID, userID, err)
			return
		}

		middleware.LogWebSocketConnect(s.Log, r.RemoteAddr, r.URL.Path)

		go s.writePump(ctx, c, sub)
		err = s.readPump(ctx, c, lobbyID, userID)
		middleware.LogWebSocketDisconnect(s.Log, r.RemoteAddr, r.URL.Path, err)
	}
}

// isMember reports whether the user already holds a seat in the lobby.
func (s *Server) isMember(lobbyID, userID uuid.UUID) bool {
	members, err := s.Registry.Members(lobbyID)
	if err != nil {
		return false
	}
	for _, m := range members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

func (s *Server) resolveDisplayName(r *http.Request, userID uuid.UUID) string {
	if name := r.URL.Query().Get("name"); name != "" {
		return name
	}
	if database.DB != nil {
		if u, err := database.GetUserByID(r.Context(), userID); err == nil && u.DisplayName != "" {
			return u.DisplayName
		}
	}
	return "Player"
}

// initialFrames assembles the connection's catch-up sequence: the exact
// missed-event replay when the gap fits the window (a full resync snapshot
// otherwise), a snapshot of current state so the client can confirm it
// converged, then chat history, the chat permission, and the degradation
// notice when persistence is down.
func (s *Server) initialFrames(ctx context.Context, lobbyID uuid.UUID, lastSeen uint64, replay []hub.Event, resyncNeeded bool) ([]hub.Event, error) {
	snap, err := s.snapshotFrame(ctx, lobbyID)
	if err != nil {
		return nil, err
	}

	var frames []hub.Event
	if lastSeen == 0 || resyncNeeded {
		msgType := models.MsgSnapshot
		if resyncNeeded {
			msgType = models.MsgResync
		}
		frames = append(frames, hub.Event{Seq: s.Hub.Seq(lobbyID), Type: msgType, Data: snap})
	} else {
		frames = append(frames, replay...)
		frames = append(frames, hub.Event{Seq: s.Hub.Seq(lobbyID), Type: models.MsgSnapshot, Data: snap})
	}

	if history, err := s.Store.ChatHistory(ctx, lobbyID, 50); err == nil {
		frames = append(frames, hub.Event{Type: models.MsgChatHistory, Data: map[string]interface{}{
			"messages": history,
		}})
	}

	info, err := s.Registry.Get(lobbyID)
	if err != nil {
		return nil, err
	}
	frames = append(frames, hub.Event{Type: models.MsgPermitChat, Data: map[string]interface{}{
		"allowed": info.State != models.LobbyInProgress,
	}})

	if s.Store.Degraded() {
		frames = append(frames, hub.Event{Type: models.MsgDegraded, Data: map[string]interface{}{
			"degraded": true,
		}})
	}
	return frames, nil
}

// sendInitialFrames writes the catch-up sequence before the live stream begins.
func (s *Server) sendInitialFrames(ctx context.Context, c *websocket.Conn, lobbyID uuid.UUID, lastSeen uint64, replay []hub.Event, resyncNeeded bool) error {
	frames, err := s.initialFrames(ctx, lobbyID, lastSeen, replay, resyncNeeded)
	if err != nil {
		return err
	}
	for _, ev := range frames {
		if err := writeFrame(ctx, c, ev); err != nil {
			return err
		}
	}
	return nil
}

// snapshotFrame assembles the authoritative current state of the lobby for a
// client that cannot be caught up incrementally.
func (s *Server) snapshotFrame(ctx context.Context, lobbyID uuid.UUID) (map[string]interface{}, error) {
	info, err := s.Registry.Get(lobbyID)
	if err != nil {
		return nil, err
	}
	members, err := s.Registry.Members(lobbyID)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"lobby":   info,
		"players": members,
	}
	if eng := s.Registry.Engine(lobbyID); eng != nil {
		if turn := eng.CurrentTurn(); turn != uuid.Nil {
			data["currentTurn"] = turn.String()
		}
	}
	return data, nil
}

func writeFrame(ctx context.Context, c *websocket.Conn, ev hub.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}

// writePump drains the subscriber's event channel onto the socket and pings
// periodically. Exits when the channel closes (unsubscribe or force-drop) or
// a write fails.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Out:
			if !ok {
				// Force-dropped or unsubscribed; tell the client to reconnect.
				_ = c.Close(websocket.StatusGoingAway, "event stream closed")
				return
			}
			if err := writeFrame(ctx, c, ev); err != nil {
				s.Log.Warnf("lobby %s: write to %s failed: %v", sub.LobbyID, sub.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Log.Warnf("lobby %s: ping to %s failed, assuming disconnect", sub.LobbyID, sub.UserID)
				return
			}
		}
	}
}

// readPump handles incoming messages until the connection closes. A dropped
// connection leaves lobby membership intact; only an explicit leaveLobby
// releases the seat.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, lobbyID, userID uuid.UUID) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			s.Log.Warnf("lobby %s: read error for %s: %v", lobbyID, userID, err)
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			s.Hub.PublishTo(lobbyID, userID, models.MsgError, map[string]interface{}{
				"message": "invalid JSON format",
			})
			continue
		}

		if leave := s.handleMessage(ctx, lobbyID, userID, packet); leave {
			c.Close(websocket.StatusNormalClosure, "left lobby")
			return nil
		}
	}
}

// handleMessage dispatches one client frame. Returns true when the client
// asked to leave and the connection should close.
func (s *Server) handleMessage(ctx context.Context, lobbyID, userID uuid.UUID, packet map[string]interface{}) bool {
	action, _ := packet["type"].(string)

	switch action {
	case models.MsgWordEntry:
		word, _ := packet["word"].(string)
		s.handleWordEntry(lobbyID, userID, word)

	case models.MsgChat:
		text, _ := packet["message"].(string)
		if text != "" {
			s.handleChat(ctx, lobbyID, userID, text)
		}

	case "ready":
		if err := s.Registry.SetReady(ctx, lobbyID, userID, true); err != nil {
			s.sendError(lobbyID, userID, err)
		}

	case "unready":
		if err := s.Registry.SetReady(ctx, lobbyID, userID, false); err != nil {
			s.sendError(lobbyID, userID, err)
		}

	case "startGame":
		if err := s.Registry.ForceStart(ctx, lobbyID, userID); err != nil {
			s.sendError(lobbyID, userID, err)
		}

	case models.MsgUpdateGameState:
		// Creator-only state change request; starting is the only client-
		// drivable transition.
		state, _ := packet["state"].(string)
		if state != string(models.LobbyInProgress) {
			s.Hub.PublishTo(lobbyID, userID, models.MsgError, map[string]interface{}{
				"message": "unsupported state transition: " + state,
			})
			break
		}
		if err := s.Registry.ForceStart(ctx, lobbyID, userID); err != nil {
			s.sendError(lobbyID, userID, err)
		}

	case models.MsgKickPlayer:
		targetStr, _ := packet["playerId"].(string)
		target, err := uuid.Parse(targetStr)
		if err != nil {
			s.Hub.PublishTo(lobbyID, userID, models.MsgError, map[string]interface{}{
				"message": "invalid playerId",
			})
			break
		}
		if err := s.Registry.Kick(ctx, lobbyID, userID, target); err != nil {
			s.sendError(lobbyID, userID, err)
		}

	case models.MsgLeaveLobby:
		if err := s.Registry.Leave(ctx, lobbyID, userID); err != nil {
			s.sendError(lobbyID, userID, err)
		}
		return true

	case models.MsgPing:
		s.Hub.PublishTo(lobbyID, userID, models.MsgPong, map[string]interface{}{})

	default:
		s.Hub.PublishTo(lobbyID, userID, models.MsgError, map[string]interface{}{
			"message": "unknown action type: " + action,
		})
	}
	return false
}

// handleWordEntry routes a submission to the engine. Rejections go back to
// the sender only; accepted words broadcast from inside the engine.
func (s *Server) handleWordEntry(lobbyID, userID uuid.UUID, word string) {
	eng := s.Registry.Engine(lobbyID)
	if eng == nil {
		s.Hub.PublishTo(lobbyID, userID, models.MsgError, map[string]interface{}{
			"message": "game is not in progress",
		})
		return
	}
	err := eng.SubmitWord(userID, word)
	if err == nil {
		return
	}

	var verr *game.ValidationError
	switch {
	case errors.As(err, &verr):
		key := "message"
		if verr.Kind == models.MsgUsedWord {
			key = "word"
		}
		s.Hub.PublishTo(lobbyID, userID, verr.Kind, map[string]interface{}{
			key: verr.Reason,
		})
	case errors.Is(err, game.ErrStaleTurn):
		s.Hub.PublishTo(lobbyID, userID, models.MsgError, map[string]interface{}{
			"message": "turn already resolved",
		})
	default:
		s.sendError(lobbyID, userID, err)
	}
}

// handleChat persists then broadcasts a chat line. Chat frames ride the same
// sequenced stream as game events.
func (s *Server) handleChat(ctx context.Context, lobbyID, userID uuid.UUID, text string) {
	text = truncateMessage(text, 500)
	senderName := "Player"
	members, err := s.Registry.Members(lobbyID)
	if err == nil {
		for _, m := range members {
			if m.ID == userID {
				senderName = m.DisplayName
				break
			}
		}
	}
	msg := models.ChatMessage{
		ID:         uuid.New(),
		LobbyID:    lobbyID,
		SenderID:   userID,
		SenderName: senderName,
		Text:       text,
		Timestamp:  time.Now(),
	}
	if err := s.Store.AppendChat(ctx, msg); err != nil {
		s.Log.Warnf("lobby %s: chat persistence degraded: %v", lobbyID, err)
	}
	s.Hub.Publish(lobbyID, models.MsgChat, map[string]interface{}{
		"message": msg,
	})
}

// truncateMessage caps text at limit bytes without splitting a rune.
func truncateMessage(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (s *Server) sendError(lobbyID, userID uuid.UUID, err error) {
	s.Hub.PublishTo(lobbyID, userID, models.MsgError, map[string]interface{}{
		"message": err.Error(),
	})
}
