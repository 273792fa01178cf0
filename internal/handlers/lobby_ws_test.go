// internal/handlers/lobby_ws_test.go
package handlers

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lexiwars/backend/internal/models"
)

// TestReconnectCatchupFrames checks the catch-up sequence for each class of
// connection: fresh connect, in-window reconnect, up-to-date reconnect, and
// out-of-window reconnect.
func TestReconnectCatchupFrames(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	info, err := s.Registry.CreateLobby(ctx, uuid.New(), models.LobbyConfig{
		Name:       "word battle",
		MinPlayers: 3,
		MaxPlayers: 4,
	})
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	user := uuid.New()
	if _, err := s.Registry.Join(ctx, info.ID, user, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Join published one playerUpdated event (seq 1); add five chat events
	// so the stream sits at seq 6.
	for i := 0; i < 5; i++ {
		s.Hub.Publish(info.ID, models.MsgChat, map[string]interface{}{"i": i})
	}

	// Fresh connect leads with a full snapshot.
	frames, err := s.initialFrames(ctx, info.ID, 0, nil, false)
	if err != nil {
		t.Fatalf("initial frames: %v", err)
	}
	if len(frames) == 0 || frames[0].Type != models.MsgSnapshot {
		t.Fatalf("expected snapshot first on fresh connect, got %+v", frames)
	}

	// In-window reconnect gets the exact gap, then a confirming snapshot.
	sub, replay, resync := s.Hub.Subscribe(info.ID, user, 2)
	defer s.Hub.Unsubscribe(sub)
	if resync {
		t.Fatalf("gap of 4 should fit the replay window")
	}
	frames, err = s.initialFrames(ctx, info.ID, 2, replay, false)
	if err != nil {
		t.Fatalf("initial frames: %v", err)
	}
	if len(frames) != 7 {
		t.Fatalf("expected 4 replay + snapshot + chatHistory + permitChat, got %d frames", len(frames))
	}
	if frames[0].Seq != 3 || frames[3].Seq != 6 {
		t.Fatalf("replay should cover seq 3..6, got %d..%d", frames[0].Seq, frames[3].Seq)
	}
	if frames[4].Type != models.MsgSnapshot || frames[4].Seq != 6 {
		t.Fatalf("expected confirming snapshot at seq 6 after replay, got %+v", frames[4])
	}
	if frames[5].Type != models.MsgChatHistory || frames[6].Type != models.MsgPermitChat {
		t.Fatalf("unexpected trailing frames: %+v", frames[5:])
	}

	// A client already at the head still gets a snapshot to converge on.
	frames, err = s.initialFrames(ctx, info.ID, s.Hub.Seq(info.ID), nil, false)
	if err != nil {
		t.Fatalf("initial frames: %v", err)
	}
	if frames[0].Type != models.MsgSnapshot {
		t.Fatalf("expected snapshot for up-to-date reconnect, got %s", frames[0].Type)
	}

	// Beyond the window the client is told to resync.
	frames, err = s.initialFrames(ctx, info.ID, 2, nil, true)
	if err != nil {
		t.Fatalf("initial frames: %v", err)
	}
	if frames[0].Type != models.MsgResync {
		t.Fatalf("expected resync frame, got %s", frames[0].Type)
	}
}

func TestTruncateMessageKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("世", 200) // 600 bytes of 3-byte runes
	got := truncateMessage(long, 500)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got[len(got)-4:])
	}
	if len(got) != 498 {
		t.Fatalf("expected cut at the last rune boundary below 500, got %d bytes", len(got))
	}

	short := "hello"
	if truncateMessage(short, 500) != short {
		t.Fatalf("short messages must pass through unchanged")
	}
}
