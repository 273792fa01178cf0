// internal/handlers/lobby_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lexiwars/backend/internal/auth"
	"github.com/lexiwars/backend/internal/hub"
	"github.com/lexiwars/backend/internal/models"
	"github.com/lexiwars/backend/internal/registry"
	"github.com/lexiwars/backend/internal/store"
	"github.com/lexiwars/backend/internal/words"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	if err := auth.Init(); err != nil { // ephemeral keys, no DB needed
		t.Fatalf("auth init: %v", err)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	mem := store.NewMemory()
	eventHub := hub.New(logger)
	dict := words.FromSlice([]string{"apple", "grape"})
	reg := registry.New(eventHub, mem, dict, nil, logger)
	return NewServer(reg, eventHub, mem, logger)
}

// TestLobbyCreate checks that /lobby/create registers a Waiting lobby.
func TestLobbyCreate(t *testing.T) {
	s := setupTestServer(t)

	creator := uuid.New()
	token, _ := auth.CreateJWT(creator.String())
	body := `{"name":"word battle","minPlayers":2,"maxPlayers":4,"entryFee":50}`
	req := httptest.NewRequest("POST", "/lobby/create", bytes.NewBuffer([]byte(body)))
	req.Header.Set("Cookie", "auth_token="+token)
	w := httptest.NewRecorder()

	s.CreateLobbyHandler(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 Created, got %d: %s", w.Code, w.Body.String())
	}
	var info models.LobbyInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to decode lobby: %v", err)
	}
	if info.ID == uuid.Nil {
		t.Fatalf("lobby has no ID")
	}
	if info.CreatorID != creator {
		t.Fatalf("lobby creator mismatch, expected %v got %v", creator, info.CreatorID)
	}
	if info.State != models.LobbyWaiting {
		t.Fatalf("expected waiting lobby, got %s", info.State)
	}
}

func TestLobbyCreateRequiresAuth(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest("POST", "/lobby/create", bytes.NewBufferString(`{"name":"x","minPlayers":2,"maxPlayers":4}`))
	w := httptest.NewRecorder()

	s.CreateLobbyHandler(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

// TestRoutesServesEndpoints checks the assembled mux end to end, logging
// middleware included.
func TestRoutesServesEndpoints(t *testing.T) {
	s := setupTestServer(t)
	h := s.Routes()

	req := httptest.NewRequest("GET", "/lobby/list", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /lobby/list, got %d", w.Code)
	}

	token, _ := auth.CreateJWT(uuid.New().String())
	req = httptest.NewRequest("POST", "/lobby/create", bytes.NewBufferString(`{"name":"routed","minPlayers":2,"maxPlayers":4}`))
	req.Header.Set("Cookie", "auth_token="+token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 from /lobby/create, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLobbyListShowsPublicLobbies(t *testing.T) {
	s := setupTestServer(t)

	token, _ := auth.CreateJWT(uuid.New().String())
	for _, body := range []string{
		`{"name":"public game","minPlayers":2,"maxPlayers":4}`,
		`{"name":"hidden game","visibility":"private","minPlayers":2,"maxPlayers":4}`,
	} {
		req := httptest.NewRequest("POST", "/lobby/create", bytes.NewBufferString(body))
		req.Header.Set("Cookie", "auth_token="+token)
		w := httptest.NewRecorder()
		s.CreateLobbyHandler(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
		}
	}

	req := httptest.NewRequest("GET", "/lobby/list", nil)
	w := httptest.NewRecorder()
	s.ListLobbiesHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var lobbies []models.LobbyInfo
	if err := json.Unmarshal(w.Body.Bytes(), &lobbies); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(lobbies) != 1 {
		t.Fatalf("expected only the public lobby, got %d", len(lobbies))
	}
	if lobbies[0].Name != "public game" {
		t.Fatalf("unexpected lobby in list: %s", lobbies[0].Name)
	}
}
