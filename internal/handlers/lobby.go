package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lexiwars/backend/internal/models"
)

// CreateLobbyHandler registers a new lobby in Waiting state. The creator
// joins over the WebSocket like any other player.
func (s *Server) CreateLobbyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := authenticateRequest(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}

	var cfg models.LobbyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	info, err := s.Registry.CreateLobby(r.Context(), userID, cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(info)
}

// ListLobbiesHandler returns every public lobby.
func (s *Server) ListLobbiesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Registry.List())
}
