// internal/handlers/api_server.go
package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/lexiwars/backend/internal/hub"
	"github.com/lexiwars/backend/internal/middleware"
	"github.com/lexiwars/backend/internal/registry"
	"github.com/lexiwars/backend/internal/store"
)

// Server bundles the shared services the HTTP and WebSocket handlers close
// over. One instance serves the whole process.
type Server struct {
	Registry *registry.Registry
	Hub      *hub.Hub
	Store    store.Gateway
	Log      *logrus.Logger
}

func NewServer(reg *registry.Registry, h *hub.Hub, gw store.Gateway, logger *logrus.Logger) *Server {
	return &Server{Registry: reg, Hub: h, Store: gw, Log: logger}
}

// Routes wires every endpoint onto a fresh mux, wrapped in request logging.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/create", CreateUserHandler)
	mux.HandleFunc("/user/login", LoginHandler)
	mux.HandleFunc("/leaderboard", LeaderboardHandler)
	mux.HandleFunc("/lobby/create", s.CreateLobbyHandler)
	mux.HandleFunc("/lobby/list", s.ListLobbiesHandler)
	mux.HandleFunc("/lobby/ws/", s.LobbyWSHandler())
	return middleware.LogMiddleware(s.Log)(mux)
}
