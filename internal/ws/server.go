package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// Server upgrades HTTP requests on the websocket path and wires each
// accepted connection into the hub and coordinator.
//
// The handshake trusts the user identifier supplied by the
// already-authenticated page session; no credential is re-verified at
// this layer. The endpoint must therefore only be reachable through an
// authenticated session.
type Server struct {
	hub      *Hub
	coord    dispatcher
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub, coord dispatcher) *Server {
	return &Server{
		hub:   hub,
		coord: coord,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // same-origin is enforced by the session layer
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	// Reject before any registry mutation.
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.hub, s.coord, ws, userID)
	if err := conn.Handle(r.Context()); err != nil {
		log.Printf("connection error for user %s: %v", userID, err)
	}
}
