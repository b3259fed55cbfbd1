package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"studybuddy/internal/api"
	"studybuddy/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, wsPath, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/dm", apiHandlers.RequireAuth(apiHandlers.HistoryHandler))
	mux.HandleFunc("GET /api/conversations", apiHandlers.RequireAuth(apiHandlers.ConversationsHandler))
	mux.HandleFunc("POST /api/upload", apiHandlers.RequireAuth(apiHandlers.UploadHandler))
	mux.HandleFunc("GET /api/files/{id}", apiHandlers.GetFileHandler)
	mux.HandleFunc("POST /api/push/subscribe", apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler))
	mux.HandleFunc("GET /api/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("GET /api/users/{id}", apiHandlers.GetUserHandler)

	// WebSocket endpoint, distinguished from page traffic by its path.
	mux.HandleFunc(wsPath, wsServer.HandleConnections)

	if addr == "" {
		addr = ":3000"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
