package handler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"rendezvous/internal/auth"
	"rendezvous/internal/chat"
	"rendezvous/internal/config"
	"rendezvous/internal/health"
	"rendezvous/internal/telemetry"
)

// Handler holds application dependencies
type Handler struct {
	Config   config.Config
	Chat     *chat.Service
	Verifier auth.Verifier
	Health   *health.Handler
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger

	Clients  map[*Client]bool
	ClientMu sync.RWMutex

	upgrader websocket.Upgrader
	conns    sync.WaitGroup
}

// New creates a new Handler with the given dependencies
func New(cfg config.Config, svc *chat.Service, verifier auth.Verifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Config:   cfg,
		Chat:     svc,
		Verifier: verifier,
		Health:   health.NewHandler(),
		Logger:   logger.With("component", "gateway"),
		Clients:  make(map[*Client]bool),
		upgrader: createUpgrader(cfg.AllowedOrigins),
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// REST API
	r.HandleFunc("/conversations/{id}/messages", h.GetMessages).Methods("GET")
	r.HandleFunc("/messages/{id}", h.DeleteMessage).Methods("DELETE")
	r.HandleFunc("/messages/unread-count", h.GetUnreadCount).Methods("GET")

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	// ヘルスチェック
	if h.Health != nil {
		r.HandleFunc("/healthz", h.Health.LivenessHandler).Methods("GET")
		r.HandleFunc("/readyz", h.Health.ReadinessHandler).Methods("GET")
	}

	return r
}

// ClientCount returns the number of open WebSocket connections
func (h *Handler) ClientCount() int {
	h.ClientMu.RLock()
	defer h.ClientMu.RUnlock()
	return len(h.Clients)
}

// Shutdown closes every open connection and waits for their cleanup
// (presence and room membership) to finish, or for ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.ClientMu.RLock()
	snapshot := make([]*Client, 0, len(h.Clients))
	for c := range h.Clients {
		snapshot = append(snapshot, c)
	}
	h.ClientMu.RUnlock()

	for _, c := range snapshot {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) addClient(c *Client) int {
	h.ClientMu.Lock()
	defer h.ClientMu.Unlock()
	h.Clients[c] = true
	return len(h.Clients)
}

func (h *Handler) removeClient(c *Client) int {
	h.ClientMu.Lock()
	defer h.ClientMu.Unlock()
	delete(h.Clients, c)
	return len(h.Clients)
}
