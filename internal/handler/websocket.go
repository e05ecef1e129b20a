package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rendezvous/internal/model"
)

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedMap[origin]
		},
	}
}

// HandleWebSocket handles GET /ws
// 認証はアップグレード前に行い、失敗した場合は 401 を返す
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		h.Metrics.HandshakeFailed(r.Context(), "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Metrics.HandshakeFailed(r.Context(), "upgrade")
		h.Logger.Warn("websocket upgrade error",
			"error", err,
			"user_id", identity.UserID,
			"origin", r.Header.Get("Origin"),
		)
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	// ハイジャック後はリクエストのキャンセルに依存しない
	ctx := context.WithoutCancel(r.Context())

	client := newClient(uuid.NewString(), identity, conn, h.Logger)
	total := h.addClient(client)
	h.Metrics.ConnectionOpened(ctx)
	h.Logger.Info("new websocket connection",
		"connection_id", client.ID(),
		"user_id", identity.UserID,
		"total_clients", total,
	)

	h.Chat.Connected(ctx, identity, client)
	client.Send(model.Event{
		Event: model.EventConnected,
		Data: model.ConnectedPayload{
			ConnectionID:      client.ID(),
			UserID:            identity.UserID,
			HeartbeatInterval: int(h.Config.HeartbeatInterval / time.Second),
			PresenceTTL:       int(h.Config.PresenceTTL / time.Second),
		},
	})

	go client.writePump()
	client.readPump(func(c *Client, data []byte) {
		h.dispatch(ctx, c, data)
	})

	h.Chat.Disconnected(ctx, identity, client)
	remaining := h.removeClient(client)
	h.Metrics.ConnectionClosed(ctx)
	h.Logger.Info("websocket client disconnected",
		"connection_id", client.ID(),
		"user_id", identity.UserID,
		"total_clients", remaining,
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
