package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"yankcord/internal/hub"
)

// WebSocketHandler upgrades HTTP requests to WebSocket connections and
// hands them to the Hub, checking Origin against an explicit allow-list
// (spec §6.4 — no wildcard CORS for the upgrade endpoint either).
type WebSocketHandler struct {
	hub            *hub.Hub
	upgrader       websocket.Upgrader
	allowedOrigins map[string]struct{}
}

func NewWebSocketHandler(h *hub.Hub, allowedOrigins []string) *WebSocketHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	wh := &WebSocketHandler{hub: h, allowedOrigins: allowed}
	wh.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     wh.checkOrigin,
	}
	return wh
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := h.allowedOrigins[strings.TrimSuffix(origin, "/")]
	return ok
}

func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	h.hub.Serve(r.Context(), conn)
}
