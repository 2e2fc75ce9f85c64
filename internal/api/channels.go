package api

import (
	"net/http"

	"yankcord/internal/persistence"
)

// ChannelHandler exposes the read-only channel listing a client needs
// before it can subscribe to anything over the WebSocket connection
// (SPEC_FULL §2 C13). Channel administration (create/delete) is explicitly
// left at the persistence boundary, not re-implemented here (SPEC_FULL §3).
type ChannelHandler struct {
	persistence persistence.Service
}

func NewChannelHandler(svc persistence.Service) *ChannelHandler {
	return &ChannelHandler{persistence: svc}
}

func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.persistence.ListChannels(r.Context())
	if err != nil {
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}
