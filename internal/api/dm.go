package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"yankcord/internal/hub"
	"yankcord/internal/persistence"
)

// DMHandler opens (or returns the existing) DM thread between the caller
// and a peer. Thread open/create is a REST operation (spec §4.6); the
// WebSocket protocol only ever subscribes to threads that already exist.
// On a fresh create, both members are notified over the hub so their
// thread lists update without polling.
type DMHandler struct {
	persistence persistence.Service
	hub         *hub.Hub
}

func NewDMHandler(svc persistence.Service, h *hub.Hub) *DMHandler {
	return &DMHandler{persistence: svc, hub: h}
}

type openThreadRequest struct {
	PeerUserID string `json:"peer_user_id"`
}

func (h *DMHandler) OpenThread(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r)
	if !ok {
		unauthorized(w, "authentication required")
		return
	}

	var req openThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.PeerUserID == "" || req.PeerUserID == identity.UserID {
		badRequest(w, "peer_user_id must name another user")
		return
	}

	peer, err := h.persistence.GetUser(r.Context(), req.PeerUserID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			notFound(w, "user not found")
			return
		}
		internalError(w)
		return
	}

	thread, created, err := h.persistence.GetOrCreateDMThread(r.Context(), identity.UserID, req.PeerUserID)
	if err != nil {
		internalError(w)
		return
	}

	if created {
		h.hub.NotifyDMThreadCreated(*thread, []string{identity.Username, peer.Username})
	}

	writeJSON(w, http.StatusOK, map[string]any{"thread": thread, "created": created})
}
