package api

import (
	"encoding/json"
	"net/http"

	"yankcord/internal/persistence"
)

// AuthHandler is the minimal login endpoint needed to bootstrap a WebSocket
// session (SPEC_FULL §2 C13): it exchanges a username/password for the
// bearer token the client then presents to the "authenticate" wire
// message. Registration, refresh, and logout are REST-surface concerns
// explicitly out of scope for this binary.
type AuthHandler struct {
	persistence persistence.Service
}

func NewAuthHandler(svc persistence.Service) *AuthHandler {
	return &AuthHandler{persistence: svc}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		badRequest(w, "username and password are required")
		return
	}

	token, _, err := h.persistence.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		unauthorized(w, "invalid username or password")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}
