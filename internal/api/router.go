package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"yankcord/internal/config"
	"yankcord/internal/hub"
	"yankcord/internal/persistence"
)

// Server is the C13 HTTP Surface: a chi router exposing just enough REST
// to bootstrap a session (login, channel listing) plus the WebSocket
// upgrade endpoint and a health check. Grounded on the teacher's
// api.NewServer wiring, trimmed to the surface SPEC_FULL §2 C13 calls for.
type Server struct {
	router *chi.Mux
	hub    *hub.Hub
}

func NewServer(cfg *config.Config, svc persistence.Service, h *hub.Hub) (*Server, error) {
	ipResolver, err := NewClientIPResolver(cfg.Server.TrustedProxyCIDRs)
	if err != nil {
		return nil, err
	}

	authHandler := NewAuthHandler(svc)
	channelHandler := NewChannelHandler(svc)
	dmHandler := NewDMHandler(svc, h)
	healthHandler := NewHealthHandler(svc)
	authMiddleware := NewAuthMiddleware(svc)
	wsHandler := NewWebSocketHandler(h, cfg.Server.WebSocket.AllowedOrigins)

	loginLimiter := NewRateLimiter(5, time.Minute)
	wsUpgradeLimiter := NewRateLimiter(20, time.Minute)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.WebSocket.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/healthz", healthHandler.Check)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(RateLimitMiddleware(loginLimiter, ipResolver)).Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/channels", channelHandler.ListChannels)
			r.Post("/dm/threads", dmHandler.OpenThread)
		})
	})

	r.With(RateLimitMiddleware(wsUpgradeLimiter, ipResolver)).Get("/ws", wsHandler.ServeWS)

	return &Server{router: r, hub: h}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsMiddleware enforces the explicit allow-list SPEC_FULL §6.4 requires;
// unlike the teacher's blanket "*", an Origin outside the list is rejected
// outright rather than merely denied CORS headers. Loopback origins are
// always allowed through for local development, matching the teacher's
// dev-convenience carve-out.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSuffix(r.Header.Get("Origin"), "/")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			_, isAllowed := allowed[origin]
			if !isAllowed && !isLoopbackOrigin(origin) {
				writeError(w, http.StatusForbidden, ErrCodeInvalidRequest, "origin not allowed")
				return
			}
			if isAllowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || net.ParseIP(host).IsLoopback()
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
