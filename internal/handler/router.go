/*
Package handler provides the HTTP handlers and routing setup for the presence server.

This file defines the main Router, applying middleware like logging, CORS and per-IP
rate limiting before delegating to the socket endpoint and the introspection API.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"hzpresence/internal/configs"
	"hzpresence/internal/pkg/auth/jwt"
	"hzpresence/internal/pkg/limiter"
	"hzpresence/internal/pkg/logx"
	"hzpresence/internal/pkg/resp"
)

const (
	ConnectRate  = 1
	ConnectBurst = 10
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
func Router(deps *AppDeps) http.Handler {
	connectLimiter := deps.ConnectLimiter
	if connectLimiter == nil {
		connectLimiter = limiter.NewIPRateLimiter(rate.Limit(ConnectRate), ConnectBurst, 0)
	}

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":      "ok",
			"service":     "HZ Presence Server",
			"instanceUid": deps.Presence.InstanceUID(),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		if deps.Config.AuthMode == configs.AuthModeJWT {
			api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))
			api.Use(jwt.RequireUserType(jwt.UserTypeOperator))
		}

		api.Get("/instance", HandleInstance(deps.Presence))
		api.Get("/instance/sockets", HandleInstanceSockets(deps.Presence))
		api.Get("/instance/{uid}/sockets", HandleInstanceSockets(deps.Presence))
	})

	r.With(connectLimiter.Middleware).Get("/ws", HandleWebSocket(deps.Presence, wsUpgrader))

	return r
}
