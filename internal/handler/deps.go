package handler

import (
	"hzpresence/internal/app/presence"
	"hzpresence/internal/configs"
	"hzpresence/internal/pkg/auth/jwt"
	"hzpresence/internal/pkg/limiter"
)

// AppDeps holds what the HTTP layer needs to serve requests.
type AppDeps struct {
	Presence *presence.Service
	Config   *configs.AppConfig

	// ConnectLimiter rate limits socket upgrades per IP. Router creates one when nil.
	ConnectLimiter *limiter.IPRateLimiter
}

// PresenceOptions returns the authentication options for the configured AUTH_MODE.
func PresenceOptions(cfg *configs.AppConfig) []presence.Option {
	opts := []presence.Option{
		presence.WithHeartbeat(cfg.HeartbeatInterval, cfg.PresenceTTL),
		presence.WithStoreTimeout(cfg.StoreTimeout),
	}
	if cfg.InstanceUID != "" {
		opts = append(opts, presence.WithInstanceUID(cfg.InstanceUID))
	}
	if cfg.AuthMode == configs.AuthModeJWT {
		opts = append(opts,
			presence.WithMiddleware(jwt.HandshakeMiddleware(cfg.JWTSecret)),
			presence.WithConnectHook(jwt.ConnectHook()),
		)
	}
	return opts
}
