package jwt

import (
	"context"
	"errors"
	"fmt"

	"hzpresence/internal/app/presence"
)

const (
	// TokenQueryParam is the handshake query parameter carrying the access token.
	TokenQueryParam = "token"

	// HandshakePayloadKey is the Handshake value key under which the verified Payload is stored.
	HandshakePayloadKey = "jwt.payload"
)

var (
	errMissingToken = errors.New("authentication token required")
	errNoPayload    = errors.New("handshake carries no verified token")
)

// HandshakeMiddleware verifies the token presented in the "token" query parameter or
// the Authorization header and stores its Payload on the handshake.
func HandshakeMiddleware(secretKey string) presence.Middleware {
	return func(ctx context.Context, hs *presence.Handshake) error {
		tokenString := hs.Query.Get(TokenQueryParam)
		if tokenString == "" {
			var ok bool
			if tokenString, ok = bearerToken(hs.Header.Get("Authorization")); !ok {
				return errMissingToken
			}
		}

		payload, err := ParseToken(tokenString, secretKey)
		if err != nil {
			return fmt.Errorf("invalid authentication token: %w", err)
		}

		hs.Set(HandshakePayloadKey, payload)
		return nil
	}
}

// ConnectHook renames the session to the token's name and attaches its user type.
// It relies on HandshakeMiddleware having run first.
func ConnectHook() presence.ConnectHook {
	return func(ctx context.Context, h presence.Handle, socketID string) (string, map[string]any, error) {
		hs, ok := h.Handshake(socketID)
		if !ok {
			return "", nil, errNoPayload
		}

		payload, ok := PayloadFromHandshake(hs)
		if !ok {
			return "", nil, errNoPayload
		}

		return payload.Name, map[string]any{"userType": payload.UserType}, nil
	}
}

// PayloadFromHandshake returns the Payload stored by HandshakeMiddleware.
func PayloadFromHandshake(hs *presence.Handshake) (*Payload, bool) {
	v, ok := hs.Get(HandshakePayloadKey)
	if !ok {
		return nil, false
	}
	payload, ok := v.(*Payload)
	return payload, ok
}
