package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the claims carried by a presence access token.
type Payload struct {
	// StandardClaims embeds the registered fields (exp, iat, iss) checked on every parse.
	jwt.StandardClaims `json:"standard_claims"`

	// Name is the user name the session is registered under once the token is accepted.
	Name string `json:"name"`

	// UserType is the role of the holder ("guest", "registered", "operator").
	// It is attached to the session metadata and gates the introspection API.
	UserType string `json:"user_type"`
}

// UserTypeOperator grants access to the instance introspection endpoints.
const UserTypeOperator = "operator"
