package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the payload of a session access token.
// SessionID binds the token to a row in sessions.
type TokenClaims struct {
	Type       string `json:"type"`
	CustomerID string `json:"customer_id"`
	Email      string `json:"email,omitempty"`
	SessionID  string `json:"sid"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller attached to a request
type Principal struct {
	CustomerID string
	Email      string
	SessionID  string
}
