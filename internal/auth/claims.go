package auth

import "github.com/golang-jwt/jwt/v5"

// TokenType separates short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carry the operator's users.id in the standard subject claim.
type Claims struct {
	jwt.RegisteredClaims

	Role      string    `json:"role"`
	TokenType TokenType `json:"typ"`
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Role   string
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Role: c.Role}
}
