package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the access-token payload issued by the ops identity provider.
// This service only validates tokens; it never issues them.
type JWTClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor returns the identity to stamp on audit records.
func (c *JWTClaims) Actor() string {
	if c == nil {
		return "system"
	}
	if c.Email != "" {
		return c.Email
	}
	if c.UserID != "" {
		return c.UserID
	}
	return "system"
}
