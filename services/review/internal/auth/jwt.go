package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Usmaexe/artisanal-moroccan-market/pkg/middleware"
)

// Claims mirrors the access-token claims issued by the user service.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 access tokens signed with a shared secret.
type Validator struct {
	secret []byte
	parser *jwt.Parser
}

// NewValidator creates a validator. A non-empty issuer must match the token's iss claim.
func NewValidator(secret, issuer string) *Validator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Validator{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

// Validate parses tokenString and returns its identity claims. The user id
// falls back to the subject when the user_id claim is absent.
func (v *Validator) Validate(tokenString string) (*middleware.Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid access token claims")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("access token has no subject")
	}

	return &middleware.Claims{
		UserID: userID,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

// TokenValidator adapts v to the middleware's validator signature.
func (v *Validator) TokenValidator() middleware.TokenValidator {
	return v.Validate
}
