// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/session"
)

// idClaims are the claims carried by locally issued ID tokens. The session
// id claim binds the token to its backing session record.
type idClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the service's own ID tokens (HS256).
type TokenIssuer struct {
	key []byte
}

// NewTokenIssuer creates an issuer signing with the given key material.
func NewTokenIssuer(key []byte) *TokenIssuer {
	return &TokenIssuer{key: key}
}

// Mint issues an ID token for the session, expiring with it.
func (ti *TokenIssuer) Mint(s *session.Session) (string, error) {
	now := time.Now().UTC()
	claims := idClaims{
		SessionID: s.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.CredentialsID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.Expiration),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return signed, nil
}

// SessionID verifies an ID token and returns the session id it is bound
// to. Malformed, forged or expired tokens fail as unauthenticated.
func (ti *TokenIssuer) SessionID(token string) (string, error) {
	var claims idClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return ti.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.NewError(errors.ErrUnauthenticated, "invalid id token", err)
	}
	if claims.SessionID == "" {
		return "", errors.NewUnauthenticatedError("id token carries no session")
	}
	return claims.SessionID, nil
}
