// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/session"
)

// CookieName is the session cookie resolved by the public pipeline.
const CookieName = "authgate_sci"

// bearerPrefix in the Authorization header.
const bearerPrefix = "Bearer "

// Resolver turns bearer tokens and cookies into sessions.
type Resolver struct {
	sessions *session.Service
	issuer   *TokenIssuer
	log      *slog.Logger
}

// NewResolver creates a resolver over the session store and token issuer.
func NewResolver(sessions *session.Service, issuer *TokenIssuer) *Resolver {
	return &Resolver{sessions: sessions, issuer: issuer, log: logger.Get()}
}

// BearerToken extracts the bearer token from the request, or "".
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// FromBearer resolves a bearer token to a live session. ID tokens are
// decoded first; when allowAccessToken is set, tokens that do not parse as
// ID tokens are retried as opaque access tokens.
func (rv *Resolver) FromBearer(ctx context.Context, token string, allowAccessToken bool) (*session.Session, error) {
	sid, err := rv.issuer.SessionID(token)
	if err == nil {
		return rv.live(rv.sessions.Get(ctx, sid))
	}
	if !allowAccessToken {
		return nil, err
	}
	return rv.live(rv.sessions.GetBy(ctx, session.FieldAccessToken, token))
}

// FromCookie resolves a session cookie value to a live session.
func (rv *Resolver) FromCookie(ctx context.Context, value string) (*session.Session, error) {
	return rv.live(rv.sessions.GetBy(ctx, session.FieldCookieID, value))
}

// live rejects sessions whose expiration has already passed; the record
// merely awaits the sweep.
func (rv *Resolver) live(s *session.Session, err error) (*session.Session, error) {
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewUnauthenticatedError("session not found")
		}
		return nil, err
	}
	if s.Expired(time.Now().UTC()) {
		return nil, errors.NewUnauthenticatedError("session expired")
	}
	return s, nil
}

// touch extends the session after a successful authorization. Touch
// failures never fail the request.
func (rv *Resolver) touch(ctx context.Context, s *session.Session) {
	if err := rv.sessions.Touch(ctx, s, 0); err != nil {
		rv.log.Error("Failed to touch session", "sid", s.ID, "error", err)
	}
}
