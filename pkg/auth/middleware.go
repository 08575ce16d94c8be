// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/authgate/authgate/pkg/rbac"
	"github.com/authgate/authgate/pkg/session"
)

// AuthorizationDisabled turns the admin API resource gate off when set as
// the authorization resource.
const AuthorizationDisabled = "DISABLED"

// diagnosticsPrefix is the subtree that additionally accepts the
// pre-shared diagnostics bearer.
const diagnosticsPrefix = "/diag"

// introspectionPrefix requests bypass the admin gate entirely; they carry
// the token under inspection in the body, not the caller's identity.
const introspectionPrefix = "/nginx/"

// Config parameterizes the admin API pipeline.
type Config struct {
	// RequireAuthentication gates the admin API behind a session.
	RequireAuthentication bool

	// AuthorizationResource must be held somewhere in the session's
	// authorization map, unless set to AuthorizationDisabled. Superusers
	// always pass.
	AuthorizationResource string

	// AllowAccessTokenAuth enables the opaque access-token fallback for
	// bearer tokens that do not parse as ID tokens.
	AllowAccessTokenAuth bool

	// DiagnosticsBearer, when non-empty, is a pre-shared token accepted on
	// the diagnostics subtree in place of a session.
	DiagnosticsBearer string
}

// Private is the admin API pipeline: resolve the bearer, attach the
// session to the context, then enforce the authentication and resource
// gates.
func (rv *Resolver) Private(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, introspectionPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r)
			if token != "" && cfg.DiagnosticsBearer != "" &&
				strings.HasPrefix(r.URL.Path, diagnosticsPrefix) &&
				subtle.ConstantTimeCompare([]byte(token), []byte(cfg.DiagnosticsBearer)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			var s *session.Session
			var err error
			if token != "" {
				s, err = rv.FromBearer(ctx, token, cfg.AllowAccessTokenAuth)
			}
			if s != nil {
				ctx = WithSession(ctx, s)
			} else if err != nil {
				rv.log.Debug("Bearer resolution failed", "path", r.URL.Path, "error", err)
			}

			if !cfg.RequireAuthentication {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if s == nil {
				writeUnauthenticated(w)
				return
			}
			if cfg.AuthorizationResource != AuthorizationDisabled &&
				!rbac.IsSuperuser(s.Authz) &&
				!holdsAnywhere(s.Authz, cfg.AuthorizationResource) {
				writeForbidden(w, "Not authorized for the administration API.")
				return
			}

			rv.touch(ctx, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Public is the end-user pipeline: bearer token first, session cookie as
// the fallback. Requests without a live session are rejected.
func (rv *Resolver) Public() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var s *session.Session
			var err error
			if token := BearerToken(r); token != "" {
				s, err = rv.FromBearer(ctx, token, true)
			} else if cookie, cerr := r.Cookie(CookieName); cerr == nil && cookie.Value != "" {
				s, err = rv.FromCookie(ctx, cookie.Value)
			}
			if err != nil {
				rv.log.Debug("Session resolution failed", "path", r.URL.Path, "error", err)
			}
			if s == nil {
				writeUnauthenticated(w)
				return
			}

			ctx = WithSession(ctx, s)
			rv.touch(ctx, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": "UNAUTHENTICATED"})
}

func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": "FORBIDDEN", "message": message})
}
