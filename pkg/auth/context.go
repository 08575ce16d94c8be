// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth binds incoming requests to sessions: it resolves bearer
// tokens and session cookies, attaches the session to the request context
// and enforces the admin API authorization gate.
package auth

import (
	"context"
	"slices"

	"github.com/authgate/authgate/pkg/rbac"
	"github.com/authgate/authgate/pkg/session"
)

// sessionContextKey keys the resolved session in the request context.
// An empty struct type cannot collide with keys of other packages.
type sessionContextKey struct{}

// WithSession stores the resolved session in the context. A nil session
// returns the context unchanged.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext retrieves the resolved session, if any.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return s, ok
}

// HasResourceAccess reports whether the context session grants every
// required resource under the tenant. No session means no access.
func HasResourceAccess(ctx context.Context, tenant string, resources []string) bool {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return false
	}
	return rbac.HasResourceAccess(s.Authz, tenant, resources)
}

// IsSuperuser reports whether the context session holds the superuser
// resource.
func IsSuperuser(ctx context.Context) bool {
	s, ok := SessionFromContext(ctx)
	return ok && rbac.IsSuperuser(s.Authz)
}

// CanAccessAllTenants reports whether the context session may act across
// tenants.
func CanAccessAllTenants(ctx context.Context) bool {
	s, ok := SessionFromContext(ctx)
	return ok && rbac.CanAccessAllTenants(s.Authz)
}

// holdsAnywhere reports whether the resource appears under any tenant of
// the authorization map.
func holdsAnywhere(authz map[string][]string, resource string) bool {
	for _, resources := range authz {
		if slices.Contains(resources, resource) {
			return true
		}
	}
	return false
}
