// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/auth"
	"github.com/authgate/authgate/pkg/client"
	"github.com/authgate/authgate/pkg/credentials"
	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/rbac"
	"github.com/authgate/authgate/pkg/session"
	"github.com/authgate/authgate/pkg/storage"
)

type stack struct {
	router   http.Handler
	sessions *session.Service
	resolver *auth.Resolver
	issuer   *auth.TokenIssuer
	roles    *credentials.RoleService
	tenants  *credentials.TenantService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cipher, err := crypto.NewFieldCipher("test-key-material")
	require.NoError(t, err)
	store := storage.NewMemoryStore(storage.WithMemoryFieldCipher(cipher))

	sessions := session.NewService(store, cipher, session.Config{})
	issuer := auth.NewTokenIssuer([]byte("signing-key"))
	resolver := auth.NewResolver(sessions, issuer)
	roles := credentials.NewRoleService(store)
	tenants := credentials.NewTenantService(store)
	clients := client.NewService(store, cipher, client.Config{})

	router := NewRouter(resolver, auth.Config{
		RequireAuthentication: true,
		AuthorizationResource: auth.AuthorizationDisabled,
	}, NewRolesHandler(roles, tenants), NewClientsHandler(clients))

	return &stack{
		router:   router,
		sessions: sessions,
		resolver: resolver,
		issuer:   issuer,
		roles:    roles,
		tenants:  tenants,
	}
}

// login mints a bearer token for a fresh session with the given
// authorization map.
func (st *stack) login(t *testing.T, credentialsID string, authz map[string][]string) string {
	t.Helper()
	s, err := st.sessions.Create(context.Background(), session.CreateInput{
		Type:          session.TypeRoot,
		CredentialsID: credentialsID,
		Authz:         authz,
	})
	require.NoError(t, err)
	token, err := st.issuer.Mint(s)
	require.NoError(t, err)
	return token
}

func (st *stack) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	st.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	t.Parallel()
	st := newStack(t)

	rec := st.do(t, http.MethodGet, "/client", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode(t, rec)["result"])
}

func TestMetricsBypassesAuth(t *testing.T) {
	t.Parallel()
	st := newStack(t)

	rec := st.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetRolesGate(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	ctx := context.Background()

	require.NoError(t, st.roles.AssignRole(ctx, "cid-target", "acme/editor"))
	require.NoError(t, st.tenants.Assign(ctx, "cid-member", "acme"))

	// A caller with the tenant assigned reads the roles.
	token := st.login(t, "cid-member", nil)
	rec := st.do(t, http.MethodGet, "/roles/acme/cid-target", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "OK", body["result"])
	assert.Equal(t, []any{"acme/editor"}, body["data"])

	// A caller without the tenant is refused.
	outsider := st.login(t, "cid-outsider", nil)
	rec = st.do(t, http.MethodGet, "/roles/acme/cid-target", outsider, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec)["result"])

	// The global scope is readable without any tenant assignment.
	rec = st.do(t, http.MethodGet, "/roles/*/cid-target", outsider, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Cross-tenant access opens named tenants too.
	crossTenant := st.login(t, "cid-cross", map[string][]string{
		rbac.GlobalScope: {rbac.ResourceAccessAllTenants},
	})
	rec = st.do(t, http.MethodGet, "/roles/acme/cid-target", crossTenant, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBatchGetRoles(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	ctx := context.Background()

	require.NoError(t, st.roles.AssignRole(ctx, "cid-1", "acme/editor"))
	require.NoError(t, st.roles.AssignRole(ctx, "cid-2", "acme/viewer"))
	require.NoError(t, st.tenants.Assign(ctx, "cid-member", "acme"))

	token := st.login(t, "cid-member", nil)
	rec := st.do(t, http.MethodPut, "/roles/acme", token, `["cid-1", "cid-2"]`)
	require.Equal(t, http.StatusOK, rec.Code)

	data, ok := decode(t, rec)["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"acme/editor"}, data["cid-1"])
	assert.Equal(t, []any{"acme/viewer"}, data["cid-2"])
}

func TestSetRolesGlobalScoping(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	ctx := context.Background()

	// A non-superuser holding role-assign in the tenant: the requested
	// global role is silently ignored, the tenant role is applied.
	assigner := st.login(t, "cid-assigner", map[string][]string{
		"acme": {rbac.ResourceRoleAssign},
	})
	rec := st.do(t, http.MethodPut, "/roles/acme/cid-1", assigner,
		`{"roles": ["acme/editor", "*/superuser"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	roles, err := st.roles.GetRolesByCredentials(ctx, "cid-1", []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/editor"}, roles)

	// The same call by a superuser applies both.
	superuser := st.login(t, "cid-root", map[string][]string{
		rbac.GlobalScope: {rbac.ResourceSuperuser},
	})
	rec = st.do(t, http.MethodPut, "/roles/acme/cid-1", superuser,
		`{"roles": ["acme/editor", "*/superuser"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	roles, err = st.roles.GetRolesByCredentials(ctx, "cid-1", []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"*/superuser", "acme/editor"}, roles)
}

func TestSetRolesRequiresRoleAssign(t *testing.T) {
	t.Parallel()
	st := newStack(t)

	token := st.login(t, "cid-plain", map[string][]string{"acme": {"acme:read"}})
	rec := st.do(t, http.MethodPut, "/roles/acme/cid-1", token, `{"roles": ["acme/editor"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Tenant "*" needs superuser even with role-assign held globally.
	globalAssigner := st.login(t, "cid-ga", map[string][]string{
		rbac.GlobalScope: {rbac.ResourceRoleAssign},
	})
	rec = st.do(t, http.MethodPut, "/roles/*/cid-1", globalAssigner, `{"roles": ["*/auditor"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoleAssignEndpoints(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	ctx := context.Background()

	assigner := st.login(t, "cid-assigner", map[string][]string{
		"acme": {rbac.ResourceRoleAssign},
	})

	rec := st.do(t, http.MethodPost, "/role_assign/cid-1/acme/editor", assigner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	roles, err := st.roles.GetRolesByCredentials(ctx, "cid-1", []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/editor"}, roles)

	// Assigning twice is a conflict carrying the offending pair.
	rec = st.do(t, http.MethodPost, "/role_assign/cid-1/acme/editor", assigner, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "role", body["key"])
	assert.Equal(t, "acme/editor", body["value"])

	// Global roles require superuser.
	rec = st.do(t, http.MethodPost, "/role_assign/cid-1/*/superuser", assigner, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "FORBIDDEN", body["result"])
	assert.NotEmpty(t, body["message"])

	superuser := st.login(t, "cid-root", map[string][]string{
		rbac.GlobalScope: {rbac.ResourceSuperuser},
	})
	rec = st.do(t, http.MethodPost, "/role_assign/cid-1/*/superuser", superuser, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = st.do(t, http.MethodDelete, "/role_assign/cid-1/acme/editor", assigner, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = st.do(t, http.MethodDelete, "/role_assign/cid-1/acme/editor", assigner, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientEndpoints(t *testing.T) {
	t.Parallel()
	st := newStack(t)

	token := st.login(t, "cid-admin", nil)

	// Register a public web client with defaults.
	rec := st.do(t, http.MethodPost, "/client", token,
		`{"client_name": "Demo", "redirect_uris": ["https://app.example.com/cb"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	clientID, _ := body["client_id"].(string)
	assert.NotEmpty(t, clientID)
	assert.NotZero(t, body["client_id_issued_at"])
	_, hasSecret := body["client_secret"]
	assert.False(t, hasSecret)

	// Insecure web redirect URI is a validation error.
	rec = st.do(t, http.MethodPost, "/client", token,
		`{"client_name": "Bad", "redirect_uris": ["http://app.example.com/cb"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], "https scheme")

	// Fetch strips the secret field entirely.
	rec = st.do(t, http.MethodGet, "/client/"+clientID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "client_secret\":")

	// Reset secret on a public client is refused.
	rec = st.do(t, http.MethodPost, "/client/"+clientID+"/reset_secret", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = st.do(t, http.MethodPut, "/client/"+clientID, token, `{"client_name": "Demo 2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = st.do(t, http.MethodGet, "/client?f=Demo", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode(t, rec)
	assert.EqualValues(t, 1, listing["count"])

	rec = st.do(t, http.MethodDelete, "/client/"+clientID, token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = st.do(t, http.MethodGet, "/client/"+clientID, token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
