// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/authgate/authgate/pkg/auth"
	"github.com/authgate/authgate/pkg/credentials"
	"github.com/authgate/authgate/pkg/rbac"
)

// RolesHandler serves the role assignment endpoints.
type RolesHandler struct {
	roles   *credentials.RoleService
	tenants *credentials.TenantService
}

// NewRolesHandler creates the role assignment endpoints.
func NewRolesHandler(roles *credentials.RoleService, tenants *credentials.TenantService) *RolesHandler {
	return &RolesHandler{roles: roles, tenants: tenants}
}

// Mount registers the endpoints on the router.
func (h *RolesHandler) Mount(r chi.Router) {
	r.Get("/roles/{tenant}/{credentials_id}", h.getRoles)
	r.Put("/roles/{tenant}", h.batchGetRoles)
	r.Put("/roles/{tenant}/{credentials_id}", h.setRoles)
	r.Post("/role_assign/{credentials_id}/{tenant}/{role_name}", h.assignRole)
	r.Delete("/role_assign/{credentials_id}/{tenant}/{role_name}", h.unassignRole)
}

// canReadTenant gates role reads: the global scope is readable by anyone
// on the admin API; a named tenant requires cross-tenant access or having
// the tenant assigned.
func (h *RolesHandler) canReadTenant(r *http.Request, tenant string) (bool, error) {
	if tenant == rbac.GlobalScope || auth.CanAccessAllTenants(r.Context()) {
		return true, nil
	}
	s, ok := auth.SessionFromContext(r.Context())
	if !ok {
		return false, nil
	}
	return h.tenants.HasTenantAssigned(r.Context(), s.CredentialsID, tenant)
}

func (h *RolesHandler) getRoles(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	credentialsID := chi.URLParam(r, "credentials_id")

	ok, err := h.canReadTenant(r, tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeForbidden(w, "Tenant access denied.")
		return
	}

	roles, err := h.roles.GetRolesByCredentials(r.Context(), credentialsID, []string{tenant})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"data": roles})
}

func (h *RolesHandler) batchGetRoles(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var credentialIDs []string
	if err := decodeBody(r, &credentialIDs); err != nil {
		writeError(w, err)
		return
	}

	ok, err := h.canReadTenant(r, tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeForbidden(w, "Tenant access denied.")
		return
	}

	data := make(map[string][]string, len(credentialIDs))
	for _, cid := range credentialIDs {
		roles, err := h.roles.GetRolesByCredentials(r.Context(), cid, []string{tenant})
		if err != nil {
			writeError(w, err)
			return
		}
		data[cid] = roles
	}
	writeOK(w, map[string]any{"data": data})
}

func (h *RolesHandler) setRoles(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	credentialsID := chi.URLParam(r, "credentials_id")
	ctx := r.Context()

	var body struct {
		Roles []string `json:"roles"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	if !auth.HasResourceAccess(ctx, tenant, []string{rbac.ResourceRoleAssign}) {
		writeForbidden(w, "Role assignment denied.")
		return
	}
	superuser := auth.IsSuperuser(ctx)
	if tenant == rbac.GlobalScope && !superuser {
		writeForbidden(w, "Global roles can only be assigned by a superuser.")
		return
	}

	// Global roles in the requested set are applied only for superusers;
	// for everyone else they are silently ignored.
	if err := h.roles.SetRoles(ctx, credentialsID, body.Roles, tenant, superuser); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (h *RolesHandler) assignRole(w http.ResponseWriter, r *http.Request) {
	h.modifyAssignment(w, r, h.roles.AssignRole)
}

func (h *RolesHandler) unassignRole(w http.ResponseWriter, r *http.Request) {
	h.modifyAssignment(w, r, h.roles.UnassignRole)
}

func (h *RolesHandler) modifyAssignment(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, credentialsID, roleID string) error,
) {
	tenant := chi.URLParam(r, "tenant")
	credentialsID := chi.URLParam(r, "credentials_id")
	roleID := tenant + "/" + chi.URLParam(r, "role_name")
	ctx := r.Context()

	if tenant == rbac.GlobalScope {
		if !auth.IsSuperuser(ctx) {
			writeForbidden(w, "Global roles can only be assigned by a superuser.")
			return
		}
	} else if !auth.HasResourceAccess(ctx, tenant, []string{rbac.ResourceRoleAssign}) {
		writeForbidden(w, "Role assignment denied.")
		return
	}

	if err := op(ctx, credentialsID, roleID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}
