// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package rbac evaluates resource access against a session's authorization
// map. The map is keyed by tenant, with "*" denoting the global scope;
// values are the resources held under that tenant.
package rbac

import "slices"

// Well-known resources.
const (
	// ResourceSuperuser bypasses every tenant-scoped check.
	ResourceSuperuser = "authz:superuser"

	// ResourceAccessAllTenants grants cross-tenant access without superuser
	// powers.
	ResourceAccessAllTenants = "authz:tenant:access"

	// ResourceRoleAssign is required to modify role assignments.
	ResourceRoleAssign = "authz:role:assign"
)

// GlobalScope is the tenant key of globally held resources.
const GlobalScope = "*"

// HasResourceAccess decides whether the authorization map grants every
// required resource under the target tenant. Superusers pass regardless of
// tenant.
func HasResourceAccess(authz map[string][]string, tenant string, resources []string) bool {
	if IsSuperuser(authz) {
		return true
	}
	held := authz[tenant]
	for _, required := range resources {
		if !slices.Contains(held, required) {
			return false
		}
	}
	return true
}

// IsSuperuser reports whether the map holds the superuser resource in any
// scope.
func IsSuperuser(authz map[string][]string) bool {
	for _, resources := range authz {
		if slices.Contains(resources, ResourceSuperuser) {
			return true
		}
	}
	return false
}

// CanAccessAllTenants reports whether the map grants cross-tenant access:
// either superuser or the dedicated cross-tenant resource in the global
// scope.
func CanAccessAllTenants(authz map[string][]string) bool {
	if IsSuperuser(authz) {
		return true
	}
	return slices.Contains(authz[GlobalScope], ResourceAccessAllTenants)
}
