// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/rbac"
	"github.com/authgate/authgate/pkg/storage"
)

// RoleCollection holds role assignments: one document per
// (credentials, role) pair.
const RoleCollection = "ra"

// FieldRole is the role id field of a role assignment document.
const FieldRole = "role"

// ParseRoleID splits a role id of the form "<tenant>/<role_name>" or
// "*/<role_name>".
func ParseRoleID(roleID string) (tenant, name string, err error) {
	tenant, name, ok := strings.Cut(roleID, "/")
	if !ok || tenant == "" || name == "" || strings.Contains(name, "/") {
		return "", "", errors.NewValidationError("role",
			fmt.Sprintf("role id must have the form <tenant>/<role_name>: %q", roleID))
	}
	return tenant, name, nil
}

// RoleService manages credential-to-role assignments.
type RoleService struct {
	store storage.Store
	log   *slog.Logger
}

// NewRoleService creates a role assignment service on the given store.
func NewRoleService(store storage.Store) *RoleService {
	return &RoleService{store: store, log: logger.Get()}
}

func roleAssignmentID(credentialsID, roleID string) string {
	return credentialsID + " " + roleID
}

// GetRolesByCredentials returns the credential's role ids scoped to the
// given tenants. Global roles are always included.
func (svc *RoleService) GetRolesByCredentials(ctx context.Context, credentialsID string, tenants []string) ([]string, error) {
	docs, err := svc.store.Iterate(ctx, RoleCollection,
		storage.Eq(FieldCredentialsID, credentialsID),
		storage.Sort{Field: FieldRole}, 0, 0)
	if err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(docs))
	for _, doc := range docs {
		roleID := doc.String(FieldRole)
		roleTenant, _, err := ParseRoleID(roleID)
		if err != nil {
			continue
		}
		if roleTenant == rbac.GlobalScope || slices.Contains(tenants, roleTenant) {
			roles = append(roles, roleID)
		}
	}
	return roles, nil
}

// AssignRole adds the role to the credential. Assigning twice is a
// conflict.
func (svc *RoleService) AssignRole(ctx context.Context, credentialsID, roleID string) error {
	if _, _, err := ParseRoleID(roleID); err != nil {
		return err
	}
	_, err := svc.store.Upsertor(RoleCollection, roleAssignmentID(credentialsID, roleID), 0).
		Set(FieldCredentialsID, credentialsID).
		Set(FieldRole, roleID).
		Execute(ctx)
	if err != nil {
		if errors.IsConflict(err) {
			return errors.NewConflictError("role", roleID)
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	svc.log.Info("Role assigned", "cid", credentialsID, "role", roleID)
	return nil
}

// UnassignRole removes the role from the credential.
func (svc *RoleService) UnassignRole(ctx context.Context, credentialsID, roleID string) error {
	if _, _, err := ParseRoleID(roleID); err != nil {
		return err
	}
	removed, err := svc.store.Delete(ctx, RoleCollection, roleAssignmentID(credentialsID, roleID))
	if err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	if !removed {
		return errors.NewNotFoundError(
			fmt.Sprintf("credential %q does not hold role %q", credentialsID, roleID), nil)
	}
	svc.log.Info("Role unassigned", "cid", credentialsID, "role", roleID)
	return nil
}

// SetRoles replaces the credential's roles inside the given tenant scope:
// listed roles are assigned, existing in-scope roles missing from the list
// are unassigned. Global roles enter the scope only when includeGlobal is
// set; requested global roles are otherwise silently ignored. Roles of
// unrelated tenants are refused.
func (svc *RoleService) SetRoles(
	ctx context.Context, credentialsID string, roles []string, tenant string, includeGlobal bool,
) error {
	inScope := func(roleTenant string) bool {
		if roleTenant == rbac.GlobalScope {
			return includeGlobal
		}
		return roleTenant == tenant
	}

	desired := make([]string, 0, len(roles))
	for _, roleID := range roles {
		roleTenant, _, err := ParseRoleID(roleID)
		if err != nil {
			return err
		}
		if roleTenant != tenant && roleTenant != rbac.GlobalScope {
			return errors.NewValidationError("roles",
				fmt.Sprintf("role %q does not belong to tenant %q", roleID, tenant))
		}
		if !inScope(roleTenant) {
			svc.log.Info("Requested role out of scope; skipping", "cid", credentialsID, "role", roleID)
			continue
		}
		desired = append(desired, roleID)
	}

	scopes := []string{tenant}
	if includeGlobal && tenant != rbac.GlobalScope {
		scopes = append(scopes, rbac.GlobalScope)
	}
	current, err := svc.GetRolesByCredentials(ctx, credentialsID, scopes)
	if err != nil {
		return err
	}
	// GetRolesByCredentials always includes global roles; keep only the
	// ones this call is allowed to replace.
	current = slices.DeleteFunc(current, func(roleID string) bool {
		roleTenant, _, err := ParseRoleID(roleID)
		return err != nil || !inScope(roleTenant)
	})

	for _, roleID := range current {
		if !slices.Contains(desired, roleID) {
			if err := svc.UnassignRole(ctx, credentialsID, roleID); err != nil {
				return err
			}
		}
	}
	for _, roleID := range desired {
		if !slices.Contains(current, roleID) {
			if err := svc.AssignRole(ctx, credentialsID, roleID); err != nil {
				return err
			}
		}
	}
	return nil
}
