// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// TenantCollection holds tenant assignments: one document per
// (credentials, tenant) pair.
const TenantCollection = "ct"

// Tenant assignment fields.
const (
	FieldCredentialsID = "cid"
	FieldTenant        = "tenant"
)

// TenantService manages credential-to-tenant assignments.
type TenantService struct {
	store storage.Store
	log   *slog.Logger
}

// NewTenantService creates a tenant assignment service on the given store.
func NewTenantService(store storage.Store) *TenantService {
	return &TenantService{store: store, log: logger.Get()}
}

func tenantAssignmentID(credentialsID, tenant string) string {
	return credentialsID + " " + tenant
}

// Assign adds the tenant to the credential. Assigning twice is a conflict.
func (svc *TenantService) Assign(ctx context.Context, credentialsID, tenant string) error {
	if tenant == "" || tenant == "*" {
		return errors.NewValidationError("tenant", fmt.Sprintf("invalid tenant %q", tenant))
	}
	_, err := svc.store.Upsertor(TenantCollection, tenantAssignmentID(credentialsID, tenant), 0).
		Set(FieldCredentialsID, credentialsID).
		Set(FieldTenant, tenant).
		Execute(ctx)
	if err != nil {
		if errors.IsConflict(err) {
			return errors.NewConflictError("tenant", tenant)
		}
		return fmt.Errorf("failed to assign tenant: %w", err)
	}
	svc.log.Info("Tenant assigned", "cid", credentialsID, "tenant", tenant)
	return nil
}

// Unassign removes the tenant from the credential. Unassigning a missing
// pair is not an error.
func (svc *TenantService) Unassign(ctx context.Context, credentialsID, tenant string) error {
	removed, err := svc.store.Delete(ctx, TenantCollection, tenantAssignmentID(credentialsID, tenant))
	if err != nil {
		return fmt.Errorf("failed to unassign tenant: %w", err)
	}
	if removed {
		svc.log.Info("Tenant unassigned", "cid", credentialsID, "tenant", tenant)
	}
	return nil
}

// GetTenants returns the tenants assigned to the credential.
func (svc *TenantService) GetTenants(ctx context.Context, credentialsID string) ([]string, error) {
	docs, err := svc.store.Iterate(ctx, TenantCollection,
		storage.Eq(FieldCredentialsID, credentialsID),
		storage.Sort{Field: FieldTenant}, 0, 0)
	if err != nil {
		return nil, err
	}
	tenants := make([]string, 0, len(docs))
	for _, doc := range docs {
		tenants = append(tenants, doc.String(FieldTenant))
	}
	return tenants, nil
}

// HasTenantAssigned reports whether the credential holds the tenant.
func (svc *TenantService) HasTenantAssigned(ctx context.Context, credentialsID, tenant string) (bool, error) {
	_, err := svc.store.Get(ctx, TenantCollection, tenantAssignmentID(credentialsID, tenant))
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Transfer moves every tenant assignment from one credential to another.
// Assignments the target already holds are skipped.
func (svc *TenantService) Transfer(ctx context.Context, fromID, toID string) error {
	tenants, err := svc.GetTenants(ctx, fromID)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		if err := svc.Assign(ctx, toID, tenant); err != nil && !errors.IsConflict(err) {
			return err
		}
		if err := svc.Unassign(ctx, fromID, tenant); err != nil {
			return err
		}
	}
	return nil
}
