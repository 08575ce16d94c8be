// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/storage"
)

func newTestStore() storage.Store {
	return storage.NewMemoryStore(storage.WithMemoryIndexes(storage.Indexes{
		Collection: UniqueFields,
	}))
}

func TestStorageProviderCRUD(t *testing.T) {
	t.Parallel()
	p := NewStorageProvider(newTestStore(), "ext", true)
	ctx := context.Background()

	assert.Equal(t, "ext", p.Name())
	assert.True(t, p.RegistrationEnabled())

	id, err := p.Create(ctx, map[string]any{FieldUsername: "alice", FieldEmail: "alice@example.com"})
	require.NoError(t, err)

	doc, err := p.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.String(FieldUsername))

	doc, err = p.GetBy(ctx, FieldEmail, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID())

	// Duplicate username is a conflict naming the field.
	_, err = p.Create(ctx, map[string]any{FieldUsername: "alice"})
	require.True(t, errors.IsConflict(err))
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, FieldUsername, appErr.Key)

	require.NoError(t, p.Update(ctx, id, map[string]any{FieldPhone: "+420123456789", FieldEmail: nil}))
	doc, err = p.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "+420123456789", doc.String(FieldPhone))
	_, hasEmail := doc[FieldEmail]
	assert.False(t, hasEmail)

	removed, err := p.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestReadOnlyProvider(t *testing.T) {
	t.Parallel()
	p := ReadOnly(NewStorageProvider(newTestStore(), "directory", true))
	ctx := context.Background()

	assert.False(t, p.RegistrationEnabled())

	_, err := p.Create(ctx, map[string]any{FieldUsername: "alice"})
	assert.True(t, errors.IsUnimplemented(err))
	assert.True(t, errors.IsUnimplemented(p.Update(ctx, "x", nil)))
	_, err = p.Delete(ctx, "x")
	assert.True(t, errors.IsUnimplemented(err))
}

func TestSelectRegistrationProvider(t *testing.T) {
	t.Parallel()
	store := newTestStore()

	readOnly := ReadOnly(NewStorageProvider(store, "directory", true))
	writable := NewStorageProvider(store, "ext", true)

	p, err := SelectRegistrationProvider([]Provider{readOnly, writable})
	require.NoError(t, err)
	assert.Equal(t, "ext", p.Name())

	_, err = SelectRegistrationProvider([]Provider{readOnly})
	assert.True(t, errors.IsUnimplemented(err))
}

func TestTenantAssignments(t *testing.T) {
	t.Parallel()
	svc := NewTenantService(newTestStore())
	ctx := context.Background()

	require.NoError(t, svc.Assign(ctx, "cid-1", "acme"))
	require.NoError(t, svc.Assign(ctx, "cid-1", "initech"))

	// Double assignment is a conflict.
	assert.True(t, errors.IsConflict(svc.Assign(ctx, "cid-1", "acme")))
	// The global scope is not an assignable tenant.
	assert.True(t, errors.IsValidation(svc.Assign(ctx, "cid-1", "*")))

	tenants, err := svc.GetTenants(ctx, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "initech"}, tenants)

	ok, err := svc.HasTenantAssigned(ctx, "cid-1", "acme")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasTenantAssigned(ctx, "cid-2", "acme")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Unassign(ctx, "cid-1", "acme"))
	ok, err = svc.HasTenantAssigned(ctx, "cid-1", "acme")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unassigning a missing pair is a no-op.
	assert.NoError(t, svc.Unassign(ctx, "cid-1", "acme"))
}

func TestTenantTransfer(t *testing.T) {
	t.Parallel()
	svc := NewTenantService(newTestStore())
	ctx := context.Background()

	require.NoError(t, svc.Assign(ctx, "draft", "acme"))
	require.NoError(t, svc.Assign(ctx, "draft", "initech"))
	require.NoError(t, svc.Assign(ctx, "existing", "acme"))

	require.NoError(t, svc.Transfer(ctx, "draft", "existing"))

	tenants, err := svc.GetTenants(ctx, "existing")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "initech"}, tenants)

	tenants, err = svc.GetTenants(ctx, "draft")
	require.NoError(t, err)
	assert.Empty(t, tenants)
}

func TestParseRoleID(t *testing.T) {
	t.Parallel()

	tenant, name, err := ParseRoleID("acme/editor")
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, "editor", name)

	tenant, _, err = ParseRoleID("*/superuser")
	require.NoError(t, err)
	assert.Equal(t, "*", tenant)

	for _, bad := range []string{"editor", "/editor", "acme/", "acme/ed/itor", ""} {
		_, _, err := ParseRoleID(bad)
		assert.True(t, errors.IsValidation(err), "expected validation error for %q", bad)
	}
}

func TestAssignUnassignRole(t *testing.T) {
	t.Parallel()
	svc := NewRoleService(newTestStore())
	ctx := context.Background()

	require.NoError(t, svc.AssignRole(ctx, "cid-1", "acme/editor"))
	assert.True(t, errors.IsConflict(svc.AssignRole(ctx, "cid-1", "acme/editor")))

	roles, err := svc.GetRolesByCredentials(ctx, "cid-1", []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/editor"}, roles)

	require.NoError(t, svc.UnassignRole(ctx, "cid-1", "acme/editor"))
	assert.True(t, errors.IsNotFound(svc.UnassignRole(ctx, "cid-1", "acme/editor")))
}

func TestGetRolesScoping(t *testing.T) {
	t.Parallel()
	svc := NewRoleService(newTestStore())
	ctx := context.Background()

	for _, role := range []string{"acme/editor", "initech/viewer", "*/superuser"} {
		require.NoError(t, svc.AssignRole(ctx, "cid-1", role))
	}

	// Tenant scope returns the tenant's roles plus global roles.
	roles, err := svc.GetRolesByCredentials(ctx, "cid-1", []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"*/superuser", "acme/editor"}, roles)

	roles, err = svc.GetRolesByCredentials(ctx, "cid-1", []string{"*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"*/superuser"}, roles)
}

func TestSetRolesScoped(t *testing.T) {
	t.Parallel()
	svc := NewRoleService(newTestStore())
	ctx := context.Background()

	require.NoError(t, svc.AssignRole(ctx, "cid-1", "acme/viewer"))
	require.NoError(t, svc.AssignRole(ctx, "cid-1", "initech/viewer"))

	// Without includeGlobal the requested global role is silently ignored
	// and only the tenant's roles are replaced.
	require.NoError(t, svc.SetRoles(ctx, "cid-1", []string{"acme/editor", "*/superuser"}, "acme", false))

	roles, err := svc.GetRolesByCredentials(ctx, "cid-1", []string{"acme", "initech"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/editor", "initech/viewer"}, roles)

	// With includeGlobal the global role is applied too.
	require.NoError(t, svc.SetRoles(ctx, "cid-1", []string{"acme/editor", "*/superuser"}, "acme", true))
	roles, err = svc.GetRolesByCredentials(ctx, "cid-1", []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"*/superuser", "acme/editor"}, roles)

	// Roles of an unrelated tenant are refused.
	err = svc.SetRoles(ctx, "cid-1", []string{"initech/editor"}, "acme", false)
	assert.True(t, errors.IsValidation(err))

	// Global-only replacement: tenant "*" with includeGlobal unassigns
	// global roles missing from the list and leaves tenant roles alone.
	require.NoError(t, svc.SetRoles(ctx, "cid-1", nil, "*", true))
	roles, err = svc.GetRolesByCredentials(ctx, "cid-1", []string{"acme", "initech"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/editor", "initech/viewer"}, roles)
}
