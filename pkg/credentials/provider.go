// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package credentials manages user credential records and their tenant and
// role assignments. Credential storage is pluggable: a provider is a
// capability set, and backends that cannot edit simply refuse with an
// unimplemented error.
package credentials

import (
	"context"
	"fmt"

	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/storage"
)

// Credential document fields shared across providers.
const (
	FieldUsername     = "username"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldPassword     = "__password"
	FieldSuspended    = "suspended"
	FieldRegistered   = "registered"
	FieldRegistration = "__registration"
)

// Provider is the credential backend capability set. Backends without edit
// support return unimplemented errors from Create, Update and Delete.
type Provider interface {
	// Name identifies the provider in credential ids and logs.
	Name() string

	// RegistrationEnabled reports whether the provider can host invitation
	// drafts. The registration engine selects the first provider that can.
	RegistrationEnabled() bool

	Get(ctx context.Context, id string) (storage.Document, error)
	GetBy(ctx context.Context, field string, value any) (storage.Document, error)
	Create(ctx context.Context, fields map[string]any) (string, error)
	Update(ctx context.Context, id string, patch map[string]any) error
	Delete(ctx context.Context, id string) (bool, error)
	Iterate(ctx context.Context, filter storage.Filter, skip, limit int64) ([]storage.Document, error)
	Count(ctx context.Context, filter storage.Filter) (int64, error)
}

// StorageProvider is a credential provider on the document storage port.
type StorageProvider struct {
	store        storage.Store
	name         string
	registration bool
}

// Collection is the storage collection of the storage-backed credential
// provider.
const Collection = "c"

// UniqueFields are the uniquely indexed credential fields.
var UniqueFields = []string{FieldUsername, FieldEmail}

// NewStorageProvider creates a storage-backed credential provider.
func NewStorageProvider(store storage.Store, name string, registration bool) *StorageProvider {
	return &StorageProvider{store: store, name: name, registration: registration}
}

// Name identifies the provider.
func (p *StorageProvider) Name() string {
	return p.name
}

// RegistrationEnabled reports whether the provider hosts invitation drafts.
func (p *StorageProvider) RegistrationEnabled() bool {
	return p.registration
}

// Get loads a credential by id.
func (p *StorageProvider) Get(ctx context.Context, id string) (storage.Document, error) {
	return p.store.Get(ctx, Collection, id)
}

// GetBy loads a credential by a field value. Dotted field paths resolve
// into sub-documents.
func (p *StorageProvider) GetBy(ctx context.Context, field string, value any) (storage.Document, error) {
	return p.store.GetBy(ctx, Collection, field, value)
}

// Create inserts a new credential and returns its id. Duplicate usernames
// or emails surface as conflicts naming the offending field.
func (p *StorageProvider) Create(ctx context.Context, fields map[string]any) (string, error) {
	ups := p.store.Upsertor(Collection, "", 0)
	for k, v := range fields {
		ups.Set(k, v)
	}
	id, err := ups.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create credential: %w", err)
	}
	return id, nil
}

// Update patches a credential. Nil values unset the field.
func (p *StorageProvider) Update(ctx context.Context, id string, patch map[string]any) error {
	doc, err := p.store.Get(ctx, Collection, id)
	if err != nil {
		return err
	}
	ups := p.store.Upsertor(Collection, id, doc.Version())
	for k, v := range patch {
		if v == nil {
			ups.Unset(k)
			continue
		}
		ups.Set(k, v)
	}
	if _, err := ups.Execute(ctx); err != nil {
		return fmt.Errorf("failed to update credential %q: %w", id, err)
	}
	return nil
}

// Delete removes a credential.
func (p *StorageProvider) Delete(ctx context.Context, id string) (bool, error) {
	return p.store.Delete(ctx, Collection, id)
}

// Iterate returns credentials matching the filter, newest first.
func (p *StorageProvider) Iterate(
	ctx context.Context, filter storage.Filter, skip, limit int64,
) ([]storage.Document, error) {
	return p.store.Iterate(ctx, Collection, filter,
		storage.Sort{Field: storage.FieldCreated, Descending: true}, skip, limit)
}

// Count returns the number of credentials matching the filter.
func (p *StorageProvider) Count(ctx context.Context, filter storage.Filter) (int64, error) {
	return p.store.Count(ctx, Collection, filter)
}

// ReadOnly wraps a provider so that every edit refuses with an
// unimplemented error, mirroring backends that only mirror an external
// directory.
func ReadOnly(p Provider) Provider {
	return &readOnlyProvider{Provider: p}
}

type readOnlyProvider struct {
	Provider
}

func (p *readOnlyProvider) RegistrationEnabled() bool {
	return false
}

func (p *readOnlyProvider) Create(context.Context, map[string]any) (string, error) {
	return "", errors.NewUnimplementedError(
		fmt.Sprintf("credential provider %q is read-only", p.Name()))
}

func (p *readOnlyProvider) Update(context.Context, string, map[string]any) error {
	return errors.NewUnimplementedError(
		fmt.Sprintf("credential provider %q is read-only", p.Name()))
}

func (p *readOnlyProvider) Delete(context.Context, string) (bool, error) {
	return false, errors.NewUnimplementedError(
		fmt.Sprintf("credential provider %q is read-only", p.Name()))
}

// SelectRegistrationProvider returns the first provider advertising
// registration support.
func SelectRegistrationProvider(providers []Provider) (Provider, error) {
	for _, p := range providers {
		if p.RegistrationEnabled() {
			return p, nil
		}
	}
	return nil, errors.NewUnimplementedError("no credential provider supports registration")
}
