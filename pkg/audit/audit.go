// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records security-relevant events as append-only documents.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// Collection is the storage collection holding audit events.
const Collection = "al"

// Event codes.
const (
	CodeCredentialsCreated            = "credentials_created"
	CodeCredentialsRegisteredNew      = "credentials_registered_new"
	CodeCredentialsRegisteredExisting = "credentials_registered_existing"
)

// Event fields.
const (
	FieldCode = "code"
	FieldData = "data"
)

// Service appends audit events.
type Service struct {
	store storage.Store
	log   *slog.Logger
}

// NewService creates an audit service on the given store.
func NewService(store storage.Store) *Service {
	return &Service{store: store, log: logger.Get()}
}

// Append records an event. Audit failures are logged, never propagated:
// an unavailable trail must not fail the audited operation.
func (svc *Service) Append(ctx context.Context, code string, data map[string]any) {
	_, err := svc.store.Upsertor(Collection, "", 0).
		Set(FieldCode, code).
		Set(FieldData, data).
		Execute(ctx)
	if err != nil {
		svc.log.Error("Failed to append audit event", "code", code, "error", err)
	}
}

// List returns the most recent events with the given code.
func (svc *Service) List(ctx context.Context, code string, limit int64) ([]storage.Document, error) {
	filter := storage.All()
	if code != "" {
		filter = storage.Eq(FieldCode, code)
	}
	docs, err := svc.store.Iterate(ctx, Collection, filter,
		storage.Sort{Field: storage.FieldCreated, Descending: true}, 0, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return docs, nil
}
