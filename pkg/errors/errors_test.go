// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictCarriesKeyValue(t *testing.T) {
	t.Parallel()

	err := NewConflictError("client_id", "my-app")
	assert.True(t, IsConflict(err))
	assert.Equal(t, "client_id", err.Key)
	assert.Equal(t, "my-app", err.Value)
	assert.Contains(t, err.Error(), "client_id already in use")
}

func TestPredicatesMatchOnlyOwnType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		is   func(error) bool
		not  func(error) bool
	}{
		{"not found", NewNotFoundError("session missing", nil), IsNotFound, IsConflict},
		{"validation", NewValidationError("redirect_uris", "must not be empty"), IsValidation, IsForbidden},
		{"forbidden", NewForbiddenError("tenant access denied"), IsForbidden, IsUnauthenticated},
		{"unauthenticated", NewUnauthenticatedError("no session"), IsUnauthenticated, IsForbidden},
		{"client not found", NewClientNotFoundError("abc"), IsClientNotFound, IsNotFound},
		{"invalid secret", NewInvalidClientSecretError("abc"), IsInvalidClientSecret, IsClientNotFound},
		{"policy violation", NewClientPolicyViolationError("abc", "grant_type", "implicit"), IsClientPolicyViolation, IsValidation},
		{"version conflict", NewVersionConflictError("stale write", nil), IsVersionConflict, IsInternal},
		{"unimplemented", NewUnimplementedError("self-registration"), IsUnimplemented, IsInternal},
		{"internal", NewInternalError("storage down", errors.New("dial tcp")), IsInternal, IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.is(tt.err))
			assert.False(t, tt.not(tt.err))
		})
	}
}

func TestUnwrapAndWrappedDetection(t *testing.T) {
	t.Parallel()

	cause := errors.New("duplicate key")
	err := NewVersionConflictError("session already extended", cause)
	assert.ErrorIs(t, err, cause)

	// Predicates see through fmt.Errorf wrapping.
	wrapped := fmt.Errorf("touch failed: %w", err)
	assert.True(t, IsVersionConflict(wrapped))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrVersionConflict, e.Type)
}

func TestForeignErrorsMatchNothing(t *testing.T) {
	t.Parallel()

	err := errors.New("plain")
	assert.False(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.False(t, IsInternal(err))
	_, ok := As(err)
	assert.False(t, ok)
}
