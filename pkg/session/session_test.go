// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/storage"
)

func newTestService(t *testing.T, cfg Config) (*Service, storage.Store) {
	t.Helper()
	cipher, err := crypto.NewFieldCipher("session-test-key")
	require.NoError(t, err)
	store := storage.NewMemoryStore(storage.WithMemoryFieldCipher(cipher))
	return NewService(store, cipher, cfg), store
}

func TestCreateDefaults(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	before := time.Now().UTC()
	s, err := svc.Create(ctx, CreateInput{
		Type:          TypeRoot,
		CredentialsID: "cid-1",
		Authz:         map[string][]string{"acme": {"app:read"}},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, int64(1), s.Version)
	assert.Equal(t, TypeRoot, s.Type)
	assert.Equal(t, "cid-1", s.CredentialsID)
	assert.Equal(t, map[string][]string{"acme": {"app:read"}}, s.Authz)

	assert.WithinDuration(t, before.Add(DefaultExpiration), s.Expiration, 2*time.Second)
	assert.WithinDuration(t, before.Add(DefaultMaximumAge), s.MaxExpiration, 2*time.Second)
	assert.Equal(t, time.Duration(DefaultTouchRatio*float64(DefaultExpiration)), s.TouchExtension)
	assert.True(t, s.Expiration.Before(s.MaxExpiration) || s.Expiration.Equal(s.MaxExpiration))
}

func TestCreateRejectsUnknownType(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{})

	_, err := svc.Create(context.Background(), CreateInput{Type: "interactive"})
	assert.True(t, errors.IsValidation(err))
}

func TestCreateRequiresParent(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Type: TypeOpenIDConnect, ParentID: "absent"})
	assert.True(t, errors.IsNotFound(err))

	parent, err := svc.Create(ctx, CreateInput{Type: TypeRoot})
	require.NoError(t, err)

	child, err := svc.Create(ctx, CreateInput{Type: TypeOpenIDConnect, ParentID: parent.ID})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentID)
}

func TestCreateClampsExpirationToMaximumAge(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{Expiration: 10 * time.Minute, MaximumAge: time.Hour})

	s, err := svc.Create(context.Background(), CreateInput{Type: TypeRoot, Expiration: 5 * time.Hour})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), s.Expiration, 2*time.Second)
	assert.Equal(t, s.MaxExpiration.Unix(), s.Expiration.Unix())
}

func TestTokensEncryptedAtRest(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, Config{})
	ctx := context.Background()

	token := "very-long-opaque-access-token-material-0123456789abcdef"
	s, err := svc.Create(ctx, CreateInput{
		Type:       TypeOpenIDConnect,
		Attributes: map[string]any{FieldAccessToken: token},
	})
	require.NoError(t, err)
	assert.Equal(t, token, s.AccessToken)

	doc, err := store.Get(ctx, Collection, s.ID)
	require.NoError(t, err)
	assert.True(t, crypto.IsEncrypted(doc.String(FieldAccessToken)), "token must be encrypted at rest")

	// Lookups by the plaintext token value resolve through the encrypted
	// query path.
	got, err := svc.GetBy(ctx, FieldAccessToken, token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestGetByLegacyToken(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, Config{})
	ctx := context.Background()

	// A record written before encryption at rest: short plaintext token.
	legacy := "legacy-cookie-id-1234"
	id, err := store.Upsertor(Collection, "", 0).
		Set(FieldType, TypeRoot).
		Set(FieldCookieID, legacy).
		Execute(ctx)
	require.NoError(t, err)

	got, err := svc.GetBy(ctx, FieldCookieID, legacy)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, legacy, got.CookieID)
}

func TestTouchExtends(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, Config{Expiration: 600 * time.Second, TouchRatio: 0.5, MaximumAge: time.Hour})
	ctx := context.Background()

	s, err := svc.Create(ctx, CreateInput{Type: TypeRoot})
	require.NoError(t, err)
	require.Equal(t, 300*time.Second, s.TouchExtension)

	// 400 seconds into the session's 600-second lifetime.
	now := time.Now().UTC()
	s.ModifiedAt = now.Add(-400 * time.Second)
	s.Expiration = now.Add(200 * time.Second)

	require.NoError(t, svc.Touch(ctx, s, 0))
	assert.WithinDuration(t, now.Add(300*time.Second), s.Expiration, 2*time.Second)
	assert.Equal(t, int64(2), s.Version)

	doc, err := store.Get(ctx, Collection, s.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, s.Expiration, doc.Time(FieldExpiration), time.Second)

	// A second touch 20 seconds later falls inside the minimum refresh
	// interval and changes nothing.
	prev := s.Expiration
	s.ModifiedAt = time.Now().UTC().Add(-20 * time.Second)
	require.NoError(t, svc.Touch(ctx, s, 0))
	assert.Equal(t, prev, s.Expiration)
	assert.Equal(t, int64(2), s.Version)
}

func TestTouchNeverShrinks(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{Expiration: 600 * time.Second, TouchRatio: 0.5, MaximumAge: time.Hour})
	ctx := context.Background()

	s, err := svc.Create(ctx, CreateInput{Type: TypeRoot})
	require.NoError(t, err)

	// An extension shorter than the remaining lifetime is a no-op.
	s.ModifiedAt = time.Now().UTC().Add(-2 * MinimumRefreshInterval)
	prev := s.Expiration
	require.NoError(t, svc.Touch(ctx, s, 10*time.Second))
	assert.Equal(t, prev, s.Expiration)
	assert.Equal(t, int64(1), s.Version)
}

func TestTouchClampsToMaximumAge(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{Expiration: 600 * time.Second, TouchRatio: 0.5, MaximumAge: time.Hour})
	ctx := context.Background()

	s, err := svc.Create(ctx, CreateInput{Type: TypeRoot})
	require.NoError(t, err)

	s.ModifiedAt = time.Now().UTC().Add(-2 * MinimumRefreshInterval)
	require.NoError(t, svc.Touch(ctx, s, 48*time.Hour))
	assert.Equal(t, s.MaxExpiration, s.Expiration)

	// At the maximum age every further touch is a no-op.
	s.ModifiedAt = time.Now().UTC().Add(-2 * MinimumRefreshInterval)
	require.NoError(t, svc.Touch(ctx, s, 48*time.Hour))
	assert.Equal(t, int64(2), s.Version)
}

func TestTouchAbsorbsVersionRace(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, Config{Expiration: 600 * time.Second, MaximumAge: time.Hour})
	ctx := context.Background()

	s, err := svc.Create(ctx, CreateInput{Type: TypeRoot})
	require.NoError(t, err)

	// A concurrent writer advances the version out from under the touch.
	_, err = store.Upsertor(Collection, s.ID, s.Version).Set("k", "v").Execute(ctx)
	require.NoError(t, err)

	s.ModifiedAt = time.Now().UTC().Add(-2 * MinimumRefreshInterval)
	assert.NoError(t, svc.Touch(ctx, s, 30*time.Minute))
}

func TestUpdateReappliesAttributes(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	s, err := svc.Create(ctx, CreateInput{
		Type:       TypeRoot,
		Attributes: map[string]any{"label": "old"},
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, s.ID, map[string]any{
		"label":    nil,
		FieldAuthz: map[string][]string{"acme": {"app:write"}},
	})
	require.NoError(t, err)
	assert.Equal(t, s.Version+1, updated.Version)
	assert.Equal(t, map[string][]string{"acme": {"app:write"}}, updated.Authz)
}

func TestDeleteCascadesOneLevel(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateInput{Type: TypeRoot})
	require.NoError(t, err)
	child, err := svc.Create(ctx, CreateInput{Type: TypeOpenIDConnect, ParentID: parent.ID})
	require.NoError(t, err)
	grandchild, err := svc.Create(ctx, CreateInput{Type: TypeOpenIDConnect, ParentID: child.ID})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, parent.ID))

	_, err = svc.Get(ctx, parent.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = svc.Get(ctx, child.ID)
	assert.True(t, errors.IsNotFound(err))

	// The grandchild survives the one-level cascade; the expiration sweep
	// reclaims it later.
	_, err = svc.Get(ctx, grandchild.ID)
	assert.NoError(t, err)

	// Deleting again is idempotent.
	assert.NoError(t, svc.Delete(ctx, parent.ID))
}

func TestDeleteByCredentials(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	for range 3 {
		_, err := svc.Create(ctx, CreateInput{Type: TypeRoot, CredentialsID: "cid-1"})
		require.NoError(t, err)
	}
	other, err := svc.Create(ctx, CreateInput{Type: TypeRoot, CredentialsID: "cid-2"})
	require.NoError(t, err)

	deleted, failed, err := svc.DeleteByCredentials(ctx, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.Equal(t, int64(0), failed)

	_, err = svc.Get(ctx, other.ID)
	assert.NoError(t, err)

	n, err := svc.Count(ctx, storage.All())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDeleteExpired(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, Config{})
	ctx := context.Background()

	live, err := svc.Create(ctx, CreateInput{Type: TypeRoot})
	require.NoError(t, err)

	// Two sessions already past their expiration.
	for range 2 {
		_, err := store.Upsertor(Collection, "", 0).
			Set(FieldType, TypeRoot).
			Set(FieldExpiration, time.Now().UTC().Add(-time.Minute)).
			Execute(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, svc.DeleteExpired(ctx))

	n, err := svc.Count(ctx, storage.All())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.Get(ctx, live.ID)
	assert.NoError(t, err)
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, Config{})
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"s-old", "s-mid", "s-new"} {
		_, err := store.Upsertor(Collection, id, 0).
			Set(FieldType, TypeRoot).
			Set(FieldCredentialsID, "cid-1").
			Execute(ctx)
		require.NoError(t, err)
		// Stagger creation times; the memory driver stamps _c itself, so
		// overwrite it through a versioned update.
		_, err = store.Upsertor(Collection, id, 1).
			Set(storage.FieldCreated, base.Add(time.Duration(i)*time.Minute)).
			Execute(ctx)
		require.NoError(t, err)
	}

	sessions, err := svc.List(ctx, storage.Eq(FieldCredentialsID, "cid-1"), 0, 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-new", sessions[0].ID)
	assert.Equal(t, "s-mid", sessions[1].ID)
}
