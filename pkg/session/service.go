// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// MinimumRefreshInterval is the shortest time between two effective touches
// of the same session. Touches inside the window are no-ops.
const MinimumRefreshInterval = 60 * time.Second

// Config parameterizes the session lifecycle.
type Config struct {
	// Expiration is the default session lifetime.
	Expiration time.Duration

	// TouchDuration, when non-zero, is the absolute extension applied on
	// touch. When zero, TouchRatio of the session's original lifetime is
	// used instead.
	TouchDuration time.Duration
	TouchRatio    float64

	// MaximumAge is the hard cap on any session's lifetime.
	MaximumAge time.Duration
}

// Defaults applied by NewService.
const (
	DefaultExpiration = 4 * time.Hour
	DefaultTouchRatio = 0.5
	DefaultMaximumAge = 30 * 24 * time.Hour
)

// Service is the session store.
type Service struct {
	store  storage.Store
	cipher *crypto.FieldCipher
	cfg    Config
	log    *slog.Logger
}

// NewService creates a session service on the given store. The cipher
// protects token fields at rest.
func NewService(store storage.Store, cipher *crypto.FieldCipher, cfg Config) *Service {
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.TouchDuration == 0 && cfg.TouchRatio == 0 {
		cfg.TouchRatio = DefaultTouchRatio
	}
	if cfg.MaximumAge <= 0 {
		cfg.MaximumAge = DefaultMaximumAge
	}
	return &Service{
		store:  store,
		cipher: cipher,
		cfg:    cfg,
		log:    logger.Get(),
	}
}

// CreateInput carries the attributes of a new session.
type CreateInput struct {
	// Type is one of TypeRoot, TypeOpenIDConnect or TypeM2M.
	Type string

	// ParentID links the session under an existing parent. The parent must
	// exist at creation time.
	ParentID string

	CredentialsID string

	// Expiration overrides the configured default lifetime when non-zero.
	Expiration time.Duration

	// Authz is the session's authorization map, immutable post-creation
	// except via a full update.
	Authz map[string][]string

	// Attributes are additional fields. Sensitive fields (token material)
	// are encrypted at rest.
	Attributes map[string]any
}

// Create persists a new session and returns the loaded result.
func (svc *Service) Create(ctx context.Context, in CreateInput) (*Session, error) {
	switch in.Type {
	case TypeRoot, TypeOpenIDConnect, TypeM2M:
	default:
		return nil, errors.NewValidationError("type", fmt.Sprintf("unknown session type %q", in.Type))
	}

	if in.ParentID != "" {
		if _, err := svc.store.Get(ctx, Collection, in.ParentID); err != nil {
			return nil, fmt.Errorf("parent session %q: %w", in.ParentID, err)
		}
	}

	expiration := in.Expiration
	if expiration <= 0 {
		expiration = svc.cfg.Expiration
	}
	if expiration > svc.cfg.MaximumAge {
		svc.log.Warn("Requested session expiration exceeds the maximum age",
			"expiration", expiration, "maximum_age", svc.cfg.MaximumAge)
		expiration = svc.cfg.MaximumAge
	}

	touchExtension := svc.cfg.TouchDuration
	if touchExtension == 0 {
		touchExtension = time.Duration(svc.cfg.TouchRatio * float64(expiration))
	}

	now := time.Now().UTC()
	ups := svc.store.Upsertor(Collection, "", 0).
		Set(FieldType, in.Type).
		Set(FieldCredentialsID, in.CredentialsID).
		Set(FieldExpiration, now.Add(expiration)).
		Set(FieldMaxExpiration, now.Add(svc.cfg.MaximumAge)).
		Set(FieldTouchExtension, int64(touchExtension/time.Second))
	if in.ParentID != "" {
		ups.Set(FieldParentID, in.ParentID)
	}
	if in.Authz != nil {
		ups.Set(FieldAuthz, in.Authz)
	}
	applyAttributes(ups, in.Attributes)

	id, err := ups.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	svc.log.Info("Session created", "sid", id, "type", in.Type, "cid", in.CredentialsID)
	return svc.Get(ctx, id)
}

func applyAttributes(ups storage.Upsertor, attrs map[string]any) {
	for key, value := range attrs {
		if value == nil {
			ups.Unset(key)
			continue
		}
		if IsSensitiveField(key) {
			if s, ok := value.(string); ok {
				ups.SetEncrypted(key, []byte(s))
				continue
			}
		}
		ups.Set(key, value)
	}
}

// Get loads a session by id.
func (svc *Service) Get(ctx context.Context, id string) (*Session, error) {
	doc, err := svc.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	return svc.sessionFromDocument(doc)
}

// GetBy loads a session by a field value. Lookups by sensitive fields
// re-encrypt the probe value; legacy plaintext tokens are looked up as
// stored and the access is logged.
func (svc *Service) GetBy(ctx context.Context, field, value string) (*Session, error) {
	probe := any(value)
	if IsSensitiveField(field) {
		if crypto.IsLegacyToken(value) {
			svc.log.Warn("Lookup by legacy unencrypted token", "field", field)
		} else {
			enc, err := svc.cipher.EncryptDeterministic([]byte(value))
			if err != nil {
				return nil, err
			}
			probe = enc
		}
	}
	doc, err := svc.store.GetBy(ctx, Collection, field, probe)
	if err != nil {
		return nil, err
	}
	return svc.sessionFromDocument(doc)
}

// Touch extends the session expiration. The call is a no-op inside the
// minimum refresh interval, when the session already sits at its maximum
// age, or when the extension would shrink the current expiration. A lost
// version race means a concurrent touch already extended the session, so it
// is absorbed.
func (svc *Service) Touch(ctx context.Context, s *Session, expiration time.Duration) error {
	now := time.Now().UTC()
	if now.Before(s.ModifiedAt.Add(MinimumRefreshInterval)) {
		return nil
	}
	if s.Expiration.Equal(s.MaxExpiration) {
		return nil
	}

	extension := expiration
	if extension <= 0 {
		extension = s.TouchExtension
	}
	newExpiration := now.Add(extension)
	if newExpiration.Before(s.Expiration) {
		return nil
	}
	if newExpiration.After(s.MaxExpiration) {
		newExpiration = s.MaxExpiration
	}

	_, err := svc.store.Upsertor(Collection, s.ID, s.Version).
		Set(FieldExpiration, newExpiration).
		Execute(ctx)
	if err != nil {
		if errors.IsVersionConflict(err) {
			svc.log.Debug("Session touch lost a version race; already extended", "sid", s.ID)
			return nil
		}
		return fmt.Errorf("failed to touch session %q: %w", s.ID, err)
	}

	s.Expiration = newExpiration
	s.ModifiedAt = now
	s.Version++
	return nil
}

// Update re-applies attributes to a stored session under optimistic
// version and returns the reloaded session. Nil attribute values unset the
// field.
func (svc *Service) Update(ctx context.Context, id string, attrs map[string]any) (*Session, error) {
	doc, err := svc.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}

	ups := svc.store.Upsertor(Collection, id, doc.Version())
	applyAttributes(ups, attrs)
	if _, err := ups.Execute(ctx); err != nil {
		return nil, fmt.Errorf("failed to update session %q: %w", id, err)
	}
	return svc.Get(ctx, id)
}

// Delete removes a session and its direct children. Grandchildren are
// reclaimed by the expiration sweep. Deleting a missing session is not an
// error.
func (svc *Service) Delete(ctx context.Context, id string) error {
	children, err := svc.store.Iterate(ctx, Collection, storage.Eq(FieldParentID, id), storage.Sort{}, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list child sessions of %q: %w", id, err)
	}
	for _, child := range children {
		if _, err := svc.store.Delete(ctx, Collection, child.ID()); err != nil {
			svc.log.Error("Failed to delete child session", "sid", child.ID(), "parent", id, "error", err)
		}
	}

	removed, err := svc.store.Delete(ctx, Collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %q: %w", id, err)
	}
	if removed {
		svc.log.Info("Session deleted", "sid", id, "children", len(children))
	}
	return nil
}

// DeleteByCredentials terminates every session of the given credentials.
// Sessions are deleted one by one to preserve per-session termination
// semantics; failures are counted, not propagated.
func (svc *Service) DeleteByCredentials(ctx context.Context, credentialsID string) (deleted, failed int64, err error) {
	return svc.deleteMatching(ctx, storage.Eq(FieldCredentialsID, credentialsID))
}

// DeleteAll terminates every session.
func (svc *Service) DeleteAll(ctx context.Context) (deleted, failed int64, err error) {
	return svc.deleteMatching(ctx, storage.All())
}

func (svc *Service) deleteMatching(ctx context.Context, filter storage.Filter) (deleted, failed int64, err error) {
	docs, err := svc.store.Iterate(ctx, Collection, filter, storage.Sort{}, 0, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, doc := range docs {
		if err := svc.Delete(ctx, doc.ID()); err != nil {
			svc.log.Error("Failed to delete session", "sid", doc.ID(), "error", err)
			failed++
			continue
		}
		deleted++
	}
	return deleted, failed, nil
}

// DeleteExpired removes every session whose expiration has passed.
// Per-item failures are logged and skipped.
func (svc *Service) DeleteExpired(ctx context.Context) error {
	now := time.Now().UTC()
	docs, err := svc.store.Iterate(ctx, Collection, storage.Lt(FieldExpiration, now), storage.Sort{}, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list expired sessions: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}

	var deleted int
	for _, doc := range docs {
		if _, err := svc.store.Delete(ctx, Collection, doc.ID()); err != nil {
			svc.log.Error("Failed to delete expired session", "sid", doc.ID(), "error", err)
			continue
		}
		deleted++
	}
	svc.log.Info("Expired sessions deleted", "count", deleted)
	return nil
}

// List returns sessions matching the filter, newest first.
func (svc *Service) List(ctx context.Context, filter storage.Filter, skip, limit int64) ([]*Session, error) {
	docs, err := svc.store.Iterate(ctx, Collection, filter,
		storage.Sort{Field: storage.FieldCreated, Descending: true}, skip, limit)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(docs))
	for _, doc := range docs {
		s, err := svc.sessionFromDocument(doc)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Count returns the number of sessions matching the filter.
func (svc *Service) Count(ctx context.Context, filter storage.Filter) (int64, error) {
	return svc.store.Count(ctx, Collection, filter)
}
