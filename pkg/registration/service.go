// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package registration implements the invitation workflow: drafting
// credentials with a one-time registration code, updating and completing
// them, and sweeping expired drafts.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/authgate/authgate/pkg/audit"
	"github.com/authgate/authgate/pkg/credentials"
	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// Registration sub-document fields under credentials.FieldRegistration.
const (
	FieldCode        = "code"
	FieldExpiration  = "exp"
	FieldInvitedBy   = "invited_by"
	FieldInvitedFrom = "invited_from"
)

// registrationCodePath is the dotted lookup path of the registration code.
const registrationCodePath = credentials.FieldRegistration + "." + FieldCode

// registrationExpPath is the dotted lookup path of the draft expiration.
const registrationExpPath = credentials.FieldRegistration + "." + FieldExpiration

// DefaultExpiration is the invitation lifetime applied when the
// configuration leaves it unset.
const DefaultExpiration = 72 * time.Hour

// registrationURIFormat builds the link mailed to invitees.
const registrationURIFormat = "%s#register?code=%s"

// updatableDraftFields are the credential fields an invitee may fill in
// before completing registration.
var updatableDraftFields = map[string]bool{
	credentials.FieldUsername: true,
	credentials.FieldEmail:    true,
	credentials.FieldPhone:    true,
	"password":                true,
}

// Config parameterizes the registration engine.
type Config struct {
	// Expiration is the invitation lifetime.
	Expiration time.Duration

	// AuthWebUIBaseURL is the base of generated registration links.
	AuthWebUIBaseURL string
}

// Service is the registration engine.
type Service struct {
	provider credentials.Provider
	tenants  *credentials.TenantService
	roles    *credentials.RoleService
	audit    *audit.Service
	cfg      Config
	log      *slog.Logger
}

// NewService creates a registration engine. The provider must advertise
// registration support; use credentials.SelectRegistrationProvider to pick
// one.
func NewService(
	provider credentials.Provider,
	tenants *credentials.TenantService,
	roles *credentials.RoleService,
	auditSvc *audit.Service,
	cfg Config,
) (*Service, error) {
	if !provider.RegistrationEnabled() {
		return nil, errors.NewUnimplementedError(
			fmt.Sprintf("credential provider %q does not support registration", provider.Name()))
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	return &Service{
		provider: provider,
		tenants:  tenants,
		roles:    roles,
		audit:    auditSvc,
		cfg:      cfg,
		log:      logger.Get(),
	}, nil
}

// DraftInput carries the invitation parameters.
type DraftInput struct {
	// Data is the invitee detail known up front (email, username, ...).
	Data map[string]any

	// Expiration overrides the configured invitation lifetime when
	// non-zero.
	Expiration time.Duration

	// InvitedBy is the credentials id of the inviter.
	InvitedBy string

	// InvitedFrom records the inviter's network addresses.
	InvitedFrom []string
}

// Draft creates a suspended credential carrying a one-time registration
// code and returns (credentials id, registration code).
func (svc *Service) Draft(ctx context.Context, in DraftInput) (string, string, error) {
	code, err := crypto.GenerateSecret(crypto.RegistrationCodeLength)
	if err != nil {
		return "", "", err
	}

	expiration := in.Expiration
	if expiration <= 0 {
		expiration = svc.cfg.Expiration
	}
	registration := map[string]any{
		FieldCode:       code,
		FieldExpiration: time.Now().UTC().Add(expiration),
	}
	if in.InvitedBy != "" {
		registration[FieldInvitedBy] = in.InvitedBy
	}
	if len(in.InvitedFrom) > 0 {
		registration[FieldInvitedFrom] = in.InvitedFrom
	}

	fields := make(map[string]any, len(in.Data)+2)
	for k, v := range in.Data {
		fields[k] = v
	}
	fields[credentials.FieldSuspended] = true
	fields[credentials.FieldRegistration] = registration

	credentialsID, err := svc.provider.Create(ctx, fields)
	if err != nil {
		return "", "", err
	}
	svc.log.Info("Credential drafted for registration", "cid", credentialsID, "by", in.InvitedBy)
	svc.audit.Append(ctx, audit.CodeCredentialsCreated, map[string]any{"cid": credentialsID})
	return credentialsID, code, nil
}

// PublicProjection is the invitee-visible view of a draft credential.
type PublicProjection struct {
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Tenants  []string `json:"tenants,omitempty"`

	// Password reports whether a password has been set, never its value.
	Password bool `json:"password"`
}

// getDraft loads a draft by registration code and enforces its expiration.
func (svc *Service) getDraft(ctx context.Context, code string) (storage.Document, error) {
	doc, err := svc.provider.GetBy(ctx, registrationCodePath, code)
	if err != nil {
		return nil, err
	}
	exp, _ := doc.Lookup(registrationExpPath)
	if storage.AsTime(exp).Before(time.Now().UTC()) {
		return nil, errors.NewNotFoundError("registration expired", nil)
	}
	return doc, nil
}

// GetByCode returns the public projection of a draft credential.
func (svc *Service) GetByCode(ctx context.Context, code string) (*PublicProjection, error) {
	doc, err := svc.getDraft(ctx, code)
	if err != nil {
		return nil, err
	}
	tenants, err := svc.tenants.GetTenants(ctx, doc.ID())
	if err != nil {
		return nil, err
	}
	return &PublicProjection{
		Username: doc.String(credentials.FieldUsername),
		Email:    doc.String(credentials.FieldEmail),
		Phone:    doc.String(credentials.FieldPhone),
		Tenants:  tenants,
		Password: doc.String(credentials.FieldPassword) != "",
	}, nil
}

// UpdateByCode patches a draft credential. Only username, email, phone and
// password may change; a password value is bcrypt-hashed and stored under
// the internal hash field.
func (svc *Service) UpdateByCode(ctx context.Context, code string, patch map[string]any) error {
	for key := range patch {
		if !updatableDraftFields[key] {
			return errors.NewValidationError(key, fmt.Sprintf("Updating %q not allowed", key))
		}
	}
	doc, err := svc.getDraft(ctx, code)
	if err != nil {
		return err
	}
	if pw, ok := patch["password"]; ok {
		delete(patch, "password")
		plaintext, _ := pw.(string)
		if plaintext == "" {
			return errors.NewValidationError("password", "Password must not be empty")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		patch[credentials.FieldPassword] = string(hash)
	}
	return svc.provider.Update(ctx, doc.ID(), patch)
}

// DeleteByCode revokes an invitation by deleting its draft credential.
func (svc *Service) DeleteByCode(ctx context.Context, code string) error {
	doc, err := svc.provider.GetBy(ctx, registrationCodePath, code)
	if err != nil {
		return err
	}
	if _, err := svc.provider.Delete(ctx, doc.ID()); err != nil {
		return err
	}
	svc.log.Info("Invitation revoked", "cid", doc.ID())
	return nil
}

// Complete finishes a registration: the draft must carry a username, an
// email and a password; it is then unsuspended, stamped as registered and
// stripped of its registration handle.
func (svc *Service) Complete(ctx context.Context, code string) error {
	doc, err := svc.getDraft(ctx, code)
	if err != nil {
		return err
	}
	if doc.String(credentials.FieldUsername) == "" {
		return errors.NewValidationError(credentials.FieldUsername, "Registration failed: No username.")
	}
	if doc.String(credentials.FieldEmail) == "" {
		return errors.NewValidationError(credentials.FieldEmail, "Registration failed: No email.")
	}
	if doc.String(credentials.FieldPassword) == "" {
		return errors.NewValidationError("password", "Registration failed: No password.")
	}

	patch := map[string]any{
		credentials.FieldSuspended:    false,
		credentials.FieldRegistered:   time.Now().UTC(),
		credentials.FieldRegistration: nil,
	}
	if invitedBy, ok := doc.Map(credentials.FieldRegistration)[FieldInvitedBy].(string); ok && invitedBy != "" {
		patch[FieldInvitedBy] = invitedBy
	}
	if err := svc.provider.Update(ctx, doc.ID(), patch); err != nil {
		return err
	}
	svc.log.Info("Credentials registration completed", "cid", doc.ID())
	svc.audit.Append(ctx, audit.CodeCredentialsRegisteredNew, map[string]any{"cid": doc.ID()})
	return nil
}

// CompleteWithExisting transfers the draft's tenants and roles to an
// existing credential and deletes the draft.
func (svc *Service) CompleteWithExisting(ctx context.Context, code, credentialsID string) error {
	doc, err := svc.getDraft(ctx, code)
	if err != nil {
		return err
	}
	draftID := doc.ID()

	tenants, err := svc.tenants.GetTenants(ctx, draftID)
	if err != nil {
		return err
	}
	roles, err := svc.roles.GetRolesByCredentials(ctx, draftID, tenants)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		if err := svc.tenants.Assign(ctx, credentialsID, tenant); err != nil && !errors.IsConflict(err) {
			return err
		}
	}
	for _, role := range roles {
		if err := svc.roles.AssignRole(ctx, credentialsID, role); err != nil && !errors.IsConflict(err) {
			return err
		}
	}
	if _, err := svc.provider.Delete(ctx, draftID); err != nil {
		return err
	}
	svc.log.Info("Credentials registered to existing account",
		"cid", credentialsID, "draft_cid", draftID, "tenants", tenants, "roles", roles)
	svc.audit.Append(ctx, audit.CodeCredentialsRegisteredExisting,
		map[string]any{"cid": credentialsID, "tenants": tenants, "roles": roles})
	return nil
}

// DeleteExpired removes every draft whose registration has expired.
// Per-item failures are logged and skipped.
func (svc *Service) DeleteExpired(ctx context.Context) error {
	docs, err := svc.provider.Iterate(ctx,
		storage.Lt(registrationExpPath, time.Now().UTC()), 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list expired drafts: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	var deleted int
	for _, doc := range docs {
		if _, err := svc.provider.Delete(ctx, doc.ID()); err != nil {
			svc.log.Error("Failed to delete expired draft", "cid", doc.ID(), "error", err)
			continue
		}
		deleted++
	}
	svc.log.Info("Expired unregistered credentials deleted", "count", deleted)
	return nil
}

// SweepLoop deletes expired drafts on every tick until the context is
// cancelled.
func (svc *Service) SweepLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := svc.DeleteExpired(ctx); err != nil {
				svc.log.Error("Invitation sweep failed", "error", err)
			}
		}
	}
}

// RegistrationURI builds the link that opens the registration form for the
// given code.
func (svc *Service) RegistrationURI(code string) string {
	return fmt.Sprintf(registrationURIFormat, svc.cfg.AuthWebUIBaseURL, code)
}
