// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the server-side session store: creation,
// touch-based extension, parent/child cascade, expiration sweeping and
// encryption of token fields at rest.
package session

import (
	"time"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/storage"
)

// Collection is the storage collection holding sessions.
const Collection = "s"

// Session types.
const (
	TypeRoot          = "root"
	TypeOpenIDConnect = "openidconnect"
	TypeM2M           = "m2m"
)

// Document field names.
const (
	FieldType           = "type"
	FieldParentID       = "parent"
	FieldCredentialsID  = "cid"
	FieldExpiration     = "exp"
	FieldMaxExpiration  = "max_exp"
	FieldTouchExtension = "touch_ext"
	FieldAuthz          = "authz"
	FieldAccessToken    = "access_token"
	FieldRefreshToken   = "refresh_token"
	FieldIDToken        = "id_token"
	FieldCookieID       = "cookie_id"
)

// sensitiveFields are encrypted at rest and on the query path.
var sensitiveFields = map[string]bool{
	FieldAccessToken:  true,
	FieldRefreshToken: true,
	FieldIDToken:      true,
	FieldCookieID:     true,
}

// IsSensitiveField reports whether the session field is encrypted at rest.
func IsSensitiveField(field string) bool {
	return sensitiveFields[field]
}

// Session is the decrypted in-memory view of a stored session.
type Session struct {
	ID      string
	Version int64

	Type          string
	ParentID      string
	CredentialsID string

	CreatedAt      time.Time
	ModifiedAt     time.Time
	Expiration     time.Time
	MaxExpiration  time.Time
	TouchExtension time.Duration

	// Authz maps tenant (or "*" for the global scope) to the set of
	// resources the session holds there. Immutable after creation except
	// via a full update.
	Authz map[string][]string

	AccessToken  string
	RefreshToken string
	IDToken      string
	CookieID     string
}

// Expired reports whether the session expiration has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.Expiration.Before(now)
}

// sessionFromDocument decodes a stored document, decrypting the token
// fields. Legacy plaintext tokens are passed through; the caller logs the
// access.
func (svc *Service) sessionFromDocument(doc storage.Document) (*Session, error) {
	s := &Session{
		ID:             doc.ID(),
		Version:        doc.Version(),
		Type:           doc.String(FieldType),
		ParentID:       doc.String(FieldParentID),
		CredentialsID:  doc.String(FieldCredentialsID),
		CreatedAt:      doc.CreatedAt(),
		ModifiedAt:     doc.ModifiedAt(),
		Expiration:     doc.Time(FieldExpiration),
		MaxExpiration:  doc.Time(FieldMaxExpiration),
		TouchExtension: time.Duration(doc.Int64(FieldTouchExtension)) * time.Second,
		Authz:          authzFromDocument(doc),
	}

	for field, dst := range map[string]*string{
		FieldAccessToken:  &s.AccessToken,
		FieldRefreshToken: &s.RefreshToken,
		FieldIDToken:      &s.IDToken,
		FieldCookieID:     &s.CookieID,
	} {
		stored := doc.String(field)
		if stored == "" {
			continue
		}
		if !crypto.IsEncrypted(stored) {
			svc.log.Warn("Legacy unencrypted token in session", "sid", s.ID, "field", field)
			*dst = stored
			continue
		}
		plaintext, err := svc.cipher.Decrypt(stored)
		if err != nil {
			return nil, err
		}
		*dst = string(plaintext)
	}
	return s, nil
}

func authzFromDocument(doc storage.Document) map[string][]string {
	m := doc.Map(FieldAuthz)
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for tenant := range m {
		out[tenant] = m.StringSlice(tenant)
	}
	return out
}
