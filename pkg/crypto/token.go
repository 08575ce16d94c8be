// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Byte lengths for the URL-safe secrets issued by this service.
const (
	// ClientIDLength is the entropy of generated OAuth client identifiers.
	ClientIDLength = 16

	// ClientSecretLength is the entropy of generated client secrets.
	ClientSecretLength = 32

	// RegistrationCodeLength is the entropy of invitation registration codes.
	RegistrationCodeLength = 32
)

// GenerateSecret returns a URL-safe random token built from n bytes of a
// cryptographically secure source.
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
