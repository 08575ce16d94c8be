// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the symmetric field encryption and secret
// generation primitives used by the session store, the client registry and
// the registration engine.
//
// Sensitive values are stored as EncryptedPrefix + base64url(iv || ciphertext)
// so that encrypted records remain distinguishable from legacy plaintext ones.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/authgate/authgate/pkg/errors"
)

// EncryptedPrefix marks stored values that are encrypted at rest.
const EncryptedPrefix = "encrypted:"

// LegacyTokenLength is the threshold below which a sensitive value is treated
// as an unencrypted legacy token on the read path. Encrypted payloads are
// always at least one IV plus one cipher block (32 bytes) before encoding.
const LegacyTokenLength = 48

// FieldCipher encrypts and decrypts sensitive document fields with
// AES-256-CBC. The key is derived as SHA-256 of the configured key material.
// A FieldCipher is immutable and safe for concurrent use; the underlying
// cipher state is constructed per operation.
type FieldCipher struct {
	key []byte
}

// NewFieldCipher derives an AES-256 key from the given key material.
func NewFieldCipher(keyMaterial string) (*FieldCipher, error) {
	if keyMaterial == "" {
		example, err := GenerateSecret(16)
		if err != nil {
			example = "<random>"
		}
		return nil, errors.NewValidationError("aes_key", fmt.Sprintf(
			"session AES key must not be empty; set session.aes_key in the configuration, "+
				"for example: aes_key=%s", example))
	}
	sum := sha256.Sum256([]byte(keyMaterial))
	return &FieldCipher{key: sum[:]}, nil
}

// Encrypt encrypts the plaintext under a fresh random IV and returns the
// marker-prefixed encoded value.
func (c *FieldCipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}
	return c.encryptWithIV(plaintext, iv)
}

// EncryptDeterministic encrypts the plaintext under an IV derived from the
// key and the plaintext itself, so that equal inputs produce equal outputs.
// This is used on the query path: lookups by a stored-encrypted field value
// must produce the exact stored ciphertext.
func (c *FieldCipher) EncryptDeterministic(plaintext []byte) (string, error) {
	sum := sha256.Sum256(append(append([]byte{}, c.key...), plaintext...))
	return c.encryptWithIV(plaintext, sum[:aes.BlockSize])
}

func (c *FieldCipher) encryptWithIV(plaintext, iv []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to construct cipher: %w", err)
	}
	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(iv):], padded)
	return EncryptedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. The input must carry the marker prefix.
func (c *FieldCipher) Decrypt(value string) ([]byte, error) {
	if !IsEncrypted(value) {
		return nil, errors.NewValidationError("value", "value is not marked as encrypted")
	}
	raw, err := base64.RawURLEncoding.DecodeString(value[len(EncryptedPrefix):])
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted value: %w", err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, errors.NewValidationError("value", "encrypted value has invalid length")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct cipher: %w", err)
	}
	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ct)
	return unpad(plaintext, aes.BlockSize)
}

// IsEncrypted reports whether a stored value carries the encryption marker.
func IsEncrypted(value string) bool {
	return len(value) >= len(EncryptedPrefix) && value[:len(EncryptedPrefix)] == EncryptedPrefix
}

// IsLegacyToken reports whether a sensitive value predates encryption at
// rest. Legacy tokens are short opaque strings without the marker; they are
// looked up as stored and the access is logged by the caller.
func IsLegacyToken(value string) bool {
	return !IsEncrypted(value) && len(value) < LegacyTokenLength
}

// pad applies PKCS#7 padding.
func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding in constant time over the final block.
func unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.NewValidationError("value", "invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.NewValidationError("value", "invalid padding")
	}
	ok := 1
	for _, p := range b[len(b)-n:] {
		ok &= subtle.ConstantTimeByteEq(p, byte(n))
	}
	if ok != 1 {
		return nil, errors.NewValidationError("value", "invalid padding")
	}
	return b[:len(b)-n], nil
}
