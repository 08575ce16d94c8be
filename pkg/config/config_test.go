// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/client"
	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/storage"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8900", cfg.Listen)
	assert.Equal(t, 4*time.Hour, cfg.Session.Expiration)
	assert.Equal(t, 30*24*time.Hour, cfg.Session.MaximumAge)
	assert.Equal(t, "0.5", cfg.Session.TouchExtension)
	assert.Zero(t, cfg.Client.SecretExpiration)
	assert.True(t, cfg.Client.AllowCustomClientID)
	assert.False(t, cfg.Client.AllowInsecureWebClientURIs)
	assert.Equal(t, client.RedirectURIValidationNone, cfg.Client.RedirectURIValidation)
	assert.Equal(t, 72*time.Hour, cfg.Registration.Expiration)
	assert.True(t, cfg.API.RequireAuthentication)
	assert.Equal(t, storage.BackendMemory, cfg.Storage.Backend)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AUTHGATE_SESSION_AES_KEY", "secret-key-material")
	t.Setenv("AUTHGATE_SESSION_EXPIRATION", "10m")
	t.Setenv("AUTHGATE_STORAGE_BACKEND", "redis")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "secret-key-material", cfg.Session.AESKey)
	assert.Equal(t, 10*time.Minute, cfg.Session.Expiration)
	assert.Equal(t, storage.BackendRedis, cfg.Storage.Backend)
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"40m", 40 * time.Minute, false},
		{"5h", 5 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"1.5d", 36 * time.Hour, false},
		{"0", 0, false},
		{"", 0, false},
		{"xd", 0, true},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestTouchPolicy(t *testing.T) {
	t.Parallel()

	d, ratio, err := SessionConfig{TouchExtension: "0.5"}.TouchPolicy()
	require.NoError(t, err)
	assert.Zero(t, d)
	assert.Equal(t, 0.5, ratio)

	d, ratio, err = SessionConfig{TouchExtension: "40m"}.TouchPolicy()
	require.NoError(t, err)
	assert.Equal(t, 40*time.Minute, d)
	assert.Zero(t, ratio)

	_, _, err = SessionConfig{TouchExtension: "1.5"}.TouchPolicy()
	assert.True(t, errors.IsValidation(err))
	_, _, err = SessionConfig{TouchExtension: "sometimes"}.TouchPolicy()
	assert.True(t, errors.IsValidation(err))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{Session: SessionConfig{AESKey: "key", TouchExtension: "0.5"}}
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Session.AESKey = ""
	err := cfg.Validate()
	require.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "generate one, for example")

	cfg = valid()
	cfg.Registration.EnableEncryption = true
	assert.True(t, errors.IsUnimplemented(cfg.Validate()))

	cfg = valid()
	cfg.Registration.EnableSelfRegistration = true
	assert.True(t, errors.IsUnimplemented(cfg.Validate()))
}
