// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the service configuration from environment
// variables and an optional config file via viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/authgate/authgate/pkg/auth"
	"github.com/authgate/authgate/pkg/client"
	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/storage"
)

// envPrefix namespaces environment overrides: AUTHGATE_SESSION_AES_KEY
// overrides session.aes_key.
const envPrefix = "AUTHGATE"

// SessionConfig drives the session store.
type SessionConfig struct {
	// AESKey is the key material protecting sensitive fields at rest.
	// Required.
	AESKey string

	// Expiration is the default session lifetime.
	Expiration time.Duration

	// TouchExtension is either a ratio in [0,1] of the session lifetime
	// ("0.5") or an absolute duration ("40m", "5h", "30d").
	TouchExtension string

	// MaximumAge caps any session's lifetime.
	MaximumAge time.Duration
}

// TouchPolicy resolves the touch extension into an absolute duration or a
// ratio; exactly one of the returns is non-zero.
func (c SessionConfig) TouchPolicy() (time.Duration, float64, error) {
	raw := strings.TrimSpace(c.TouchExtension)
	if ratio, err := strconv.ParseFloat(raw, 64); err == nil {
		if ratio < 0 || ratio > 1 {
			return 0, 0, errors.NewValidationError("session.touch_extension",
				fmt.Sprintf("touch extension ratio %v outside [0, 1]", ratio))
		}
		return 0, ratio, nil
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return 0, 0, errors.NewValidationError("session.touch_extension",
			fmt.Sprintf("invalid touch extension %q: ratio or duration expected", raw))
	}
	return d, 0, nil
}

// ClientConfig drives the OIDC client registry.
type ClientConfig struct {
	// SecretExpiration is the client secret lifetime; zero means secrets
	// never expire.
	SecretExpiration time.Duration

	// AllowCustomClientID enables the preferred_client_id metadata field.
	AllowCustomClientID bool

	// AllowInsecureWebClientURIs permits http redirect URIs for web
	// clients.
	AllowInsecureWebClientURIs bool

	// RedirectURIValidation is the policy applied to the redirect_uri of
	// authorization requests: "full_match", "startswith" or "none".
	RedirectURIValidation string
}

// RegistrationConfig drives the invitation workflow.
type RegistrationConfig struct {
	// Expiration is the invitation lifetime.
	Expiration time.Duration

	// EnableEncryption and EnableSelfRegistration gate features that are
	// not implemented; enabling either fails startup.
	EnableEncryption       bool
	EnableSelfRegistration bool
}

// APIConfig drives the admin API gate; see auth.Config.
type APIConfig struct {
	RequireAuthentication bool
	AuthorizationResource string
	AllowAccessTokenAuth  bool
	DiagnosticsBearer     string
}

// Config is the full service configuration.
type Config struct {
	Debug bool

	// Listen is the HTTP listen address.
	Listen string

	// AuthWebUIBaseURL is the base of generated registration links.
	AuthWebUIBaseURL string

	Session      SessionConfig
	Client       ClientConfig
	Registration RegistrationConfig
	API          APIConfig
	Storage      storage.Config
}

// Load reads the configuration. An empty path skips the config file and
// uses environment variables and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	cfg := &Config{
		Debug:            v.GetBool("debug"),
		Listen:           v.GetString("server.listen"),
		AuthWebUIBaseURL: v.GetString("general.auth_webui_base_url"),
		Session: SessionConfig{
			AESKey:         v.GetString("session.aes_key"),
			TouchExtension: v.GetString("session.touch_extension"),
		},
		Client: ClientConfig{
			AllowCustomClientID:        v.GetBool("client.allow_custom_client_id"),
			AllowInsecureWebClientURIs: v.GetBool("client.allow_insecure_web_client_uris"),
			RedirectURIValidation:      v.GetString("client.redirect_uri_validation"),
		},
		Registration: RegistrationConfig{
			EnableEncryption:       v.GetBool("registration.enable_encryption"),
			EnableSelfRegistration: v.GetBool("registration.enable_self_registration"),
		},
		API: APIConfig{
			RequireAuthentication: v.GetBool("api.require_authentication"),
			AuthorizationResource: v.GetString("api.authorization_resource"),
			AllowAccessTokenAuth:  v.GetBool("api.allow_access_token_auth"),
			DiagnosticsBearer:     v.GetString("api.diagnostics_bearer"),
		},
		Storage: storage.Config{
			Backend:        v.GetString("storage.backend"),
			MongoURI:       v.GetString("storage.mongo_uri"),
			MongoDatabase:  v.GetString("storage.mongo_database"),
			RedisAddr:      v.GetString("storage.redis_addr"),
			RedisPassword:  v.GetString("storage.redis_password"),
			RedisDB:        v.GetInt("storage.redis_db"),
			RedisKeyPrefix: v.GetString("storage.key_prefix"),
		},
	}

	var err error
	for key, dst := range map[string]*time.Duration{
		"session.expiration":              &cfg.Session.Expiration,
		"session.maximum_age":             &cfg.Session.MaximumAge,
		"client.client_secret_expiration": &cfg.Client.SecretExpiration,
		"registration.expiration":         &cfg.Registration.Expiration,
	} {
		if *dst, err = ParseDuration(v.GetString(key)); err != nil {
			return nil, errors.NewValidationError(key, fmt.Sprintf("invalid duration: %v", err))
		}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8900")
	v.SetDefault("session.expiration", "4h")
	v.SetDefault("session.touch_extension", "0.5")
	v.SetDefault("session.maximum_age", "30d")
	v.SetDefault("client.client_secret_expiration", "0")
	v.SetDefault("client.allow_custom_client_id", true)
	v.SetDefault("client.allow_insecure_web_client_uris", false)
	v.SetDefault("client.redirect_uri_validation", client.RedirectURIValidationNone)
	v.SetDefault("registration.expiration", "72h")
	v.SetDefault("api.require_authentication", true)
	v.SetDefault("api.authorization_resource", auth.AuthorizationDisabled)
	v.SetDefault("storage.backend", storage.BackendMemory)
	v.SetDefault("storage.mongo_database", "authgate")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.key_prefix", "authgate:")
}

// Validate checks the configuration for startup-fatal problems.
func (cfg *Config) Validate() error {
	if cfg.Session.AESKey == "" {
		example, err := crypto.GenerateSecret(32)
		if err != nil {
			return err
		}
		return errors.NewValidationError("session.aes_key",
			fmt.Sprintf("session.aes_key must not be empty; generate one, for example: %s", example))
	}
	if _, _, err := cfg.Session.TouchPolicy(); err != nil {
		return err
	}
	switch cfg.Client.RedirectURIValidation {
	// Empty selects the client registry's default policy.
	case "", client.RedirectURIValidationFullMatch, client.RedirectURIValidationStartsWith, client.RedirectURIValidationNone:
	default:
		return errors.NewValidationError("client.redirect_uri_validation",
			fmt.Sprintf("unknown redirect URI validation policy %q", cfg.Client.RedirectURIValidation))
	}
	if cfg.Registration.EnableEncryption {
		return errors.NewUnimplementedError("registration.enable_encryption is not implemented")
	}
	if cfg.Registration.EnableSelfRegistration {
		return errors.NewUnimplementedError("registration.enable_self_registration is not implemented")
	}
	return nil
}

// ParseDuration parses a duration, additionally accepting a "d" suffix
// for days ("30d") and a bare "0".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(s)
}
