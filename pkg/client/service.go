// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// Config parameterizes the client registry.
type Config struct {
	// ClientSecretExpiration bounds the lifetime of issued secrets. Zero
	// means secrets never expire.
	ClientSecretExpiration time.Duration

	// AllowCustomClientID enables the preferred_client_id metadata field.
	AllowCustomClientID bool

	// AllowInsecureWebClientURIs permits http redirect URIs for web
	// clients.
	AllowInsecureWebClientURIs bool

	// RedirectURIValidation is the policy AuthorizeClient applies to the
	// requested redirect URI: "full_match", "startswith" or "none".
	RedirectURIValidation string
}

// Service is the OIDC client registry.
type Service struct {
	store  storage.Store
	cipher *crypto.FieldCipher
	cfg    Config
	log    *slog.Logger

	// updatableFields is the metadata key set accepted by Update, built
	// once per instance from the configuration.
	updatableFields map[string]bool
}

// NewService creates a client registry on the given store.
func NewService(store storage.Store, cipher *crypto.FieldCipher, cfg Config) *Service {
	if cfg.RedirectURIValidation == "" {
		cfg.RedirectURIValidation = RedirectURIValidationNone
	}
	updatable := map[string]bool{
		FieldClientName:              true,
		FieldClientURI:               true,
		FieldCookieDomain:            true,
		FieldRedirectURIs:            true,
		FieldApplicationType:         true,
		FieldResponseTypes:           true,
		FieldGrantTypes:              true,
		FieldCodeChallengeMethods:    true,
		FieldTokenEndpointAuthMethod: true,
	}
	return &Service{
		store:           store,
		cipher:          cipher,
		cfg:             cfg,
		log:             logger.Get(),
		updatableFields: updatable,
	}
}

// Register validates the metadata and persists a new client. Confidential
// clients are issued an encrypted-at-rest secret.
func (svc *Service) Register(ctx context.Context, meta Metadata) (*RegisterResponse, error) {
	applyMetadataDefaults(&meta)

	if err := svc.validateMetadata(meta); err != nil {
		return nil, err
	}

	var clientID string
	switch {
	case meta.PreferredClientID != "" && !svc.cfg.AllowCustomClientID:
		return nil, errors.NewValidationError("preferred_client_id", "Custom client IDs are not enabled")
	case meta.PreferredClientID != "":
		if !customClientIDRe.MatchString(meta.PreferredClientID) {
			return nil, errors.NewValidationError("preferred_client_id",
				fmt.Sprintf("Client ID must match %s", customClientIDRe.String()))
		}
		clientID = meta.PreferredClientID
		svc.log.Warn("Creating a client with custom ID", "client_id", clientID)
	default:
		id, err := crypto.GenerateSecret(crypto.ClientIDLength)
		if err != nil {
			return nil, err
		}
		clientID = id
	}

	ups := svc.store.Upsertor(Collection, clientID, 0).
		Set(FieldTokenEndpointAuthMethod, meta.TokenEndpointAuthMethod).
		Set(FieldRedirectURIs, meta.RedirectURIs).
		Set(FieldApplicationType, meta.ApplicationType).
		Set(FieldResponseTypes, meta.ResponseTypes).
		Set(FieldGrantTypes, meta.GrantTypes).
		Set(FieldCodeChallengeMethods, meta.CodeChallengeMethods).
		Set(FieldClientName, meta.ClientName)
	if meta.ClientURI != "" {
		ups.Set(FieldClientURI, meta.ClientURI)
	}
	if meta.CookieDomain != "" {
		ups.Set(FieldCookieDomain, meta.CookieDomain)
	}

	var clientSecret string
	var clientSecretExpiresAt time.Time
	if meta.TokenEndpointAuthMethod == AuthMethodClientSecretBasic {
		var err error
		clientSecret, clientSecretExpiresAt, err = svc.generateClientSecret()
		if err != nil {
			return nil, err
		}
		ups.SetEncrypted(FieldClientSecret, []byte(clientSecret))
		if !clientSecretExpiresAt.IsZero() {
			ups.Set(FieldClientSecretExpiresAt, clientSecretExpiresAt)
		}
	}

	if _, err := ups.Execute(ctx); err != nil {
		if errors.IsConflict(err) {
			return nil, errors.NewConflictError("client_id", clientID)
		}
		return nil, fmt.Errorf("failed to register client: %w", err)
	}
	svc.log.Info("Client created", "client_id", clientID)

	resp := &RegisterResponse{
		ClientID:         clientID,
		ClientIDIssuedAt: time.Now().UTC().Unix(),
	}
	if clientSecret != "" {
		resp.ClientSecret = clientSecret
		if !clientSecretExpiresAt.IsZero() {
			resp.ClientSecretExpiresAt = clientSecretExpiresAt.Unix()
		}
	}
	return resp, nil
}

func applyMetadataDefaults(meta *Metadata) {
	if meta.ApplicationType == "" {
		meta.ApplicationType = ApplicationTypeWeb
	}
	if len(meta.ResponseTypes) == 0 {
		meta.ResponseTypes = []string{ResponseTypeCode}
	}
	if len(meta.GrantTypes) == 0 {
		meta.GrantTypes = []string{GrantTypeAuthorizationCode}
	}
	if meta.TokenEndpointAuthMethod == "" {
		meta.TokenEndpointAuthMethod = AuthMethodNone
	}
	if len(meta.CodeChallengeMethods) == 0 {
		meta.CodeChallengeMethods = []string{CodeChallengeS256}
	}
}

func (svc *Service) validateMetadata(meta Metadata) error {
	if meta.ClientName == "" {
		return errors.NewValidationError(FieldClientName, "client_name is required")
	}
	switch meta.ApplicationType {
	case ApplicationTypeWeb, ApplicationTypeNative:
	default:
		return errors.NewValidationError(FieldApplicationType,
			fmt.Sprintf("Unsupported application type: %q", meta.ApplicationType))
	}
	for _, v := range meta.ResponseTypes {
		if v != ResponseTypeCode {
			return errors.NewValidationError(FieldResponseTypes,
				fmt.Sprintf("Unsupported response type: %q", v))
		}
	}
	for _, v := range meta.GrantTypes {
		if v != GrantTypeAuthorizationCode {
			return errors.NewValidationError(FieldGrantTypes,
				fmt.Sprintf("Unsupported grant type: %q", v))
		}
	}
	switch meta.TokenEndpointAuthMethod {
	case AuthMethodNone, AuthMethodClientSecretBasic:
	default:
		return errors.NewValidationError(FieldTokenEndpointAuthMethod,
			fmt.Sprintf("Unsupported token endpoint auth method: %q", meta.TokenEndpointAuthMethod))
	}
	if meta.CookieDomain != "" && !cookieDomainRe.MatchString(meta.CookieDomain) {
		return errors.NewValidationError(FieldCookieDomain,
			fmt.Sprintf("Invalid cookie domain: %q", meta.CookieDomain))
	}
	if err := checkGrantTypes(meta.GrantTypes, meta.ResponseTypes); err != nil {
		return err
	}
	if err := svc.checkRedirectURIs(meta.RedirectURIs, meta.ApplicationType); err != nil {
		return err
	}
	return checkCodeChallengeMethods(meta.CodeChallengeMethods)
}

// checkGrantTypes enforces the response_type/grant_type correspondence
// table. With only the authorization code flow supported, the single rule
// is code => authorization_code.
func checkGrantTypes(grantTypes, responseTypes []string) error {
	if slices.Contains(responseTypes, ResponseTypeCode) && !slices.Contains(grantTypes, GrantTypeAuthorizationCode) {
		return errors.NewValidationError(FieldGrantTypes,
			"Response type 'code' requires 'authorization_code' to be included in grant types")
	}
	return nil
}

func (svc *Service) checkRedirectURIs(redirectURIs []string, applicationType string) error {
	if len(redirectURIs) == 0 {
		return errors.NewValidationError(FieldRedirectURIs, "redirect_uris must not be empty")
	}
	for _, uri := range redirectURIs {
		parsed, err := url.Parse(uri)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" || parsed.Fragment != "" {
			return errors.NewValidationError(FieldRedirectURIs,
				"Redirect URI must be an absolute URI without a fragment component.")
		}

		switch applicationType {
		case ApplicationTypeWeb:
			if parsed.Scheme != "https" && !svc.cfg.AllowInsecureWebClientURIs {
				return errors.NewValidationError(FieldRedirectURIs,
					"Web Clients MUST only register URLs using the https scheme as redirect_uris.")
			}
			if parsed.Hostname() == "localhost" {
				return errors.NewValidationError(FieldRedirectURIs,
					"Web Clients MUST NOT use localhost as the hostname.")
			}
		case ApplicationTypeNative:
			switch parsed.Scheme {
			case "http":
				if parsed.Hostname() != "localhost" {
					return errors.NewValidationError(FieldRedirectURIs,
						"Native Clients MUST only register redirect_uris using custom URI schemes "+
							"or URLs using the http scheme with localhost as the hostname.")
				}
			case "https":
				return errors.NewValidationError(FieldRedirectURIs,
					"Native Clients MUST only register redirect_uris using custom URI schemes "+
						"or URLs using the http scheme with localhost as the hostname.")
			default:
				// Custom scheme, valid for native clients.
			}
		}
	}
	return nil
}

func checkCodeChallengeMethods(methods []string) error {
	for _, method := range methods {
		if method != CodeChallengePlain && method != CodeChallengeS256 {
			return errors.NewValidationError(FieldCodeChallengeMethods,
				fmt.Sprintf("Unsupported Code Challenge Method: %q.", method))
		}
	}
	if slices.Contains(methods, CodeChallengePlain) && len(methods) > 1 {
		return errors.NewValidationError(FieldCodeChallengeMethods,
			"Cannot register the 'plain' Code Challenge Method together with more secure methods.")
	}
	return nil
}

func (svc *Service) generateClientSecret() (string, time.Time, error) {
	secret, err := crypto.GenerateSecret(crypto.ClientSecretLength)
	if err != nil {
		return "", time.Time{}, err
	}
	var expiresAt time.Time
	if svc.cfg.ClientSecretExpiration > 0 {
		expiresAt = time.Now().UTC().Add(svc.cfg.ClientSecretExpiration)
	}
	return secret, expiresAt, nil
}

// Get loads a client with its decrypted secret.
func (svc *Service) Get(ctx context.Context, clientID string) (*Client, error) {
	doc, err := svc.store.Get(ctx, Collection, clientID)
	if err != nil {
		return nil, err
	}
	return svc.clientFromDocument(doc, true)
}

// ResetSecret issues a new secret for a confidential client. Public clients
// are refused.
func (svc *Service) ResetSecret(ctx context.Context, clientID string) (*RegisterResponse, error) {
	client, err := svc.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Public() {
		return nil, errors.NewValidationError(FieldTokenEndpointAuthMethod,
			"Cannot set secret for public client")
	}

	secret, expiresAt, err := svc.generateClientSecret()
	if err != nil {
		return nil, err
	}
	ups := svc.store.Upsertor(Collection, clientID, client.Version).
		SetEncrypted(FieldClientSecret, []byte(secret))
	if !expiresAt.IsZero() {
		ups.Set(FieldClientSecretExpiresAt, expiresAt)
	}
	if _, err := ups.Execute(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset client secret: %w", err)
	}
	svc.log.Info("Client secret updated", "client_id", clientID)

	resp := &RegisterResponse{ClientID: clientID, ClientSecret: secret}
	if !expiresAt.IsZero() {
		resp.ClientSecretExpiresAt = expiresAt.Unix()
	}
	return resp, nil
}

// Update patches whitelisted metadata fields, re-validating redirect URIs
// and the grant/response correspondence over the merged view. Empty values
// unset the field.
func (svc *Service) Update(ctx context.Context, clientID string, patch map[string]any) error {
	client, err := svc.Get(ctx, clientID)
	if err != nil {
		return err
	}

	for key := range patch {
		if !svc.updatableFields[key] {
			return errors.NewValidationError(key, fmt.Sprintf("Unexpected argument: %s", key))
		}
	}

	merged := Metadata{
		ClientName:              mergedString(patch, FieldClientName, client.ClientName),
		ClientURI:               mergedString(patch, FieldClientURI, client.ClientURI),
		CookieDomain:            mergedString(patch, FieldCookieDomain, client.CookieDomain),
		RedirectURIs:            mergedStrings(patch, FieldRedirectURIs, client.RedirectURIs),
		ApplicationType:         mergedString(patch, FieldApplicationType, client.ApplicationType),
		ResponseTypes:           mergedStrings(patch, FieldResponseTypes, client.ResponseTypes),
		GrantTypes:              mergedStrings(patch, FieldGrantTypes, client.GrantTypes),
		TokenEndpointAuthMethod: mergedString(patch, FieldTokenEndpointAuthMethod, client.TokenEndpointAuthMethod),
		CodeChallengeMethods:    mergedStrings(patch, FieldCodeChallengeMethods, client.CodeChallengeMethods),
	}
	applyMetadataDefaults(&merged)
	if err := svc.validateMetadata(merged); err != nil {
		return err
	}

	ups := svc.store.Upsertor(Collection, clientID, client.Version)
	fields := make([]string, 0, len(patch))
	for key, value := range patch {
		fields = append(fields, key)
		if isEmptyValue(value) {
			ups.Unset(key)
			continue
		}
		ups.Set(key, value)
	}
	if _, err := ups.Execute(ctx); err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	svc.log.Info("Client updated", "client_id", clientID, "fields", strings.Join(fields, " "))
	return nil
}

func mergedString(patch map[string]any, key, stored string) string {
	if v, ok := patch[key]; ok {
		s, _ := v.(string)
		return s
	}
	return stored
}

func mergedStrings(patch map[string]any, key string, stored []string) []string {
	v, ok := patch[key]
	if !ok {
		return stored
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

// Delete removes a client.
func (svc *Service) Delete(ctx context.Context, clientID string) error {
	removed, err := svc.store.Delete(ctx, Collection, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if !removed {
		return errors.NewClientNotFoundError(clientID)
	}
	svc.log.Info("Client deleted", "client_id", clientID)
	return nil
}

// AuthorizeInput carries the authorization request parameters checked
// against the client's registered metadata.
type AuthorizeInput struct {
	ClientID            string
	Scope               []string
	RedirectURI         string
	ClientSecret        string
	GrantType           string
	ResponseType        string
	CodeChallengeMethod string
}

// AuthorizeClient verifies an authorization request against the registered
// client: secret match and expiry, redirect URI policy, and that the
// requested grant type, response type and code challenge method are within
// the registered sets.
func (svc *Service) AuthorizeClient(ctx context.Context, in AuthorizeInput) error {
	client, err := svc.Get(ctx, in.ClientID)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewClientNotFoundError(in.ClientID)
		}
		return err
	}

	if !client.ClientSecretExpiresAt.IsZero() && client.ClientSecretExpiresAt.Before(time.Now().UTC()) {
		return errors.NewInvalidClientSecretError(in.ClientID)
	}
	// Empty strings compare equal for public clients. [rfc6749#section-2.3.1]
	if subtle.ConstantTimeCompare([]byte(in.ClientSecret), []byte(client.ClientSecret)) != 1 {
		return errors.NewInvalidClientSecretError(in.ClientID)
	}

	switch svc.cfg.RedirectURIValidation {
	case RedirectURIValidationFullMatch:
		if !slices.Contains(client.RedirectURIs, in.RedirectURI) {
			return errors.NewClientPolicyViolationError(in.ClientID, "redirect_uri", in.RedirectURI)
		}
	case RedirectURIValidationStartsWith:
		ok := false
		for _, registered := range client.RedirectURIs {
			if strings.HasPrefix(in.RedirectURI, registered) {
				ok = true
				break
			}
		}
		if !ok {
			return errors.NewClientPolicyViolationError(in.ClientID, "redirect_uri", in.RedirectURI)
		}
	}

	if in.GrantType != "" && !slices.Contains(client.GrantTypes, in.GrantType) {
		return errors.NewClientPolicyViolationError(in.ClientID, "grant_type", in.GrantType)
	}
	if !slices.Contains(client.ResponseTypes, in.ResponseType) {
		return errors.NewClientPolicyViolationError(in.ClientID, "response_type", in.ResponseType)
	}
	if in.CodeChallengeMethod != "" && !slices.Contains(client.CodeChallengeMethods, in.CodeChallengeMethod) {
		return errors.NewClientPolicyViolationError(in.ClientID, "code_challenge_method", in.CodeChallengeMethod)
	}
	return nil
}

// List returns clients matching the filter string, newest first, with
// secrets stripped. The filter compiles to an id-prefix OR a
// case-insensitive name-substring match.
func (svc *Service) List(ctx context.Context, match string, page, limit int64) ([]*Client, error) {
	docs, err := svc.store.Iterate(ctx, Collection, buildFilter(match),
		storage.Sort{Field: storage.FieldCreated, Descending: true}, page*limit, limit)
	if err != nil {
		return nil, err
	}
	clients := make([]*Client, 0, len(docs))
	for _, doc := range docs {
		c, err := svc.clientFromDocument(doc, false)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// Count returns the number of clients matching the filter string.
func (svc *Service) Count(ctx context.Context, match string) (int64, error) {
	return svc.store.Count(ctx, Collection, buildFilter(match))
}

func buildFilter(match string) storage.Filter {
	if match == "" {
		return storage.All()
	}
	return storage.Or(
		storage.Prefix(storage.FieldID, match),
		storage.ContainsFold(FieldClientName, match),
	)
}
