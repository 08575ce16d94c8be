// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the OIDC dynamic client registry: registration,
// metadata validation, secret issuance and client authorization.
//
// https://openid.net/specs/openid-connect-registration-1_0.html
package client

import (
	"regexp"
	"time"

	"github.com/authgate/authgate/pkg/storage"
)

// Collection is the storage collection holding registered clients.
const Collection = "cl"

// Document field names.
const (
	FieldClientName              = "client_name"
	FieldClientURI               = "client_uri"
	FieldCookieDomain            = "cookie_domain"
	FieldRedirectURIs            = "redirect_uris"
	FieldApplicationType         = "application_type"
	FieldResponseTypes           = "response_types"
	FieldGrantTypes              = "grant_types"
	FieldTokenEndpointAuthMethod = "token_endpoint_auth_method"
	FieldCodeChallengeMethods    = "code_challenge_methods"
	FieldClientSecret            = "__client_secret"
	FieldClientSecretExpiresAt   = "client_secret_expires_at"
)

// Enumerated metadata values.
const (
	ApplicationTypeWeb    = "web"
	ApplicationTypeNative = "native"

	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"

	ResponseTypeCode = "code"

	GrantTypeAuthorizationCode = "authorization_code"

	CodeChallengePlain = "plain"
	CodeChallengeS256  = "S256"
)

// Redirect URI validation policies applied by AuthorizeClient.
const (
	RedirectURIValidationFullMatch  = "full_match"
	RedirectURIValidationStartsWith = "startswith"
	RedirectURIValidationNone       = "none"
)

var (
	customClientIDRe = regexp.MustCompile(`^[-_a-zA-Z0-9]{8,64}$`)
	cookieDomainRe   = regexp.MustCompile(`^[a-z0-9.-]{1,61}\.[a-z]{2,}$`)
)

// Client is the decrypted in-memory view of a registered client.
type Client struct {
	ID        string
	Version   int64
	CreatedAt time.Time

	ClientName   string
	ClientURI    string
	CookieDomain string

	RedirectURIs            []string
	ApplicationType         string
	ResponseTypes           []string
	GrantTypes              []string
	TokenEndpointAuthMethod string
	CodeChallengeMethods    []string

	// ClientSecret is the decrypted secret of a confidential client, empty
	// for public clients and in listing output.
	ClientSecret          string
	ClientSecretExpiresAt time.Time
}

// Public reports whether the client authenticates with no secret.
func (c *Client) Public() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// Metadata carries the registration request fields.
type Metadata struct {
	// PreferredClientID requests a specific, non-canonical client id. Only
	// honored when custom client ids are enabled.
	PreferredClientID string `json:"preferred_client_id,omitempty"`

	ClientName   string `json:"client_name"`
	ClientURI    string `json:"client_uri,omitempty"`
	CookieDomain string `json:"cookie_domain,omitempty"`

	RedirectURIs            []string `json:"redirect_uris"`
	ApplicationType         string   `json:"application_type,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	CodeChallengeMethods    []string `json:"code_challenge_methods,omitempty"`
}

// RegisterResponse is the RFC 7591 registration result.
type RegisterResponse struct {
	ClientID              string `json:"client_id"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at,omitempty"`
}

func (svc *Service) clientFromDocument(doc storage.Document, withSecret bool) (*Client, error) {
	c := &Client{
		ID:                      doc.ID(),
		Version:                 doc.Version(),
		CreatedAt:               doc.CreatedAt(),
		ClientName:              doc.String(FieldClientName),
		ClientURI:               doc.String(FieldClientURI),
		CookieDomain:            doc.String(FieldCookieDomain),
		RedirectURIs:            doc.StringSlice(FieldRedirectURIs),
		ApplicationType:         doc.String(FieldApplicationType),
		ResponseTypes:           doc.StringSlice(FieldResponseTypes),
		GrantTypes:              doc.StringSlice(FieldGrantTypes),
		TokenEndpointAuthMethod: doc.String(FieldTokenEndpointAuthMethod),
		CodeChallengeMethods:    doc.StringSlice(FieldCodeChallengeMethods),
		ClientSecretExpiresAt:   doc.Time(FieldClientSecretExpiresAt),
	}
	if !withSecret {
		return c, nil
	}
	if stored := doc.String(FieldClientSecret); stored != "" {
		plaintext, err := svc.cipher.Decrypt(stored)
		if err != nil {
			return nil, err
		}
		c.ClientSecret = string(plaintext)
	}
	return c, nil
}
