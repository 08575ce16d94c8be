// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/authgate/authgate/pkg/client"
)

// defaultPageLimit bounds client listings.
const defaultPageLimit = 50

// ClientsHandler serves the client registry endpoints.
type ClientsHandler struct {
	clients *client.Service
}

// NewClientsHandler creates the client registry endpoints.
func NewClientsHandler(clients *client.Service) *ClientsHandler {
	return &ClientsHandler{clients: clients}
}

// Mount registers the endpoints on the router.
func (h *ClientsHandler) Mount(r chi.Router) {
	r.Get("/client", h.list)
	r.Post("/client", h.register)
	r.Get("/client/{client_id}", h.get)
	r.Put("/client/{client_id}", h.update)
	r.Post("/client/{client_id}/reset_secret", h.resetSecret)
	r.Delete("/client/{client_id}", h.delete)
}

// clientProjection is the JSON view of a stored client. Secrets are never
// included.
type clientProjection struct {
	ClientID     string `json:"client_id"`
	ClientName   string `json:"client_name"`
	ClientURI    string `json:"client_uri,omitempty"`
	CookieDomain string `json:"cookie_domain,omitempty"`

	RedirectURIs            []string `json:"redirect_uris"`
	ApplicationType         string   `json:"application_type"`
	ResponseTypes           []string `json:"response_types"`
	GrantTypes              []string `json:"grant_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	CodeChallengeMethods    []string `json:"code_challenge_methods"`

	ClientSecretExpiresAt int64 `json:"client_secret_expires_at,omitempty"`
}

func projectClient(c *client.Client) clientProjection {
	p := clientProjection{
		ClientID:                c.ID,
		ClientName:              c.ClientName,
		ClientURI:               c.ClientURI,
		CookieDomain:            c.CookieDomain,
		RedirectURIs:            c.RedirectURIs,
		ApplicationType:         c.ApplicationType,
		ResponseTypes:           c.ResponseTypes,
		GrantTypes:              c.GrantTypes,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		CodeChallengeMethods:    c.CodeChallengeMethods,
	}
	if !c.ClientSecretExpiresAt.IsZero() {
		p.ClientSecretExpiresAt = c.ClientSecretExpiresAt.Unix()
	}
	return p
}

func (h *ClientsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	match := q.Get("f")
	page, _ := strconv.ParseInt(q.Get("p"), 10, 64)
	limit, _ := strconv.ParseInt(q.Get("i"), 10, 64)
	if limit <= 0 {
		limit = defaultPageLimit
	}

	clients, err := h.clients.List(r.Context(), match, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := h.clients.Count(r.Context(), match)
	if err != nil {
		writeError(w, err)
		return
	}

	data := make([]clientProjection, 0, len(clients))
	for _, c := range clients {
		data = append(data, projectClient(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "count": count})
}

func (h *ClientsHandler) register(w http.ResponseWriter, r *http.Request) {
	var meta client.Metadata
	if err := decodeBody(r, &meta); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.clients.Register(r.Context(), meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ClientsHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.clients.Get(r.Context(), chi.URLParam(r, "client_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectClient(c))
}

func (h *ClientsHandler) update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := h.clients.Update(r.Context(), chi.URLParam(r, "client_id"), patch); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (h *ClientsHandler) resetSecret(w http.ResponseWriter, r *http.Request) {
	resp, err := h.clients.ResetSecret(r.Context(), chi.URLParam(r, "client_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ClientsHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.clients.Delete(r.Context(), chi.URLParam(r, "client_id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}
