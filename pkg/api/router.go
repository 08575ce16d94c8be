// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authgate/authgate/pkg/auth"
)

// NewRouter assembles the administration HTTP surface. Everything except
// /metrics sits behind the private authorization pipeline.
func NewRouter(
	resolver *auth.Resolver,
	authCfg auth.Config,
	roles *RolesHandler,
	clients *ClientsHandler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(resolver.Private(authCfg))
		roles.Mount(r)
		clients.Mount(r)
		r.Get("/diag/ready", func(w http.ResponseWriter, _ *http.Request) {
			writeOK(w, nil)
		})
	})
	return r
}
