// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Command authgate runs the identity and access control service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/authgate/authgate/pkg/api"
	"github.com/authgate/authgate/pkg/audit"
	"github.com/authgate/authgate/pkg/auth"
	"github.com/authgate/authgate/pkg/client"
	"github.com/authgate/authgate/pkg/config"
	"github.com/authgate/authgate/pkg/credentials"
	"github.com/authgate/authgate/pkg/crypto"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/registration"
	"github.com/authgate/authgate/pkg/session"
	"github.com/authgate/authgate/pkg/storage"
)

const (
	sessionSweepInterval    = 60 * time.Second
	invitationSweepInterval = 60 * time.Second
	metricsInterval         = 10 * time.Second

	shutdownTimeout = 10 * time.Second
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "authgate",
		Short: "Multi-tenant identity and access control service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	viper.Set("debug", cfg.Debug)
	logger.Initialize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	cipher, err := crypto.NewFieldCipher(cfg.Session.AESKey)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.Storage, cipher, storage.Indexes{
		credentials.Collection: credentials.UniqueFields,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Errorw("Failed to close storage", "error", err)
		}
	}()

	touchDuration, touchRatio, err := cfg.Session.TouchPolicy()
	if err != nil {
		return err
	}
	sessions := session.NewService(store, cipher, session.Config{
		Expiration:    cfg.Session.Expiration,
		TouchDuration: touchDuration,
		TouchRatio:    touchRatio,
		MaximumAge:    cfg.Session.MaximumAge,
	})
	clients := client.NewService(store, cipher, client.Config{
		ClientSecretExpiration:     cfg.Client.SecretExpiration,
		AllowCustomClientID:        cfg.Client.AllowCustomClientID,
		AllowInsecureWebClientURIs: cfg.Client.AllowInsecureWebClientURIs,
		RedirectURIValidation:      cfg.Client.RedirectURIValidation,
	})

	provider := credentials.NewStorageProvider(store, "ext", true)
	tenants := credentials.NewTenantService(store)
	roles := credentials.NewRoleService(store)
	auditTrail := audit.NewService(store)

	registrations, err := registration.NewService(provider, tenants, roles, auditTrail,
		registration.Config{
			Expiration:       cfg.Registration.Expiration,
			AuthWebUIBaseURL: cfg.AuthWebUIBaseURL,
		})
	if err != nil {
		return err
	}

	resolver := auth.NewResolver(sessions, auth.NewTokenIssuer([]byte(cfg.Session.AESKey)))
	router := api.NewRouter(resolver, auth.Config{
		RequireAuthentication: cfg.API.RequireAuthentication,
		AuthorizationResource: cfg.API.AuthorizationResource,
		AllowAccessTokenAuth:  cfg.API.AllowAccessTokenAuth,
		DiagnosticsBearer:     cfg.API.DiagnosticsBearer,
	}, api.NewRolesHandler(roles, tenants), api.NewClientsHandler(clients))

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("Listening", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sessions.SweepLoop(ctx, sessionSweepInterval) })
	g.Go(func() error { return sessions.MetricsLoop(ctx, metricsInterval) })
	g.Go(func() error { return registrations.SweepLoop(ctx, invitationSweepInterval) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}
