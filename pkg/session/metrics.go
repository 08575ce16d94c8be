// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/authgate/authgate/pkg/storage"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "authgate",
	Subsystem: "session",
	Name:      "active_total",
	Help:      "Number of unexpired sessions in the store.",
})

// RefreshMetrics updates the active-session gauge.
func (svc *Service) RefreshMetrics(ctx context.Context) error {
	total, err := svc.store.Count(ctx, Collection, storage.All())
	if err != nil {
		return err
	}
	expired, err := svc.store.Count(ctx, Collection, storage.Lt(FieldExpiration, time.Now().UTC()))
	if err != nil {
		return err
	}
	activeSessions.Set(float64(total - expired))
	return nil
}

// SweepLoop deletes expired sessions once immediately and then on every
// tick until the context is cancelled.
func (svc *Service) SweepLoop(ctx context.Context, interval time.Duration) error {
	if err := svc.DeleteExpired(ctx); err != nil {
		svc.log.Error("Session sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := svc.DeleteExpired(ctx); err != nil {
				svc.log.Error("Session sweep failed", "error", err)
			}
		}
	}
}

// MetricsLoop refreshes the session metrics on every tick until the context
// is cancelled.
func (svc *Service) MetricsLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := svc.RefreshMetrics(ctx); err != nil {
				svc.log.Error("Session metrics refresh failed", "error", err)
			}
		}
	}
}
