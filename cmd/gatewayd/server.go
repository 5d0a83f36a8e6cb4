package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/iruldev/apigatewaycore/internal/config"
)

// registerServerHook starts the admin HTTP surface for the process
// lifetime. On stop it waits out the drain period, then calls
// http.Server.Shutdown bounded by the shutdown grace period.
func registerServerHook(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, router chi.Router) {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.AdminBindAddress, cfg.AdminPort),
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("admin server starting", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("admin server draining", "drain_period", cfg.ShutdownDrainPeriod)
			select {
			case <-time.After(cfg.ShutdownDrainPeriod):
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownGracePeriod)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
