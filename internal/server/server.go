package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"stencil/internal/api"
	"stencil/internal/api/handlers"
	"stencil/internal/api/middleware"
	"stencil/internal/platform/config"
	"stencil/internal/platform/database"
	"stencil/internal/platform/keys"
	"stencil/internal/platform/repositories"
)

const shutdownTimeout = 10 * time.Second

// Run connects to the database, wires the HTTP stack and serves until
// SIGINT/SIGTERM, then drains in-flight requests.
func Run(cfg *config.Config) error {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}

	// Fail fast when the database is unreachable rather than serving 500s.
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = database.Ping(pingCtx, db)
	cancel()
	if err != nil {
		return err
	}
	log.Info().Msg("database connectivity verified")

	keyRepo := repositories.NewAPIKeyRepository(db)
	itemRepo := repositories.NewItemRepository(db)
	keySvc := keys.NewService(keyRepo, cfg.Auth)

	deps := &api.Dependencies{
		ItemHandler:    handlers.NewItemHandler(itemRepo, cfg.Limits),
		HealthHandler:  handlers.NewHealthHandler(keyRepo),
		AuthMiddleware: middleware.NewAuthMiddleware(keySvc, cfg.Auth.Header, cfg.Auth.MinKeyLength),
		Metrics:        middleware.NewMetrics(prometheus.DefaultRegisterer),
		Config:         cfg,
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
