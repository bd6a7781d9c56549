// cmd/rental/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"bookrental/internal/admin"
	"bookrental/internal/api"
	"bookrental/internal/catalog"
	"bookrental/internal/circulation"
	"bookrental/internal/config"
	"bookrental/internal/membership"
	"bookrental/internal/store"
	"bookrental/internal/store/memory"
	"bookrental/internal/store/postgres"
	"bookrental/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	circ := circulation.NewService(db,
		circulation.WithLogger(logger),
		circulation.WithMeter(otel.Meter("bookrental/circulation")),
	)
	handler := api.NewRouter(api.Services{
		Catalog: catalog.NewService(db, logger),
		Membership: membership.NewService(db,
			membership.WithLogger(logger),
			membership.WithRegistrationLimit(cfg.RegistrationsPerMinute, 5),
		),
		Circulation: circ,
		Admin:       admin.NewService(db, circ, logger),
		Store:       db,
	},
		api.WithLogger(logger),
		api.WithRateLimit(cfg.RateLimit),
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting rental service", zap.String("addr", srv.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.DB, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New()
	}

	db, err := postgres.Open(ctx, cfg.Driver, cfg.DatabaseURL,
		postgres.WithLogger(logger),
		postgres.WithMaxOpenConns(cfg.MaxOpenConns),
	)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return db, nil
}
