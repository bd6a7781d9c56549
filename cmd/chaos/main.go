// cmd/chaos/main.go
package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"bookrental/internal/chaos"
	"bookrental/internal/circulation"
	"bookrental/internal/config"
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

	ctx := context.Background()
	backend, err := open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer backend.Close()

	db := chaos.NewFaultyDB(backend)
	target, err := chaos.NewTarget(ctx, db, circulation.NewService(db, circulation.WithLogger(logger)))
	if err != nil {
		logger.Fatal("failed to prepare target", zap.Error(err))
	}
	scenarios, err := target.Experiments(ctx)
	if err != nil {
		logger.Fatal("failed to prepare experiments", zap.Error(err))
	}

	engine := chaos.NewEngine(logger)
	engine.Register(scenarios...)
	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Weekly Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     2 * time.Second,
	})
	if err != nil {
		logger.Fatal("chaos game day failed", zap.Error(err))
	}
	if held < len(scenarios) {
		logger.Error("hypotheses violated", zap.Int("held", held), zap.Int("experiments", len(scenarios)))
		os.Exit(1)
	}
	logger.Info("all hypotheses held", zap.Int("experiments", len(scenarios)))
}

func open(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.DB, error) {
	if cfg.Store == config.StoreMemory {
		return memory.New()
	}
	db, err := postgres.Open(ctx, cfg.Driver, cfg.DatabaseURL, postgres.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
