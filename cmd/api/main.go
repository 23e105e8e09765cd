package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"rnadiff/adapters/sqlstore"
	"rnadiff/internal/api"
	"rnadiff/internal/config"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("RNADIFF_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Stderr(cfg.Logging.Level)

	if err := run(cfg); err != nil {
		logger.Error("results API stopped", "code", errors.GetCode(err), "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return errors.ConfigInvalid("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(ctx, cfg.Database.URL)
	if err != nil {
		return errors.Wrap(err, "failed to open result store")
	}
	defer store.Close()

	server := api.NewServer(store, logging.Stderr(cfg.Logging.Level))
	return server.Start(ctx, ":"+cfg.Server.Port)
}
