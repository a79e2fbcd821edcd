package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatline/internal/app"
	"github.com/Tyrowin/chatline/internal/config"
	"github.com/Tyrowin/chatline/internal/logger"
	"github.com/Tyrowin/chatline/internal/storage"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Init("chatline", false)
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init("chatline", cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		db, err := storage.OpenAndMigrate(ctx, cfg.DatabasePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
		_ = db.Close()
		return
	}

	log.Info().Str("port", cfg.Port).Msg("Starting chatline server")

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise app")
	}

	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}
