// Package app assembles the chatline server from its configuration and
// runs it until the context is cancelled.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/blob"
	"github.com/Tyrowin/chatline/internal/chat"
	"github.com/Tyrowin/chatline/internal/config"
	"github.com/Tyrowin/chatline/internal/relay"
	"github.com/Tyrowin/chatline/internal/server"
	"github.com/Tyrowin/chatline/internal/storage"
	"github.com/Tyrowin/chatline/internal/users"
)

type App struct {
	config  *config.Config
	db      *sql.DB
	hub     *server.Hub
	relay   *relay.Relay
	handler http.Handler
}

// New opens and migrates the database, builds every service and starts the
// hub loop. Close releases what New acquired.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := storage.OpenAndMigrate(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	userSvc, err := users.NewService(users.NewSQLiteRepository(db), cfg.BcryptCost)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	tokens := auth.NewTokenService(cfg.JWTSecret)
	chatSvc := chat.NewService(chat.NewSQLiteRepository(db), nil)
	hub := server.NewHub(chatSvc, tokens, cfg.MaxMessageSize)

	a := &App{config: cfg, db: db, hub: hub}

	if cfg.Redis.Addr != "" {
		a.relay, err = relay.New(ctx, cfg.Redis, hub)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		chatSvc.SetPublisher(a.relay)
	} else {
		chatSvc.SetPublisher(hub)
	}

	origins := cfg.Origins()
	handlers := server.NewHandlers(userSvc, tokens, chatSvc, blobs, hub, origins, cfg.MaxUploadSize)
	a.handler = server.SetupRoutes(handlers, origins, cfg.Debug)

	go hub.Run()
	log.Info().Str("blob_backend", cfg.BlobBackend).Bool("relay", a.relay != nil).Msg("App initialised")

	return a, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		return blob.NewS3StoreFromConfig(ctx, cfg.S3)
	default:
		return blob.NewFilesystemStore(cfg.UploadDir)
	}
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Hub returns the live connection registry.
func (a *App) Hub() *server.Hub {
	return a.hub
}

// Run serves HTTP on the configured port until ctx is cancelled, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Relay stopped")
			}
		}()
	}

	httpServer := server.CreateServer(a.config.Addr(), a.handler)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("HTTP server stopped")
	}

	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// hub closes them first.
	if err := a.hub.Shutdown(a.config.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("Hub shutdown incomplete")
	}
	shutdownErr := server.ShutdownServer(httpServer, a.config.ShutdownTimeout)

	return errors.Join(serveErr, shutdownErr, a.closeResources())
}

// Close stops the hub and releases the database and relay. It is for
// callers that used Handler directly instead of Run.
func (a *App) Close() error {
	if err := a.hub.Shutdown(a.config.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("Hub shutdown incomplete")
	}
	return a.closeResources()
}

func (a *App) closeResources() error {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}
