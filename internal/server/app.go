// Package server initializes and runs the vaultfs server: configuration,
// database, migrations, blob storage, services and the HTTP endpoint,
// with graceful shutdown on SIGINT/SIGTERM/SIGQUIT.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vaultfs/vaultfs/internal/logging"
	"github.com/vaultfs/vaultfs/internal/server/blobstore"
	"github.com/vaultfs/vaultfs/internal/server/config"
	"github.com/vaultfs/vaultfs/internal/server/httpapi"
	"github.com/vaultfs/vaultfs/internal/server/repositories/repomanager"
	"github.com/vaultfs/vaultfs/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, slog.LevelInfo)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	var blobs blobstore.Store
	if cfg.BlobBackend == config.BlobBackendS3 {
		blobs, err = blobstore.NewS3Store(ctx, blobstore.S3Options{
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			Bucket:       cfg.S3Bucket,
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("blob store init error: %w", err)
		}
	}

	us := services.NewUserService(db, m, cfg)
	ks := services.NewKeyringService(db, m)
	ns := services.NewNodeService(db, m, blobs, logger)
	ss := services.NewSharingService(db, m)
	rs := services.NewRevocationService(db, m, blobs, cfg, logger)

	srv := httpapi.NewServer(cfg.EndpointAddr, logger, us, ks, ns, ss, rs, cfg.SecretKey)

	return &App{config: cfg, logger: logger, db: db, server: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...",
		"blob_backend", app.config.BlobBackend,
		"revoke_policy", app.config.RevokePolicy,
	)

	app.initSignalHandler(cancelFunc)

	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server error", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "error closing db", "error", err)
	}
}
