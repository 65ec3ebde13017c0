// Package server initializes and runs the upload server: storage backends,
// the job registry and its janitor, the audit trail, and the HTTP API with
// graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/api"
	"github.com/dmitrijs2005/mediavault/internal/server/audit"
	"github.com/dmitrijs2005/mediavault/internal/server/config"
	"github.com/dmitrijs2005/mediavault/internal/server/jobs"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/docrelay"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/localfs"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/s3store"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/videohost"
	"github.com/dmitrijs2005/mediavault/internal/server/transfer"
)

const janitorInterval = time.Minute

type App struct {
	config   *config.Config
	logger   logging.Logger
	registry *jobs.Registry
	router   http.Handler
	db       *sql.DB // nil when the audit trail is disabled
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout)

	registry := jobs.NewRegistry(logger)

	recorder, db, err := buildAudit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	backends, local, docs, objects, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	selector, err := storage.NewSelector(cfg.VideoStorage, cfg.FileStorage, backends)
	if err != nil {
		return nil, err
	}

	orch := transfer.NewOrchestrator(selector, registry, recorder, logger)

	tmpDir := cfg.TmpDir
	if err := os.MkdirAll(tmpDir, 0o770); err != nil {
		return nil, fmt.Errorf("create tmp dir %s: %w", tmpDir, err)
	}

	handler := api.NewHandler(api.Deps{
		Orchestrator: orch,
		Registry:     registry,
		Local:        local,
		Docs:         docs,
		Objects:      objects,
		TmpDir:       tmpDir,
		MaxUpload:    cfg.MaxUploadBytes,
	}, logger)

	return &App{
		config:   cfg,
		logger:   logger,
		registry: registry,
		router:   api.NewRouter(handler, []byte(cfg.SecretKey)),
		db:       db,
	}, nil
}

// buildAudit opens the audit database and runs migrations when a DSN is
// configured; otherwise recording is a no-op.
func buildAudit(ctx context.Context, cfg *config.Config, logger logging.Logger) (audit.Repository, *sql.DB, error) {
	if cfg.DatabaseDSN == "" {
		return audit.Noop{}, nil, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := audit.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("audit migrations: %w", err)
	}
	logger.Info(ctx, "audit trail enabled")
	return audit.NewPostgresRepository(db), db, nil
}

// buildBackends constructs every backend the configuration makes usable and
// returns the map keyed by kind, plus the concrete handles the API needs for
// serving files back.
func buildBackends(ctx context.Context, cfg *config.Config, logger logging.Logger) (map[string]storage.Backend, api.PathResolver, api.Streamer, api.URLResolver, error) {
	backends := make(map[string]storage.Backend)

	local, err := localfs.New(cfg.UploadRoot, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	backends[storage.KindLocal] = local

	var docs api.Streamer
	if cfg.RelayToken != "" {
		relay := docrelay.New(docrelay.Config{
			BaseURL:     cfg.RelayBaseURL,
			Token:       cfg.RelayToken,
			ChatID:      cfg.RelayChatID,
			MaxFileSize: cfg.RelayMaxFileSize,
		}, nil, logger)
		backends[storage.KindDocRelay] = relay
		docs = relay
	}

	if cfg.VideoUploadURL != "" {
		backends[storage.KindVideoHost] = videohost.New(videohost.Config{
			UploadURL:    cfg.VideoUploadURL,
			WatchURLBase: cfg.VideoWatchURLBase,
			Privacy:      cfg.VideoPrivacy,
		}, videoTokens(cfg), nil, logger)
	}

	var objects api.URLResolver
	if cfg.S3AccessKey != "" {
		s3b, serr := s3store.New(ctx, s3store.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3BaseEndpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, logger)
		if serr != nil {
			return nil, nil, nil, nil, serr
		}
		backends[storage.KindS3] = s3b
		objects = s3b
	}

	return backends, local, docs, objects, nil
}

func videoTokens(cfg *config.Config) videohost.TokenSource {
	if cfg.VideoTokenURL != "" && cfg.VideoRefreshToken != "" {
		return &videohost.RefreshingTokenSource{
			Endpoint:     cfg.VideoTokenURL,
			ClientID:     cfg.VideoClientID,
			ClientSecret: cfg.VideoClientSecret,
			RefreshToken: cfg.VideoRefreshToken,
		}
	}
	return videohost.StaticTokenSource(cfg.VideoToken)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves the API until ctx is canceled or a signal arrives, then shuts
// down gracefully.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddrHTTP)
	app.initSignalHandler(cancel)

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		app.registry.RunJanitor(gctx, janitorInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if app.db != nil {
		_ = app.db.Close()
	}
	app.logger.Info(context.Background(), "server stopped")
	return err
}
