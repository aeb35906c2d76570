// Package bootstrap provides dependency initialization for the SongForge API.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/brandtune/songforge-api/internal/config"
	"github.com/brandtune/songforge-api/internal/muse"
	"github.com/brandtune/songforge-api/internal/observability"
	"github.com/brandtune/songforge-api/internal/orchestrator"
	"github.com/brandtune/songforge-api/internal/song"
	"github.com/brandtune/songforge-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service        *orchestrator.Service
	StatusService  *orchestrator.StatusService
	Sweeper        *orchestrator.Sweeper
	Archiver       *orchestrator.Archiver
	Pool           *orchestrator.Pool
	MuseClient     muse.Client
	Metrics        *observability.Metrics
	MetricsHandler http.Handler

	repoCloser io.Closer
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	metrics, metricsHandler, err := observability.NewMetrics(context.Background())
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	repo, err := initRepository(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	clientOpts := []muse.ClientOption{muse.WithAPIKey(cfg.MuseAPIKey)}
	if cfg.MuseBaseURL != "" {
		clientOpts = append(clientOpts, muse.WithBaseURL(cfg.MuseBaseURL))
	}
	if cfg.MuseModel != "" {
		clientOpts = append(clientOpts, muse.WithDefaultModel(cfg.MuseModel))
	}
	museClient, err := muse.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create Muse client: %w", err)
	}

	pool := orchestrator.NewPool(logger,
		orchestrator.WithPoolSize(cfg.PoolCoreWorkers, cfg.PoolMaxWorkers),
		orchestrator.WithQueueDepth(cfg.PoolQueueDepth),
	)

	bus := orchestrator.NewEventBus(logger)

	svc := orchestrator.NewService(repo, museClient, pool, bus, logger,
		orchestrator.WithCallbackURL(cfg.CallbackURL),
		orchestrator.WithReconcileSchedule(cfg.ReconcileGrace, cfg.ReconcileInterval, cfg.ReconcileAttempts),
		orchestrator.WithMetrics(metrics),
	)

	status := orchestrator.NewStatusService(repo, museClient, svc, logger,
		orchestrator.WithCacheTTLs(cfg.CacheQuickTTL, cfg.CacheByIDTTL, cfg.CacheListTTL),
		orchestrator.WithStatusMetrics(metrics),
	)

	sweeper := orchestrator.NewSweeper(repo, bus, logger,
		orchestrator.WithSweepSchedule(cfg.SweepInterval, cfg.SweepMaxAge),
		orchestrator.WithSweeperMetrics(metrics),
	)

	archiver := orchestrator.NewArchiver(repo, museClient, store, logger)

	var repoCloser io.Closer
	if c, ok := repo.(io.Closer); ok {
		repoCloser = c
	}

	return &Dependencies{
		Service:        svc,
		StatusService:  status,
		Sweeper:        sweeper,
		Archiver:       archiver,
		Pool:           pool,
		MuseClient:     museClient,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		repoCloser:     repoCloser,
	}, nil
}

// Start launches the background collaborators: the worker pool, the
// expiry sweeper, the artifact archiver and the cache invalidation watch.
func (d *Dependencies) Start() {
	d.Pool.Start()
	d.Sweeper.Start()
	d.Archiver.Start(d.Service.Bus().Subscribe())
	go d.StatusService.WatchCompletions(d.Pool.Done(), d.Service.Bus().Subscribe())
}

// Stop shuts the background collaborators down. The HTTP server must
// already have stopped accepting work.
func (d *Dependencies) Stop(ctx context.Context) error {
	d.Sweeper.Stop()
	d.Archiver.Stop()
	err := d.Pool.Stop(ctx)
	if d.repoCloser != nil {
		if cerr := d.repoCloser.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// initRepository selects the song store: SQLite when DB_PATH is set,
// in-memory otherwise.
func initRepository(cfg *config.Config, logger *slog.Logger) (song.Repository, error) {
	if cfg.DBPath == "" {
		logger.Info("in-memory song repository configured")
		return song.NewMemoryRepository(), nil
	}

	repo, err := song.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("create sqlite repository: %w", err)
	}
	logger.Info("sqlite song repository configured",
		slog.String("path", cfg.DBPath),
	)
	return repo, nil
}

// initStorage creates the appropriate artifact storage backend based on
// configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 artifact storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local artifact storage configured",
		slog.String("dir", localStore.RootDir()),
	)
	return localStore, nil
}
