package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lgulliver/photoflow/cmd/upload-gateway/routes"
	"github.com/lgulliver/photoflow/internal/common"
	"github.com/lgulliver/photoflow/internal/journal"
	"github.com/lgulliver/photoflow/internal/progress"
	"github.com/lgulliver/photoflow/internal/registry"
	"github.com/lgulliver/photoflow/internal/storage"
	"github.com/lgulliver/photoflow/internal/upload"
	"github.com/lgulliver/photoflow/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

// closer is a named shutdown step
type closer struct {
	name  string
	close func(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.SetupLogging()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("storage", cfg.Storage.Type).
		Str("registry", cfg.Registry.BaseURL).
		Int("concurrency", cfg.Pipeline.Concurrency).
		Int("batch_size", cfg.Pipeline.BatchSize).
		Msg("starting photoflow upload gateway")

	ctx := context.Background()
	var closers []closer

	uploader, err := storage.NewStorageFactory(&cfg.Storage).CreateUploader(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	if c, ok := uploader.(io.Closer); ok {
		closers = append(closers, closer{name: "storage", close: func(context.Context) error { return c.Close() }})
	}

	client := registry.NewHTTPClient(cfg.Registry.BaseURL, cfg.Registry.Timeout)

	metrics, err := upload.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}

	opts := upload.OptionsFromConfig(cfg)
	opts.Metrics = metrics
	orchestrator := upload.NewOrchestrator(uploader, client, opts)

	uploadOpts := routes.UploadOptions{
		Pipeline:      orchestrator,
		MaxUploadSize: cfg.Server.MaxUploadSize,
	}

	if cfg.Database.Enabled {
		db, err := common.NewDatabase(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to journal database")
		}
		events := journal.NewService(db.DB)
		if err := events.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate journal")
		}
		recorder := journal.NewRecorder(events, 0)
		orchestrator.AddObserver(recorder)
		uploadOpts.Events = events

		closers = append(closers,
			closer{name: "journal recorder", close: recorder.Close},
			closer{name: "journal database", close: func(context.Context) error { return db.Close() }},
		)
		log.Info().Str("driver", cfg.Database.Driver).Msg("upload journal enabled")
	}

	if cfg.Redis.Enabled {
		cache, err := common.NewCache(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		mirror := progress.NewMirror(cache, orchestrator.Snapshot, progress.Options{TTL: cfg.Redis.SnapshotTTL})
		orchestrator.AddObserver(mirror)
		uploadOpts.Snapshots = mirror

		// the mirror publishes its last snapshot before redis goes away
		closers = append(closers,
			closer{name: "progress mirror", close: mirror.Close},
			closer{name: "redis", close: func(context.Context) error { return cache.Close() }},
		)
		log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("progress mirror enabled")
	}

	router := setupRouter(routerDeps{
		uploads:  uploadOpts,
		registry: client,
		gatherer: prometheus.DefaultGatherer,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx, server, orchestrator, closers); err != nil {
		log.Error().Err(err).Msg("shutdown finished with errors")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

// shutdown stops accepting requests, lets the running session finish and
// then closes every resource, collecting all failures
func shutdown(ctx context.Context, server *http.Server, pipeline *upload.Orchestrator, closers []closer) error {
	var result *multierror.Error

	if err := server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}

	if pipeline.IsUploading() {
		log.Info().Str("session_id", pipeline.SessionID()).Msg("waiting for upload session to finish")
	}
	if err := pipeline.Wait(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("upload session: %w", err))
	}

	return closeAll(ctx, closers, result)
}

func closeAll(ctx context.Context, closers []closer, result *multierror.Error) error {
	for _, c := range closers {
		if err := c.close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		log.Debug().Str("resource", c.name).Msg("closed")
	}
	return result.ErrorOrNil()
}
