// Package main wires together the tubemeta service binary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/tubemeta/tubemeta/internal/api"
	"github.com/tubemeta/tubemeta/internal/cache"
	"github.com/tubemeta/tubemeta/internal/caption"
	"github.com/tubemeta/tubemeta/internal/clock/system"
	"github.com/tubemeta/tubemeta/internal/config"
	"github.com/tubemeta/tubemeta/internal/describe"
	"github.com/tubemeta/tubemeta/internal/directory"
	collyfetcher "github.com/tubemeta/tubemeta/internal/fetcher/colly"
	"github.com/tubemeta/tubemeta/internal/hash/sha256"
	"github.com/tubemeta/tubemeta/internal/id/uuid"
	"github.com/tubemeta/tubemeta/internal/logging"
	"github.com/tubemeta/tubemeta/internal/metrics"
	"github.com/tubemeta/tubemeta/internal/pipeline"
	memorypublisher "github.com/tubemeta/tubemeta/internal/publisher/memory"
	pubsubpublisher "github.com/tubemeta/tubemeta/internal/publisher/pubsub"
	"github.com/tubemeta/tubemeta/internal/storage/gcs"
	"github.com/tubemeta/tubemeta/internal/storage/local"
	memorystorage "github.com/tubemeta/tubemeta/internal/storage/memory"
	"github.com/tubemeta/tubemeta/internal/storage/postgres"
	"github.com/tubemeta/tubemeta/internal/tube"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	serve := flag.Bool("serve", false, "Run the HTTP API server instead of a one-shot batch")
	force := flag.Bool("force", false, "Refetch entries even when cached")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	})
	mirrors := directory.New(client, logger.Named("directory"), cfg.Invidious.URL)
	describer := describe.New(mirrors, client, describe.Config{
		Fields:        cfg.Fields(),
		ThumbnailSize: tube.ThumbnailSize(cfg.Fetch.ThumbnailSize),
	}, logger.Named("describe"))
	locator := caption.NewLocator(client, logger.Named("caption"))
	transcriber := caption.NewTranscriber(client, logger.Named("caption"))
	recordCache := cache.New()

	opts, cleanup, err := buildPersistence(ctx, cfg, logger)
	if err != nil {
		logger.Error("persistence init failed", zap.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	pipe := pipeline.New(describer, locator, transcriber, recordCache, opts, pipeline.Config{
		MaxAttempts: cfg.Invidious.MaxAttempts,
		Languages:   cfg.Fetch.Languages,
		Persist:     cfg.Fetch.Persist,
		Topic:       cfg.Notify.Topic,
		BlobPrefix:  cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	}, logger.Named("pipeline"))

	if *serve {
		runServer(ctx, stop, pipe, recordCache, cfg, logger)
		return
	}

	entries := flag.Args()
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tubemeta [flags] <video id or URL> ...")
		os.Exit(2)
	}
	runBatch(ctx, pipe, entries, *force, logger)
}

func buildPersistence(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Options, func(), error) {
	opts := pipeline.Options{
		Hasher: sha256.New(),
		Clock:  system.New(),
		IDs:    uuid.New(),
	}
	cleanup := func() {}

	switch cfg.Storage.Provider {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return opts, cleanup, fmt.Errorf("local blob store: %w", err)
		}
		opts.BlobStore = store
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return opts, cleanup, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return opts, cleanup, fmt.Errorf("gcs blob store: %w", err)
		}
		opts.BlobStore = store
	case "noop":
		opts.BlobStore = memorystorage.NewBlobStore()
	}

	switch cfg.Notify.Provider {
	case "pubsub":
		client, err := gcpubsub.NewClient(ctx, cfg.Notify.ProjectID)
		if err != nil {
			return opts, cleanup, fmt.Errorf("pubsub client: %w", err)
		}
		opts.Publisher = pubsubpublisher.New(client.Topic(cfg.Notify.Topic))
	default:
		opts.Publisher = memorypublisher.New()
	}

	if cfg.Fetch.Persist {
		store, err := postgresStore(ctx, cfg)
		if err != nil {
			return opts, cleanup, err
		}
		opts.RecordStore = store
		cleanup = store.Close
		logger.Info("record store connected", zap.String("table", cfg.DB.Table))
	}

	return opts, cleanup, nil
}

func postgresStore(ctx context.Context, cfg config.Config) (*postgres.RecordStore, error) {
	store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres record store: %w", err)
	}
	return store, nil
}

func runServer(
	ctx context.Context,
	stop context.CancelFunc,
	pipe *pipeline.Pipeline,
	recordCache tube.RecordCache,
	cfg config.Config,
	logger *zap.Logger,
) {
	apiServer := api.NewServer(pipe, recordCache, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func runBatch(ctx context.Context, pipe *pipeline.Pipeline, entries []string, force bool, logger *zap.Logger) {
	results := pipe.FetchBatch(ctx, entries, force)

	failed := 0
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, res := range results {
		if res.Err != nil {
			failed++
			logger.Error("entry failed", zap.String("entry_id", res.EntryID), zap.Error(res.Err))
			continue
		}
		if res.Record == nil {
			logger.Info("entry skipped", zap.String("entry_id", res.EntryID))
			continue
		}
		if err := enc.Encode(res.Record); err != nil {
			logger.Error("encode record failed", zap.Error(err))
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
