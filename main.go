package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webpconverter/config"
	"webpconverter/handlers"
	"webpconverter/lifecycle"
	"webpconverter/services"
	"webpconverter/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// Environment variables may be set without a .env file
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting WebP conversion service", "storage", cfg.StorageMode, "workers", cfg.WorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, stager, sweeper, err := newStore(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize holding area: %v", err)
	}

	var downloads services.ArtifactStore = store
	if cfg.CacheEntries > 0 {
		cached, err := services.NewCachedStore(store, cfg.CacheEntries, cfg.CacheMaxBytes)
		if err != nil {
			log.Fatalf("Failed to initialize artifact cache: %v", err)
		}
		downloads = cached
	}

	recorder := newRecorder(ctx, cfg, logger)

	metrics, err := services.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	pool := worker.NewPool(cfg.WorkerCount, logger)

	batch := worker.NewBatchConverter(worker.BatchDeps{
		Validator:    services.NewValidator(cfg),
		Codec:        services.NewCodec(services.CodecOptionsFromConfig(cfg), logger),
		Store:        downloads,
		Stager:       stager,
		Pool:         pool,
		Recorder:     recorder,
		Metrics:      metrics,
		Logger:       logger,
		Timeout:      cfg.Timeout(),
		MaxDimension: cfg.DownsampleBound,
		MaxRetries:   cfg.MaxRetries,
	})

	httpHandlers := handlers.NewHTTPHandlers(cfg, batch, downloads, logger)
	router := handlers.NewRouter(httpHandlers, promhttp.Handler())

	server := lifecycle.NewHTTPServer(router,
		lifecycle.WithAddress(cfg.HTTPAddr),
		lifecycle.WithServerLogger(logger))

	gfl := lifecycle.NewGracefulShutdown(ctx, lifecycle.WithLogger(logger))

	gfl.Go(server.Start)
	if sweeper != nil {
		janitor := worker.NewJanitor(sweeper, logger)
		gfl.Go(func() error {
			janitor.Run(gfl.Context())
			return nil
		})
	}

	gfl.MustClose("http server", server.Stop)
	gfl.MustClose("worker pool", pool.Stop)
	gfl.MustClose("holding area", downloads.Teardown)
	if recorder != nil {
		gfl.MustClose("recorders", func(context.Context) error { return recorder.Close() })
	}

	if err := gfl.Wait(); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("conversion service stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newStore(cfg *config.Config, logger *slog.Logger) (services.ArtifactStore, services.Stager, services.Sweeper, error) {
	switch cfg.StorageMode {
	case config.StorageDisk:
		store, err := services.NewDiskStore(cfg.UploadDir, cfg.OutputDir, cfg.NameSuffix, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using disk holding area", "uploads", cfg.UploadDir, "output", cfg.OutputDir)
		return store, store, store, nil
	case config.StorageS3:
		store, err := services.NewS3Store(cfg, nil, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using S3 holding area", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		return store, nil, nil, nil
	case config.StorageTemp:
		store, err := services.NewTempStore(cfg.NameSuffix, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using temporary holding area", "dir", store.Dir())
		return store, nil, store, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
}

// newRecorder connects the optional status recorders. A recorder that cannot
// connect is logged and left out.
func newRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) services.Recorder {
	var recorders services.MultiRecorder

	if cfg.RedisAddr != "" {
		redisRecorder, err := services.NewRedisRecorder(ctx, cfg)
		if err != nil {
			logger.Error("redis status recorder disabled", "error", err)
		} else {
			logger.Info("connected to Redis", "addr", cfg.RedisAddr)
			recorders = append(recorders, redisRecorder)
		}
	}

	if cfg.DatabaseURL != "" {
		dbSvc, err := services.NewDatabaseService(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("conversion history disabled", "error", err)
		} else {
			logger.Info("connected to database")
			recorders = append(recorders, dbSvc)
		}
	}

	if len(recorders) == 0 {
		return nil
	}
	return recorders
}
