package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/greenstack/leafserve/internal/api"
	"github.com/greenstack/leafserve/internal/cache"
	"github.com/greenstack/leafserve/internal/config"
	"github.com/greenstack/leafserve/internal/drivers"
	"github.com/greenstack/leafserve/internal/inference"
	"github.com/greenstack/leafserve/internal/registry"
	"github.com/greenstack/leafserve/internal/resolver"
	"github.com/greenstack/leafserve/internal/stats"
	"github.com/greenstack/leafserve/internal/store"
	"github.com/greenstack/leafserve/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg)

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	driver, err := buildDriver(cfg, logger)
	if err != nil {
		logger.Fatal("storage driver init failed", zap.Error(err))
	}

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("registry init failed", zap.Error(err))
	}

	st := store.New(driver, cfg.Storage.Bucket, logger)
	res := resolver.New(st, reg, cfg.Model.Name, cfg.Model.FallbackPath,
		cfg.Model.TierTimeout, logger)
	c := cache.New(logger)
	s := stats.New()
	eng := inference.New(c, s, cfg.Model.MaxBatchSize, logger)

	server := api.NewServer(cfg, logger, st, reg, res, c, eng, s)

	// best-effort initial load; the server comes up model_not_loaded if
	// no tier can produce a model
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Minute)
	if handle, err := server.Reload(loadCtx); err != nil {
		if errors.Is(err, resolver.ErrNoModelAvailable) {
			logger.Warn("no model available at startup, serving without one")
		} else {
			logger.Warn("initial model load failed", zap.Error(err))
		}
	} else {
		logger.Info("model loaded",
			zap.String("source", handle.Source.String()),
			zap.String("version", handle.Version))
	}
	cancelLoad()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if cfg.Model.WatchFallback && cfg.Model.FallbackPath != "" {
		w := watcher.New(cfg.Model.FallbackPath, func(ctx context.Context) error {
			_, err := server.Reload(ctx)
			return err
		}, logger)
		go func() {
			if err := w.Start(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("fallback watcher stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		cancelWatch()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func buildDriver(cfg *config.Config, logger *zap.Logger) (drivers.Driver, error) {
	var driver drivers.Driver

	switch cfg.Storage.Mode {
	case "", "local":
		if err := os.MkdirAll(cfg.Storage.LocalPath, 0o750); err != nil {
			return nil, err
		}
		driver = drivers.NewLocalDriver(cfg.Storage.LocalPath, logger)
		logger.Info("using local storage", zap.String("path", cfg.Storage.LocalPath))

	case "s3":
		s3, err := drivers.NewS3Driver(cfg.Storage.S3.Endpoint, cfg.Storage.S3.AccessKey,
			cfg.Storage.S3.SecretKey, cfg.Storage.S3.Region, logger)
		if err != nil {
			return nil, err
		}
		driver = s3
		logger.Info("using s3 storage", zap.String("endpoint", cfg.Storage.S3.Endpoint))

	case "minio":
		mc, err := drivers.NewMinioDriver(cfg.Storage.Minio.Endpoint, cfg.Storage.Minio.AccessKey,
			cfg.Storage.Minio.SecretKey, cfg.Storage.Minio.UseSSL, logger)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := mc.EnsureBucket(ctx, cfg.Storage.Bucket); err != nil {
			return nil, err
		}
		driver = mc
		logger.Info("using minio storage", zap.String("endpoint", cfg.Storage.Minio.Endpoint))

	default:
		return nil, errors.New("invalid storage mode: " + cfg.Storage.Mode)
	}

	if cfg.Storage.Compression {
		driver = drivers.NewCompressionDriver(driver, logger)
		logger.Info("checkpoint compression enabled")
	}
	return driver, nil
}

func buildRegistry(cfg *config.Config, logger *zap.Logger) (registry.Registry, error) {
	switch cfg.Registry.Mode {
	case "", "none":
		logger.Info("no registry configured, promotion disabled")
		return nil, nil
	case "memory":
		return registry.NewMemory(), nil
	case "postgres":
		pg, err := registry.NewPostgres(registry.Config{
			Host:     cfg.Registry.Postgres.Host,
			Port:     cfg.Registry.Postgres.Port,
			Database: cfg.Registry.Postgres.Database,
			User:     cfg.Registry.Postgres.User,
			Password: cfg.Registry.Postgres.Password,
			SSLMode:  cfg.Registry.Postgres.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres registry",
			zap.String("host", cfg.Registry.Postgres.Host))
		return pg, nil
	default:
		return nil, errors.New("invalid registry mode: " + cfg.Registry.Mode)
	}
}
