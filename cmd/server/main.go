package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/drawdock/drawdock/api"
	"github.com/drawdock/drawdock/internal/config"
	"github.com/drawdock/drawdock/internal/slogging"
)

func main() {
	configFile := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	err = slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slogging.Logger) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	var cache *api.CacheService
	if cfg.Database.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Database.Redis.Addr(),
			Password: cfg.Database.Redis.Password,
			DB:       cfg.Database.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The cache is an optimization; the store works without it
			logger.Warn("Redis unavailable, running without diagram cache: %v", err)
		} else {
			cache = api.NewCacheService(client)
			logger.Info("Diagram cache enabled at %s", cfg.Database.Redis.Addr())
		}
	}

	store := api.NewGormDiagramStore(db, cache)
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	server := api.NewServer(cfg, store, prometheus.NewRegistry())

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	server.Hub().StartSweeper(sweepCtx)

	addr := cfg.Server.Interface + ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s (database driver %s)", addr, cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("Received %s, shutting down", sig)
	}

	stopSweep()
	server.Hub().Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	switch cfg.Database.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.Database.Postgres.DSN()), gormCfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.Database.SQLite.Path), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}
