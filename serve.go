package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docintake/internal/api"
	"docintake/internal/batch"
	"docintake/internal/config"
	"docintake/internal/parser"
	"docintake/internal/redis"
	"docintake/internal/session"
	"docintake/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP intake server",
		Run: func(cmd *cobra.Command, args []string) {
			serve(cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (json or yaml); defaults to $"+config.EnvConfigPath+" or config.json")
	return cmd
}

// loadConfig reads .env, when present, and then the config file.
func loadConfig(cfgPath string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func auditDriver() string {
	if dbType := os.Getenv(config.EnvDatabase); dbType != "" {
		return dbType
	}
	return "sqlite3"
}

// openAuditDB opens and migrates the audit database. ok is false when the
// selected driver has no configuration.
func openAuditDB(cfg *config.Config, dbType string) (db *sql.DB, ok bool, err error) {
	if _, found := cfg.Databases[dbType]; !found {
		return nil, false, nil
	}
	db, err = storage.Open(dbType, cfg)
	if err != nil {
		return nil, true, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, true, fmt.Errorf("migrate database: %w", err)
	}
	return db, true, nil
}

func serve(cfgPath string) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := newLogger(cfg.BasicConfig.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeOpts := []session.Option{session.WithLogger(logger)}

	dbType := auditDriver()
	db, ok, err := openAuditDB(cfg, dbType)
	if err != nil {
		log.Fatal(err)
	}
	if ok {
		defer db.Close()
		recorder := storage.NewAuditRecorder(db, logger, 0)
		defer recorder.Close()
		storeOpts = append(storeOpts, session.WithObserver(recorder))
		logger.Info("audit trail enabled", "driver", dbType)
	} else {
		logger.Info("audit trail disabled", "driver", dbType)
	}

	var publisher api.CommitPublisher
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		publisher = redis.NewPublisher(rdb, cfg.Redis.Channel, cfg.Session.TTL(), logger)
		logger.Info("commit hand-off enabled", "channel", cfg.Redis.Channel)
	}

	store, err := session.NewStore(cfg.Session.TTL(), storeOpts...)
	if err != nil {
		log.Fatalf("create session store: %v", err)
	}
	store.StartSweeper(ctx, cfg.Session.SweepInterval(), nil)

	p, err := parser.New(
		parser.WithWorkers(cfg.Batch.ParseWorkers),
		parser.WithTimeout(cfg.Batch.ParseTimeout()),
		parser.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("create parser: %v", err)
	}
	defer p.Release()

	handler := api.NewHandler(store, p, api.Limits{
		Batch: batch.Limits{
			MaxCount:  cfg.Batch.MaxBatchCount,
			MaxSizeMB: cfg.Batch.MaxBatchSizeMB,
		},
		MaxMemory: int64(cfg.BasicConfig.MaxMemoryMB) << 20,
	}, publisher, logger)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
