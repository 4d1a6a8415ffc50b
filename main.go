package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/dermascan/internal/auth"
	"github.com/example/dermascan/internal/classifier"
	"github.com/example/dermascan/internal/config"
	"github.com/example/dermascan/internal/enrichment"
	"github.com/example/dermascan/internal/grpcclient"
	"github.com/example/dermascan/internal/handlers"
	"github.com/example/dermascan/internal/logging"
	"github.com/example/dermascan/internal/model"
	"github.com/example/dermascan/internal/repository"
	"github.com/example/dermascan/internal/storage"
	"github.com/example/dermascan/internal/usecase"
)

const startupTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		cfg        *config.Config
		logger     *zap.Logger
	)

	root := &cobra.Command{
		Use:           "dermascan",
		Short:         "Skin lesion image classification service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded

			logger, err = logging.NewLogger(cfg.Log.Level)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), cfg, logger)
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Remove orphaned provisional predictions once and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSweep(cmd.Context(), cfg, logger)
			},
		},
	)
	return root
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	db, err := initDatabase(startCtx, cfg.Database, logger)
	if err != nil {
		return err
	}
	repo := repository.NewPredictionRepository(db, logger)
	if err := repo.AutoMigrate(startCtx); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}

	images, err := storage.NewFileStore(cfg.Media.Root)
	if err != nil {
		return err
	}

	handle := model.NewHandle(newModelLoader(cfg.Model, logger), logger)
	defer func() {
		if err := handle.Close(); err != nil {
			logger.Warn("failed to release model", zap.Error(err))
		}
	}()

	suggester := enrichment.NewClient(enrichment.Config{
		BaseURL:  cfg.Enrichment.BaseURL,
		Timeout:  cfg.Enrichment.Timeout,
		CacheTTL: cfg.Enrichment.CacheTTL,
	}, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := usecase.NewMetrics(registry)
	if err != nil {
		return err
	}

	cache, closeCache, err := initCache(startCtx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	uc := usecase.NewPredictionUseCase(repo, images, classifier.New(handle), suggester, cache, metrics, logger)
	uc.SetResultTTL(cfg.Redis.ResultTTL)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	sweeper := usecase.NewSweeper(repo, images, metrics, cfg.Sweeper.GracePeriod, cfg.Sweeper.Interval, logger)
	go sweeper.Run(sweepCtx)

	authMiddleware, err := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, logger)
	if err != nil {
		return err
	}

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, authMiddleware, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	logger.Info("dermascan API listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("model_backend", cfg.Model.Backend))
	return serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger)
}

func runSweep(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	repo := repository.NewPredictionRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	images, err := storage.NewFileStore(cfg.Media.Root)
	if err != nil {
		return err
	}

	sweeper := usecase.NewSweeper(repo, images, nil, cfg.Sweeper.GracePeriod, cfg.Sweeper.Interval, logger)
	removed, err := sweeper.SweepOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	logger.Info("sweep complete", zap.Int("removed", removed))
	return nil
}

func newModelLoader(cfg config.ModelConfig, logger *zap.Logger) model.Loader {
	if cfg.Backend == config.BackendGRPC {
		return &grpcclient.Loader{Addr: cfg.GRPCAddr, DialTimeout: 5 * time.Second, Logger: logger}
	}
	return &model.TFLiteLoader{Path: cfg.Path, Threads: cfg.Threads, Logger: logger}
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		dialector = postgres.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logging.NewGormLogger(zapLogger, gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	if cfg.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return db, nil
}

// initCache returns a nil Cache when redis is disabled; the use case then reads
// straight from the database.
func initCache(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) (usecase.Cache, func(), error) {
	if !cfg.Enabled {
		zapLogger.Info("result cache disabled")
		return nil, func() {}, nil
	}
	client, err := initRedis(ctx, cfg.Addr, zapLogger)
	if err != nil {
		return nil, nil, err
	}
	return usecase.NewRedisCache(client), func() { _ = client.Close() }, nil
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	zapLogger.Info("connected to redis", zap.String("addr", addr))
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
