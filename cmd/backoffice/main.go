package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/cmd/backoffice/cli"
	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/jobs"
	"github.com/odyssey-erp/backoffice/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(ctx, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := app.NewLogger(cfg, "backoffice")

	var dbpool *pgxpool.Pool
	if cfg.StoreDriver == app.DriverPostgres || cfg.NumberingBackend == "postgres" {
		dbpool, err = db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
	}

	var redisClient *redis.Client
	redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		if cfg.NumberingBackend == "redis" {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("redis unavailable, using process-local locks", slog.Any("error", err))
		redisClient = nil
	}

	metrics := observability.NewMetrics()
	backends := app.Backends{Pool: dbpool, Metrics: metrics}

	var jobHandler *jobs.Handler
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		backends.Redis = redisClient

		jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		backends.Reporter = jobClient

		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	services, err := app.BuildServices(cfg, logger, backends)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}

	params := app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Services:   services,
		Metrics:    metrics,
		JobHandler: jobHandler,
	}
	if dbpool != nil {
		params.Database = dbpool
	}
	router := app.NewRouter(params)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("numbering", cfg.NumberingBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runMigrate(ctx context.Context, cfg *app.Config) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	applied, err := migrations.Apply(ctx, pool)
	for _, name := range applied {
		fmt.Println("applied", name)
	}
	if err == nil && len(applied) == 0 {
		fmt.Println("schema up to date")
	}
	return err
}

func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: backoffice jobs trigger <task> | backoffice jobs stats")
	}
	jc := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = jc.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: backoffice jobs trigger <task>")
		}
		info, err := jc.Trigger(ctx, args[1], cfg.IdempotencyRetention)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		for _, queue := range []string{jobs.QueueCritical, jobs.QueueDefault} {
			stats, err := jc.InspectQueue(queue)
			if err != nil {
				return err
			}
			fmt.Printf("%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		}
	default:
		return fmt.Errorf("jobs: unknown command %q", args[0])
	}
	return nil
}
