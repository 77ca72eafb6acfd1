package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logworker/internal/backpressure"
	"github.com/telhawk-systems/logworker/internal/broker"
	"github.com/telhawk-systems/logworker/internal/config"
	"github.com/telhawk-systems/logworker/internal/deadletter"
	"github.com/telhawk-systems/logworker/internal/handlers"
	"github.com/telhawk-systems/logworker/internal/logging"
	natsclient "github.com/telhawk-systems/logworker/internal/messaging/nats"
	"github.com/telhawk-systems/logworker/internal/pipeline"
	"github.com/telhawk-systems/logworker/internal/server"
	"github.com/telhawk-systems/logworker/internal/storage"
)

var runMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion worker and its HTTP endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&runMigrations, "migrate", true, "apply database migrations before starting")
}

func serve(parent context.Context, cfg *config.Config, logger *logging.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting log worker",
		"port", cfg.Server.Port,
		"stream", cfg.Stream.Key,
		"group", cfg.Stream.Group,
		logging.Consumer(cfg.Stream.Consumer),
		"log_level", cfg.Logging.Level,
	)

	// Broker
	redisClient, err := broker.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	streams := broker.NewStreams(redisClient, cfg.BrokerSettings())
	if err := streams.EnsureGroup(ctx, cfg.Stream.Group); err != nil {
		return err
	}
	producer := broker.NewProducer(redisClient, cfg.BrokerSettings())
	logger.Info("Connected to Redis", "stream", cfg.Stream.Key)

	// Store
	connString := cfg.Database.Postgres.ConnString()
	if runMigrations {
		version, dirty, err := storage.Migrate(connString)
		if err != nil {
			return err
		}
		logger.Info("Database migration complete", "version", version, "dirty", dirty)
	}

	store, err := storage.NewPostgresStore(ctx, connString, cfg.PoolSettings())
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Connected to PostgreSQL",
		"host", cfg.Database.Postgres.Host,
		"database", cfg.Database.Postgres.Database,
	)

	var background sync.WaitGroup
	if cfg.Partitions.Enabled {
		partitions := storage.NewPartitionManager(store.Pool(), cfg.PartitionSettings(), logger)
		background.Add(1)
		go func() {
			defer background.Done()
			partitions.Run(ctx)
		}()
	}

	// Dead-letter sink
	sink, sinkCheck, closeSink, err := newDeadLetterWriter(ctx, cfg.DeadLetter, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	// Pipeline
	bp := backpressure.NewController(cfg.BackpressureSettings())
	p, err := pipeline.New(cfg.PipelineSettings(), streams, store, sink, bp, logger)
	if err != nil {
		return err
	}

	// The pipeline outlives the signal so the HTTP server can stop taking
	// direct submissions before the final drain.
	pipelineCtx, stopPipeline := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPipeline()
	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- p.Run(pipelineCtx) }()

	// HTTP
	checks := map[string]handlers.Check{
		"redis":    streams.Ping,
		"postgres": store.Ping,
	}
	if sinkCheck != nil {
		checks["deadletter"] = sinkCheck
	}
	h := handlers.NewLogHandler(p, producer, checks, cfg.Server.MaxBodyBytes, logger)
	if reporter, ok := sink.(deadletter.StatsReporter); ok {
		h.WithDeadLetterStats(reporter.Stats)
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      server.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		logger.Error("HTTP server failed", logging.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", logging.Error(err))
	}

	stopPipeline()
	if err := <-pipelineDone; err != nil {
		logger.Error("Pipeline stopped with error", logging.Error(err))
	}
	background.Wait()

	logger.Info("Log worker stopped")
	return nil
}

// newDeadLetterWriter builds the configured sink, a readiness check for
// sinks with a remote dependency (nil otherwise), and a func releasing it.
func newDeadLetterWriter(ctx context.Context, cfg config.DeadLetterConfig, logger *logging.Logger) (deadletter.Writer, handlers.Check, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case deadletter.BackendLog, "":
		logger.Info("Dead-letter sink enabled", "backend", deadletter.BackendLog)
		return deadletter.NewLogWriter(logger), nil, noop, nil

	case deadletter.BackendFile:
		w, err := deadletter.NewFileWriter(cfg.BasePath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("Dead-letter sink enabled", "backend", deadletter.BackendFile, "path", cfg.BasePath)
		logger.Warn("File dead-letter sink is local to this instance")
		return w, nil, noop, nil

	case deadletter.BackendJetStream:
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATSURL
		js, err := natsclient.NewJetStreamClient(natsCfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		w, err := deadletter.NewJetStreamWriter(ctx, js, cfg.Stream, cfg.SubjectPrefix, logger)
		if err != nil {
			_ = js.Close()
			return nil, nil, nil, err
		}
		logger.Info("Dead-letter sink enabled", "backend", deadletter.BackendJetStream, "nats", cfg.NATSURL)
		return w, js.Ping, func() { _ = js.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown dead-letter backend %q (supported: log, file, jetstream)", cfg.Backend)
	}
}
