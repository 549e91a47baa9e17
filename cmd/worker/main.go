package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/fetch"
	"github.com/seanblong/repochat/internal/ingest"
	"github.com/seanblong/repochat/internal/queue"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/internal/worker"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("repochat-worker", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Queue.Backend != config.QueueRedis {
		log.Fatalf("worker needs the redis queue backend, got %q", cfg.Queue.Backend)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Dur("embed_interval", cfg.EmbedInterval).Str("queue", cfg.Queue.Name).Msg("starting repochat worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatalf("Failed to configure AI client: %v", err)
	}
	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	rq, err := queue.NewRedis(queue.RedisConfig{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
		Name:     cfg.Queue.Name,
	})
	if err != nil {
		log.Fatalf("Failed to create queue: %v", err)
	}
	defer func() { _ = rq.Close() }()
	if err := rq.Ping(ctx); err != nil {
		log.Fatalf("Failed to reach redis at %s: %v", cfg.Queue.RedisAddr, err)
	}

	paced := ai.NewPacedClient(c, ai.NewIntervalLimiter(cfg.EmbedInterval))
	orch, err := ingest.New(paced, st, st, &fetch.Git{}, ingest.Options{
		WorkDir:   cfg.WorkDir,
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
		Filter:    cfg.Filter(),
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	if cfg.MetricsPort > 0 {
		go serveMetrics(ctx, cfg.MetricsPort, logger)
	}

	if err := worker.New(rq, orch).Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func serveMetrics(ctx context.Context, port int, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	s := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", s.Addr).Msg("metrics server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
