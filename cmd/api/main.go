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

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/api"
	"github.com/seanblong/repochat/internal/chat"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/fetch"
	"github.com/seanblong/repochat/internal/ingest"
	"github.com/seanblong/repochat/internal/project"
	"github.com/seanblong/repochat/internal/queue"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/internal/worker"
	"github.com/spf13/pflag"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("repochat-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Str("queue", cfg.Queue.Backend).Msg("starting repochat api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Use the AI client's dimension for database migration
	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	var publisher queue.Publisher
	switch cfg.Queue.Backend {
	case config.QueueMemory:
		mem := queue.NewMemory(0)
		publisher = mem

		// Without a broker the API process has to ingest too.
		orch, err := newOrchestrator(cfg, c, st)
		if err != nil {
			log.Fatalf("Failed to create orchestrator: %v", err)
		}
		go func() {
			if err := worker.New(mem, orch).Run(ctx); err != nil {
				logger.Error().Err(err).Msg("in-process worker stopped")
			}
		}()
		logger.Warn().Msg("using in-memory queue; pending jobs are lost on restart")
	default:
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
		publisher = rq
	}

	projects := project.NewService(st, publisher)
	answers := chat.NewService(c, st, chat.Options{
		MatchThreshold:  cfg.MatchThreshold,
		MatchCount:      cfg.MatchCount,
		MaxContextChars: cfg.MaxContextChars,
	})
	h := api.NewHandler(projects, answers)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{
		Addr:              address,
		Handler:           api.WithLogging(h.Routes(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("api server failed")
	}
	logger.Info().Msg("api server stopped")
}

func newOrchestrator(cfg config.Specification, c ai.Client, st *store.Store) (*ingest.Orchestrator, error) {
	paced := ai.NewPacedClient(c, ai.NewIntervalLimiter(cfg.EmbedInterval))
	return ingest.New(paced, st, st, &fetch.Git{}, ingest.Options{
		WorkDir:   cfg.WorkDir,
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
		Filter:    cfg.Filter(),
	})
}
