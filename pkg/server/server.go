// Package server is the composition root for the HiveMind commons: it wires
// the store, guardrails, dedup index, pipelines, policy layer, notification
// fabric, scheduler, and HTTP router into one runnable server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hivemind/hivemind/internal/api"
	"github.com/hivemind/hivemind/internal/api/handlers"
	apimw "github.com/hivemind/hivemind/internal/api/middleware"
	"github.com/hivemind/hivemind/internal/auth"
	"github.com/hivemind/hivemind/internal/config"
	"github.com/hivemind/hivemind/internal/conflict"
	"github.com/hivemind/hivemind/internal/dedup"
	"github.com/hivemind/hivemind/internal/embeddings"
	"github.com/hivemind/hivemind/internal/guardrails"
	"github.com/hivemind/hivemind/internal/ingest"
	"github.com/hivemind/hivemind/internal/llm"
	"github.com/hivemind/hivemind/internal/notify"
	"github.com/hivemind/hivemind/internal/quality"
	"github.com/hivemind/hivemind/internal/ratelimit"
	"github.com/hivemind/hivemind/internal/rbac"
	"github.com/hivemind/hivemind/internal/retrieve"
	"github.com/hivemind/hivemind/internal/scheduler"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/internal/telemetry"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized HiveMind instance.
type Server struct {
	Handler http.Handler
	Store   store.Store
	Config  *config.Config
	Port    int

	scheduler    *scheduler.Scheduler
	listener     *notify.Listener
	listenCancel context.CancelFunc
	shutdownOTEL func(context.Context) error
}

// New initializes every component and returns a ready Server. The caller owns
// the listen loop; Shutdown must be called on exit.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownOTEL, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("PostgreSQL store ready")

	warnOnModelDrift(ctx, pg, cfg.Embedding)

	embedder, err := embeddings.FromConfig(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	// Dedup index is memory-resident; rebuild from the current items.
	index := dedup.NewMinHashIndex(cfg.MinHash.Permutations, cfg.MinHash.JaccardThreshold)
	items, err := pg.ListCurrentItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("load items for dedup index: %w", err)
	}
	index.Rebuild(items)
	log.Info().Int("items", len(items)).Msg("MinHash index rebuilt")

	rdb := redisClient(cfg.Redis.URL)
	limiter := ratelimit.New(rdb, cfg.Security.BurstThreshold, cfg.Security.BurstWindow)

	llmClient := llm.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)

	rbacSvc, err := rbac.NewService(rbac.NewPgxAdapter(pg.Pool()))
	if err != nil {
		return nil, fmt.Errorf("rbac: %w", err)
	}

	hub := notify.NewHub()
	broker := notify.NewPgBroker(pg.Pool())
	dispatcher := notify.NewDispatcher(pg)
	listener := notify.NewListener(cfg.Database.URL, hub)
	listenCtx, listenCancel := context.WithCancel(context.Background())
	go listener.Run(listenCtx)

	sanitizer := guardrails.NewSanitizer()
	scanner := guardrails.NewInjectionScanner(cfg.Security.InjectionThreshold)

	dedupPipeline := dedup.NewPipeline(pg, index, llmClient, cfg.Dedup)
	resolver := conflict.NewResolver(llmClient)

	orchestrator := ingest.NewOrchestrator(
		pg, sanitizer, scanner, limiter, embedder,
		dedupPipeline, index, resolver, broker, dispatcher,
	)
	review := ingest.NewReviewService(pg, index, broker, dispatcher)

	recorder := quality.NewRecorder(pg)
	retriever := retrieve.NewService(pg, embedder, recorder)

	scorer := quality.NewScorer(cfg.Quality)
	aggregator := quality.NewAggregator(pg, scorer)
	distiller := quality.NewDistiller(pg, scorer, llmClient, sanitizer, embedder, index, cfg.Distillation)

	sched := scheduler.New(aggregator, distiller)
	if err := sched.Start(cfg.Quality.AggregateEvery, cfg.Distillation.RunEvery); err != nil {
		listenCancel()
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	tokens := auth.NewTokenCodec(cfg.SecretKey, 0)
	keys := auth.NewAPIKeyService(pg)

	h := handlers.New(pg, orchestrator, review, retriever, recorder,
		rbacSvc, keys, limiter, embedder, hub, cfg.Version)
	router := api.NewRouter(cfg, h, apimw.NewAuthMiddleware(tokens, keys))

	return &Server{
		Handler:      router,
		Store:        pg,
		Config:       cfg,
		Port:         cfg.Port,
		scheduler:    sched,
		listener:     listener,
		listenCancel: listenCancel,
		shutdownOTEL: shutdownOTEL,
	}, nil
}

// Shutdown stops the background loops and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.listenCancel()
	s.scheduler.Stop()
	if err := s.shutdownOTEL(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	return s.Store.Close()
}

// warnOnModelDrift compares the configured embedding model identity with the
// one recorded at first boot. Mixed-model vector spaces rank garbage; the
// operator must re-embed, so this only warns.
func warnOnModelDrift(ctx context.Context, st store.Store, cfg config.EmbeddingConfig) {
	stored, err := st.GetConfigValue(ctx, models.ConfigEmbeddingModelName)
	if err != nil {
		if setErr := st.SetConfigValue(ctx, models.ConfigEmbeddingModelName, cfg.Model); setErr == nil {
			_ = st.SetConfigValue(ctx, models.ConfigEmbeddingModelRevision, cfg.Revision)
		}
		return
	}
	storedRev, _ := st.GetConfigValue(ctx, models.ConfigEmbeddingModelRevision)
	if stored != cfg.Model || storedRev != cfg.Revision {
		log.Warn().
			Str("stored_model", stored).
			Str("stored_revision", storedRev).
			Str("configured_model", cfg.Model).
			Str("configured_revision", cfg.Revision).
			Msg("Embedding model changed since the index was built; existing vectors need re-embedding")
	}
}

func redisClient(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid REDIS_URL; rate limiting degrades to permissive")
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable; rate limiting degrades to permissive")
	}
	return client
}
