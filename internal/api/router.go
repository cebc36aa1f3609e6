package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/chattrain/chattrain/internal/api/handler"
	customMiddleware "github.com/chattrain/chattrain/internal/api/middleware"
	"github.com/chattrain/chattrain/internal/config"
	"github.com/chattrain/chattrain/internal/evaluation"
	"github.com/chattrain/chattrain/internal/llm"
	"github.com/chattrain/chattrain/internal/llm/gemini"
	"github.com/chattrain/chattrain/internal/llm/openai"
	"github.com/chattrain/chattrain/internal/repository/postgres"
	"github.com/chattrain/chattrain/internal/repository/redis"
	"github.com/chattrain/chattrain/internal/retrieval"
	"github.com/chattrain/chattrain/internal/scenario"
	"github.com/chattrain/chattrain/internal/security"
	"github.com/chattrain/chattrain/internal/session"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client, scenarios *scenario.Store) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Security components
	limiter := security.NewRateLimiter(security.RateLimitPolicy{
		ChatPerMinute:    cfg.Security.RateLimit.ChatPerMinute,
		SessionPerMinute: cfg.Security.RateLimit.SessionPerMinute,
		ConnectPerMinute: cfg.Security.RateLimit.ConnectPerMinute,
		Burst:            cfg.Security.RateLimit.Burst,
	})
	validator := security.NewInputValidator(cfg.Security.MaxMessageLength)
	masker := security.NewMasker(cfg.Security.MaskingWhitelist)
	auditor := security.NewAuditor(log.Logger)

	// Repositories
	sessionRepo := postgres.NewSessionRepository(db)
	turnRepo := postgres.NewTurnRepository(db)

	// Retrieval: in-memory term index over the scenario documents,
	// fronted by the redis excerpt cache
	index := retrieval.NewMemoryIndex()
	for _, doc := range scenarios.Documents() {
		index.Add(doc.ScenarioID, doc.Name, doc.Text)
	}
	var cache retrieval.Cache
	if redisClient != nil {
		cache = redis.NewContextCache(redisClient, cfg.Retrieval.CacheTTL)
	}
	retriever := retrieval.NewRetriever(index, masker, cache, retrieval.Options{
		TopK:         cfg.Retrieval.TopK,
		TokenBudget:  cfg.Retrieval.TokenBudget,
		MinRelevance: cfg.Retrieval.MinRelevance,
	})

	// LLM providers
	llmRouter := llm.NewRouter(cfg.LLM.DefaultProvider)
	if cfg.LLM.OpenAI.APIKey != "" {
		llmRouter.RegisterProvider(openai.NewProvider(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model))
	}
	if cfg.LLM.Gemini.APIKey != "" {
		llmRouter.RegisterProvider(gemini.NewProvider(cfg.LLM.Gemini.APIKey, cfg.LLM.Gemini.Model))
	} else {
		log.Warn().Msg("Gemini API key is empty, skipping registration")
	}

	gateway := llm.NewGateway(llmRouter, masker, validator, llm.GatewayOptions{
		Timeout:       cfg.LLM.Timeout,
		MaxRetries:    cfg.LLM.MaxRetries,
		HistoryWindow: cfg.LLM.HistoryWindow,
		TokenCeiling:  cfg.LLM.TokenCeiling,
	})

	evaluator := evaluation.NewEngine(gateway, cfg.Evaluation.JudgeEnabled)

	orch := session.NewOrchestrator(
		sessionRepo, turnRepo, scenarios,
		limiter, validator, masker, auditor,
		retriever, gateway, evaluator,
		session.Options{PersistRetry: cfg.Session.PersistRetry},
	)
	manager := session.NewManager(orch, cfg.Session.QueueSize)

	// Handlers
	sessionHandler := handler.NewSessionHandler(orch)
	scenarioHandler := handler.NewScenarioHandler(scenarios)
	wsHandler := handler.NewWSHandler(manager, limiter, cfg.Security.MaxMessageLength)

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(db))

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Identity)

			r.Get("/scenarios", scenarioHandler.List)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Get("/history", sessionHandler.History)
					r.Post("/end", sessionHandler.End)
					r.Get("/ws", wsHandler.Serve)
				})
			})
		})
	})

	return r
}
