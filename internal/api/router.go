package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/spendsight/spendsight/internal/api/handlers"
	"github.com/spendsight/spendsight/internal/api/middleware"
	"github.com/spendsight/spendsight/internal/auth"
	"github.com/spendsight/spendsight/internal/category"
	"github.com/spendsight/spendsight/internal/config"
	"github.com/spendsight/spendsight/internal/document"
	"github.com/spendsight/spendsight/internal/llm"
	"github.com/spendsight/spendsight/internal/merchant"
	"github.com/spendsight/spendsight/internal/queue"
	"github.com/spendsight/spendsight/internal/rules"
	"github.com/spendsight/spendsight/internal/storage"
	"github.com/spendsight/spendsight/internal/tenant"
	"github.com/spendsight/spendsight/internal/transaction"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	ts    *tenant.Service
	jwt   *auth.Middleware
	llmGW llm.Gateway
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	ts := tenant.NewService(db)
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		ts:    ts,
		jwt:   auth.NewMiddleware(cfg.Auth.JWTSecret, ts),
		llmGW: llm.NewGateway(cfg.LLM),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Initialize services
	store := storage.NewSupabaseStorage(rt.cfg.Storage.SupabaseURL, rt.cfg.Storage.SupabaseKey)
	queueClient := queue.NewClient(rt.cfg.Redis)
	docSvc := document.NewService(rt.db, store, rt.cfg.Storage.Bucket, queueClient)
	ruleStore := rules.NewStore(rt.db)
	categorySvc := category.NewService(rt.db)
	merchantStore := merchant.NewStore(rt.db, rt.llmGW, rt.cfg.LLM.EmbeddingModel)
	txStore := transaction.NewStore(rt.db)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		docH := handlers.NewDocumentHandler(docSvc, rt.cfg.Pipeline.MaxUploadBytes)
		txH := handlers.NewTransactionHandler(txStore)
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Submit)
			r.Get("/", docH.List)
			r.Get("/{id}", docH.Get)
			r.Delete("/{id}", docH.Delete)
			r.Get("/{id}/status", docH.Status)
			r.Post("/{id}/cancel", docH.Cancel)
			r.Get("/{id}/download", docH.DownloadURL)
			r.Get("/{id}/transactions", txH.ListByDocument)
		})

		ruleH := handlers.NewRuleHandler(ruleStore)
		r.Route("/rules", func(r chi.Router) {
			r.Post("/", ruleH.Create)
			r.Get("/", ruleH.List)
			r.Delete("/{id}", ruleH.Delete)
		})

		categoryH := handlers.NewCategoryHandler(categorySvc)
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", categoryH.List)
			r.Delete("/{id}", categoryH.Delete)
		})

		mappingH := handlers.NewMappingHandler(merchantStore)
		r.Route("/mappings", func(r chi.Router) {
			r.Post("/", mappingH.Confirm)
			r.Get("/", mappingH.List)
		})
	})

	return r
}
