package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/spendsight/spendsight/internal/cache"
	"github.com/spendsight/spendsight/internal/category"
	"github.com/spendsight/spendsight/internal/config"
	"github.com/spendsight/spendsight/internal/database"
	"github.com/spendsight/spendsight/internal/document"
	"github.com/spendsight/spendsight/internal/inference"
	"github.com/spendsight/spendsight/internal/llm"
	"github.com/spendsight/spendsight/internal/merchant"
	"github.com/spendsight/spendsight/internal/notify"
	"github.com/spendsight/spendsight/internal/pipeline"
	"github.com/spendsight/spendsight/internal/queue"
	"github.com/spendsight/spendsight/internal/queue/workers"
	"github.com/spendsight/spendsight/internal/rules"
	"github.com/spendsight/spendsight/internal/storage"
	"github.com/spendsight/spendsight/internal/store"
	"github.com/spendsight/spendsight/internal/transaction"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	blobs := storage.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey)
	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	gw := llm.NewGateway(cfg.LLM)
	inf := inference.NewClient(gw)
	notifier := notify.NewClient(cfg.Notify)

	docSvc := document.NewService(db, blobs, cfg.Storage.Bucket, queueClient)
	ruleStore := rules.NewStore(db)
	categorySvc := category.NewService(db)
	merchantStore := merchant.NewStore(db, gw, cfg.LLM.EmbeddingModel)
	txStore := transaction.NewStore(db)
	commitStore := store.NewCommitStore(db)
	recipients := store.NewRecipients(db)

	rasterizer := pipeline.NewRasterizer(blobs, cache.NewCache(rdb), cfg.Storage.Bucket, cfg.Pipeline.RasterDPI)
	validator := pipeline.NewValidator(inf, cfg.LLM.VisionModel)
	extractor := pipeline.NewExtractor(inf, cfg.LLM.VisionModel)
	committer := pipeline.NewCommitter(commitStore, notifier, recipients, queueClient)

	pipe := pipeline.New(
		docSvc, rasterizer, validator, extractor, committer,
		ruleStore, categorySvc, merchantStore, notifier, recipients,
		inf, blobs, cfg.Storage.Bucket,
		pipeline.Config{
			Model:           cfg.LLM.VisionModel,
			ValidationPages: cfg.Pipeline.ValidationPages,
		},
	)
	refiner := pipeline.NewRefiner(txStore, categorySvc, merchantStore, inf, cfg.LLM.DefaultModel, cfg.Pipeline.RefineThreshold)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			// Fixed linear backoff; document processing is idempotent so
			// there is nothing to gain from jitter.
			RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
				return time.Duration(n) * 30 * time.Second
			},
		},
	)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypePipelineRun, asynq.HandlerFunc(workers.NewPipelineWorker(pipe).ProcessTask))
	registry.Register(queue.TypeRefineRun, asynq.HandlerFunc(workers.NewRefineWorker(refiner).ProcessTask))

	grace := time.Duration(cfg.Pipeline.RetentionDays) * 24 * time.Hour
	registry.Register(queue.TypeRetentionSweep, asynq.HandlerFunc(workers.NewRetentionWorker(docSvc, grace).ProcessTask))

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every 1h", asynq.NewTask(queue.TypeRetentionSweep, nil)); err != nil {
		slog.Error("failed to register retention schedule", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			slog.Error("scheduler error", "error", err)
		}
	}()

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
