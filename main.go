package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"kbase/features/exclusion"
	"kbase/features/job"
	"kbase/features/search"
	"kbase/features/stats"
	"kbase/internal/adapter/gemini"
	wstore "kbase/internal/adapter/weaviate"
	"kbase/internal/app"
	"kbase/internal/config"
	"kbase/internal/embed"
	"kbase/internal/fetcher/pdf"
	"kbase/internal/fetcher/web"
	"kbase/internal/logger"
	"kbase/internal/middleware"
	"kbase/internal/retrieval"
	"kbase/internal/text"
	"kbase/internal/worker"
)

func main() {
	// Structured logger with correlation IDs from context
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// 2. Infrastructure (Postgres, migrations, Weaviate, NSQ)
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("failed to bootstrap dependencies", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()

	vecStore := wstore.NewStore(deps.WeaviateClient)

	// 3. Embedding pipeline
	geminiEmbedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		slog.Error("failed to create gemini embedder", "error", err)
		os.Exit(1)
	}
	batcher := embed.NewBatcher(geminiEmbedder, cfg.EmbedBatchSize, cfg.EmbedMaxRetries)

	// 4. Fetchers
	renderer, err := web.NewChromeRenderer(web.ChromeConfig{
		MaxParallel:       cfg.FetchMaxParallel,
		UserAgent:         cfg.FetchUserAgent,
		NavigationTimeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
	})
	if err != nil {
		slog.Error("failed to create chrome renderer", "error", err)
		os.Exit(1)
	}
	defer renderer.Close()

	webFetcher := web.NewFetcher(renderer, cfg.MaxPagesPerJob)
	pdfExtractor := pdf.NewExtractor()
	splitter := text.NewSplitter(cfg.ChunkMinChars, cfg.ChunkMaxChars, cfg.ChunkOverlapChars)

	// 5. Features
	jobRepo := job.NewPostgresRepo(deps.DB)
	jobService := job.NewService(jobRepo, deps.NSQProducer, vecStore, cfg.MaxPDFBytes(), cfg.JobMaxAttempts)
	jobHandler := job.NewHandler(jobService, cfg.UploadDir, cfg.MaxPDFBytes())

	exclusionRepo := exclusion.NewPostgresRepo(deps.DB)
	exclusionService := exclusion.NewService(exclusionRepo, vecStore, jobService)
	exclusionHandler := exclusion.NewHandler(exclusionService)

	retrievalService := retrieval.NewService(geminiEmbedder, vecStore, exclusionService, 5)
	searchHandler := search.NewHandler(retrievalService)

	statsHandler := stats.NewHandler(jobRepo, exclusionRepo, vecStore)

	// 6. Worker
	if cfg.EnableWorker {
		w := worker.New(jobRepo, webFetcher, pdfExtractor, splitter, batcher, vecStore, cfg.JobMaxAttempts)
		w.SetStaleAfter(time.Duration(cfg.JobStaleAfterSeconds) * time.Second)

		consumer, err := nsq.NewConsumer(job.KickTopic, "worker", nsq.NewConfig())
		if err != nil {
			slog.Error("failed to create NSQ kick consumer", "error", err)
		} else {
			consumer.AddHandler(worker.NewKickConsumer(w))
			if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
				slog.Error("failed to connect to NSQLookupd", "error", err)
			} else {
				slog.Info("NSQ kick consumer connected")
			}
		}

		go w.RunTicker(ctx, time.Duration(cfg.WorkerPollSeconds)*time.Second)
	}

	enableCORS := middleware.CORS

	// Routes
	http.Handle("POST /jobs/web", middleware.CorrelationID(enableCORS(jobHandler.SubmitWeb)))
	http.Handle("POST /jobs/pdf", middleware.CorrelationID(enableCORS(jobHandler.SubmitPDF)))
	http.Handle("POST /jobs/poll", middleware.CorrelationID(enableCORS(jobHandler.Poll)))
	http.Handle("GET /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Get)))
	http.Handle("POST /jobs/{id}/resubmit", middleware.CorrelationID(enableCORS(jobHandler.Resubmit)))
	http.Handle("POST /jobs/urls", middleware.CorrelationID(enableCORS(jobHandler.CrawledURLs)))
	http.Handle("DELETE /jobs", middleware.CorrelationID(enableCORS(jobHandler.Delete)))

	http.Handle("POST /exclusions", middleware.CorrelationID(enableCORS(exclusionHandler.Exclude)))
	http.Handle("POST /exclusions/cleanup", middleware.CorrelationID(enableCORS(exclusionHandler.Cleanup)))

	http.Handle("POST /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))
	http.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// 7. Start Server
	slog.Info("server starting", "port", cfg.ServerPort)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.ServerPort), nil); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
