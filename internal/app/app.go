package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"qsearch/features/ingest"
	"qsearch/features/search"
	"qsearch/features/stats"
	"qsearch/internal/adapter/gemini"
	"qsearch/internal/config"
	"qsearch/internal/docparse"
	"qsearch/internal/fetch"
	"qsearch/internal/jobstatus"
	"qsearch/internal/middleware"
	"qsearch/internal/pipeline"
	"qsearch/internal/retrieval"
	"qsearch/internal/vector"
	"qsearch/internal/worker"
)

type App struct {
	Handler        http.Handler
	Status         jobstatus.Store
	IngestConsumer *worker.IngestConsumer
	DeleteConsumer *worker.DeleteConsumer

	port int
}

func New(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	vecStore vector.Store,
	taskPub ingest.EventPublisher,
) (*App, error) {
	retention := time.Duration(cfg.JobRetentionHours) * time.Hour
	status := jobstatus.NewPostgresStore(db, retention)

	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("gemini client error: %w", err)
	}

	maxUpload := cfg.MaxUploadSizeMB * 1024 * 1024
	fetcher := fetch.NewFetcher(&http.Client{Timeout: cfg.FetchTimeout}, maxUpload)
	parser := docparse.NewParser(0)

	policies := pipeline.Policies{
		Acquire: pipeline.RetryPolicy{MaxAttempts: cfg.AcquireMaxAttempts, Backoff: cfg.RetryBackoffBase, MaxBackoff: cfg.RetryBackoffMax},
		Embed:   pipeline.RetryPolicy{MaxAttempts: cfg.EmbedMaxAttempts, Backoff: cfg.RetryBackoffBase, MaxBackoff: cfg.RetryBackoffMax},
		Upsert:  pipeline.RetryPolicy{MaxAttempts: cfg.StoreMaxAttempts, Backoff: cfg.RetryBackoffBase, MaxBackoff: cfg.RetryBackoffMax},
		Delete:  pipeline.RetryPolicy{MaxAttempts: cfg.DeleteMaxAttempts, Backoff: cfg.RetryBackoffBase, MaxBackoff: cfg.RetryBackoffMax},
	}
	timeouts := pipeline.Timeouts{
		Fetch:  cfg.FetchTimeout,
		Embed:  cfg.EmbedTimeout,
		Upsert: cfg.UpsertTimeout,
	}
	runner := pipeline.NewRunner(fetcher, parser, embedder, vecStore, status, cfg.EmbeddingDimension, policies, timeouts)

	// Feature: Ingest
	ingestService := ingest.NewService(status, taskPub)
	ingestHandler := ingest.NewHandler(ingestService, cfg.UploadDir, maxUpload)

	// Feature: Search
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, vecStore, queryLogger)
	searchHandler := search.NewHandler(retrievalService)

	// Feature: Stats
	statsHandler := stats.NewHandler(status, vecStore)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/ingest/url", middleware.CorrelationID(enableCORS(ingestHandler.IngestURL)))
	mux.Handle("POST /api/v1/ingest/file", middleware.CorrelationID(enableCORS(ingestHandler.IngestFile)))
	mux.Handle("GET /api/v1/task/{id}", middleware.CorrelationID(enableCORS(ingestHandler.GetStatus)))
	mux.Handle("DELETE /api/v1/document", middleware.CorrelationID(enableCORS(ingestHandler.DeleteDocument)))

	mux.Handle("POST /api/v1/search", middleware.CorrelationID(enableCORS(searchHandler.Search)))

	mux.Handle("GET /api/v1/stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:        mux,
		Status:         status,
		IngestConsumer: worker.NewIngestConsumer(runner, cfg.UploadDir),
		DeleteConsumer: worker.NewDeleteConsumer(runner),
		port:           cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// PurgeLoop deletes expired job snapshots once an hour until ctx ends.
func (a *App) PurgeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Status.PurgeExpired(ctx)
			if err != nil {
				slog.Warn("failed to purge expired jobs", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged expired job snapshots", "count", n)
			}
		}
	}
}
