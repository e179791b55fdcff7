package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/expense-bot/internal/api/handlers"
	"github.com/dvloznov/expense-bot/internal/api/middleware"
	"github.com/dvloznov/expense-bot/internal/archive"
	"github.com/dvloznov/expense-bot/internal/config"
	"github.com/dvloznov/expense-bot/internal/jobs"
	"github.com/dvloznov/expense-bot/internal/jobs/inmemory"
	"github.com/dvloznov/expense-bot/internal/logger"
	"github.com/dvloznov/expense-bot/internal/notion"
	"github.com/dvloznov/expense-bot/internal/oracle"
	"github.com/dvloznov/expense-bot/internal/pipeline"
	"github.com/dvloznov/expense-bot/internal/taxonomy"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	// Notion gateway: primary store and taxonomy source. The schema check up
	// front turns a misconfigured database into a startup failure instead of
	// a failure on the first message.
	gateway := notion.NewGateway(notion.NewClient(cfg.NotionToken), cfg.NotionDBID)
	if err := gateway.VerifySchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Notion database schema verification failed")
	}
	source := taxonomy.NewCachedSource(gateway, cfg.TaxonomyCacheTTL)

	extractor, err := oracle.New(ctx, cfg.ModelName, cfg.Location)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extraction oracle")
	}

	validator := pipeline.NewValidator(pipeline.ValidatorOptions{
		CatchAllCategory: cfg.CatchAllCategory,
		Conflict:         pipeline.ConflictPreference(cfg.ConflictPreference),
		Location:         cfg.Location,
	})

	opts := []pipeline.Option{pipeline.WithModelName(cfg.ModelName)}
	if cfg.MirrorEnabled() {
		ledger, err := archive.New(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create analytics mirror")
		}
		defer ledger.Close()
		opts = append(opts, pipeline.WithArchiver(ledger))
		log.Info().
			Str("project", cfg.BigQueryProject).
			Str("dataset", cfg.BigQueryDataset).
			Msg("Analytics mirror enabled")
	}

	p := pipeline.New(source, extractor, gateway, validator, opts...)

	// Job infrastructure with embedded workers.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 5, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, jobs.NewRecordMessageHandler(p)); err != nil {
			log.Error().Err(err).Msg("Job workers stopped with error")
		}
	}()

	expenseHandler := handlers.NewExpenseHandler(p, jobQueue, jobStore, source, log)

	mux := http.NewServeMux()
	expenseHandler.Register(mux)

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
