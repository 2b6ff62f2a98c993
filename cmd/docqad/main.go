package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docqa/internal/config"
	"docqa/internal/embedder"
	"docqa/internal/ingestion"
	"docqa/internal/llm"
	"docqa/internal/repository"
	"docqa/internal/repository/postgres"
	"docqa/internal/reranker"
	"docqa/internal/server"
	"docqa/internal/service"
	"docqa/internal/vectorstore"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := ingestion.ValidateChunkerConfig(repository.ChunkerConfig{
		Method:     cfg.ChunkMethod,
		TargetSize: cfg.ChunkTargetSize,
		MaxSize:    cfg.ChunkMaxSize,
		Overlap:    cfg.ChunkOverlap,
	}); err != nil {
		return fmt.Errorf("invalid chunker config: %w", err)
	}

	slog.Info("starting document Q&A service",
		"http_port", cfg.HTTPPort,
		"vector_backend", cfg.VectorBackend,
		"environment", cfg.Environment,
	)

	// Initialize PostgreSQL document registry
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	documentRepo := postgres.NewDocumentRepo(db)

	// Initialize the vector store backend
	vectorStore, err := openVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := vectorStore.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	slog.Info("connected to vector store", "backend", cfg.VectorBackend)

	// Initialize the Hugging Face clients
	embed := embedder.NewHFEmbedder(embedder.HFConfig{
		BaseURL:   cfg.HFBaseURL,
		APIKey:    cfg.HFAPIKey,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDim,
	})
	slog.Info("initialized embedder", "model", cfg.EmbeddingModel)

	llmClient := llm.NewHFClient(cfg.HFAPIKey,
		llm.WithBaseURL(cfg.HFBaseURL),
		llm.WithModel(cfg.HFModel),
	)
	slog.Info("initialized LLM", "model", cfg.HFModel)

	rerank := reranker.NewCrossEncoderReranker(cfg.HFAPIKey,
		reranker.WithBaseURL(cfg.HFBaseURL),
		reranker.WithModel(cfg.RerankModel),
	)
	slog.Info("initialized reranker", "model", cfg.RerankModel, "enabled", cfg.RerankerEnabled)

	if err := vectorStore.EnsureCollection(ctx, embed.Dimension()); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}

	sparse := vectorstore.NewSparseVectorizer()

	// Initialize services
	answerSvc := service.NewAnswerService(embed, vectorStore, llmClient,
		service.AnswerConfig{
			TopK:            cfg.TopK,
			RerankTopK:      cfg.RerankTopK,
			MinScore:        cfg.MinScore,
			Model:           cfg.HFModel,
			RerankerEnabled: cfg.RerankerEnabled,
		},
		service.WithReranker(rerank),
		service.WithSparseVectorizer(sparse),
	)

	ingestSvc := service.NewIngestService(documentRepo, embed, vectorStore, slog.Default(),
		service.WithIngestSparseVectorizer(sparse),
		service.WithChunkerConfig(repository.ChunkerConfig{
			Method:     cfg.ChunkMethod,
			TargetSize: cfg.ChunkTargetSize,
			MaxSize:    cfg.ChunkMaxSize,
			Overlap:    cfg.ChunkOverlap,
		}),
	)

	// Create the HTTP server
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		AnswerService:  answerSvc,
		IngestService:  ingestSvc,
		Readiness: []server.ReadinessChecker{
			db.Ping,
			func(ctx context.Context) error {
				_, err := vectorStore.Count(ctx)
				return err
			},
		},
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// openVectorStore constructs the configured vector store backend. The local
// backend repairs a corrupt index file automatically at startup.
func openVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.VectorStore, error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		store, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.CollectionName)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		return store, nil

	case config.BackendLocal:
		store, err := vectorstore.NewLocalStore(cfg.LocalStorePath)
		if err == nil {
			return store, nil
		}

		backup, repairErr := vectorstore.RepairIndexFile(cfg.LocalStorePath)
		if repairErr != nil {
			return nil, fmt.Errorf("failed to open local index: %w", err)
		}
		slog.Warn("recovered corrupt local index", "backup", backup)

		store, err = vectorstore.NewLocalStore(cfg.LocalStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open local index after repair: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ vectorstore.VectorStore       = (*vectorstore.QdrantStore)(nil)
	_ vectorstore.VectorStore       = (*vectorstore.LocalStore)(nil)
	_ embedder.Embedder             = (*embedder.HFEmbedder)(nil)
	_ llm.LLM                       = (*llm.HFClient)(nil)
	_ reranker.Reranker             = (*reranker.CrossEncoderReranker)(nil)
)
