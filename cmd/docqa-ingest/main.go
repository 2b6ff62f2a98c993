// Command docqa-ingest indexes PDF files from the command line, bypassing the
// HTTP upload endpoint. Useful for bulk-loading a document set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"docqa/internal/config"
	"docqa/internal/embedder"
	"docqa/internal/ingestion"
	"docqa/internal/repository"
	"docqa/internal/repository/postgres"
	"docqa/internal/service"
	"docqa/internal/vectorstore"
)

func main() {
	clearIndex := flag.Bool("clear", false, "clear the index before ingesting")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file.pdf [file.pdf ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(context.Background(), flag.Args(), *clearIndex); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, paths []string, clearIndex bool) error {
	if len(paths) == 0 && !clearIndex {
		flag.Usage()
		return fmt.Errorf("no files given")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	chunkerCfg := repository.ChunkerConfig{
		Method:     cfg.ChunkMethod,
		TargetSize: cfg.ChunkTargetSize,
		MaxSize:    cfg.ChunkMaxSize,
		Overlap:    cfg.ChunkOverlap,
	}
	if err := ingestion.ValidateChunkerConfig(chunkerCfg); err != nil {
		return fmt.Errorf("invalid chunker config: %w", err)
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	documentRepo := postgres.NewDocumentRepo(db)

	store, err := openVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	embed := embedder.NewHFEmbedder(embedder.HFConfig{
		BaseURL:   cfg.HFBaseURL,
		APIKey:    cfg.HFAPIKey,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDim,
	})

	if err := store.EnsureCollection(ctx, embed.Dimension()); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}

	ingestSvc := service.NewIngestService(documentRepo, embed, store, slog.Default(),
		service.WithIngestSparseVectorizer(vectorstore.NewSparseVectorizer()),
		service.WithChunkerConfig(chunkerCfg),
	)

	if clearIndex {
		deleted, err := ingestSvc.ClearIndex(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
		fmt.Printf("cleared %d chunks\n", deleted)
		if len(paths) == 0 {
			return nil
		}
	}

	result, err := ingestSvc.IngestFiles(ctx, paths, nil)
	if err != nil {
		return err
	}

	for _, doc := range result.Ingested {
		if doc.Duplicate {
			fmt.Printf("skipped %s: already indexed (%s)\n", doc.Source, doc.DocumentID)
			continue
		}
		fmt.Printf("indexed %s: %d pages, %d chunks (%s)\n", doc.Source, doc.Pages, doc.Chunks, doc.DocumentID)
	}
	for _, fail := range result.Failed {
		fmt.Printf("failed %s: %s\n", fail.Source, fail.Error)
	}
	fmt.Printf("done: %d indexed, %d failed, %d chunks total\n",
		len(result.Ingested), len(result.Failed), result.TotalChunks)

	if len(result.Failed) > 0 {
		return fmt.Errorf("%d of %d files failed", len(result.Failed), len(paths))
	}
	return nil
}

// openVectorStore mirrors the server's backend selection, including the
// automatic repair of a corrupt local index.
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
