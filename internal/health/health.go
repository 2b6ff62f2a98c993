// Package health runs deployment checks against the service's dependencies.
package health

import (
	"context"
	"fmt"
	"strings"

	"docqa/internal/config"
	"docqa/internal/llm"
	"docqa/internal/vectorstore"
)

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Name   string
	OK     bool
	Detail string
}

// Pinger reports whether the document registry is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures which checks run.
type Options struct {
	// SkipLLM skips the model access check, which costs an API call.
	SkipLLM bool

	// Repair moves a corrupt local index file aside so a fresh one can
	// be created. Only applies to the local vector store backend.
	Repair bool
}

// Checker runs the health checks.
type Checker struct {
	cfg      *config.Config
	registry Pinger
	llm      llm.LLM
}

// NewChecker creates a health checker. registry and model may be nil when the
// corresponding dependency could not be constructed; those checks then fail
// with an explanatory detail.
func NewChecker(cfg *config.Config, registry Pinger, model llm.LLM) *Checker {
	return &Checker{cfg: cfg, registry: registry, llm: model}
}

// Run executes all checks and returns their results. The boolean is true only
// when every check passed.
func (c *Checker) Run(ctx context.Context, opts Options) ([]CheckResult, bool) {
	results := []CheckResult{
		c.checkEnvironment(),
		c.checkRegistry(ctx),
		c.checkVectorStore(ctx, opts.Repair),
	}

	if opts.SkipLLM {
		results = append(results, CheckResult{
			Name:   "model access",
			OK:     true,
			Detail: "skipped",
		})
	} else {
		results = append(results, c.checkModel(ctx))
	}

	allOK := true
	for _, r := range results {
		if !r.OK {
			allOK = false
		}
	}
	return results, allOK
}

// checkEnvironment verifies the API credentials are configured.
func (c *Checker) checkEnvironment() CheckResult {
	if strings.TrimSpace(c.cfg.HFAPIKey) == "" {
		return CheckResult{
			Name:   "environment",
			Detail: "HUGGINGFACE_API_KEY is not set",
		}
	}
	return CheckResult{
		Name:   "environment",
		OK:     true,
		Detail: fmt.Sprintf("model %s, embedding %s", c.cfg.HFModel, c.cfg.EmbeddingModel),
	}
}

// checkRegistry pings the document registry database.
func (c *Checker) checkRegistry(ctx context.Context) CheckResult {
	if c.registry == nil {
		return CheckResult{
			Name:   "registry",
			Detail: "registry connection unavailable",
		}
	}
	if err := c.registry.Ping(ctx); err != nil {
		return CheckResult{
			Name:   "registry",
			Detail: fmt.Sprintf("ping failed: %v", err),
		}
	}
	return CheckResult{Name: "registry", OK: true, Detail: "connected"}
}

// checkVectorStore opens the configured backend and counts indexed chunks.
// With repair enabled, a corrupt local index is moved aside and recreated.
func (c *Checker) checkVectorStore(ctx context.Context, repair bool) CheckResult {
	store, detail, err := c.openVectorStore(ctx, repair)
	if err != nil {
		return CheckResult{Name: "vector store", Detail: err.Error()}
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	count, err := store.Count(ctx)
	if err != nil {
		return CheckResult{
			Name:   "vector store",
			Detail: fmt.Sprintf("count failed: %v", err),
		}
	}

	result := fmt.Sprintf("%d chunks indexed", count)
	if detail != "" {
		result = detail + "; " + result
	}
	return CheckResult{Name: "vector store", OK: true, Detail: result}
}

func (c *Checker) openVectorStore(ctx context.Context, repair bool) (vectorstore.VectorStore, string, error) {
	switch c.cfg.VectorBackend {
	case config.BackendQdrant:
		store, err := vectorstore.NewQdrantStore(ctx, c.cfg.QdrantGRPCURL, c.cfg.CollectionName)
		if err != nil {
			return nil, "", fmt.Errorf("qdrant connect failed: %w", err)
		}
		return store, "", nil

	case config.BackendLocal:
		store, err := vectorstore.NewLocalStore(c.cfg.LocalStorePath)
		if err == nil {
			return store, "", nil
		}
		if !repair {
			return nil, "", fmt.Errorf("local index failed: %w (rerun with repair to move it aside)", err)
		}

		backup, repairErr := vectorstore.RepairIndexFile(c.cfg.LocalStorePath)
		if repairErr != nil {
			return nil, "", fmt.Errorf("repair failed: %w", repairErr)
		}
		store, err = vectorstore.NewLocalStore(c.cfg.LocalStorePath)
		if err != nil {
			return nil, "", fmt.Errorf("local index still failing after repair: %w", err)
		}
		return store, fmt.Sprintf("repaired, corrupt index moved to %s", backup), nil

	default:
		return nil, "", fmt.Errorf("unknown vector backend %q", c.cfg.VectorBackend)
	}
}

// checkModel sends a minimal probe request to the hosted LLM.
func (c *Checker) checkModel(ctx context.Context) CheckResult {
	if c.llm == nil {
		return CheckResult{
			Name:   "model access",
			Detail: "LLM client unavailable",
		}
	}

	response, err := c.llm.Generate(ctx, "Reply with OK", llm.GenerateOptions{
		Model:       c.cfg.HFModel,
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		return CheckResult{
			Name:   "model access",
			Detail: fmt.Sprintf("probe failed: %v", err),
		}
	}

	return CheckResult{
		Name:   "model access",
		OK:     true,
		Detail: fmt.Sprintf("model responded: %s", strings.TrimSpace(response)),
	}
}
