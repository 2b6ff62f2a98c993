package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultHFBaseURL is the default Hugging Face router base URL.
	DefaultHFBaseURL = "https://router.huggingface.co"

	// DefaultHFModel is the default embedding model.
	DefaultHFModel = "sentence-transformers/all-MiniLM-L6-v2"

	// DefaultHFDimension is the embedding dimension for all-MiniLM-L6-v2.
	DefaultHFDimension = 384

	// DefaultMaxBatchSize is the max number of texts per API request.
	DefaultMaxBatchSize = 64
)

// HFConfig holds configuration for the Hugging Face embedder.
type HFConfig struct {
	// BaseURL is the Hugging Face router base URL.
	BaseURL string

	// APIKey is the Hugging Face access token.
	APIKey string

	// Model is the embedding model to use.
	Model string

	// Dimension is the embedding dimension (default: 384 for all-MiniLM-L6-v2).
	Dimension int

	// MaxBatchSize limits how many texts go into one API request.
	MaxBatchSize int

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// HFEmbedder implements the Embedder interface using the Hugging Face
// Inference API's feature-extraction pipeline.
type HFEmbedder struct {
	baseURL      string
	apiKey       string
	model        string
	dimension    int
	maxBatchSize int
	client       *http.Client
}

// NewHFEmbedder creates a new Hugging Face embedder with the given configuration.
func NewHFEmbedder(cfg HFConfig) *HFEmbedder {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultHFBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultHFModel
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = GetModelConfig(model).Dimension
	}

	maxBatchSize := cfg.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &HFEmbedder{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		model:        model,
		dimension:    dimension,
		maxBatchSize: maxBatchSize,
		client:       client,
	}
}

// hfRequest represents the request body for the feature-extraction pipeline.
type hfRequest struct {
	Inputs []string `json:"inputs"`
}

// Embed generates an embedding vector for a single text input.
func (e *HFEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for multiple text inputs.
// Requests are batched: the feature-extraction endpoint accepts an array of
// inputs and returns one vector per input.
func (e *HFEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.maxBatchSize {
		end := start + e.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch embedding failed at offset %d: %w", start, err)
		}
		results = append(results, vectors...)
	}

	return results, nil
}

func (e *HFEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(hfRequest{Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/hf-inference/models/%s/pipeline/feature-extraction", e.baseURL, e.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("hugging face API error (status %d): %s", resp.StatusCode, string(body))
	}

	var raw [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(raw) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(raw))
	}

	vectors := make([][]float32, len(raw))
	for i, values := range raw {
		if len(values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		vector := make([]float32, len(values))
		for j, v := range values {
			vector[j] = float32(v)
		}
		vectors[i] = vector
	}

	return vectors, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *HFEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *HFEmbedder) ModelName() string {
	return e.model
}

// Ensure HFEmbedder implements Embedder interface.
var _ Embedder = (*HFEmbedder)(nil)
