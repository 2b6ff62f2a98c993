package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"docqa/internal/vectorstore"
)

const (
	// DefaultHFBaseURL is the default Hugging Face router endpoint.
	DefaultHFBaseURL = "https://router.huggingface.co"

	// DefaultRerankModel is the default cross-encoder model.
	DefaultRerankModel = "cross-encoder/ms-marco-MiniLM-L-6-v2"
)

// CrossEncoderReranker scores query-document pairs with a hosted cross-encoder
// model via the Hugging Face text-classification pipeline. The model sees both
// query and document together, enabling more accurate relevance assessment
// than independent embeddings.
//
// Scoring failures never fail the query. If the API call or response parsing
// fails, results fall back to their original vector similarity order.
type CrossEncoderReranker struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// CrossEncoderOption is a functional option for configuring CrossEncoderReranker.
type CrossEncoderOption func(*CrossEncoderReranker)

// WithBaseURL sets a custom base URL for the Hugging Face router.
func WithBaseURL(url string) CrossEncoderOption {
	return func(r *CrossEncoderReranker) {
		r.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithModel sets the cross-encoder model to use for reranking.
func WithModel(model string) CrossEncoderOption {
	return func(r *CrossEncoderReranker) {
		r.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) CrossEncoderOption {
	return func(r *CrossEncoderReranker) {
		r.httpClient = client
	}
}

// NewCrossEncoderReranker creates a new cross-encoder reranker.
func NewCrossEncoderReranker(apiKey string, opts ...CrossEncoderOption) *CrossEncoderReranker {
	r := &CrossEncoderReranker{
		baseURL: DefaultHFBaseURL,
		apiKey:  apiKey,
		model:   DefaultRerankModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// classificationInput is one query-document pair for the text-classification pipeline.
type classificationInput struct {
	Text     string `json:"text"`
	TextPair string `json:"text_pair"`
}

type classificationRequest struct {
	Inputs []classificationInput `json:"inputs"`
}

// classificationLabel is one label-score entry in the pipeline response.
type classificationLabel struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Rerank scores each result against the query and returns the top K by score.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, results []vectorstore.SearchResult, topK int) ([]ScoredResult, error) {
	if len(results) == 0 {
		return nil, nil
	}

	if len(results) <= topK {
		topK = len(results)
	}

	scores, err := r.score(ctx, query, results)
	if err != nil {
		// Fallback: return original results with their vector scores
		return r.fallbackScoring(results, topK), nil
	}

	scoredResults := make([]ScoredResult, len(results))
	for i, result := range results {
		scoredResults[i] = ScoredResult{
			SearchResult:  result,
			RerankerScore: scores[i],
		}
	}

	// Sort by reranker score (descending)
	sort.SliceStable(scoredResults, func(i, j int) bool {
		return scoredResults[i].RerankerScore > scoredResults[j].RerankerScore
	})

	if len(scoredResults) > topK {
		scoredResults = scoredResults[:topK]
	}

	return scoredResults, nil
}

// score sends all query-document pairs in one request and returns one score per result.
func (r *CrossEncoderReranker) score(ctx context.Context, query string, results []vectorstore.SearchResult) ([]float32, error) {
	inputs := make([]classificationInput, len(results))
	for i, result := range results {
		// Truncate content to avoid token limits
		content := result.Content
		if len(content) > 2000 {
			content = content[:2000]
		}
		inputs[i] = classificationInput{Text: query, TextPair: content}
	}

	body, err := json.Marshal(classificationRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/hf-inference/models/%s/pipeline/text-classification", r.baseURL, r.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("hugging face API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return parseScores(raw, len(results))
}

// parseScores handles the two shapes the pipeline returns: a flat list of
// label-score objects (one per input) or a nested list (one label set per input).
func parseScores(raw []byte, numResults int) ([]float32, error) {
	var nested [][]classificationLabel
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) == numResults {
		scores := make([]float32, numResults)
		for i, labels := range nested {
			if len(labels) == 0 {
				return nil, fmt.Errorf("empty label set at index %d", i)
			}
			scores[i] = clamp(labels[0].Score)
		}
		return scores, nil
	}

	var flat []classificationLabel
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) == numResults {
		scores := make([]float32, numResults)
		for i, label := range flat {
			scores[i] = clamp(label.Score)
		}
		return scores, nil
	}

	return nil, fmt.Errorf("unrecognized classification response: %s", string(raw))
}

func clamp(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// fallbackScoring returns results with their original vector similarity scores.
func (r *CrossEncoderReranker) fallbackScoring(results []vectorstore.SearchResult, topK int) []ScoredResult {
	scoredResults := make([]ScoredResult, len(results))
	for i, result := range results {
		scoredResults[i] = ScoredResult{
			SearchResult:  result,
			RerankerScore: result.Score, // Use original vector score
		}
	}

	if len(scoredResults) > topK {
		scoredResults = scoredResults[:topK]
	}

	return scoredResults
}

// Ensure CrossEncoderReranker implements Reranker interface.
var _ Reranker = (*CrossEncoderReranker)(nil)
