package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"docqa/internal/vectorstore"
)

func searchResults() []vectorstore.SearchResult {
	return []vectorstore.SearchResult{
		{ID: "a", Content: "Payment is due in fourteen days.", Score: 0.9},
		{ID: "b", Content: "The warranty covers defects.", Score: 0.8},
		{ID: "c", Content: "Either party may terminate.", Score: 0.7},
	}
}

func TestCrossEncoderReranker_Rerank(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if len(req.Inputs) != 3 {
			t.Errorf("expected 3 pairs, got %d", len(req.Inputs))
		}
		if req.Inputs[0].Text != "when is payment due" {
			t.Errorf("unexpected query: %q", req.Inputs[0].Text)
		}
		if req.Inputs[0].TextPair == "" {
			t.Error("expected document text in text_pair")
		}

		// Score the last document highest to verify reordering
		fmt.Fprint(w, `[[{"label":"LABEL_0","score":0.2}],[{"label":"LABEL_0","score":0.5}],[{"label":"LABEL_0","score":0.95}]]`)
	}))
	defer server.Close()

	r := NewCrossEncoderReranker("key", WithBaseURL(server.URL))

	results, err := r.Rerank(context.Background(), "when is payment due", searchResults(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "c" {
		t.Errorf("expected highest scored result first, got %s", results[0].ID)
	}
	if results[0].RerankerScore != 0.95 {
		t.Errorf("unexpected score: %f", results[0].RerankerScore)
	}
	if results[1].ID != "b" {
		t.Errorf("expected second highest next, got %s", results[1].ID)
	}
}

func TestCrossEncoderReranker_FlatResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"label":"LABEL_0","score":0.1},{"label":"LABEL_0","score":0.9},{"label":"LABEL_0","score":0.5}]`)
	}))
	defer server.Close()

	r := NewCrossEncoderReranker("", WithBaseURL(server.URL))

	results, err := r.Rerank(context.Background(), "query", searchResults(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].ID != "b" {
		t.Errorf("expected b first, got %s", results[0].ID)
	}
}

func TestCrossEncoderReranker_FallbackOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := NewCrossEncoderReranker("", WithBaseURL(server.URL))

	results, err := r.Rerank(context.Background(), "query", searchResults(), 2)
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 fallback results, got %d", len(results))
	}
	// Fallback preserves vector score order
	if results[0].ID != "a" || results[0].RerankerScore != 0.9 {
		t.Errorf("expected original order with vector scores, got %s %f", results[0].ID, results[0].RerankerScore)
	}
}

func TestCrossEncoderReranker_FallbackOnGarbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected":"shape"}`)
	}))
	defer server.Close()

	r := NewCrossEncoderReranker("", WithBaseURL(server.URL))

	results, err := r.Rerank(context.Background(), "query", searchResults(), 3)
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 fallback results, got %d", len(results))
	}
}

func TestCrossEncoderReranker_EmptyResults(t *testing.T) {
	r := NewCrossEncoderReranker("")

	results, err := r.Rerank(context.Background(), "query", nil, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil for empty input, got %v", results)
	}
}

func TestParseScores_Clamp(t *testing.T) {
	raw := []byte(`[{"label":"L","score":1.5},{"label":"L","score":-0.2}]`)
	scores, err := parseScores(raw, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores[0] != 1 || scores[1] != 0 {
		t.Errorf("scores not clamped: %v", scores)
	}
}

func TestParseScores_CountMismatch(t *testing.T) {
	raw := []byte(`[{"label":"L","score":0.5}]`)
	if _, err := parseScores(raw, 2); err == nil {
		t.Error("expected error for count mismatch")
	}
}
