package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	rerankAPI   = "https://api.cohere.com/v2/rerank"
	rerankModel = "rerank-v3.5"
)

// RerankResult is one scored entry of a rerank call. Index refers to the
// position of the document in the submitted batch.
type RerankResult struct {
	Index int
	Score float64
}

// CohereReranker scores (query, chunk) pairs with a cross-encoder model.
// The fused retrieval scores from two different signals are not
// comparable against an absolute threshold; the reranker produces the
// single calibrated scale the confidence gate operates on.
type CohereReranker struct {
	apiKey string
	client *http.Client
}

// NewCohereReranker creates a reranker using COHERE_API_KEY from the environment
func NewCohereReranker() (*CohereReranker, error) {
	apiKey := os.Getenv("COHERE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("COHERE_API_KEY not set")
	}
	return &CohereReranker{
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Rerank submits one batched scoring call for all documents. A failure
// is returned to the caller; skipping reranking would let ungated
// evidence through, so there is no fallback.
func (r *CohereReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"model":     rerankModel,
		"query":     query,
		"documents": documents,
		"top_n":     topN,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", rerankAPI, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank API error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	results := make([]RerankResult, 0, len(apiResp.Results))
	for _, item := range apiResp.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			return nil, fmt.Errorf("rerank returned out-of-range index %d", item.Index)
		}
		results = append(results, RerankResult{Index: item.Index, Score: item.RelevanceScore})
	}
	return results, nil
}
