package rerankers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	rhttp "ragbase/backend/go/pkg/http"
)

// MetadataKeyRerankScore is set on every reranked hit.
const MetadataKeyRerankScore = "rerank_score"

// Reranker re-orders retrieved hits by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []schema.Hit) ([]schema.Hit, error)
}

// CohereReranker implements Reranker using the Cohere Rerank API.
type CohereReranker struct {
	apiKey     string
	baseURL    string
	httpClient *rhttp.Client
	model      string
	topN       int
}

// cohereRerankRequest defines the request body for the Cohere Rerank API.
type cohereRerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

// NewCohereReranker creates a new CohereReranker. baseURL defaults to
// https://api.cohere.ai; topN <= 0 keeps every hit.
func NewCohereReranker(apiKey, model, baseURL string, topN int, client *rhttp.Client) *CohereReranker {
	if baseURL == "" {
		baseURL = "https://api.cohere.ai"
	}
	if client == nil {
		client = rhttp.NewClient()
	}
	return &CohereReranker{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		model:      model,
		topN:       topN,
	}
}

// Rerank re-orders hits by the relevance score returned by Cohere. The
// similarity Score of each hit is kept; the relevance score is stored in
// metadata under MetadataKeyRerankScore.
func (r *CohereReranker) Rerank(ctx context.Context, query string, hits []schema.Hit) ([]schema.Hit, error) {
	const op = "rerankers.Cohere"
	if len(hits) == 0 {
		return hits, nil
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Document.Text
	}
	payload, err := json.Marshal(cohereRerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: texts,
		TopN:      r.topN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cohere request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create cohere request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, op, fmt.Errorf("failed to call cohere api: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.E(errs.KindUpstream, op, "cohere api returned non-200 status: %s", resp.Status)
	}

	var cohereResp cohereRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&cohereResp); err != nil {
		return nil, errs.Wrap(errs.KindUpstream, op, fmt.Errorf("failed to decode cohere response: %w", err))
	}

	out := make([]schema.Hit, 0, len(cohereResp.Results))
	scores := make([]float64, 0, len(cohereResp.Results))
	for _, res := range cohereResp.Results {
		if res.Index < 0 || res.Index >= len(hits) {
			continue
		}
		h := hits[res.Index]
		doc := *h.Document
		doc.Metadata = schema.CopyMetadata(doc.Metadata)
		doc.Metadata[MetadataKeyRerankScore] = res.RelevanceScore
		out = append(out, schema.Hit{Document: &doc, Score: h.Score})
		scores = append(scores, res.RelevanceScore)
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	sorted := make([]schema.Hit, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted, nil
}

var _ Reranker = (*CohereReranker)(nil)
