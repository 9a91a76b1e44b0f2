package pipeline

import (
	"context"
	"strings"

	"ragbase/backend/go/internal/rag_service/rag/embeddings"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragbase/backend/go/pkg/logger"
)

// QueryEmbedder embeds a single query. *embeddings.Adapter implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, embeddings.Result)
}

// Searcher runs similarity searches. *vectorstore.Manager implements it.
type Searcher interface {
	Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.Hit, vectorstore.ReadStatus)
}

// Retrieval is the outcome of a retrieval run.
type Retrieval struct {
	Hits            []schema.Hit
	EmbeddingStatus embeddings.Status
	EmbeddingReason string
	Read            vectorstore.ReadStatus
}

// RetrievalPipeline embeds a query and searches the vector store.
type RetrievalPipeline struct {
	embedder QueryEmbedder
	store    Searcher
	log      logger.Logger
}

// NewRetrievalPipeline creates a new RetrievalPipeline.
func NewRetrievalPipeline(embedder QueryEmbedder, store Searcher, log logger.Logger) *RetrievalPipeline {
	return &RetrievalPipeline{embedder: embedder, store: store, log: log.WithComponent("retrieval")}
}

// Run returns the hits for query. Only an empty query is an error; store
// failures degrade to an empty result reported in Retrieval.Read.
func (p *RetrievalPipeline) Run(ctx context.Context, query string, opts schema.SearchOptions) (Retrieval, error) {
	if strings.TrimSpace(query) == "" {
		return Retrieval{}, errs.E(errs.KindValidation, "pipeline.Retrieve", "query must not be empty")
	}
	vec, res := p.embedder.EmbedQuery(ctx, query)
	hits, read := p.store.Search(ctx, vec, opts)
	p.log.WithFields(map[string]interface{}{
		"k":         opts.K,
		"threshold": opts.Threshold,
		"hits":      len(hits),
		"degraded":  read.Degraded,
	}).Debug("检索完成")
	return Retrieval{Hits: hits, EmbeddingStatus: res.Status, EmbeddingReason: res.Reason, Read: read}, nil
}
