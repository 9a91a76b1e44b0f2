package interfaces

import (
	"context"

	"ragbase/backend/go/internal/rag_service/rag/schema"
)

// Loader is the interface for loading data from a file and converting it
// into a list of Document objects.
type Loader interface {
	Load(ctx context.Context, path string) ([]*schema.Document, error)
}

// Splitter is the interface for splitting a list of Documents into smaller chunks.
type Splitter interface {
	Split(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error)
}

// EmbeddingModel is the interface for a text embedding model.
type EmbeddingModel interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LLM is the interface for a large language model that can generate text.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VectorStore is a similarity index over one collection. Insert assigns ids to
// documents that have none and returns them in input order. Search returns hits
// ordered by score descending, ties in insertion order. EmbeddingModel is the
// alias recorded by SetEmbeddingModel, or "" while none is recorded; Clear and
// DropCollection forget it.
type VectorStore interface {
	Insert(ctx context.Context, docs []*schema.Document) ([]string, error)
	EmbeddingModel(ctx context.Context) (string, error)
	SetEmbeddingModel(ctx context.Context, alias string) error
	Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.Hit, error)
	Stats(ctx context.Context) (schema.CollectionStats, error)
	Clear(ctx context.Context) error
	DropCollection(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
