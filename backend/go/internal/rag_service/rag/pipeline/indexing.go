package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"unicode/utf8"

	"ragbase/backend/go/internal/rag_service/rag/embeddings"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/loaders"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/internal/rag_service/rag/splitters"
	"ragbase/backend/go/pkg/logger"
)

// TextEmbedder embeds chunk texts. *embeddings.Adapter implements it.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) embeddings.Result
}

// Writer persists chunks embedded by model. *vectorstore.Manager implements it.
type Writer interface {
	Insert(ctx context.Context, model string, docs []*schema.Document) ([]string, error)
}

// IndexRequest describes one ingestion run.
type IndexRequest struct {
	Paths        []string
	ChunkSize    int
	ChunkOverlap int
	Embedder     TextEmbedder
	// Model is the embedder's alias, recorded with the collection.
	Model string
}

// File status values.
const (
	FileStatusSuccess = "success"
	FileStatusFailed  = "failed"
)

// FileResult summarises one input file.
type FileResult struct {
	Filename        string `json:"filename"`
	ChunksCount     int    `json:"chunks_count"`
	TotalCharacters int    `json:"total_characters"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

// OverallStats summarises all chunks of a run. Lengths are in characters.
type OverallStats struct {
	TotalChunks      int `json:"total_chunks"`
	TotalCharacters  int `json:"total_characters"`
	AverageChunkSize int `json:"average_chunk_size"`
	MinChunkSize     int `json:"min_chunk_size,omitempty"`
	MaxChunkSize     int `json:"max_chunk_size,omitempty"`
}

// IndexSummary is the outcome of IndexingPipeline.Run.
type IndexSummary struct {
	Overall         OverallStats
	Files           []FileResult
	Failed          []loaders.FileError
	IDs             []string
	EmbeddingStatus embeddings.Status
	EmbeddingReason string
}

// IndexingPipeline orchestrates loading, splitting, embedding and storing documents.
type IndexingPipeline struct {
	store       Writer
	concurrency int
	log         logger.Logger
}

// NewIndexingPipeline creates a new IndexingPipeline. concurrency bounds the
// number of files loaded at once; zero means GOMAXPROCS.
func NewIndexingPipeline(store Writer, concurrency int, log logger.Logger) *IndexingPipeline {
	return &IndexingPipeline{store: store, concurrency: concurrency, log: log.WithComponent("indexing")}
}

// Run loads and splits every file concurrently, embeds all chunks and
// inserts them. Files that fail to load are reported in the summary and do
// not abort the run. A failing insert is returned as an error.
func (p *IndexingPipeline) Run(ctx context.Context, req IndexRequest) (*IndexSummary, error) {
	const op = "pipeline.Index"
	if len(req.Paths) == 0 {
		return nil, errs.E(errs.KindValidation, op, "no files to index")
	}
	if req.Embedder == nil {
		return nil, errs.E(errs.KindValidation, op, "embedder is required")
	}
	splitter, err := splitters.NewRecursiveSplitter(req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	p.log.WithFields(map[string]interface{}{
		"files":         len(req.Paths),
		"chunk_size":    req.ChunkSize,
		"chunk_overlap": req.ChunkOverlap,
	}).Info("开始索引文档")

	loaded, failed := loaders.LoadMany(ctx, req.Paths, loaders.BatchOptions{
		Concurrency: p.concurrency,
		Process: func(ctx context.Context, path string, docs []*schema.Document) ([]*schema.Document, error) {
			chunks, err := splitter.Split(ctx, docs)
			if err != nil {
				return nil, err
			}
			return tagChunks(path, chunks), nil
		},
	})

	sum := &IndexSummary{Failed: failed, EmbeddingStatus: embeddings.StatusOK}
	var chunks []*schema.Document
	for _, l := range loaded {
		fr := FileResult{Filename: filepath.Base(l.Path), Status: FileStatusSuccess}
		for _, c := range l.Docs {
			fr.ChunksCount++
			fr.TotalCharacters += utf8.RuneCountInString(c.Text)
		}
		sum.Files = append(sum.Files, fr)
		chunks = append(chunks, l.Docs...)
	}
	for _, f := range failed {
		p.log.WithError(f.Err).WithField("file", f.Path).Warn("文档解析失败，已跳过")
		sum.Files = append(sum.Files, FileResult{Filename: filepath.Base(f.Path), Status: FileStatusFailed, Error: f.Err.Error()})
	}
	sum.Overall = Stats(chunks)
	if len(chunks) == 0 {
		return sum, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	res := req.Embedder.EmbedTexts(ctx, texts)
	if len(res.Vectors) != len(chunks) {
		return sum, errs.E(errs.KindInternal, op, "embedder returned %d vectors for %d chunks", len(res.Vectors), len(chunks))
	}
	for i, c := range chunks {
		c.Embedding = res.Vectors[i]
	}
	sum.EmbeddingStatus, sum.EmbeddingReason = res.Status, res.Reason
	if res.Degraded() {
		p.log.WithField("reason", res.Reason).Warn("部分向量使用了占位值")
	}

	ids, err := p.store.Insert(ctx, req.Model, chunks)
	if err != nil {
		return sum, fmt.Errorf("failed to store %d chunks: %w", len(chunks), err)
	}
	sum.IDs = ids
	p.log.WithField("chunks", len(chunks)).Info("文档索引完成")
	return sum, nil
}

// tagChunks sets the per-file metadata on chunks. chunk_id counts across all
// pages of the file. Loader-supplied fields win over the defaults.
func tagChunks(path string, chunks []*schema.Document) []*schema.Document {
	base := map[string]interface{}{
		schema.MetadataKeyFileName: filepath.Base(path),
		schema.MetadataKeyFileType: loaders.Ext(path),
		schema.MetadataKeySource:   path,
	}
	for i, c := range chunks {
		md := schema.CopyMetadata(base)
		md[schema.MetadataKeyChunkSize] = utf8.RuneCountInString(c.Text)
		for k, v := range c.Metadata {
			md[k] = v
		}
		md[schema.MetadataKeyChunkID] = i
		c.Metadata = md
	}
	return chunks
}

// Stats computes the overall statistics of chunks. The average is truncated.
func Stats(chunks []*schema.Document) OverallStats {
	var st OverallStats
	if len(chunks) == 0 {
		return st
	}
	st.TotalChunks = len(chunks)
	for i, c := range chunks {
		n := utf8.RuneCountInString(c.Text)
		st.TotalCharacters += n
		if i == 0 || n < st.MinChunkSize {
			st.MinChunkSize = n
		}
		if n > st.MaxChunkSize {
			st.MaxChunkSize = n
		}
	}
	st.AverageChunkSize = st.TotalCharacters / st.TotalChunks
	return st
}
