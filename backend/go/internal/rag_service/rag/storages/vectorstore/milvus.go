package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"ragbase/backend/go/internal/database/milvus"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/pkg/logger"
)

// MilvusStore is the standard (networked) vector store. The collection is
// created on first write with the dimension of the first batch.
type MilvusStore struct {
	api        milvus.API
	collection string
	indexType  string
	log        logger.Logger

	mu    sync.Mutex // guards dim, ready and model
	dim   int
	ready bool
	model string

	// seq orders records for tie-breaking; seeded from the wall clock so that
	// restarts keep increasing.
	seq atomic.Int64
}

// NewMilvusStore wraps an established connection. If the collection already
// exists it is loaded and its dimension adopted.
func NewMilvusStore(ctx context.Context, api milvus.API, collection, indexType string, log logger.Logger) (*MilvusStore, error) {
	s := &MilvusStore{
		api:        api,
		collection: collection,
		indexType:  strings.ToLower(indexType),
		log:        log.WithComponent("milvus_store"),
	}
	s.seq.Store(time.Now().UnixNano())
	if _, err := milvus.BuildIndex(s.indexType, entity.COSINE); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "vectorstore.NewMilvusStore", err)
	}
	exists, err := api.HasCollection(ctx, collection)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "vectorstore.NewMilvusStore", err)
	}
	if exists {
		if err := s.ensureLocked(ctx, 0); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ensureLocked creates or loads the collection. Caller holds s.mu or is the constructor.
func (s *MilvusStore) ensureLocked(ctx context.Context, dim int) error {
	if s.ready {
		return nil
	}
	got, err := milvus.EnsureCollection(ctx, s.api, milvus.CollectionSchema{
		Name:        s.collection,
		Description: "RAG document chunks",
		Dim:         dim,
	}, s.indexType, entity.COSINE)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "vectorstore.Milvus.ensure", err)
	}
	model, err := s.api.CollectionProperty(ctx, s.collection, milvus.PropertyEmbeddingModel)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "vectorstore.Milvus.ensure", err)
	}
	s.dim, s.ready, s.model = got, true, model
	s.log.WithFields(map[string]interface{}{"collection": s.collection, "dim": got, "index": s.indexType}).Info("Milvus 集合已就绪")
	return nil
}

// Insert implements interfaces.VectorStore.
func (s *MilvusStore) Insert(ctx context.Context, docs []*schema.Document) ([]string, error) {
	const op = "vectorstore.Milvus.Insert"
	if len(docs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	if err := s.ensureLocked(ctx, len(docs[0].Embedding)); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	dim := s.dim
	s.mu.Unlock()
	if err := checkDims(docs, dim); err != nil {
		return nil, err
	}

	n := len(docs)
	ids := make([]string, n)
	texts := make([]string, n)
	metas := make([][]byte, n)
	seqs := make([]int64, n)
	vectors := make([][]float32, n)
	for i, d := range docs {
		ids[i] = d.ID
		if ids[i] == "" {
			ids[i] = uuid.NewString()
		}
		texts[i] = d.Text
		md := d.Metadata
		if md == nil {
			md = map[string]interface{}{}
		}
		raw, err := json.Marshal(md)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, op, fmt.Errorf("metadata of document %d is not JSON-encodable: %w", i, err))
		}
		metas[i] = raw
		seqs[i] = s.seq.Add(1)
		vectors[i] = d.Embedding
	}

	err := s.api.Insert(ctx, s.collection,
		entity.NewColumnVarChar(milvus.FieldID, ids),
		entity.NewColumnVarChar(milvus.FieldText, texts),
		entity.NewColumnJSONBytes(milvus.FieldMetadata, metas),
		entity.NewColumnInt64(milvus.FieldSeq, seqs),
		entity.NewColumnFloatVector(milvus.FieldEmbedding, dim, vectors),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, op, fmt.Errorf("failed to insert data into Milvus: %w", err))
	}
	if err := s.api.Flush(ctx, s.collection); err != nil {
		return nil, errs.Wrap(errs.KindConnection, op, fmt.Errorf("failed to flush collection: %w", err))
	}
	s.log.WithField("count", n).Debug("已写入 Milvus")
	return ids, nil
}

// Search implements interfaces.VectorStore. A collection that does not exist
// yet yields no hits.
func (s *MilvusStore) Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.Hit, error) {
	const op = "vectorstore.Milvus.Search"
	s.mu.Lock()
	ready, dim := s.ready, s.dim
	s.mu.Unlock()
	if !ready {
		return []schema.Hit{}, nil
	}
	if len(vector) != dim {
		return nil, errs.E(errs.KindValidation, op, "query dimension %d does not match collection dimension %d", len(vector), dim)
	}
	expr, err := FilterExpr(opts.Filter)
	if err != nil {
		return nil, err
	}
	sp, err := milvus.BuildSearchParam(s.indexType)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, op, err)
	}
	k := opts.K
	if k <= 0 {
		k = 5
	}
	rows, err := s.api.Search(ctx, s.collection, expr,
		[]string{milvus.FieldID, milvus.FieldText, milvus.FieldMetadata, milvus.FieldSeq},
		vector, milvus.FieldEmbedding, entity.COSINE, k, sp)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, op, fmt.Errorf("failed to search in Milvus: %w", err))
	}

	cands := make([]candidate, 0, len(rows))
	for _, r := range rows {
		doc := &schema.Document{Metadata: map[string]interface{}{}}
		doc.ID, _ = r.Fields[milvus.FieldID].(string)
		doc.Text, _ = r.Fields[milvus.FieldText].(string)
		if raw, ok := r.Fields[milvus.FieldMetadata].([]byte); ok && len(raw) > 0 {
			if err := json.Unmarshal(raw, &doc.Metadata); err != nil {
				s.log.WithError(err).WithField("id", doc.ID).Warn("无法解析记录元数据")
			}
		}
		seq, _ := r.Fields[milvus.FieldSeq].(int64)
		cands = append(cands, candidate{doc: doc, score: r.Score, seq: seq})
	}
	return rank(cands, opts), nil
}

// Stats implements interfaces.VectorStore.
func (s *MilvusStore) Stats(ctx context.Context) (schema.CollectionStats, error) {
	s.mu.Lock()
	st := schema.CollectionStats{CollectionName: s.collection, IndexType: s.indexType, EmbeddingModel: s.model, VectorDimension: s.dim}
	ready := s.ready
	s.mu.Unlock()
	if !ready {
		return st, nil
	}
	n, err := s.api.RowCount(ctx, s.collection)
	if err != nil {
		return st, errs.Wrap(errs.KindConnection, "vectorstore.Milvus.Stats", err)
	}
	st.TotalEntities = n
	return st, nil
}

// Clear drops the collection; it is recreated on the next write.
func (s *MilvusStore) Clear(ctx context.Context) error {
	return s.DropCollection(ctx)
}

// DropCollection implements interfaces.VectorStore.
func (s *MilvusStore) DropCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.api.HasCollection(ctx, s.collection)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "vectorstore.Milvus.Drop", err)
	}
	if exists {
		if err := s.api.DropCollection(ctx, s.collection); err != nil {
			return errs.Wrap(errs.KindConnection, "vectorstore.Milvus.Drop", err)
		}
	}
	s.ready, s.dim, s.model = false, 0, ""
	return nil
}

// EmbeddingModel returns the model alias stored as a collection property.
func (s *MilvusStore) EmbeddingModel(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model, nil
}

// SetEmbeddingModel stores alias as a collection property. A collection that
// has not been created yet has nothing to record.
func (s *MilvusStore) SetEmbeddingModel(ctx context.Context, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil
	}
	if err := s.api.SetCollectionProperty(ctx, s.collection, milvus.PropertyEmbeddingModel, alias); err != nil {
		return errs.Wrap(errs.KindConnection, "vectorstore.Milvus.SetEmbeddingModel", err)
	}
	s.model = alias
	return nil
}

// Ping implements interfaces.VectorStore.
func (s *MilvusStore) Ping(ctx context.Context) error {
	return errs.Wrap(errs.KindConnection, "vectorstore.Milvus.Ping", s.api.Ping(ctx))
}

// Close implements interfaces.VectorStore.
func (s *MilvusStore) Close() error {
	return s.api.Close()
}

var filterKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FilterExpr renders an equality filter as a Milvus boolean expression over
// the JSON metadata field, e.g. metadata["filename"] == "a.txt". Keys are
// emitted in sorted order.
func FilterExpr(filter map[string]interface{}) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !filterKey.MatchString(k) {
			return "", errs.E(errs.KindValidation, "vectorstore.FilterExpr", "invalid metadata key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	for _, k := range keys {
		var lit string
		switch v := filter[k].(type) {
		case string:
			lit = strconv.Quote(v)
		case bool:
			lit = strconv.FormatBool(v)
		default:
			f, ok := toFloat(v)
			if !ok {
				return "", errs.E(errs.KindValidation, "vectorstore.FilterExpr", "unsupported filter value for %q: %T", k, v)
			}
			lit = strconv.FormatFloat(f, 'f', -1, 64)
		}
		conds = append(conds, fmt.Sprintf(`%s[%q] == %s`, milvus.FieldMetadata, k, lit))
	}
	return strings.Join(conds, " and "), nil
}

var _ interfaces.VectorStore = (*MilvusStore)(nil)
