package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"ragbase/backend/go/internal/database/milvus"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/pkg/logger"
)

type fakeRow struct {
	id, text string
	meta     []byte
	seq      int64
	vec      []float32
}

// fakeMilvus keeps rows in memory and scores them with cosine similarity.
type fakeMilvus struct {
	exists    bool
	dim       int
	rows      []fakeRow
	indexes   int
	lastExpr  string
	lastTopK  int
	searchErr error
	closed    bool
	props     map[string]string
}

func (f *fakeMilvus) HasCollection(context.Context, string) (bool, error) { return f.exists, nil }
func (f *fakeMilvus) CreateCollection(_ context.Context, s *entity.Schema) error {
	f.exists = true
	for _, fld := range s.Fields {
		if fld.Name == milvus.FieldEmbedding {
			f.dim = int(mustAtoi(fld.TypeParams["dim"]))
		}
	}
	return nil
}
func (f *fakeMilvus) CollectionDim(context.Context, string, string) (int, error) { return f.dim, nil }
func (f *fakeMilvus) CollectionProperty(_ context.Context, _, key string) (string, error) {
	return f.props[key], nil
}
func (f *fakeMilvus) SetCollectionProperty(_ context.Context, _, key, value string) error {
	if f.props == nil {
		f.props = map[string]string{}
	}
	f.props[key] = value
	return nil
}
func (f *fakeMilvus) CreateIndex(context.Context, string, string, entity.Index) error {
	f.indexes++
	return nil
}
func (f *fakeMilvus) LoadCollection(context.Context, string) error { return nil }
func (f *fakeMilvus) Insert(_ context.Context, _ string, cols ...entity.Column) error {
	var ids, texts []string
	var metas [][]byte
	var seqs []int64
	var vecs [][]float32
	for _, c := range cols {
		switch col := c.(type) {
		case *entity.ColumnVarChar:
			if col.Name() == milvus.FieldID {
				ids = col.Data()
			} else {
				texts = col.Data()
			}
		case *entity.ColumnJSONBytes:
			metas = col.Data()
		case *entity.ColumnInt64:
			seqs = col.Data()
		case *entity.ColumnFloatVector:
			vecs = col.Data()
		}
	}
	for i := range ids {
		f.rows = append(f.rows, fakeRow{ids[i], texts[i], metas[i], seqs[i], vecs[i]})
	}
	return nil
}
func (f *fakeMilvus) Flush(context.Context, string) error { return nil }
func (f *fakeMilvus) Search(_ context.Context, _ string, expr string, _ []string, vec []float32, _ string, _ entity.MetricType, topK int, _ entity.SearchParam) ([]milvus.Row, error) {
	f.lastExpr, f.lastTopK = expr, topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []milvus.Row
	for _, r := range f.rows {
		out = append(out, milvus.Row{Score: cosine(vec, r.vec), Fields: map[string]interface{}{
			milvus.FieldID: r.id, milvus.FieldText: r.text, milvus.FieldMetadata: r.meta, milvus.FieldSeq: r.seq,
		}})
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
func (f *fakeMilvus) RowCount(context.Context, string) (int64, error) { return int64(len(f.rows)), nil }
func (f *fakeMilvus) DropCollection(context.Context, string) error {
	f.exists, f.rows, f.dim, f.props = false, nil, 0, nil
	return nil
}
func (f *fakeMilvus) Ping(context.Context) error { return nil }
func (f *fakeMilvus) Close() error {
	f.closed = true
	return nil
}

func mustAtoi(s string) int64 {
	var n int64
	for _, c := range s {
		n = n*10 + int64(c-'0')
	}
	return n
}

func TestMilvusStoreCreatesCollectionOnFirstWrite(t *testing.T) {
	api := &fakeMilvus{}
	s, err := NewMilvusStore(context.Background(), api, "documents_v3", "HNSW", logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if hits, err := s.Search(context.Background(), []float32{1, 0, 0}, schema.SearchOptions{K: 5}); err != nil || len(hits) != 0 {
		t.Fatalf("search before first write = %v, %v", hits, err)
	}

	ids, err := s.Insert(context.Background(), []*schema.Document{
		doc("alpha", []float32{1, 0, 0}, map[string]interface{}{"filename": "a.txt", "chunk_id": 0}),
		doc("beta", []float32{0, 1, 0}, map[string]interface{}{"filename": "a.txt", "chunk_id": 1}),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(ids) != 2 || !api.exists || api.dim != 3 || api.indexes != 1 {
		t.Fatalf("ids=%v exists=%v dim=%d indexes=%d", ids, api.exists, api.dim, api.indexes)
	}
	var md map[string]interface{}
	_ = json.Unmarshal(api.rows[1].meta, &md)
	if md["filename"] != "a.txt" {
		t.Errorf("stored metadata = %v", md)
	}
	if api.rows[0].seq >= api.rows[1].seq {
		t.Errorf("sequence must increase: %d, %d", api.rows[0].seq, api.rows[1].seq)
	}

	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, schema.SearchOptions{K: 5, Threshold: 0.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Document.Text != "alpha" || hits[0].Document.Metadata["filename"] != "a.txt" {
		t.Fatalf("hits = %+v", hits)
	}
	st, _ := s.Stats(context.Background())
	if st.TotalEntities != 2 || st.VectorDimension != 3 || st.IndexType != "hnsw" {
		t.Errorf("stats = %+v", st)
	}
}

func TestMilvusStoreDimensionGuard(t *testing.T) {
	api := &fakeMilvus{exists: true, dim: 384}
	s, err := NewMilvusStore(context.Background(), api, "documents_v3", "ivf_flat", logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Insert(context.Background(), []*schema.Document{doc("x", make([]float32, 768), nil)})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMilvusStoreSearchErrorIsConnection(t *testing.T) {
	api := &fakeMilvus{exists: true, dim: 2, searchErr: errors.New("rpc unavailable")}
	s, _ := NewMilvusStore(context.Background(), api, "c", "flat", logger.Discard())
	_, err := s.Search(context.Background(), []float32{1, 0}, schema.SearchOptions{K: 3, Filter: map[string]interface{}{"filename": "a.txt"}})
	if !errors.Is(err, errs.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if api.lastExpr != `metadata["filename"] == "a.txt"` || api.lastTopK != 3 {
		t.Errorf("expr = %q topK = %d", api.lastExpr, api.lastTopK)
	}
}

func TestMilvusStoreRejectsUnknownIndex(t *testing.T) {
	if _, err := NewMilvusStore(context.Background(), &fakeMilvus{}, "c", "annoy", logger.Discard()); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMilvusStoreDropResets(t *testing.T) {
	api := &fakeMilvus{}
	s, _ := NewMilvusStore(context.Background(), api, "c", "hnsw", logger.Discard())
	_, _ = s.Insert(context.Background(), []*schema.Document{doc("a", []float32{1, 0}, nil)})
	if err := s.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.exists {
		t.Error("collection should be dropped")
	}
	if _, err := s.Insert(context.Background(), []*schema.Document{doc("b", []float32{1, 0, 0, 0}, nil)}); err != nil {
		t.Fatalf("insert after clear: %v", err)
	}
	if api.dim != 4 {
		t.Errorf("dim after recreate = %d", api.dim)
	}
}

func TestFilterExpr(t *testing.T) {
	expr, err := FilterExpr(map[string]interface{}{"filename": `a"b.txt`, "chunk_id": float64(2), "draft": true})
	if err != nil {
		t.Fatal(err)
	}
	want := `metadata["chunk_id"] == 2 and metadata["draft"] == true and metadata["filename"] == "a\"b.txt"`
	if expr != want {
		t.Errorf("expr = %s\nwant  %s", expr, want)
	}
	if _, err := FilterExpr(map[string]interface{}{"bad key": "x"}); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected validation error for key, got %v", err)
	}
	if _, err := FilterExpr(map[string]interface{}{"k": []int{1}}); !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected unsupported value error, got %v", err)
	}
}

func TestMilvusStoreEmbeddingModelProperty(t *testing.T) {
	ctx := context.Background()
	api := &fakeMilvus{}
	s, err := NewMilvusStore(ctx, api, "documents", "FLAT", logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetEmbeddingModel(ctx, "nomic"); err != nil || len(api.props) != 0 {
		t.Fatalf("set before create: err=%v props=%v", err, api.props)
	}
	if _, err := s.Insert(ctx, []*schema.Document{doc("a", []float32{1, 0}, nil)}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEmbeddingModel(ctx, "bge-small"); err != nil {
		t.Fatal(err)
	}
	if got := api.props[milvus.PropertyEmbeddingModel]; got != "bge-small" {
		t.Fatalf("property = %q", got)
	}

	// 重新打开已有集合时从属性中恢复模型。
	reopened, err := NewMilvusStore(ctx, api, "documents", "FLAT", logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if st, _ := reopened.Stats(ctx); st.EmbeddingModel != "bge-small" {
		t.Errorf("stats model = %q", st.EmbeddingModel)
	}
	if err := reopened.DropCollection(ctx); err != nil {
		t.Fatal(err)
	}
	if alias, _ := reopened.EmbeddingModel(ctx); alias != "" {
		t.Errorf("model after drop = %q", alias)
	}
}
