package embeddings

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/embedding"
	"ragbase/backend/go/pkg/logger"
)

type fakeModel struct {
	dim   int
	err   error
	calls int
}

func (m *fakeModel) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (m *fakeModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, m.dim)
		v[0] = 3
		v[1] = 4
		out[i] = v
	}
	return out, nil
}

func testConfig() config.EmbeddingConfig {
	return config.Default().Embedding
}

func factoryFor(models map[string]embedding.Embedding) Factory {
	return func(o embedding.Options) (embedding.Embedding, error) {
		if m, ok := models[o.Model]; ok {
			return m, nil
		}
		return nil, errors.New("not installed")
	}
}

func TestAdapterNormalizesVectors(t *testing.T) {
	m := &fakeModel{dim: 384}
	a := NewAdapter(testConfig(), "bge-small",
		WithFactory(factoryFor(map[string]embedding.Embedding{"BAAI/bge-small-en-v1.5": m})),
		WithLogger(logger.Discard()))

	res := a.EmbedTexts(context.Background(), []string{"a", "b"})
	if res.Degraded() {
		t.Fatalf("unexpected degraded result: %s", res.Reason)
	}
	if len(res.Vectors) != 2 || len(res.Vectors[0]) != 384 {
		t.Fatalf("unexpected shape")
	}
	if math.Abs(float64(res.Vectors[0][0])-0.6) > 1e-6 || math.Abs(float64(res.Vectors[0][1])-0.8) > 1e-6 {
		t.Errorf("vector not normalized: %v", res.Vectors[0][:2])
	}
}

func TestAdapterFallsBackToDefaultModel(t *testing.T) {
	def := &fakeModel{dim: 384}
	a := NewAdapter(testConfig(), "bge-small",
		WithFactory(factoryFor(map[string]embedding.Embedding{"sentence-transformers/all-MiniLM-L6-v2": def})),
		WithLogger(logger.Discard()))

	status, reason := a.Status()
	if status != StatusDegraded || reason == "" {
		t.Fatalf("status = %s (%q)", status, reason)
	}
	if a.ModelName() != "sentence-transformers/all-MiniLM-L6-v2" {
		t.Errorf("model = %s", a.ModelName())
	}
	res := a.EmbedTexts(context.Background(), []string{"x"})
	if !res.Degraded() {
		t.Error("load substitution must be visible on results")
	}
}

func TestAdapterFallsBackToHashModel(t *testing.T) {
	a := NewAdapter(testConfig(), "all-mpnet-base-v2", WithFactory(factoryFor(nil)), WithLogger(logger.Discard()))
	if a.Dim() != 768 {
		t.Fatalf("dim = %d, want the requested model's dimension", a.Dim())
	}
	res := a.EmbedTexts(context.Background(), []string{"hello"})
	if len(res.Vectors[0]) != 768 {
		t.Errorf("vector dim = %d", len(res.Vectors[0]))
	}
	if !res.Degraded() {
		t.Error("expected degraded")
	}
}

func TestAdapterRuntimeFailureUsesPlaceholders(t *testing.T) {
	m := &fakeModel{dim: 384, err: errors.New("model crashed")}
	a := NewAdapter(testConfig(), "nomic",
		WithFactory(factoryFor(map[string]embedding.Embedding{"sentence-transformers/all-MiniLM-L6-v2": m})),
		WithLogger(logger.Discard()))

	r1 := a.EmbedTexts(context.Background(), []string{"same text"})
	r2 := a.EmbedTexts(context.Background(), []string{"same text"})
	if !r1.Degraded() || r1.Reason == "" {
		t.Fatalf("expected degraded result with reason, got %+v", r1.Status)
	}
	if !reflect.DeepEqual(r1.Vectors, r2.Vectors) {
		t.Error("placeholders must be reproducible")
	}
	if len(r1.Vectors[0]) != 384 {
		t.Errorf("dim = %d", len(r1.Vectors[0]))
	}
}

func TestAdapterDimensionGuard(t *testing.T) {
	m := &fakeModel{dim: 16}
	a := NewAdapter(testConfig(), "nomic",
		WithFactory(factoryFor(map[string]embedding.Embedding{"sentence-transformers/all-MiniLM-L6-v2": m})),
		WithLogger(logger.Discard()))
	res := a.EmbedTexts(context.Background(), []string{"x"})
	if !res.Degraded() || len(res.Vectors[0]) != 384 {
		t.Fatalf("wrong-dimension vectors must be replaced: degraded=%v dim=%d", res.Degraded(), len(res.Vectors[0]))
	}
}

func TestUnknownAliasResolvesToDefault(t *testing.T) {
	a := NewAdapter(testConfig(), "does-not-exist", WithFactory(func(o embedding.Options) (embedding.Embedding, error) {
		return embedding.NewHashModel(o.Dim)
	}), WithLogger(logger.Discard()))
	if a.Alias() != "nomic" {
		t.Errorf("alias = %s", a.Alias())
	}
	if s, _ := a.Status(); s != StatusOK {
		t.Errorf("status = %s", s)
	}
}

func TestEmbedQueryUsesCache(t *testing.T) {
	m := &fakeModel{dim: 384}
	cache, _ := NewMemoryCache(8, 0)
	a := NewAdapter(testConfig(), "nomic",
		WithFactory(factoryFor(map[string]embedding.Embedding{"sentence-transformers/all-MiniLM-L6-v2": m})),
		WithCache(cache), WithLogger(logger.Discard()))

	v1, _ := a.EmbedQuery(context.Background(), "q")
	v2, _ := a.EmbedQuery(context.Background(), "q")
	if m.calls != 1 {
		t.Errorf("model called %d times", m.calls)
	}
	if !reflect.DeepEqual(v1, v2) {
		t.Error("cached vector differs")
	}
}

func TestTieredCacheBackfills(t *testing.T) {
	fast, _ := NewMemoryCache(4, 0)
	slow, _ := NewMemoryCache(4, 0)
	slow.Put(context.Background(), "k", []float32{1, 2})
	tc := TieredCache{fast, slow}
	if _, ok := tc.Get(context.Background(), "k"); !ok {
		t.Fatal("miss")
	}
	if _, ok := fast.Get(context.Background(), "k"); !ok {
		t.Error("fast tier not back-filled")
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	out, ok := decodeVector(encodeVector(in))
	if !ok || !reflect.DeepEqual(in, out) {
		t.Fatalf("codec mismatch: %v", out)
	}
	if _, ok := decodeVector([]byte{1, 2, 3}); ok {
		t.Error("truncated payload accepted")
	}
}
