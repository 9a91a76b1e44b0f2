package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/pkg/logger"
)

func openTestLite(t *testing.T, dim int) *LiteStore {
	t.Helper()
	s, err := OpenLite(filepath.Join(t.TempDir(), "lite.db"), "documents", dim, logger.Discard())
	if err != nil {
		t.Fatalf("OpenLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func doc(text string, vec []float32, md map[string]interface{}) *schema.Document {
	return &schema.Document{Text: text, Embedding: vec, Metadata: md}
}

func TestLiteSearchOrdering(t *testing.T) {
	s := openTestLite(t, 2)
	ctx := context.Background()
	ids, err := s.Insert(ctx, []*schema.Document{
		doc("east", []float32{1, 0}, map[string]interface{}{"filename": "a.txt"}),
		doc("north-east", []float32{1, 1}, map[string]interface{}{"filename": "b.txt"}),
		doc("east-again", []float32{2, 0}, map[string]interface{}{"filename": "c.txt"}),
		doc("west", []float32{-1, 0}, map[string]interface{}{"filename": "d.txt"}),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(ids) != 4 || ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("ids = %v", ids)
	}

	hits, err := s.Search(ctx, []float32{1, 0}, schema.SearchOptions{K: 10, Threshold: -1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"east", "east-again", "north-east", "west"}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits", len(hits))
	}
	for i, h := range hits {
		if h.Document.Text != want[i] {
			t.Errorf("hit %d = %s, want %s", i, h.Document.Text, want[i])
		}
		if i > 0 && h.Score > hits[i-1].Score {
			t.Errorf("scores not non-increasing at %d", i)
		}
	}
}

func TestLiteSearchThresholdAndCap(t *testing.T) {
	s := openTestLite(t, 2)
	ctx := context.Background()
	_, _ = s.Insert(ctx, []*schema.Document{
		doc("a", []float32{1, 0}, nil),
		doc("b", []float32{0.9, 0.1}, nil),
		doc("c", []float32{0, 1}, nil),
	})

	hits, _ := s.Search(ctx, []float32{1, 0}, schema.SearchOptions{K: 5, Threshold: 0.5})
	if len(hits) != 2 {
		t.Fatalf("threshold: got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.Score < 0.5 {
			t.Errorf("score %f below threshold", h.Score)
		}
	}
	hits, _ = s.Search(ctx, []float32{1, 0}, schema.SearchOptions{K: 1})
	if len(hits) != 1 || hits[0].Document.Text != "a" {
		t.Fatalf("cap: %+v", hits)
	}
	hits, err := s.Search(ctx, []float32{1, 0}, schema.SearchOptions{K: 5, Threshold: 0.9999999})
	if err != nil || len(hits) != 1 {
		t.Fatalf("strict threshold: %v %d", err, len(hits))
	}
	hits, err = s.Search(ctx, []float32{-1, 0}, schema.SearchOptions{K: 5, Threshold: 0.5})
	if err != nil || hits == nil || len(hits) != 0 {
		t.Fatalf("expected empty non-nil result, got %v %v", hits, err)
	}
}

func TestLiteFilter(t *testing.T) {
	s := openTestLite(t, 2)
	ctx := context.Background()
	_, _ = s.Insert(ctx, []*schema.Document{
		doc("a0", []float32{1, 0}, map[string]interface{}{"filename": "a.txt", "chunk_id": 0}),
		doc("a1", []float32{1, 0}, map[string]interface{}{"filename": "a.txt", "chunk_id": 1}),
		doc("b0", []float32{1, 0}, map[string]interface{}{"filename": "b.txt", "chunk_id": 0}),
	})
	hits, _ := s.Search(ctx, []float32{1, 0}, schema.SearchOptions{K: 5, Filter: map[string]interface{}{"filename": "a.txt", "chunk_id": float64(1)}})
	if len(hits) != 1 || hits[0].Document.Text != "a1" {
		t.Fatalf("filter hits = %+v", hits)
	}
}

func TestLiteDimensionGuard(t *testing.T) {
	s := openTestLite(t, 3)
	_, err := s.Insert(context.Background(), []*schema.Document{doc("x", []float32{1, 0}, nil)})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = s.Search(context.Background(), []float32{1}, schema.SearchOptions{K: 1})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error on search, got %v", err)
	}
}

func TestLitePersistsAndChecksDim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "lite.db")
	s, err := OpenLite(path, "documents", 2, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.Insert(context.Background(), []*schema.Document{doc("kept", []float32{1, 0}, nil)})
	_ = s.Close()

	s, err = OpenLite(path, "documents", 2, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	st, _ := s.Stats(context.Background())
	if st.TotalEntities != 1 {
		t.Errorf("entities after reopen = %d", st.TotalEntities)
	}
	_ = s.Close()

	if _, err := OpenLite(path, "documents", 4, logger.Discard()); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestLiteClearAndDrop(t *testing.T) {
	s := openTestLite(t, 2)
	ctx := context.Background()
	_, _ = s.Insert(ctx, []*schema.Document{doc("a", []float32{1, 0}, nil)})
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.Stats(ctx); st.TotalEntities != 0 {
		t.Errorf("entities after clear = %d", st.TotalEntities)
	}
	if err := s.DropCollection(ctx); err != nil {
		t.Fatal(err)
	}
	if hits, err := s.Search(ctx, []float32{1, 0}, schema.SearchOptions{K: 3}); err != nil || len(hits) != 0 {
		t.Fatalf("search after drop = %v, %v", hits, err)
	}
	if _, err := s.Insert(ctx, []*schema.Document{doc("b", []float32{0, 1}, nil)}); err != nil {
		t.Fatalf("insert after drop: %v", err)
	}
}

func TestLiteEmbeddingModelPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lite.db")
	ctx := context.Background()
	s, err := OpenLite(path, "documents", 2, logger.Discard())
	if err != nil {
		t.Fatalf("OpenLite: %v", err)
	}
	if alias, err := s.EmbeddingModel(ctx); err != nil || alias != "" {
		t.Fatalf("fresh collection model = %q, %v", alias, err)
	}
	if err := s.SetEmbeddingModel(ctx, "bge-small"); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = OpenLite(path, "documents", 2, logger.Discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if st, _ := s.Stats(ctx); st.EmbeddingModel != "bge-small" {
		t.Errorf("stats model after reopen = %q", st.EmbeddingModel)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if alias, _ := s.EmbeddingModel(ctx); alias != "" {
		t.Errorf("model after clear = %q, want none", alias)
	}
}

func TestLiteUnsupportedOnWindows(t *testing.T) {
	prev := hostOS
	hostOS = "windows"
	defer func() { hostOS = prev }()

	_, err := OpenLite(filepath.Join(t.TempDir(), "x.db"), "documents", 2, logger.Discard())
	if !errors.Is(err, errs.ErrPlatformUnsupported) {
		t.Fatalf("expected PlatformUnsupported, got %v", err)
	}
}
