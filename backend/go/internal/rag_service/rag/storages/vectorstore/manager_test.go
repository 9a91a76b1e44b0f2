package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/pkg/logger"
)

func liteConfig(t *testing.T, dim int) config.DatabaseConfig {
	cfg := config.Default().Database
	cfg.DBType = config.DBTypeLite
	cfg.MilvusLite.DBPath = filepath.Join(t.TempDir(), "lite.db")
	cfg.MilvusLite.Dim = dim
	return cfg
}

func failingOpener(err error) Opener {
	return func(context.Context, config.DatabaseConfig, OpenOptions) (interfaces.VectorStore, error) {
		return nil, err
	}
}

func TestManagerDisconnectedPolicy(t *testing.T) {
	m := NewManager(WithManagerLogger(logger.Discard()), WithOpener(failingOpener(errs.E(errs.KindConnection, "dial", "refused"))))
	err := m.Connect(context.Background(), config.Default().Database)
	if !errors.Is(err, errs.ErrConnection) {
		t.Fatalf("Connect err = %v", err)
	}
	if st, _ := m.Status(); st != StatusDisconnected {
		t.Fatalf("status = %s", st)
	}

	hits, rs := m.Search(context.Background(), []float32{1}, schema.SearchOptions{K: 5})
	if hits == nil || len(hits) != 0 || !rs.Degraded {
		t.Errorf("read while disconnected = %v, %+v", hits, rs)
	}
	if _, status := m.Stats(context.Background()); status != StatusDisconnected {
		t.Errorf("stats status = %s", status)
	}
	if _, err := m.Insert(context.Background(), "", []*schema.Document{doc("x", []float32{1}, nil)}); !errors.Is(err, errs.ErrConnection) {
		t.Errorf("write while disconnected = %v", err)
	}
	if err := m.Clear(context.Background()); !errors.Is(err, errs.ErrConnection) {
		t.Errorf("clear while disconnected = %v", err)
	}
}

func TestManagerLiteRoundTrip(t *testing.T) {
	m := NewManager(WithManagerLogger(logger.Discard()))
	cfg := liteConfig(t, 2)
	if err := m.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Close()

	if _, err := m.Insert(context.Background(), "", []*schema.Document{
		doc("a", []float32{1, 0}, nil), doc("b", []float32{0, 1}, nil), doc("c", []float32{1, 1}, nil),
	}); err != nil {
		t.Fatal(err)
	}
	hits, rs := m.Search(context.Background(), []float32{1, 0}, schema.SearchOptions{K: 5})
	if rs.Degraded || len(hits) != 3 {
		t.Fatalf("hits = %d, %+v", len(hits), rs)
	}
	st, status := m.Stats(context.Background())
	if status != StatusConnected || st.TotalEntities != 3 {
		t.Errorf("stats = %+v %s", st, status)
	}
}

func TestManagerReconnectReplaces(t *testing.T) {
	var mu sync.Mutex
	var opened []*countingStore
	opener := func(ctx context.Context, cfg config.DatabaseConfig, o OpenOptions) (interfaces.VectorStore, error) {
		mu.Lock()
		defer mu.Unlock()
		s := &countingStore{}
		opened = append(opened, s)
		return s, nil
	}
	m := NewManager(WithManagerLogger(logger.Discard()), WithOpener(opener))
	cfg := config.Default().Database
	for i := 0; i < 3; i++ {
		if err := m.Connect(context.Background(), cfg); err != nil {
			t.Fatal(err)
		}
	}
	if len(opened) != 3 {
		t.Fatalf("opened = %d", len(opened))
	}
	for i, s := range opened[:2] {
		if !s.closed {
			t.Errorf("store %d not closed on reconnect", i)
		}
	}
	if opened[2].closed {
		t.Error("live store closed")
	}
}

func TestManagerReconnectFailureDisconnects(t *testing.T) {
	m := NewManager(WithManagerLogger(logger.Discard()))
	if err := m.Connect(context.Background(), liteConfig(t, 2)); err != nil {
		t.Fatal(err)
	}
	bad := config.Default().Database
	bad.DBType = "nope"
	if err := m.Connect(context.Background(), bad); err == nil {
		t.Fatal("expected error")
	}
	if st, err := m.Status(); st != StatusDisconnected || err == nil {
		t.Errorf("status = %s, %v", st, err)
	}
}

func TestProbeDoesNotReplaceLiveStore(t *testing.T) {
	m := NewManager(WithManagerLogger(logger.Discard()))
	live := liteConfig(t, 2)
	if err := m.Connect(context.Background(), live); err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	_, _ = m.Insert(context.Background(), "", []*schema.Document{doc("a", []float32{1, 0}, nil)})

	other := liteConfig(t, 4)
	err := m.Exclusive(func(p Prober) error {
		st, err := p.Probe(context.Background(), other)
		if err != nil {
			return err
		}
		if st.TotalEntities != 0 || st.VectorDimension != 4 {
			t.Errorf("probe stats = %+v", st)
		}
		st, err = p.Probe(context.Background(), live)
		if err != nil {
			return err
		}
		if st.TotalEntities != 1 {
			t.Errorf("live probe stats = %+v", st)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exclusive: %v", err)
	}
	if m.Config() != live {
		t.Error("probe replaced the live configuration")
	}
	if _, status := m.Stats(context.Background()); status != StatusConnected {
		t.Error("live store lost after probe")
	}
}

type countingStore struct {
	closed bool
}

func (c *countingStore) Insert(context.Context, []*schema.Document) ([]string, error) {
	return nil, nil
}
func (c *countingStore) EmbeddingModel(context.Context) (string, error) { return "", nil }
func (c *countingStore) SetEmbeddingModel(context.Context, string) error { return nil }
func (c *countingStore) Search(context.Context, []float32, schema.SearchOptions) ([]schema.Hit, error) {
	return nil, nil
}
func (c *countingStore) Stats(context.Context) (schema.CollectionStats, error) {
	return schema.CollectionStats{}, nil
}
func (c *countingStore) Clear(context.Context) error          { return nil }
func (c *countingStore) DropCollection(context.Context) error { return nil }
func (c *countingStore) Ping(context.Context) error           { return nil }
func (c *countingStore) Close() error {
	c.closed = true
	return nil
}

func TestManagerRejectsMixedEmbeddingModels(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithManagerLogger(logger.Discard()))
	if err := m.Connect(ctx, liteConfig(t, 2)); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if _, err := m.Insert(ctx, "bge-small", []*schema.Document{doc("a", []float32{1, 0}, nil)}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if got := m.EmbeddingModel(ctx); got != "bge-small" {
		t.Fatalf("recorded model = %q", got)
	}
	_, err := m.Insert(ctx, "nomic", []*schema.Document{doc("b", []float32{0, 1}, nil)})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("insert from another model = %v, want validation error", err)
	}
	if st, _ := m.Stats(ctx); st.TotalEntities != 1 || st.EmbeddingModel != "bge-small" {
		t.Errorf("stats = %+v", st)
	}
	if _, err := m.Insert(ctx, "BGE-SMALL", []*schema.Document{doc("c", []float32{0, 1}, nil)}); err != nil {
		t.Errorf("same model, other case: %v", err)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Insert(ctx, "nomic", []*schema.Document{doc("d", []float32{0, 1}, nil)}); err != nil {
		t.Fatalf("insert after clear: %v", err)
	}
	if got := m.EmbeddingModel(ctx); got != "nomic" {
		t.Errorf("model after clear = %q", got)
	}
}

func TestOpTimeoutFollowsTopology(t *testing.T) {
	cfg := config.Default().Database
	cfg.MilvusStandard.Timeout = 5
	cfg.MilvusLite.Timeout = 2

	cfg.DBType = config.DBTypeStandard
	if got := opTimeout(cfg); got != 5*time.Second {
		t.Errorf("standard timeout = %v", got)
	}
	cfg.DBType = config.DBTypeLite
	if got := opTimeout(cfg); got != 2*time.Second {
		t.Errorf("lite timeout = %v", got)
	}
	cfg.MilvusLite.Timeout = 0
	if got := opTimeout(cfg); got != 60*time.Second {
		t.Errorf("lite default timeout = %v", got)
	}
}
