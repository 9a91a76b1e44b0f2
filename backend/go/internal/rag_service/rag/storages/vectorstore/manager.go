package vectorstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/database/milvus"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/pkg/logger"
)

// 连接状态。
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// OpenOptions carries the non-database settings a store needs.
type OpenOptions struct {
	IndexType string
	Log       logger.Logger
}

// Opener opens a store for a database configuration.
type Opener func(ctx context.Context, cfg config.DatabaseConfig, opts OpenOptions) (interfaces.VectorStore, error)

// Open is the default Opener: LiteStore for milvus_lite, MilvusStore otherwise.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts OpenOptions) (interfaces.VectorStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IsLite() {
		return OpenLite(cfg.MilvusLite.DBPath, cfg.CollectionName, cfg.MilvusLite.Dim, opts.Log)
	}
	api, err := milvus.Connect(ctx, cfg.MilvusStandard)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "vectorstore.Open", err)
	}
	store, err := NewMilvusStore(ctx, api, cfg.CollectionName, opts.IndexType, opts.Log)
	if err != nil {
		_ = api.Close()
		return nil, err
	}
	return store, nil
}

// ReadStatus reports whether a read was served or degraded to an empty result.
type ReadStatus struct {
	Degraded bool
	Reason   string
}

// Manager owns the process-wide store connection. Reads run concurrently,
// writes and reconnects are serialised. A failed connect leaves the manager
// disconnected instead of failing the process: reads then return empty
// results and writes fail with a connection error.
type Manager struct {
	mu      sync.RWMutex
	store   interfaces.VectorStore
	cfg     config.DatabaseConfig
	lastErr error

	open      Opener
	indexType string
	log       logger.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOpener replaces the store factory.
func WithOpener(o Opener) ManagerOption {
	return func(m *Manager) { m.open = o }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithIndexType sets the index type used when collections are created.
func WithIndexType(t string) ManagerOption {
	return func(m *Manager) { m.indexType = t }
}

// NewManager creates a disconnected manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{open: Open, indexType: "hnsw", log: logger.New("rag_service")}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithComponent("vector_store")
	m.lastErr = errs.E(errs.KindConnection, "vectorstore.Manager", "not connected")
	return m
}

// Connect opens a store for cfg and replaces the current one. On failure the
// previous store is still closed and the manager is left disconnected; the
// error is returned for the caller to log.
func (m *Manager) Connect(ctx context.Context, cfg config.DatabaseConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx, cfg)
}

func (m *Manager) connectLocked(ctx context.Context, cfg config.DatabaseConfig) error {
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.log.WithError(err).Warn("关闭旧的向量存储连接失败")
		}
		m.store = nil
	}
	m.cfg = cfg

	ctx, cancel := context.WithTimeout(ctx, opTimeout(cfg))
	defer cancel()
	store, err := m.open(ctx, cfg, OpenOptions{IndexType: m.indexType, Log: m.log})
	if err != nil {
		m.lastErr = err
		m.log.WithError(err).WithField("db", cfg.String()).Warn("向量存储连接失败，进入断开状态")
		return err
	}
	m.store, m.lastErr = store, nil
	m.log.WithField("db", cfg.String()).Info("向量存储已连接")
	return nil
}

// Status returns connected/disconnected and the last connection error.
func (m *Manager) Status() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil {
		return StatusDisconnected, m.lastErr
	}
	return StatusConnected, nil
}

// Config returns the configuration of the current (or last attempted) connection.
func (m *Manager) Config() config.DatabaseConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// IndexType returns the index type used for new collections.
func (m *Manager) IndexType() string {
	return m.indexType
}

// Insert writes docs embedded by model. It fails with a connection error while
// disconnected, and with a validation error when the collection already holds
// vectors from another model. The first successful write records model. An
// empty model skips the check.
func (m *Manager) Insert(ctx context.Context, model string, docs []*schema.Document) ([]string, error) {
	const op = "vectorstore.Insert"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil, m.disconnectedErr(op)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout(m.cfg))
	defer cancel()
	recorded := ""
	if model != "" {
		var err error
		if recorded, err = m.store.EmbeddingModel(ctx); err != nil {
			return nil, errs.Wrap(errs.KindInternal, op, err)
		}
		if recorded != "" && !strings.EqualFold(recorded, model) {
			return nil, errs.E(errs.KindValidation, op,
				"collection %s holds vectors from embedding model %s, cannot add vectors from %s; clear the collection or embed with %s",
				m.cfg.CollectionName, recorded, model, recorded)
		}
	}
	ids, err := m.store.Insert(ctx, docs)
	if err != nil {
		return nil, err
	}
	if model != "" && recorded == "" && len(docs) > 0 {
		if err := m.store.SetEmbeddingModel(ctx, model); err != nil {
			m.log.WithError(err).WithField("model", model).Warn("记录集合嵌入模型失败")
		}
	}
	return ids, nil
}

// EmbeddingModel returns the model alias recorded for the collection, or ""
// when none is recorded or the store is unavailable.
func (m *Manager) EmbeddingModel(ctx context.Context) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout(m.cfg))
	defer cancel()
	alias, err := m.store.EmbeddingModel(ctx)
	if err != nil {
		m.log.WithError(err).Warn("读取集合嵌入模型失败")
		return ""
	}
	return alias
}

// Search never fails: while disconnected, or when the store errors, it
// returns an empty result and reports the degradation.
func (m *Manager) Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.Hit, ReadStatus) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil {
		return []schema.Hit{}, ReadStatus{Degraded: true, Reason: StatusDisconnected}
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout(m.cfg))
	defer cancel()
	hits, err := m.store.Search(ctx, vector, opts)
	if err != nil {
		m.log.WithError(err).Warn("向量检索失败，返回空结果")
		return []schema.Hit{}, ReadStatus{Degraded: true, Reason: err.Error()}
	}
	if hits == nil {
		hits = []schema.Hit{}
	}
	return hits, ReadStatus{}
}

// Stats returns collection statistics and the connection status. A
// disconnected or failing store yields zero counts.
func (m *Manager) Stats(ctx context.Context) (schema.CollectionStats, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	base := schema.CollectionStats{CollectionName: m.cfg.CollectionName, IndexType: m.indexType}
	if m.store == nil {
		return base, StatusDisconnected
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout(m.cfg))
	defer cancel()
	st, err := m.store.Stats(ctx)
	if err != nil {
		m.log.WithError(err).Warn("获取集合统计失败")
		return base, StatusDisconnected
	}
	return st, StatusConnected
}

// Clear removes all records from the collection.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return m.disconnectedErr("vectorstore.Clear")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout(m.cfg))
	defer cancel()
	return m.store.Clear(ctx)
}

// DropCollection removes the collection.
func (m *Manager) DropCollection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return m.disconnectedErr("vectorstore.DropCollection")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout(m.cfg))
	defer cancel()
	return m.store.DropCollection(ctx)
}

// Exclusive runs fn while holding the write lock, so no store operation runs
// concurrently with it. fn must not call other Manager methods; it receives a
// Prober that is safe to use under the lock.
func (m *Manager) Exclusive(fn func(p Prober) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(Prober{m: m})
}

// Prober tests a configuration without disturbing the live connection, and
// can replace the live connection while the lock is held.
type Prober struct {
	m *Manager
}

// Reconnect is Connect for callers already inside Exclusive.
func (p Prober) Reconnect(ctx context.Context, cfg config.DatabaseConfig) error {
	return p.m.connectLocked(ctx, cfg)
}

// Probe opens a fresh store for cfg, pings it, reads its stats and closes it.
// When cfg is the live configuration the live store is pinged instead, since
// an embedded store file cannot be opened twice.
func (p Prober) Probe(ctx context.Context, cfg config.DatabaseConfig) (schema.CollectionStats, error) {
	m := p.m
	ctx, cancel := context.WithTimeout(ctx, opTimeout(cfg))
	defer cancel()

	if m.store != nil && cfg == m.cfg {
		if err := m.store.Ping(ctx); err != nil {
			return schema.CollectionStats{}, err
		}
		return m.store.Stats(ctx)
	}
	store, err := m.open(ctx, cfg, OpenOptions{IndexType: m.indexType, Log: m.log})
	if err != nil {
		return schema.CollectionStats{}, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			m.log.WithError(err).Warn("关闭探测连接失败")
		}
	}()
	if err := store.Ping(ctx); err != nil {
		return schema.CollectionStats{}, err
	}
	return store.Stats(ctx)
}

// Close closes the live store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	m.lastErr = errs.E(errs.KindConnection, "vectorstore.Manager", "closed")
	return err
}

func (m *Manager) disconnectedErr(op string) error {
	if m.lastErr != nil {
		return errs.Wrap(errs.KindConnection, op, m.lastErr)
	}
	return errs.E(errs.KindConnection, op, "vector store is not connected")
}

// opTimeout bounds each store call with the active topology's timeout.
func opTimeout(cfg config.DatabaseConfig) time.Duration {
	secs := cfg.MilvusStandard.Timeout
	if cfg.IsLite() {
		secs = cfg.MilvusLite.Timeout
	}
	if secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 60 * time.Second
}
