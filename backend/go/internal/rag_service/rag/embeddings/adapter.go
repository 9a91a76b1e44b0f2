package embeddings

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/embedding"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/pkg/logger"
)

// Status tells callers whether vectors came from the configured model.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Result is the outcome of one embedding call. A Degraded result still carries
// usable vectors of the right dimension; Reason explains what was substituted.
type Result struct {
	Vectors [][]float32
	Status  Status
	Reason  string
}

// Degraded reports whether any vector was substituted.
func (r Result) Degraded() bool { return r.Status == StatusDegraded }

// Factory builds a provider model. Tests replace it with fakes.
type Factory func(opts embedding.Options) (embedding.Embedding, error)

// Adapter turns texts into fixed-dimension vectors for one collection.
// It never fails: load and runtime failures are reported through Status.
type Adapter struct {
	model      embedding.Embedding
	provider   string
	alias      string
	modelName  string
	dim        int
	normalize  bool
	batchSize  int
	loadStatus Status
	loadReason string
	cache      Cache
	log        logger.Logger
}

// Option configures an Adapter.
type Option func(*adapterOptions)

type adapterOptions struct {
	factory Factory
	cache   Cache
	log     logger.Logger
	httpOpt embedding.Options
}

// WithFactory replaces the provider factory.
func WithFactory(f Factory) Option {
	return func(o *adapterOptions) { o.factory = f }
}

// WithCache enables query embedding caching.
func WithCache(c Cache) Option {
	return func(o *adapterOptions) { o.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *adapterOptions) { o.log = l }
}

// WithHTTPClient passes a shared HTTP client to HTTP-based providers.
func WithHTTPClient(opts embedding.Options) Option {
	return func(o *adapterOptions) { o.httpOpt = opts }
}

// NewAdapter resolves alias against cfg.Models and loads the model.
// If it cannot be loaded the default alias is tried, then the offline hash model.
// The vector dimension always follows the requested alias so that a
// substitution never changes what the collection stores.
func NewAdapter(cfg config.EmbeddingConfig, alias string, opts ...Option) *Adapter {
	o := adapterOptions{factory: embedding.NewEmdModel, log: logger.New("embeddings")}
	for _, opt := range opts {
		opt(&o)
	}

	resolved, spec := cfg.ResolveModel(alias)
	dim := spec.Dim
	if dim <= 0 {
		dim = 384
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	a := &Adapter{
		provider:   strings.ToLower(cfg.Provider),
		alias:      resolved,
		dim:        dim,
		normalize:  strings.EqualFold(cfg.Metric, "COSINE") || cfg.Metric == "",
		batchSize:  batch,
		loadStatus: StatusOK,
		cache:      o.cache,
		log:        o.log.WithComponent("embedding_adapter"),
	}

	var reasons []string
	if resolved != alias && alias != "" {
		reasons = append(reasons, fmt.Sprintf("unknown model %q, using %q", alias, resolved))
	}

	build := func(provider, name string) (embedding.Embedding, error) {
		bo := o.httpOpt
		bo.Provider, bo.Model, bo.Dim = provider, name, dim
		bo.APIKey, bo.BaseURL = cfg.APIKey, cfg.BaseURL
		return o.factory(bo)
	}

	m, err := build(a.provider, spec.Name)
	if err == nil {
		a.model, a.modelName = m, spec.Name
	} else {
		reasons = append(reasons, fmt.Sprintf("model %s failed to load: %v", spec.Name, err))
		_, def := cfg.ResolveModel(cfg.DefaultModel)
		if def.Name != spec.Name {
			if m, err2 := build(a.provider, def.Name); err2 == nil {
				a.model, a.modelName = m, def.Name
			} else {
				reasons = append(reasons, fmt.Sprintf("default model %s failed to load: %v", def.Name, err2))
			}
		}
		if a.model == nil {
			h, _ := embedding.NewHashModel(dim)
			a.model, a.modelName = h, fmt.Sprintf("hash-%d", dim)
			reasons = append(reasons, "using offline hash model")
		}
		a.loadStatus = StatusDegraded
	}
	if len(reasons) > 0 {
		a.loadReason = strings.Join(reasons, "; ")
		if a.loadStatus == StatusDegraded {
			a.log.WithField("reason", a.loadReason).Warn("嵌入模型已降级")
		}
	}
	return a
}

// Dim returns the vector dimension.
func (a *Adapter) Dim() int { return a.dim }

// Alias returns the resolved model alias.
func (a *Adapter) Alias() string { return a.alias }

// ModelName returns the name of the model actually serving requests.
func (a *Adapter) ModelName() string { return a.modelName }

// Status reports whether the configured model was loaded.
func (a *Adapter) Status() (Status, string) { return a.loadStatus, a.loadReason }

// EmbedTexts embeds texts in batches. Failing batches and vectors of the wrong
// dimension are replaced by reproducible placeholders and the result is marked Degraded.
func (a *Adapter) EmbedTexts(ctx context.Context, texts []string) Result {
	res := Result{Vectors: make([][]float32, len(texts)), Status: a.loadStatus}
	var reasons []string
	if a.loadStatus == StatusDegraded {
		reasons = append(reasons, a.loadReason)
	}

	for start := 0; start < len(texts); start += a.batchSize {
		end := start + a.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		vecs, err := a.model.EmbedBatch(ctx, batch)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("model returned %d vectors for %d texts", len(vecs), len(batch))
		}
		if err != nil {
			a.log.WithError(err).WithField("batch_size", len(batch)).Warn("嵌入生成失败，使用占位向量")
			reasons = append(reasons, fmt.Sprintf("embedding failed: %v", err))
			for i, t := range batch {
				res.Vectors[start+i] = Placeholder(t, a.dim)
			}
			continue
		}
		for i, v := range vecs {
			if len(v) != a.dim {
				reasons = append(reasons, fmt.Sprintf("dimension mismatch: got %d, want %d", len(v), a.dim))
				v = Placeholder(batch[i], a.dim)
			} else if a.normalize {
				v = Normalize(v)
			}
			res.Vectors[start+i] = v
		}
	}

	if len(reasons) > 0 {
		res.Status = StatusDegraded
		res.Reason = strings.Join(dedupe(reasons), "; ")
	}
	return res
}

// EmbedQuery embeds one query text, consulting the cache first.
// Degraded vectors are never cached.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, Result) {
	key := a.cacheKey(text)
	if a.cache != nil {
		if v, ok := a.cache.Get(ctx, key); ok && len(v) == a.dim {
			return v, Result{Vectors: [][]float32{v}, Status: a.loadStatus, Reason: a.loadReason}
		}
	}
	res := a.EmbedTexts(ctx, []string{text})
	if a.cache != nil && !res.Degraded() {
		a.cache.Put(ctx, key, res.Vectors[0])
	}
	return res.Vectors[0], res
}

// Embed implements interfaces.EmbeddingModel. It never returns an error.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.EmbedTexts(ctx, texts).Vectors, nil
}

func (a *Adapter) cacheKey(text string) string {
	sum := sha1.Sum([]byte(text))
	return a.modelName + ":" + hex.EncodeToString(sum[:])
}

// Placeholder returns a unit vector derived from text. The same text always
// yields the same vector.
func Placeholder(text string, dim int) []float32 {
	sum := sha1.Sum([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	r := rand.New(rand.NewSource(seed))
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return Normalize(v)
}

// Normalize returns v scaled to unit length. Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// compile-time check to ensure Adapter implements the EmbeddingModel interface
var _ interfaces.EmbeddingModel = (*Adapter)(nil)
