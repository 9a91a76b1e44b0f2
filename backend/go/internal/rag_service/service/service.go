package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/llm"
	"ragbase/backend/go/internal/rag_service/rag/embeddings"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/pipeline"
	"ragbase/backend/go/internal/rag_service/rag/rerankers"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/internal/rag_service/rag/splitters"
	"ragbase/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragbase/backend/go/internal/uploads"
	"ragbase/backend/go/pkg/logger"
)

// 查询参数的默认值。
const (
	DefaultQueryTopK       = 5
	DefaultContextLen      = 512
	DefaultTemperature     = 0.7
	MaxSearchK             = 50
	ingestConcurrencyLimit = 4
)

// Deps 是构建 Service 所需的组件。Completer 与 Reranker 可以为 nil。
type Deps struct {
	Config           *config.Store
	Vectors          *vectorstore.Manager
	Uploads          *uploads.Store
	Completer        llm.Completer
	Reranker         rerankers.Reranker
	EmbeddingOptions []embeddings.Option
	Log              logger.Logger
}

// Service 实现知识库的全部业务操作，HTTP 层只负责编解码。
type Service struct {
	cfg       *config.Store
	vectors   *vectorstore.Manager
	uploads   *uploads.Store
	completer llm.Completer
	reranker  rerankers.Reranker
	embedOpts []embeddings.Option
	log       logger.Logger

	mu        sync.Mutex
	embedders map[string]*embeddings.Adapter
}

// New 创建 Service。
func New(d Deps) *Service {
	return &Service{
		cfg:       d.Config,
		vectors:   d.Vectors,
		uploads:   d.Uploads,
		completer: d.Completer,
		reranker:  d.Reranker,
		embedOpts: d.EmbeddingOptions,
		log:       d.Log.WithComponent("service"),
		embedders: make(map[string]*embeddings.Adapter),
	}
}

// Uploads 返回上传存储。
func (s *Service) Uploads() *uploads.Store { return s.uploads }

// Config 返回当前配置快照。
func (s *Service) Config() *config.AppConfig { return s.cfg.Get() }

// Embedder 返回别名对应的嵌入适配器。每个解析后的别名只加载一次。
func (s *Service) Embedder(alias string) *embeddings.Adapter {
	cfg := s.cfg.Get().Embedding
	if alias == "" {
		alias = cfg.DefaultModel
	}
	resolved, _ := cfg.ResolveModel(alias)

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.embedders[resolved]; ok {
		return a
	}
	opts := append([]embeddings.Option{embeddings.WithLogger(s.log)}, s.embedOpts...)
	a := embeddings.NewAdapter(cfg, resolved, opts...)
	s.embedders[resolved] = a
	return a
}

// collectionEmbedder 返回集合记录的嵌入模型对应的适配器；集合尚未记录模型时使用默认模型。
func (s *Service) collectionEmbedder(ctx context.Context) *embeddings.Adapter {
	return s.Embedder(s.vectors.EmbeddingModel(ctx))
}

// EmbedRequest 是一次入库请求。IndexType 为空时使用存储的索引类型。
type EmbedRequest struct {
	Filenames       []string
	EmbedModel      string
	IndexType       string
	SearchThreshold *float64
	ChunkSize       int
	ChunkOverlap    int
}

// EmbeddingConfig 回显本次入库实际使用的参数。
type EmbeddingConfig struct {
	Model        string  `json:"model"`
	ModelName    string  `json:"model_name"`
	IndexType    string  `json:"index_type"`
	ChunkSize    int     `json:"chunk_size"`
	ChunkOverlap int     `json:"chunk_overlap"`
	Threshold    float64 `json:"search_threshold"`
}

// EmbedResult 是 /embed 的响应体。
type EmbedResult struct {
	Status          string                 `json:"status"`
	Message         string                 `json:"message"`
	OverallStats    pipeline.OverallStats  `json:"overall_stats"`
	FileResults     []pipeline.FileResult  `json:"file_results"`
	CollectionStats CollectionStats        `json:"collection_stats"`
	EmbeddingConfig EmbeddingConfig        `json:"embedding_config"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// Embed 解析、切分、嵌入并存储上传目录中的文件。
// 任何文件不存在时整体返回 NotFound；单个文件解析失败只记录在 file_results 中。
func (s *Service) Embed(ctx context.Context, req EmbedRequest) (*EmbedResult, error) {
	const op = "service.Embed"
	cfg := s.cfg.Get()
	if len(req.Filenames) == 0 {
		return nil, errs.E(errs.KindValidation, op, "filenames must not be empty")
	}
	if err := splitters.Validate(req.ChunkSize, req.ChunkOverlap); err != nil {
		return nil, err
	}
	if req.IndexType == "" {
		req.IndexType = s.vectors.IndexType()
	}
	if !contains(cfg.Index.AvailableTypes, strings.ToLower(req.IndexType)) {
		return nil, errs.E(errs.KindValidation, op, "unsupported index_type %q", req.IndexType)
	}
	threshold := cfg.Search.Threshold
	if req.SearchThreshold != nil {
		threshold = *req.SearchThreshold
	}

	paths := make([]string, 0, len(req.Filenames))
	for _, name := range req.Filenames {
		if _, err := s.uploads.Stat(name); err != nil {
			return nil, err
		}
		p, err := s.uploads.Path(name)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	embedder := s.Embedder(req.EmbedModel)
	sum, err := pipeline.NewIndexingPipeline(s.vectors, ingestConcurrencyLimit, s.log).Run(ctx, pipeline.IndexRequest{
		Paths:        paths,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		Embedder:     embedder,
		Model:        embedder.Alias(),
	})
	if err != nil {
		return nil, err
	}

	res := &EmbedResult{
		Status:       "success",
		Message:      fmt.Sprintf("成功嵌入 %d 个文件，共 %d 个文本块", len(req.Filenames)-len(sum.Failed), sum.Overall.TotalChunks),
		OverallStats: sum.Overall,
		FileResults:  sum.Files,
		EmbeddingConfig: EmbeddingConfig{
			Model:        embedder.Alias(),
			ModelName:    embedder.ModelName(),
			IndexType:    strings.ToLower(req.IndexType),
			ChunkSize:    req.ChunkSize,
			ChunkOverlap: req.ChunkOverlap,
			Threshold:    threshold,
		},
		Metadata: map[string]interface{}{"embedding_status": string(sum.EmbeddingStatus)},
	}
	if sum.EmbeddingReason != "" {
		res.Metadata["embedding_reason"] = sum.EmbeddingReason
	}
	if n := len(sum.Failed); n > 0 {
		res.Status = "partial"
		if n == len(req.Filenames) {
			res.Status = "failed"
		}
		res.Metadata["failed_files"] = n
	}
	if res.FileResults == nil {
		res.FileResults = []pipeline.FileResult{}
	}
	res.CollectionStats = s.CollectionStats(ctx)
	return res, nil
}

// SearchRequest 是一次相似度检索。
type SearchRequest struct {
	Query     string
	K         int
	Filter    map[string]interface{}
	Threshold *float64
}

// SearchHit 是检索结果中的一条记录。
type SearchHit struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Score    float32                `json:"score"`
}

// SearchResult 是 /search 的响应体。
type SearchResult struct {
	Status       string                 `json:"status"`
	Query        string                 `json:"query"`
	ResultsCount int                    `json:"results_count"`
	Results      []SearchHit            `json:"results"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// Search 返回与查询最相似的记录。存储不可用时返回空结果并在 metadata 中注明。
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	cfg := s.cfg.Get()
	if req.K == 0 {
		req.K = cfg.Search.TopK
	}
	if req.K < 1 || req.K > MaxSearchK {
		return nil, errs.E(errs.KindValidation, "service.Search", "k must be between 1 and %d", MaxSearchK)
	}
	threshold := cfg.Search.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	ret, err := pipeline.NewRetrievalPipeline(s.collectionEmbedder(ctx), s.vectors, s.log).Run(ctx, req.Query, schema.SearchOptions{
		K: req.K, Threshold: threshold, Filter: req.Filter,
	})
	if err != nil {
		return nil, err
	}

	out := &SearchResult{
		Status:   "success",
		Query:    req.Query,
		Results:  make([]SearchHit, 0, len(ret.Hits)),
		Metadata: map[string]interface{}{"embedding_status": string(ret.EmbeddingStatus)},
	}
	if ret.Read.Degraded {
		out.Metadata["search_degraded"] = ret.Read.Reason
	}
	for _, h := range ret.Hits {
		out.Results = append(out.Results, SearchHit{Text: h.Document.Text, Metadata: h.Document.Metadata, Score: h.Score})
	}
	out.ResultsCount = len(out.Results)
	return out, nil
}

// QueryRequest 是一次问答请求。零值字段使用默认值。
type QueryRequest struct {
	Question    string
	TopK        int
	ContextLen  int
	Temperature *float32
}

// QueryResult 是 /query 的响应体。
type QueryResult struct {
	Answer   string                 `json:"answer"`
	Docs     []string               `json:"docs"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Query 检索相关文本并生成答案。补全后端不可用时使用抽取式答案，不返回错误。
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	cfg := s.cfg.Get()
	q := pipeline.Question{
		Text:        strings.TrimSpace(req.Question),
		TopK:        req.TopK,
		ContextLen:  req.ContextLen,
		Temperature: DefaultTemperature,
		Threshold:   cfg.Search.Threshold,
	}
	if q.Text == "" {
		return nil, errs.E(errs.KindValidation, "service.Query", "问题不能为空")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultQueryTopK
	}
	if q.ContextLen <= 0 {
		q.ContextLen = DefaultContextLen
	}
	if req.Temperature != nil {
		q.Temperature = *req.Temperature
	}

	s.log.WithField("question", q.Text).Info("收到查询请求")
	retrieval := pipeline.NewRetrievalPipeline(s.collectionEmbedder(ctx), s.vectors, s.log)
	ans, err := pipeline.NewQAPipeline(retrieval, s.completer, s.reranker, s.log).Answer(ctx, q)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Answer: ans.Answer, Docs: ans.Docs, Metadata: ans.Metadata}, nil
}

// CollectionStats 是集合统计信息的对外表示。
type CollectionStats struct {
	Status          string `json:"status"`
	CollectionName  string `json:"collection_name"`
	TotalEntities   int64  `json:"total_entities"`
	IndexType       string `json:"index_type"`
	EmbeddingModel  string `json:"embedding_model"`
	VectorDimension int    `json:"vector_dimension"`
	Message         string `json:"message,omitempty"`
}

// CollectionStats 返回集合统计。断开连接时返回 disconnected 状态而不是错误。
func (s *Service) CollectionStats(ctx context.Context) CollectionStats {
	st, status := s.vectors.Stats(ctx)
	embedder := s.Embedder(st.EmbeddingModel)
	out := CollectionStats{
		Status:          status,
		CollectionName:  st.CollectionName,
		TotalEntities:   st.TotalEntities,
		IndexType:       st.IndexType,
		EmbeddingModel:  embedder.Alias(),
		VectorDimension: st.VectorDimension,
	}
	if out.VectorDimension == 0 {
		out.VectorDimension = embedder.Dim()
	}
	if status != vectorstore.StatusConnected {
		if _, err := s.vectors.Status(); err != nil {
			out.Message = err.Error()
		}
	}
	return out
}

// ClearCollection 删除集合中的全部向量。
func (s *Service) ClearCollection(ctx context.Context) error {
	if err := s.vectors.DropCollection(ctx); err != nil {
		return err
	}
	s.log.Info("集合已清空")
	return nil
}

// VectorHealth 描述向量存储的可用状态。
type VectorHealth struct {
	Status         string `json:"status"`
	DBType         string `json:"db_type"`
	CollectionName string `json:"collection_name"`
	TotalEntities  int64  `json:"total_entities"`
	Message        string `json:"message,omitempty"`
}

// HealthReport 是 /query/health 的响应体。
type HealthReport struct {
	Status        string       `json:"status"`
	VectorService VectorHealth `json:"vector_service"`
	LLMService    llm.Health   `json:"llm_service"`
}

// 汇总健康状态。
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// Health 汇总向量存储与补全后端的状态。任一不可用时为 degraded。
func (s *Service) Health(ctx context.Context) HealthReport {
	st, status := s.vectors.Stats(ctx)
	vh := VectorHealth{
		Status:         status,
		DBType:         string(s.vectors.Config().DBType),
		CollectionName: st.CollectionName,
		TotalEntities:  st.TotalEntities,
	}
	if _, err := s.vectors.Status(); err != nil {
		vh.Message = err.Error()
	}

	lh := llm.Health{Status: "error", Message: "未配置补全后端"}
	if s.completer != nil {
		lh = s.completer.Health(ctx)
	}

	report := HealthReport{Status: HealthHealthy, VectorService: vh, LLMService: lh}
	if vh.Status != vectorstore.StatusConnected || lh.Status != "ok" {
		report.Status = HealthDegraded
	}
	return report
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
