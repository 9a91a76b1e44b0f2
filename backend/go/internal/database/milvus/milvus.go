package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"ragbase/backend/go/internal/config"
)

// Row 是一条搜索命中：相似度分数以及请求的输出字段。
type Row struct {
	Score  float32
	Fields map[string]interface{}
}

// API 是存储层实际使用的 Milvus 能力子集，便于在测试中替换。
type API interface {
	HasCollection(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema) error
	CollectionDim(ctx context.Context, collection, vectorField string) (int, error)
	CollectionProperty(ctx context.Context, collection, key string) (string, error)
	SetCollectionProperty(ctx context.Context, collection, key, value string) error
	CreateIndex(ctx context.Context, collection, field string, idx entity.Index) error
	LoadCollection(ctx context.Context, collection string) error
	Insert(ctx context.Context, collection string, columns ...entity.Column) error
	Flush(ctx context.Context, collection string) error
	Search(ctx context.Context, collection, expr string, outputFields []string, vector []float32, vectorField string, metric entity.MetricType, topK int, sp entity.SearchParam) ([]Row, error)
	RowCount(ctx context.Context, collection string) (int64, error)
	DropCollection(ctx context.Context, collection string) error
	Ping(ctx context.Context) error
	Close() error
}

// sdkClient 将 client.Client 适配为 API。
type sdkClient struct {
	c client.Client
}

// Connect 根据标准版配置建立连接，并通过 ListCollections 确认服务可用。
func Connect(ctx context.Context, cfg config.MilvusStandardConfig) (API, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := client.NewClient(ctx, client.Config{
		Address:       cfg.Address(),
		Username:      cfg.User,
		Password:      cfg.Password,
		EnableTLSAuth: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接到 Milvus %s: %w", cfg.Address(), err)
	}
	api := &sdkClient{c: c}
	if err := api.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return api, nil
}

// Wrap 将已有的 SDK 客户端适配为 API。
func Wrap(c client.Client) API {
	return &sdkClient{c: c}
}

func (s *sdkClient) HasCollection(ctx context.Context, collection string) (bool, error) {
	return s.c.HasCollection(ctx, collection)
}

func (s *sdkClient) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	return s.c.CreateCollection(ctx, schema, entity.DefaultShardNumber)
}

func (s *sdkClient) CollectionDim(ctx context.Context, collection, vectorField string) (int, error) {
	coll, err := s.c.DescribeCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	if coll.Schema == nil {
		return 0, fmt.Errorf("集合 '%s' 没有 schema", collection)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name == vectorField {
			return strconv.Atoi(f.TypeParams["dim"])
		}
	}
	return 0, fmt.Errorf("集合 '%s' 中不存在向量字段 '%s'", collection, vectorField)
}

// CollectionProperty 读取集合属性，不存在时返回空串。
func (s *sdkClient) CollectionProperty(ctx context.Context, collection, key string) (string, error) {
	coll, err := s.c.DescribeCollection(ctx, collection)
	if err != nil {
		return "", err
	}
	return coll.Properties[key], nil
}

func (s *sdkClient) SetCollectionProperty(ctx context.Context, collection, key, value string) error {
	return s.c.AlterCollection(ctx, collection, property{key: key, value: value})
}

// property 是任意字符串集合属性。
type property struct {
	key, value string
}

func (p property) KeyValue() (string, string) { return p.key, p.value }

func (p property) Valid() error {
	if p.key == "" {
		return fmt.Errorf("集合属性名不能为空")
	}
	return nil
}

func (s *sdkClient) CreateIndex(ctx context.Context, collection, field string, idx entity.Index) error {
	return s.c.CreateIndex(ctx, collection, field, idx, false)
}

func (s *sdkClient) LoadCollection(ctx context.Context, collection string) error {
	return s.c.LoadCollection(ctx, collection, false)
}

func (s *sdkClient) Insert(ctx context.Context, collection string, columns ...entity.Column) error {
	_, err := s.c.Insert(ctx, collection, "" /* default partition */, columns...)
	return err
}

func (s *sdkClient) Flush(ctx context.Context, collection string) error {
	return s.c.Flush(ctx, collection, false)
}

func (s *sdkClient) Search(ctx context.Context, collection, expr string, outputFields []string, vector []float32, vectorField string, metric entity.MetricType, topK int, sp entity.SearchParam) ([]Row, error) {
	results, err := s.c.Search(
		ctx, collection, []string{}, expr, outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		vectorField, metric, topK, sp,
	)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		for i := 0; i < res.ResultCount; i++ {
			row := Row{Score: res.Scores[i], Fields: make(map[string]interface{}, len(res.Fields))}
			for _, col := range res.Fields {
				v, err := col.Get(i)
				if err != nil {
					return nil, fmt.Errorf("读取字段 '%s' 失败: %w", col.Name(), err)
				}
				row.Fields[col.Name()] = v
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *sdkClient) RowCount(ctx context.Context, collection string) (int64, error) {
	stats, err := s.c.GetCollectionStatistics(ctx, collection)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("无法解析 row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}

func (s *sdkClient) DropCollection(ctx context.Context, collection string) error {
	return s.c.DropCollection(ctx, collection)
}

// Ping 检查 Milvus 连接的健康状况。
func (s *sdkClient) Ping(ctx context.Context) error {
	if _, err := s.c.ListCollections(ctx); err != nil {
		return fmt.Errorf("Milvus health check failed: %w", err)
	}
	return nil
}

func (s *sdkClient) Close() error {
	return s.c.Close()
}

// BuildIndex 根据索引类型名称构建使用给定度量的索引。
// 支持 hnsw、ivf_flat、ivf_sq8、flat（大小写不敏感）。
func BuildIndex(indexType string, metric entity.MetricType) (entity.Index, error) {
	switch strings.ToLower(indexType) {
	case "hnsw", "":
		return entity.NewIndexHNSW(metric, 8, 64)
	case "ivf_flat":
		return entity.NewIndexIvfFlat(metric, 128)
	case "ivf_sq8":
		return entity.NewIndexIvfSQ8(metric, 128)
	case "flat":
		return entity.NewIndexFlat(metric)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", indexType)
	}
}

// BuildSearchParam 返回与索引类型匹配的搜索参数。
func BuildSearchParam(indexType string) (entity.SearchParam, error) {
	switch strings.ToLower(indexType) {
	case "hnsw", "":
		return entity.NewIndexHNSWSearchParam(64)
	case "ivf_flat":
		return entity.NewIndexIvfFlatSearchParam(16)
	case "ivf_sq8":
		return entity.NewIndexIvfSQ8SearchParam(16)
	case "flat":
		return entity.NewIndexFlatSearchParam()
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", indexType)
	}
}

// CollectionSchema 描述文档集合的字段布局。
type CollectionSchema struct {
	Name        string
	Description string
	Dim         int
}

// 文档集合的字段名。
const (
	FieldID        = "id"
	FieldText      = "text"
	FieldMetadata  = "metadata"
	FieldSeq       = "seq"
	FieldEmbedding = "embedding"
)

// PropertyEmbeddingModel 是记录写入集合所用嵌入模型别名的集合属性。
const PropertyEmbeddingModel = "ragbase.embedding_model"


// Build 构建集合 schema：id 主键、text、metadata(JSON)、seq 以及向量字段。
func (cs CollectionSchema) Build() *entity.Schema {
	return entity.NewSchema().
		WithName(cs.Name).
		WithDescription(cs.Description).
		WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(FieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(FieldMetadata).WithDataType(entity.FieldTypeJSON)).
		WithField(entity.NewField().WithName(FieldSeq).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(cs.Dim)))
}

// EnsureCollection 确保集合存在、建立索引并加载到内存。
// 集合已存在时返回其向量维度，新建时返回 cs.Dim。
func EnsureCollection(ctx context.Context, api API, cs CollectionSchema, indexType string, metric entity.MetricType) (int, error) {
	exists, err := api.HasCollection(ctx, cs.Name)
	if err != nil {
		return 0, fmt.Errorf("检查集合是否存在时出错: %w", err)
	}
	dim := cs.Dim
	if exists {
		if dim, err = api.CollectionDim(ctx, cs.Name, FieldEmbedding); err != nil {
			return 0, fmt.Errorf("读取集合 '%s' 维度失败: %w", cs.Name, err)
		}
	} else {
		if err := api.CreateCollection(ctx, cs.Build()); err != nil {
			return 0, fmt.Errorf("创建集合失败: %w", err)
		}
		idx, err := BuildIndex(indexType, metric)
		if err != nil {
			return 0, err
		}
		if err := api.CreateIndex(ctx, cs.Name, FieldEmbedding, idx); err != nil {
			return 0, fmt.Errorf("为字段 '%s' 创建索引失败: %w", FieldEmbedding, err)
		}
	}
	if err := api.LoadCollection(ctx, cs.Name); err != nil {
		return 0, fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", cs.Name, err)
	}
	return dim, nil
}
