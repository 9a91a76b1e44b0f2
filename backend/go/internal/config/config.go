package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// 环境变量前缀与嵌套分隔符，例如 RAG_DATABASE__MILVUS_STANDARD__HOST。
const (
	EnvPrefix          = "RAG"
	EnvNestedDelimiter = "__"
)

// DBType 是向量数据库拓扑的判别标签。
type DBType string

const (
	DBTypeStandard DBType = "milvus_standard" // 独立部署的 Milvus 服务
	DBTypeLite     DBType = "milvus_lite"     // 嵌入式、基于本地文件的存储
)

// Valid 判断标签是否为已知的两种拓扑之一。
func (t DBType) Valid() bool {
	return t == DBTypeStandard || t == DBTypeLite
}

// DisplayName 返回数据库类型的显示名称。
func (t DBType) DisplayName() string {
	switch t {
	case DBTypeStandard:
		return "Milvus 标准版"
	case DBTypeLite:
		return "Milvus Lite 版"
	default:
		return string(t)
	}
}

// MilvusStandardConfig 定义了 Milvus 标准版的连接配置。
type MilvusStandardConfig struct {
	Host     string `yaml:"host" mapstructure:"host" json:"host"`             // Milvus 服务器地址
	Port     int    `yaml:"port" mapstructure:"port" json:"port"`             // Milvus 服务器端口
	User     string `yaml:"user" mapstructure:"user" json:"user"`             // 用户名
	Password string `yaml:"password" mapstructure:"password" json:"-"`        // 密码，不对外输出
	Secure   bool   `yaml:"secure" mapstructure:"secure" json:"secure"`       // 是否使用 TLS
	Timeout  int    `yaml:"timeout" mapstructure:"timeout" json:"timeout"`    // 连接及单次操作超时（秒）
}

// Address 返回 host:port 形式的地址。
func (c MilvusStandardConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MilvusLiteConfig 定义了嵌入式 Lite 存储的配置。
type MilvusLiteConfig struct {
	DBPath  string `yaml:"db_path" mapstructure:"db_path" json:"db_path"` // 数据库文件路径
	Dim     int    `yaml:"dim" mapstructure:"dim" json:"dim"`             // 向量维度
	Timeout int    `yaml:"timeout" mapstructure:"timeout" json:"timeout"` // 打开及单次操作超时（秒），0 表示 60 秒
}

// DatabaseConfig 是两种拓扑的判别联合：DBType 决定哪一个变体生效，
// 未生效的变体字段被保留但不被使用。
type DatabaseConfig struct {
	DBType         DBType               `yaml:"db_type" mapstructure:"db_type" json:"db_type"`
	MilvusStandard MilvusStandardConfig `yaml:"milvus_standard" mapstructure:"milvus_standard" json:"milvus_standard"`
	MilvusLite     MilvusLiteConfig     `yaml:"milvus_lite" mapstructure:"milvus_lite" json:"milvus_lite"`
	CollectionName string               `yaml:"collection_name" mapstructure:"collection_name" json:"collection_name"`
}

// IsLite 判断当前是否使用 Lite 存储。
func (c DatabaseConfig) IsLite() bool {
	return c.DBType == DBTypeLite
}

// ModelSpec 描述一个嵌入模型别名对应的实际模型和向量维度。
type ModelSpec struct {
	Name string `yaml:"name" mapstructure:"name" json:"name"`
	Dim  int    `yaml:"dim" mapstructure:"dim" json:"dim"`
}

// EmbeddingCacheConfig 配置查询向量缓存。
type EmbeddingCacheConfig struct {
	Enabled  bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Capacity int  `yaml:"capacity" mapstructure:"capacity" json:"capacity"`
	TTL      int  `yaml:"ttl" mapstructure:"ttl" json:"ttl"`         // 秒
	Redis    bool `yaml:"redis" mapstructure:"redis" json:"redis"`   // 是否额外使用 Redis 作为二级缓存
}

// EmbeddingConfig 包含嵌入模型提供商及别名映射。
type EmbeddingConfig struct {
	Provider     string               `yaml:"provider" mapstructure:"provider" json:"provider"` // huggingface, ollama, openai, gemini, hash
	DefaultModel string               `yaml:"default_model" mapstructure:"default_model" json:"default_model"`
	Models       map[string]ModelSpec `yaml:"models" mapstructure:"models" json:"models"`
	APIKey       string               `yaml:"api_key" mapstructure:"api_key" json:"-"`
	BaseURL      string               `yaml:"base_url" mapstructure:"base_url" json:"base_url"`
	Metric       string               `yaml:"metric" mapstructure:"metric" json:"metric"` // COSINE 时向量会被归一化
	BatchSize    int                  `yaml:"batch_size" mapstructure:"batch_size" json:"batch_size"`
	Cache        EmbeddingCacheConfig `yaml:"cache" mapstructure:"cache" json:"cache"`
}

// IndexConfig 定义默认索引类型与可选项。
type IndexConfig struct {
	DefaultType    string   `yaml:"default_type" mapstructure:"default_type" json:"default_index_type"`
	AvailableTypes []string `yaml:"available_types" mapstructure:"available_types" json:"index_types"`
}

// SearchConfig 定义默认检索参数。
type SearchConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold" json:"default_search_threshold"`
	TopK      int     `yaml:"top_k" mapstructure:"top_k" json:"default_top_k"`
}

// ChunkConfig 定义默认分块参数。
type ChunkConfig struct {
	Size    int `yaml:"size" mapstructure:"size" json:"chunk_size"`
	Overlap int `yaml:"overlap" mapstructure:"overlap" json:"chunk_overlap"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	FailureThreshold uint32 `yaml:"failure_threshold" mapstructure:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold uint32 `yaml:"success_threshold" mapstructure:"success_threshold" json:"success_threshold"`
	Timeout          string `yaml:"timeout" mapstructure:"timeout" json:"timeout"` // 例如: "30s"
}

// LLMConfig 定义补全后端。
type LLMConfig struct {
	Provider       string               `yaml:"provider" mapstructure:"provider" json:"provider"` // deepseek, openai, ollama
	Model          string               `yaml:"model" mapstructure:"model" json:"model"`
	APIKey         string               `yaml:"api_key" mapstructure:"api_key" json:"-"`
	BaseURL        string               `yaml:"base_url" mapstructure:"base_url" json:"base_url"`
	OllamaURL      string               `yaml:"ollama_url" mapstructure:"ollama_url" json:"ollama_url"`
	TimeoutSeconds int                  `yaml:"timeout_seconds" mapstructure:"timeout_seconds" json:"timeout_seconds"` // 0 表示使用提供商默认值
	MaxTokens      int                  `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker" json:"circuit_breaker"`
}

// RerankConfig 配置问答检索后的可选重排序。
type RerankConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key" json:"-"`
	Model   string `yaml:"model" mapstructure:"model" json:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`
	TopN    int    `yaml:"top_n" mapstructure:"top_n" json:"top_n"`
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置，用于镜像上传文件。
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key" json:"-"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket" json:"bucket"`
	Secure    bool   `yaml:"secure" mapstructure:"secure" json:"secure"`
}

// UploadConfig 定义上传目录与限制。
type UploadConfig struct {
	Dir               string      `yaml:"dir" mapstructure:"dir" json:"upload_dir"`
	MaxFileSize       int64       `yaml:"max_file_size" mapstructure:"max_file_size" json:"max_file_size"`
	AllowedExtensions []string    `yaml:"allowed_extensions" mapstructure:"allowed_extensions" json:"allowed_extensions"`
	MinIO             MinIOConfig `yaml:"minio" mapstructure:"minio" json:"minio"`
}

// RedisConfig 定义了 Redis 的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address" mapstructure:"address" json:"address"`
	Password string `yaml:"password" mapstructure:"password" json:"-"`
	DB       int    `yaml:"db" mapstructure:"db" json:"db"`
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate" mapstructure:"rate" json:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity" mapstructure:"capacity" json:"capacity"`
}

// RateLimiterConfig 定义了按客户端限流的配置。
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	TokenBucket TokenBucketConfig `yaml:"token_bucket" mapstructure:"token_bucket" json:"token_bucket"`
}

// ServerConfig 定义监听地址与中间件。
type ServerConfig struct {
	HTTPAddr    string            `yaml:"http_addr" mapstructure:"http_addr" json:"http_addr"`
	GRPCAddr    string            `yaml:"grpc_addr" mapstructure:"grpc_addr" json:"grpc_addr"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter" mapstructure:"rate_limiter" json:"rate_limiter"`
}

// DiscoveryConfig 定义 etcd 服务注册。
type DiscoveryConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Endpoints   []string `yaml:"endpoints" mapstructure:"endpoints" json:"endpoints"`
	ServiceName string   `yaml:"service_name" mapstructure:"service_name" json:"service_name"`
	Advertise   string   `yaml:"advertise" mapstructure:"advertise" json:"advertise"` // 注册到 etcd 的 HTTP 地址，例如 "10.0.0.5:8000"
	TTL         int64    `yaml:"ttl" mapstructure:"ttl" json:"ttl"`                   // 租约秒数
}

// AppInfo 包含应用程序的基本信息。
type AppInfo struct {
	Name  string `yaml:"name" mapstructure:"name" json:"name"`
	Debug bool   `yaml:"debug" mapstructure:"debug" json:"debug"`
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level" mapstructure:"level" json:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// AppConfig 是整个配置的根结构。
type AppConfig struct {
	App       AppInfo         `yaml:"app" mapstructure:"app" json:"app"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server" json:"server"`
	Logger    LoggerConfig    `yaml:"logger" mapstructure:"logger" json:"logger"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database" json:"database"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding" json:"embedding"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index" json:"index"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search" json:"search"`
	Chunk     ChunkConfig     `yaml:"chunk" mapstructure:"chunk" json:"chunk"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm" json:"llm"`
	Rerank    RerankConfig    `yaml:"rerank" mapstructure:"rerank" json:"rerank"`
	Upload    UploadConfig    `yaml:"upload" mapstructure:"upload" json:"upload"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis" json:"redis"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery" json:"discovery"`
}

// Default 返回内置默认配置。
func Default() *AppConfig {
	return &AppConfig{
		App:    AppInfo{Name: "RAG Knowledge Base", Debug: true},
		Server: ServerConfig{
			HTTPAddr: ":8000",
			GRPCAddr: ":50051",
			RateLimiter: RateLimiterConfig{
				Enabled:     false,
				TokenBucket: TokenBucketConfig{Rate: 20, Capacity: 40},
			},
		},
		Logger: LoggerConfig{Level: "info"},
		Database: DatabaseConfig{
			DBType: DBTypeStandard,
			MilvusStandard: MilvusStandardConfig{
				Host:    "localhost",
				Port:    19530,
				Timeout: 60,
			},
			MilvusLite: MilvusLiteConfig{
				DBPath:  "./milvus_lite.db",
				Dim:     384,
				Timeout: 60,
			},
			CollectionName: "documents_v3",
		},
		Embedding: EmbeddingConfig{
			Provider:     "huggingface",
			DefaultModel: "nomic",
			Models: map[string]ModelSpec{
				"nomic":             {Name: "sentence-transformers/all-MiniLM-L6-v2", Dim: 384},
				"all-MiniLM-L6-v2":  {Name: "sentence-transformers/all-MiniLM-L6-v2", Dim: 384},
				"all-mpnet-base-v2": {Name: "sentence-transformers/all-mpnet-base-v2", Dim: 768},
				"bge-small":         {Name: "BAAI/bge-small-en-v1.5", Dim: 384},
			},
			Metric:    "COSINE",
			BatchSize: 32,
			Cache:     EmbeddingCacheConfig{Enabled: true, Capacity: 1024, TTL: 600},
		},
		Index: IndexConfig{
			DefaultType:    "hnsw",
			AvailableTypes: []string{"hnsw", "ivf_flat", "ivf_sq8", "flat"},
		},
		Search: SearchConfig{Threshold: 0.5, TopK: 5},
		Chunk:  ChunkConfig{Size: 500, Overlap: 50},
		LLM: LLMConfig{
			Provider:  "deepseek",
			Model:     "deepseek-chat",
			BaseURL:   "https://api.deepseek.com",
			OllamaURL: "http://localhost:11434",
			MaxTokens: 1000,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 3,
				SuccessThreshold: 1,
				Timeout:          "30s",
			},
		},
		Rerank: RerankConfig{
			Model:   "rerank-multilingual-v3.0",
			BaseURL: "https://api.cohere.ai",
		},
		Upload: UploadConfig{
			Dir:               "./uploaded_files",
			MaxFileSize:       50 * 1024 * 1024,
			AllowedExtensions: []string{".pdf", ".md", ".markdown", ".txt"},
			MinIO:             MinIOConfig{Bucket: "rag-uploads"},
		},
		Redis: RedisConfig{Address: "localhost:6379"},
		Discovery: DiscoveryConfig{
			Endpoints:   []string{"localhost:2379"},
			ServiceName: "rag_service",
			TTL:         10,
		},
	}
}

// LoadConfig 按以下顺序叠加配置：内置默认值 -> YAML 文件（可选）-> .env 文件 -> RAG_ 前缀的环境变量。
//
// 参数:
//
//	path: YAML 配置文件路径；为空或文件不存在时跳过。
//
// 返回值:
//
//	*AppConfig: 解析后的配置。
//	error: 文件解析或校验失败时返回。
func LoadConfig(path string) (*AppConfig, error) {
	// .env 是可选的，与环境变量同级覆盖。
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("无法读取 .env 文件: %w", err)
	}

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("序列化默认配置失败: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("加载默认配置失败: %w", err)
	}

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("解析 YAML 文件 '%s' 失败: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", EnvNestedDelimiter))
	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	restoreAliasCase(cfg.Embedding.Models, Default().Embedding.Models)
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Clone 返回配置的深拷贝，调用方可以自由修改而不影响原对象。
func (c *AppConfig) Clone() *AppConfig {
	out := *c
	if c.Embedding.Models != nil {
		out.Embedding.Models = make(map[string]ModelSpec, len(c.Embedding.Models))
		for k, v := range c.Embedding.Models {
			out.Embedding.Models[k] = v
		}
	}
	out.Index.AvailableTypes = append([]string(nil), c.Index.AvailableTypes...)
	out.Upload.AllowedExtensions = append([]string(nil), c.Upload.AllowedExtensions...)
	out.Discovery.Endpoints = append([]string(nil), c.Discovery.Endpoints...)
	return &out
}

// restoreAliasCase 恢复内置别名的大小写；viper 会把所有键转换为小写。
func restoreAliasCase(models, defaults map[string]ModelSpec) {
	for alias := range defaults {
		lower := strings.ToLower(alias)
		if lower == alias {
			continue
		}
		if spec, ok := models[lower]; ok {
			delete(models, lower)
			models[alias] = spec
		}
	}
}

// ResolveModel 将别名解析为模型规格（忽略大小写）；未知别名回退到默认别名。
// 返回实际使用的别名。
func (c EmbeddingConfig) ResolveModel(alias string) (string, ModelSpec) {
	if spec, ok := c.Models[alias]; ok {
		return alias, spec
	}
	for k, spec := range c.Models {
		if strings.EqualFold(k, alias) {
			return k, spec
		}
	}
	if alias != c.DefaultModel && c.DefaultModel != "" {
		return c.ResolveModel(c.DefaultModel)
	}
	return alias, ModelSpec{}
}
