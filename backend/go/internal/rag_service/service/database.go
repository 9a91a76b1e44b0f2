package service

import (
	"context"
	"fmt"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/rag_service/rag/storages/vectorstore"
)

// DatabaseView 是 /config/database 的响应体。密码不会被输出。
type DatabaseView struct {
	DBType         config.DBType               `json:"db_type"`
	DBTypeDisplay  string                      `json:"db_type_display"`
	IsLite         bool                        `json:"is_lite"`
	CollectionName string                      `json:"collection_name"`
	MilvusStandard config.MilvusStandardConfig `json:"milvus_standard"`
	MilvusLite     config.MilvusLiteConfig     `json:"milvus_lite"`
}

// DatabaseInfo 描述运行中的存储连接。
type DatabaseInfo struct {
	DBType           config.DBType `json:"db_type"`
	DBTypeDisplay    string        `json:"db_type_display"`
	ConnectionStatus string        `json:"connection_status"`
	CollectionName   string        `json:"collection_name"`
	Address          string        `json:"address,omitempty"`
	DBPath           string        `json:"db_path,omitempty"`
	IndexType        string        `json:"index_type"`
	Message          string        `json:"message,omitempty"`
}

// DatabaseType 是可选数据库类型的说明。
type DatabaseType struct {
	Value       config.DBType `json:"value"`
	Label       string        `json:"label"`
	Description string        `json:"description"`
}

// AvailableDatabaseTypes 列出支持的两种拓扑。
var AvailableDatabaseTypes = []DatabaseType{
	{Value: config.DBTypeStandard, Label: config.DBTypeStandard.DisplayName(), Description: "完整功能的分布式向量数据库"},
	{Value: config.DBTypeLite, Label: config.DBTypeLite.DisplayName(), Description: "轻量级单机版本，适合开发和小规模部署"},
}

// DatabaseOverview 是 /config/database/info 的响应体。
type DatabaseOverview struct {
	DatabaseInfo    DatabaseInfo    `json:"database_info"`
	CollectionStats CollectionStats `json:"collection_stats"`
	AvailableTypes  []DatabaseType  `json:"available_types"`
}

// TestResult 是 /config/database/test 的响应体。
type TestResult struct {
	Status           string        `json:"status"`
	Message          string        `json:"message"`
	ConnectionStatus string        `json:"connection_status"`
	DBInfo           *DatabaseInfo `json:"db_info,omitempty"`
}

// UpdateResult 是 /config/database 更新后的响应体。
type UpdateResult struct {
	DatabaseView
	ConnectionStatus string `json:"connection_status"`
	Message          string `json:"message,omitempty"`
}

func viewOf(cfg config.DatabaseConfig) DatabaseView {
	return DatabaseView{
		DBType:         cfg.DBType,
		DBTypeDisplay:  cfg.DBType.DisplayName(),
		IsLite:         cfg.IsLite(),
		CollectionName: cfg.CollectionName,
		MilvusStandard: cfg.MilvusStandard,
		MilvusLite:     cfg.MilvusLite,
	}
}

func (s *Service) infoOf(cfg config.DatabaseConfig, status string, err error) DatabaseInfo {
	info := DatabaseInfo{
		DBType:           cfg.DBType,
		DBTypeDisplay:    cfg.DBType.DisplayName(),
		ConnectionStatus: status,
		CollectionName:   cfg.CollectionName,
		IndexType:        s.vectors.IndexType(),
	}
	if cfg.IsLite() {
		info.DBPath = cfg.MilvusLite.DBPath
		info.IndexType = "flat"
	} else {
		info.Address = cfg.MilvusStandard.Address()
	}
	if err != nil {
		info.Message = err.Error()
	}
	return info
}

// DatabaseConfig 返回当前数据库配置。
func (s *Service) DatabaseConfig() DatabaseView {
	return viewOf(s.cfg.Database())
}

// UpdateDatabase 原子地更新数据库配置并重新连接。校验失败时配置不变并返回 ValidationError；
// 重连失败不回滚配置，而是在响应中报告 disconnected。
// 更新与重连都在存储写锁内完成，与 TestDatabase 互斥。
func (s *Service) UpdateDatabase(ctx context.Context, u config.DatabaseUpdate) (*UpdateResult, error) {
	var res *UpdateResult
	err := s.vectors.Exclusive(func(p vectorstore.Prober) error {
		cfg, err := s.cfg.UpdateDatabase(u)
		if err != nil {
			return err
		}
		s.log.WithField("db", cfg.String()).Info("数据库配置已更新")

		res = &UpdateResult{DatabaseView: viewOf(cfg), ConnectionStatus: vectorstore.StatusConnected}
		if err := p.Reconnect(ctx, cfg); err != nil {
			res.ConnectionStatus = vectorstore.StatusDisconnected
			res.Message = err.Error()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TestDatabase 在临时配置下探测一个新连接。探测期间持有存储写锁，
// 结束后无论成功、失败还是 panic 都恢复原配置，且不替换现有连接。
func (s *Service) TestDatabase(ctx context.Context, u config.DatabaseUpdate) TestResult {
	var res TestResult
	err := s.vectors.Exclusive(func(p vectorstore.Prober) error {
		return s.cfg.WithDatabaseOverride(u, func(cfg config.DatabaseConfig) error {
			stats, err := p.Probe(ctx, cfg)
			if err != nil {
				return err
			}
			info := s.infoOf(cfg, vectorstore.StatusConnected, nil)
			if stats.IndexType != "" {
				info.IndexType = stats.IndexType
			}
			res = TestResult{
				Status:           "success",
				Message:          fmt.Sprintf("连接测试成功 - %s", info.DBTypeDisplay),
				ConnectionStatus: vectorstore.StatusConnected,
				DBInfo:           &info,
			}
			return nil
		})
	})
	if err != nil {
		s.log.WithError(err).Warn("数据库连接测试失败")
		return TestResult{
			Status:           "failed",
			Message:          fmt.Sprintf("连接测试失败: %v", err),
			ConnectionStatus: vectorstore.StatusDisconnected,
		}
	}
	return res
}

// DatabaseInfo 返回运行时连接信息、集合统计和可选类型。
func (s *Service) DatabaseInfo(ctx context.Context) DatabaseOverview {
	status, err := s.vectors.Status()
	return DatabaseOverview{
		DatabaseInfo:    s.infoOf(s.vectors.Config(), status, err),
		CollectionStats: s.CollectionStats(ctx),
		AvailableTypes:  AvailableDatabaseTypes,
	}
}

// SearchDefaults 是模型目录中的检索默认值。
type SearchDefaults struct {
	Threshold float64 `json:"default_search_threshold"`
	TopK      int     `json:"default_top_k"`
}

// ModelCatalog 是 /config/models 的响应体。
type ModelCatalog struct {
	EmbeddingModels       map[string]config.ModelSpec `json:"embedding_models"`
	DefaultEmbeddingModel string                      `json:"default_embedding_model"`
	IndexTypes            []string                    `json:"index_types"`
	DefaultIndexType      string                      `json:"default_index_type"`
	SearchConfig          SearchDefaults              `json:"search_config"`
	LLMProvider           string                      `json:"llm_provider"`
}

// Models 返回可用的嵌入模型、索引类型与检索默认值。
func (s *Service) Models() ModelCatalog {
	cfg := s.cfg.Get()
	cat := ModelCatalog{
		EmbeddingModels:       cfg.Embedding.Models,
		DefaultEmbeddingModel: cfg.Embedding.DefaultModel,
		IndexTypes:            cfg.Index.AvailableTypes,
		DefaultIndexType:      cfg.Index.DefaultType,
		SearchConfig:          SearchDefaults{Threshold: cfg.Search.Threshold, TopK: cfg.Search.TopK},
		LLMProvider:           cfg.LLM.Provider,
	}
	if s.completer != nil {
		cat.LLMProvider = s.completer.Provider()
	}
	return cat
}
