package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/database/minio"
	"ragbase/backend/go/internal/database/redis"
	"ragbase/backend/go/internal/llm"
	"ragbase/backend/go/internal/rag_service/rag/embeddings"
	"ragbase/backend/go/internal/rag_service/rag/rerankers"
	"ragbase/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragbase/backend/go/internal/rag_service/service"
	"ragbase/backend/go/internal/uploads"
	"ragbase/backend/go/pkg/logger"
)

// app 持有一次进程运行中组装好的全部组件。
type app struct {
	cfg     *config.AppConfig
	store   *config.Store
	vectors *vectorstore.Manager
	svc     *service.Service
	redis   *goredis.Client
	log     logger.Logger
}

// newApp 加载配置并组装服务。外部依赖（Milvus、Redis、MinIO、LLM）连接失败时只记录日志，
// 服务仍以降级模式启动。
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.Logger.Level)
	log := logger.New("rag_service")
	log.WithField("config", cfgPath).Info("配置加载完成")

	a := &app{cfg: cfg, store: config.NewStore(cfg), log: log}

	a.vectors = vectorstore.NewManager(
		vectorstore.WithIndexType(cfg.Index.DefaultType),
		vectorstore.WithManagerLogger(log),
	)
	if err := a.vectors.Connect(ctx, cfg.Database); err != nil {
		log.WithError(err).WithField("db_type", string(cfg.Database.DBType)).Warn("向量库连接失败，读接口将以降级模式运行")
	}

	uploadOpts := []uploads.Option{uploads.WithLogger(log)}
	if cfg.Upload.MinIO.Enabled {
		mirror, err := minio.Connect(ctx, cfg.Upload.MinIO)
		if err != nil {
			log.WithError(err).Warn("MinIO 不可用，上传文件不会被镜像")
		} else {
			uploadOpts = append(uploadOpts, uploads.WithMirror(mirror))
		}
	}
	up, err := uploads.New(cfg.Upload, uploadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upload dir: %w", err)
	}

	embedOpts, err := a.embeddingOptions(ctx)
	if err != nil {
		return nil, err
	}

	completer, err := llm.NewCompleter(cfg.LLM)
	if err != nil {
		log.WithError(err).Warn("LLM 客户端创建失败，问答将使用回退答案")
		completer = nil
	}

	var reranker rerankers.Reranker
	if cfg.Rerank.Enabled {
		reranker = rerankers.NewCohereReranker(cfg.Rerank.APIKey, cfg.Rerank.Model, cfg.Rerank.BaseURL, cfg.Rerank.TopN, nil)
	}

	a.svc = service.New(service.Deps{
		Config:           a.store,
		Vectors:          a.vectors,
		Uploads:          up,
		Completer:        completer,
		Reranker:         reranker,
		EmbeddingOptions: embedOpts,
		Log:              log,
	})
	return a, nil
}

// embeddingOptions 构建查询向量缓存：进程内 LRU，配置了 Redis 时再叠加一层共享缓存。
func (a *app) embeddingOptions(ctx context.Context) ([]embeddings.Option, error) {
	cc := a.cfg.Embedding.Cache
	if !cc.Enabled {
		return nil, nil
	}
	ttl := time.Duration(cc.TTL) * time.Second
	mem, err := embeddings.NewMemoryCache(cc.Capacity, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	if !cc.Redis {
		return []embeddings.Option{embeddings.WithCache(mem)}, nil
	}
	client, err := redis.Connect(ctx, a.cfg.Redis)
	if err != nil {
		a.log.WithError(err).Warn("Redis 不可用，仅使用进程内嵌入缓存")
		return []embeddings.Option{embeddings.WithCache(mem)}, nil
	}
	a.redis = client
	shared := embeddings.NewRedisCache(client, "rag:emb:", ttl, a.log)
	return []embeddings.Option{embeddings.WithCache(embeddings.TieredCache{mem, shared})}, nil
}

func (a *app) Close() {
	if err := a.vectors.Close(); err != nil {
		a.log.WithError(err).Warn("关闭向量库失败")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
