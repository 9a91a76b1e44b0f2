package api

import (
	"github.com/gin-gonic/gin"

	"ragbase/backend/go/pkg/httpmiddleware"
	"ragbase/backend/go/pkg/logger"
	"ragbase/backend/go/pkg/ratelimiter"
)

// RouterOptions 配置路由中间件。
type RouterOptions struct {
	Log     logger.Logger
	Limiter ratelimiter.KeyedRateLimiter // 为 nil 时不限流
	// MaxMultipartMemory 是解析上传表单时保存在内存中的最大字节数。
	MaxMultipartMemory int64
}

// SetupRouter 配置和返回一个 Gin 引擎实例，所有业务接口挂在 /api 下。
func SetupRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpmiddleware.CORS(), httpmiddleware.RequestLogger(opts.Log))
	if opts.Limiter != nil {
		r.Use(httpmiddleware.RateLimit(opts.Limiter))
	}
	if opts.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = opts.MaxMultipartMemory
	}

	r.GET("/", h.Root)

	api := r.Group("/api")
	{
		// 文件上传与预览
		api.POST("/upload/", h.Upload)
		api.GET("/preview/:filename", h.Preview)
		api.GET("/file/:filename", h.File)
		api.GET("/files", h.Files)

		// 入库与检索
		api.POST("/embed/", h.Embed)
		api.POST("/search/", h.Search)
		api.GET("/collection/stats", h.CollectionStats)
		api.DELETE("/collection", h.ClearCollection)

		// 问答
		api.POST("/query/", h.Query)
		api.GET("/query/health", h.QueryHealth)

		// 配置
		cfg := api.Group("/config")
		{
			cfg.GET("/database", h.GetDatabaseConfig)
			cfg.POST("/database", h.UpdateDatabaseConfig)
			cfg.POST("/database/test", h.TestDatabase)
			cfg.GET("/database/info", h.DatabaseInfo)
			cfg.GET("/models", h.Models)
		}
	}
	return r
}
