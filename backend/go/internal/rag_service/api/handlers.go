package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/service"
	"ragbase/backend/go/internal/uploads"
	"ragbase/backend/go/pkg/logger"
)

// Handler 封装了所有 API endpoint 的处理函数。
type Handler struct {
	svc *service.Service
	log logger.Logger
}

// NewHandler 创建一个新的 Handler 实例。
func NewHandler(svc *service.Service, log logger.Logger) *Handler {
	return &Handler{svc: svc, log: log.WithComponent("api")}
}

// Root 返回服务运行状态。
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"msg": "RAG Backend is running!"})
}

// --- Upload Handlers ---

// Upload 保存 multipart 表单中的 file 字段。
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		abort(c, h.log, err)
		return
	}
	defer f.Close()

	info, err := h.svc.Uploads().Save(c.Request.Context(), filepath.Base(fh.Filename), f)
	if err != nil {
		abort(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filename":     info.Filename,
		"msg":          "Upload successful",
		"size":         info.Size,
		"content_type": info.ContentType,
		"mirrored":     info.Mirrored,
	})
}

// Preview 返回文件开头的文本，长度由 ?length= 指定。
func (h *Handler) Preview(c *gin.Context) {
	n := uploads.DefaultPreviewLength
	if v := c.Query("length"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			badRequest(c, fmt.Errorf("invalid length %q", v))
			return
		}
		n = parsed
	}
	p, err := h.svc.Uploads().Preview(c.Request.Context(), c.Param("filename"), n)
	if err != nil {
		abort(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// File 返回原始文件内容，支持 Range 请求。
func (h *Handler) File(c *gin.Context) {
	f, info, err := h.svc.Uploads().Open(c.Param("filename"))
	if err != nil {
		abort(c, h.log, err)
		return
	}
	defer f.Close()
	c.Header("Content-Type", info.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", info.Filename))
	http.ServeContent(c.Writer, c.Request, info.Filename, info.ModTime, f)
}

// Files 列出上传目录中的文件。
func (h *Handler) Files(c *gin.Context) {
	files, err := h.svc.Uploads().List()
	if err != nil {
		abort(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

// --- Embedding and Search Handlers ---

// EmbedRequest 定义了 /embed 请求的 JSON 结构。
type EmbedRequest struct {
	Filenames       []string `json:"filenames" binding:"required,min=1"`
	EmbedModel      string   `json:"embed_model"`
	IndexType       string   `json:"index_type"`
	SearchThreshold *float64 `json:"search_threshold" binding:"omitempty,gte=0,lte=1"`
	ChunkSize       *int     `json:"chunk_size" binding:"omitempty,gt=0"`
	ChunkOverlap    *int     `json:"chunk_overlap" binding:"omitempty,gte=0"`
}

// Embed 处理文档入库请求。
func (h *Handler) Embed(c *gin.Context) {
	var req EmbedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	chunk := h.svc.Config().Chunk
	size, overlap := chunk.Size, chunk.Overlap
	if req.ChunkSize != nil {
		size = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		overlap = *req.ChunkOverlap
	}

	res, err := h.svc.Embed(c.Request.Context(), service.EmbedRequest{
		Filenames:       req.Filenames,
		EmbedModel:      req.EmbedModel,
		IndexType:       req.IndexType,
		SearchThreshold: req.SearchThreshold,
		ChunkSize:       size,
		ChunkOverlap:    overlap,
	})
	if err != nil {
		abort(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SearchRequest 定义了 /search 请求的 JSON 结构。
type SearchRequest struct {
	Query          string                 `json:"query" binding:"required"`
	K              int                    `json:"k" binding:"omitempty,gt=0,lte=50"`
	FilterMetadata map[string]interface{} `json:"filter_metadata"`
	ScoreThreshold *float64               `json:"score_threshold" binding:"omitempty,gte=0,lte=1"`
}

// Search 在向量库中检索相似文本。
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Search(c.Request.Context(), service.SearchRequest{
		Query:     req.Query,
		K:         req.K,
		Filter:    req.FilterMetadata,
		Threshold: req.ScoreThreshold,
	})
	if err != nil {
		abort(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CollectionStats 返回集合统计信息。
func (h *Handler) CollectionStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.CollectionStats(c.Request.Context()))
}

// ClearCollection 删除集合中的全部数据。
func (h *Handler) ClearCollection(c *gin.Context) {
	if err := h.svc.ClearCollection(c.Request.Context()); err != nil {
		abort(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "集合已清空"})
}

// --- Query Handlers ---

// QueryRequest 定义了 /query 请求的 JSON 结构。
type QueryRequest struct {
	Question    string   `json:"question"`
	TopK        int      `json:"topk" binding:"omitempty,gt=0,lte=50"`
	ContextLen  int      `json:"contextLen" binding:"omitempty,gt=0"`
	Temperature *float32 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
}

// Query 基于知识库回答问题。
func (h *Handler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		abort(c, h.log, errs.E(errs.KindValidation, "api.Query", "问题不能为空"))
		return
	}
	res, err := h.svc.Query(c.Request.Context(), service.QueryRequest{
		Question:    req.Question,
		TopK:        req.TopK,
		ContextLen:  req.ContextLen,
		Temperature: req.Temperature,
	})
	if err != nil {
		abort(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// QueryHealth 返回向量存储与补全后端的健康状况。
func (h *Handler) QueryHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health(c.Request.Context()))
}

// --- Config Handlers ---

// DatabaseUpdateRequest 定义了数据库配置更新请求。
type DatabaseUpdateRequest struct {
	DBType         string                `json:"db_type" binding:"required"`
	MilvusStandard *config.StandardPatch `json:"milvus_standard"`
	MilvusLite     *config.LitePatch     `json:"milvus_lite"`
}

func (r DatabaseUpdateRequest) update() config.DatabaseUpdate {
	u := config.DatabaseUpdate{DBType: config.DBType(r.DBType)}
	if r.MilvusStandard != nil {
		u.Standard = *r.MilvusStandard
	}
	if r.MilvusLite != nil {
		u.Lite = *r.MilvusLite
	}
	return u
}

// GetDatabaseConfig 返回当前数据库配置。
func (h *Handler) GetDatabaseConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.DatabaseConfig())
}

// UpdateDatabaseConfig 更新数据库配置并重连。
func (h *Handler) UpdateDatabaseConfig(c *gin.Context) {
	var req DatabaseUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.UpdateDatabase(c.Request.Context(), req.update())
	if err != nil {
		abort(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DatabaseTestRequest 定义了连接测试请求：config 按 db_type 解析为对应变体的字段。
type DatabaseTestRequest struct {
	DBType string          `json:"db_type" binding:"required"`
	Config json.RawMessage `json:"config"`
}

// TestDatabase 在临时配置下测试连接，测试结束后总是恢复原配置。
func (h *Handler) TestDatabase(c *gin.Context) {
	var req DatabaseTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u := config.DatabaseUpdate{DBType: config.DBType(req.DBType)}
	if len(req.Config) > 0 && string(req.Config) != "null" {
		var err error
		switch u.DBType {
		case config.DBTypeStandard:
			err = json.Unmarshal(req.Config, &u.Standard)
		case config.DBTypeLite:
			err = json.Unmarshal(req.Config, &u.Lite)
		}
		if err != nil {
			badRequest(c, fmt.Errorf("invalid config: %w", err))
			return
		}
	}
	c.JSON(http.StatusOK, h.svc.TestDatabase(c.Request.Context(), u))
}

// DatabaseInfo 返回数据库运行时信息。
func (h *Handler) DatabaseInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.DatabaseInfo(c.Request.Context()))
}

// Models 返回可用的模型配置。
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Models())
}
