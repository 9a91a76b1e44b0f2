package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/pkg/httpmiddleware"
	"ragbase/backend/go/pkg/logger"
)

// StatusOf 将错误类别映射为 HTTP 状态码。
func StatusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindUnsupportedFormat, errs.KindPlatformUnsupported:
		return http.StatusUnsupportedMediaType
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindConnection:
		return http.StatusServiceUnavailable
	case errs.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abort 写出错误响应 {"error": msg, "type": kind}。
func abort(c *gin.Context, log logger.Logger, err error) {
	kind := errs.KindOf(err)
	status := StatusOf(kind)
	if status >= http.StatusInternalServerError {
		httpmiddleware.LoggerFrom(c, log).WithError(err).Error("请求处理失败")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "type": string(kind)})
}

// badRequest 用于请求体绑定失败。
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": string(errs.KindValidation)})
}
