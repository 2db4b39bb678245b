package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 上下文键
const (
	ContextRequestID   = "request_id"
	ContextUserID      = "user_id"
	ContextUserName    = "user_name"
	ContextPermissions = "permissions"
	ContextCompany     = "company"
	ContextBOMID       = "bom_id"
	ContextProblems    = "bom_problems"
	ContextClaims      = "claims"
)

const (
	// RequestIDHeader 请求ID头
	RequestIDHeader = "X-Request-ID"
	// CompanyHeader 指定BOM所属公司的请求头
	CompanyHeader = "my_company_name"
)

// SetBOMID 记录本次请求操作的BOM，供访问日志使用
func SetBOMID(c *gin.Context, id string) {
	c.Set(ContextBOMID, id)
}

// SetProblems 记录校验问题数，供访问日志使用
func SetProblems(c *gin.Context, n int) {
	c.Set(ContextProblems, n)
}

// bomID 优先取处理器记录的ID，其次取路由参数
func bomID(c *gin.Context) string {
	if id := c.GetString(ContextBOMID); id != "" {
		return id
	}
	return c.Param("id")
}

// Logger 访问日志。带上路由模板、BOM ID、校验问题数
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ContextRequestID)),
		}
		if uid := c.GetString(ContextUserID); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if company := c.GetString(ContextCompany); company != "" {
			fields = append(fields, zap.String("company", company))
		}
		if id := bomID(c); id != "" {
			fields = append(fields, zap.String("bom_id", id))
		}
		if n, ok := c.Get(ContextProblems); ok {
			fields = append(fields, zap.Any("problems", n))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("Server error", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("Client error", fields...)
		default:
			logger.Info("Request", fields...)
		}
	}
}

var corsAllowHeaders = strings.Join([]string{
	"Authorization", "Content-Type", "Accept", "Origin", "Cache-Control", "X-Requested-With",
	RequestIDHeader, CompanyHeader,
}, ", ")

// CORS 跨域。origins 为空时允许任意来源（不带凭证）
func CORS(origins ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case len(allowed) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID 沿用调用方的请求ID，没有则生成
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Recovery panic 恢复，按统一响应结构返回
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("route", c.FullPath()),
			zap.String("bom_id", bomID(c)),
			zap.String("request_id", c.GetString(ContextRequestID)),
		)
		abort(c, http.StatusInternalServerError, 50000, "Internal server error")
	})
}

// BodyLimit 限制请求体大小（含Excel导入）
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}
