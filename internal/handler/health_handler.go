package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const readyTimeout = 2 * time.Second

// HealthHandler 健康检查与版本信息
type HealthHandler struct {
	db        *gorm.DB
	rdb       *redis.Client
	version   string
	buildTime string
}

// NewHealthHandler 创建健康检查处理器，rdb 可为 nil
func NewHealthHandler(db *gorm.DB, rdb *redis.Client, version, buildTime string) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, version: version, buildTime: buildTime}
}

// RegisterRoutes 注册无需认证的运维路由
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health/live", h.Live)
	r.GET("/health/ready", h.Ready)
	r.GET("/version", h.Version)
}

// Live GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready GET /health/ready 检查数据库与redis连通性
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	checks := gin.H{}
	ready := true

	if sqlDB, err := h.db.DB(); err != nil {
		checks["database"] = err.Error()
		ready = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

// Version GET /version
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    h.version,
		"build_time": h.buildTime,
	})
}
