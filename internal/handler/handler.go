package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/bitfantasy/nimo-bom/internal/middleware"
	"github.com/bitfantasy/nimo-bom/internal/repository"
	"github.com/bitfantasy/nimo-bom/internal/service"
	"github.com/gin-gonic/gin"
)

// 业务错误码，HTTP状态码 = code / 100
const (
	CodeBadRequest       = 40000
	CodeValidationFailed = 40001
	CodeUnauthorized     = 40100
	CodeForbidden        = 40300
	CodeNotFound         = 40400
	CodeConflict         = 40900
	CodeInternal         = 50000
	CodeSequence         = 50001
)

// Handlers 处理器集合
type Handlers struct {
	BOM    *BOMHandler
	Health *HealthHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, health *HealthHandler) *Handlers {
	return &Handlers{
		BOM:    NewBOMHandler(svc.BOM),
		Health: health,
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination 计算分页信息
func NewPagination(page, pageSize int, total int64) *Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      int(total),
		TotalPages: totalPages,
	}
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带附加数据的错误响应
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, CodeBadRequest, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, CodeUnauthorized, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, CodeForbidden, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

// Conflict 状态冲突响应
func Conflict(c *gin.Context, message string) {
	Error(c, CodeConflict, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, CodeInternal, message)
}

// ValidationFailed 树校验失败，data.problems 列出全部问题
func ValidationFailed(c *gin.Context, ve *bom.ValidationError) {
	middleware.SetProblems(c, len(ve.Problems))
	ErrorWithData(c, CodeValidationFailed, "bom validation failed", gin.H{"problems": ve.Problems})
}

// handleError 将服务层错误映射为响应
func handleError(c *gin.Context, err error) {
	if ve, ok := bom.AsValidationError(err); ok {
		ValidationFailed(c, ve)
		return
	}
	switch {
	case errors.Is(err, service.ErrInvalidHeader), errors.Is(err, service.ErrInvalidSpreadsheet):
		BadRequest(c, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, "BOM not found")
	case errors.Is(err, service.ErrBOMReadOnly), errors.Is(err, service.ErrInvalidTransition):
		Conflict(c, err.Error())
	case errors.Is(err, service.ErrSequenceAllocation):
		c.Error(err)
		Error(c, CodeSequence, "could not allocate a BOM number, please retry")
	default:
		c.Error(err)
		InternalError(c, err.Error())
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(middleware.ContextUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
