package handler

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/bitfantasy/nimo-bom/internal/middleware"
	"github.com/bitfantasy/nimo-bom/internal/repository"
	"github.com/bitfantasy/nimo-bom/internal/service"
	"github.com/gin-gonic/gin"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BOMHandler BOM处理器
type BOMHandler struct {
	svc *service.BOMService
}

// NewBOMHandler 创建BOM处理器
func NewBOMHandler(svc *service.BOMService) *BOMHandler {
	return &BOMHandler{svc: svc}
}

// RegisterRoutes 注册BOM路由，rg 需已挂载JWT认证
func (h *BOMHandler) RegisterRoutes(rg *gin.RouterGroup) {
	write := middleware.RequirePermission(middleware.PermissionWrite)
	approve := middleware.RequirePermission(middleware.PermissionApprove)

	boms := rg.Group("/boms")
	{
		boms.GET("", h.List)
		boms.POST("", write, h.Create)
		boms.POST("/preview", h.Preview)
		boms.GET("/import/template", h.DownloadTemplate)
		boms.POST("/import", write, h.Import)
		boms.GET("/:id", h.Get)
		boms.PUT("/:id", write, h.Update)
		boms.DELETE("/:id", write, h.Delete)
		boms.POST("/:id/recalculate", write, h.Recalculate)
		boms.POST("/:id/approve", approve, h.Approve)
		boms.POST("/:id/obsolete", approve, h.Obsolete)
		boms.GET("/:id/revisions", h.ListRevisions)
	}
}

// PreviewRequest 试算请求
type PreviewRequest struct {
	Items []bom.Node `json:"items"`
}

// resolveCompany 表头未填公司时取 Company 中间件解析的公司
func resolveCompany(c *gin.Context, h *service.BOMHeader) {
	if strings.TrimSpace(h.MyCompanyName) == "" {
		h.MyCompanyName = middleware.CompanyFrom(c)
	}
}

// List GET /boms
func (h *BOMHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.ListParams{
		Page:     page,
		PageSize: pageSize,
		Status:   strings.ToUpper(c.Query("status")),
		BOMType:  strings.ToUpper(c.Query("bom_type")),
		Company:  c.Query("company"),
		Keyword:  c.Query("keyword"),
	}

	docs, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		handleError(c, err)
		return
	}

	Success(c, ListResponse{
		Items:      docs,
		Pagination: NewPagination(page, pageSize, total),
	})
}

// Create POST /boms
func (h *BOMHandler) Create(c *gin.Context) {
	var req service.SaveBOMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	resolveCompany(c, &req.Header)

	detail, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	middleware.SetBOMID(c, detail.ID)
	Created(c, detail)
}

// Preview POST /boms/preview
func (h *BOMHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.Preview(c.Request.Context(), req.Items)
	if err != nil {
		handleError(c, err)
		return
	}

	Success(c, result)
}

// Get GET /boms/:id
func (h *BOMHandler) Get(c *gin.Context) {
	detail, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	Success(c, detail)
}

// Update PUT /boms/:id
func (h *BOMHandler) Update(c *gin.Context) {
	var req service.SaveBOMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	detail, err := h.svc.Update(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	Success(c, detail)
}

// Delete DELETE /boms/:id
func (h *BOMHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}

	Success(c, gin.H{"id": id})
}

// Recalculate POST /boms/:id/recalculate
func (h *BOMHandler) Recalculate(c *gin.Context) {
	detail, err := h.svc.Recalculate(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}

	Success(c, detail)
}

// Approve POST /boms/:id/approve
func (h *BOMHandler) Approve(c *gin.Context) {
	detail, err := h.svc.Approve(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}

	Success(c, detail)
}

// Obsolete POST /boms/:id/obsolete
func (h *BOMHandler) Obsolete(c *gin.Context) {
	detail, err := h.svc.Obsolete(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}

	Success(c, detail)
}

// ListRevisions GET /boms/:id/revisions
func (h *BOMHandler) ListRevisions(c *gin.Context) {
	revs, err := h.svc.ListRevisions(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	Success(c, revs)
}

// Import POST /boms/import
// multipart: file 为Excel文件，header 为表头JSON（可选，缺省时以文件名作为BOM名称）
func (h *BOMHandler) Import(c *gin.Context) {
	file, fh, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传Excel文件")
		return
	}
	defer file.Close()

	var header service.BOMHeader
	if raw := c.PostForm("header"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &header); err != nil {
			BadRequest(c, "Invalid header field: "+err.Error())
			return
		}
	}
	if strings.TrimSpace(header.BOMName) == "" {
		header.BOMName = strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	}
	resolveCompany(c, &header)

	detail, err := h.svc.Import(c.Request.Context(), GetUserID(c), header, file)
	if err != nil {
		handleError(c, err)
		return
	}

	middleware.SetBOMID(c, detail.ID)
	Created(c, detail)
}

// DownloadTemplate GET /boms/import/template
func (h *BOMHandler) DownloadTemplate(c *gin.Context) {
	f, err := service.ImportTemplate()
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	defer f.Close()

	c.Header("Content-Type", xlsxMIME)
	c.Header("Content-Disposition", "attachment; filename=\"BOM_Import_Template.xlsx\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write template: "+err.Error())
	}
}
