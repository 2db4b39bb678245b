package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/bitfantasy/nimo-bom/internal/config"
	"github.com/bitfantasy/nimo-bom/internal/model/entity"
	"github.com/bitfantasy/nimo-bom/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const defaultVersion = "1.0"

// BOMHeader BOM表头（客户端可填字段）
type BOMHeader struct {
	BOMName       string     `json:"bom_name" binding:"required"`
	ProductName   string     `json:"product_name"`
	ProductCode   string     `json:"product_code"`
	Version       string     `json:"version"`
	BOMDate       *time.Time `json:"bom_date"`
	BOMType       string     `json:"bom_type"`
	Description   string     `json:"description"`
	Notes         string     `json:"notes"`
	MyCompanyName string     `json:"my_company_name"`
}

// Validate 检查表头
func (h *BOMHeader) Validate() error {
	if strings.TrimSpace(h.BOMName) == "" {
		return fmt.Errorf("%w: bom_name is required", ErrInvalidHeader)
	}
	if t := strings.ToUpper(strings.TrimSpace(h.BOMType)); t != "" && !entity.ValidBOMType(t) {
		return fmt.Errorf("%w: unknown bom_type %q", ErrInvalidHeader, h.BOMType)
	}
	return nil
}

// DocumentAssembler 将表头与已校验、已汇总的树组装为可持久化的文档，并分配BOM编号
type DocumentAssembler struct {
	allocator bom.SequenceAllocator
	prefix    string
	attempts  int
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// NewDocumentAssembler 创建组装器
func NewDocumentAssembler(allocator bom.SequenceAllocator, cfg config.BOMConfig, logger *zap.Logger) *DocumentAssembler {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}
	attempts := cfg.SequenceAttempts
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentAssembler{
		allocator: allocator,
		prefix:    cfg.NumberPrefix,
		attempts:  attempts,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// Now 编号时区内的当前时间
func (a *DocumentAssembler) Now() time.Time {
	return a.now().In(a.loc)
}

// Attempts 编号分配的最大尝试次数
func (a *DocumentAssembler) Attempts() int {
	return a.attempts
}

// NextNumber 分配 company 在 at 当天的下一个BOM编号
func (a *DocumentAssembler) NextNumber(ctx context.Context, company string, at time.Time) (string, error) {
	at = at.In(a.loc)
	scope := bom.ScopeKey(company, at)

	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		seq, err := a.allocator.Allocate(ctx, scope)
		if err == nil {
			return bom.FormatNumber(a.prefix, at, seq), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		observability.RecordSequenceRetry("allocate")
		a.logger.Warn("allocate bom sequence failed",
			zap.String("scope", scope),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return "", fmt.Errorf("%w: %v", ErrSequenceAllocation, lastErr)
}

// Assemble 新建文档：新ID、时间戳、默认状态/类型/版本/日期
func (a *DocumentAssembler) Assemble(h BOMHeader, tree *bom.Tree, r bom.Rollup, number, userID string, at time.Time) *entity.BOMDocument {
	doc := &entity.BOMDocument{
		ID:        strings.ReplaceAll(uuid.New().String(), "-", ""),
		BOMNumber: number,
		Status:    entity.BOMStatusDraft,
		CreatedBy: userID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	applyHeader(doc, h, at)
	applyTree(doc, tree, r)
	return doc
}

// Reassemble 更新文档：保留 id、bom_number、公司、状态与创建信息，替换其余表头、树与汇总，
// 修订号+1。existing 不会被修改
func (a *DocumentAssembler) Reassemble(existing *entity.BOMDocument, h BOMHeader, tree *bom.Tree, r bom.Rollup, at time.Time) *entity.BOMDocument {
	doc := *existing
	doc.Items = nil
	if h.BOMDate == nil {
		d := existing.BOMDate
		h.BOMDate = &d
	}
	h.MyCompanyName = existing.MyCompanyName
	applyHeader(&doc, h, at)
	applyTree(&doc, tree, r)
	doc.Revision = existing.Revision + 1
	doc.UpdatedAt = at
	return &doc
}

func applyHeader(doc *entity.BOMDocument, h BOMHeader, at time.Time) {
	doc.BOMName = strings.TrimSpace(h.BOMName)
	doc.ProductName = strings.TrimSpace(h.ProductName)
	doc.ProductCode = strings.TrimSpace(h.ProductCode)
	doc.Version = strings.TrimSpace(h.Version)
	if doc.Version == "" {
		doc.Version = defaultVersion
	}
	if h.BOMDate != nil && !h.BOMDate.IsZero() {
		doc.BOMDate = *h.BOMDate
	} else {
		y, m, d := at.Date()
		doc.BOMDate = time.Date(y, m, d, 0, 0, 0, 0, at.Location())
	}
	doc.BOMType = strings.ToUpper(strings.TrimSpace(h.BOMType))
	if doc.BOMType == "" {
		doc.BOMType = entity.BOMTypeManufacturing
	}
	doc.Description = h.Description
	doc.Notes = h.Notes
	doc.MyCompanyName = strings.TrimSpace(h.MyCompanyName)
}

func applyTree(doc *entity.BOMDocument, tree *bom.Tree, r bom.Rollup) {
	doc.Items = toEntityItems(tree)
	doc.TotalMaterialCost = r.TotalMaterialCost
	doc.TotalItems = r.TotalItems
	doc.MaxLevel = r.MaxLevel
	doc.Currencies = datatypes.JSONSlice[string](r.Currencies)
	doc.MixedCurrency = r.MixedCurrency
}

// headerOf 从已存文档还原表头（重新计算时使用）
func headerOf(doc *entity.BOMDocument) BOMHeader {
	d := doc.BOMDate
	return BOMHeader{
		BOMName:       doc.BOMName,
		ProductName:   doc.ProductName,
		ProductCode:   doc.ProductCode,
		Version:       doc.Version,
		BOMDate:       &d,
		BOMType:       doc.BOMType,
		Description:   doc.Description,
		Notes:         doc.Notes,
		MyCompanyName: doc.MyCompanyName,
	}
}
