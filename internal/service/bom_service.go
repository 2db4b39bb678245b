package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/bitfantasy/nimo-bom/internal/model/entity"
	"github.com/bitfantasy/nimo-bom/internal/observability"
	"github.com/bitfantasy/nimo-bom/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// BOMStore BOM持久化接口
type BOMStore interface {
	Create(ctx context.Context, doc *entity.BOMDocument) error
	FindByID(ctx context.Context, id string) (*entity.BOMDocument, error)
	Replace(ctx context.Context, doc *entity.BOMDocument, revision *entity.BOMRevision) error
	UpdateStatus(ctx context.Context, id string, from []string, updates map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, params repository.ListParams) ([]entity.BOMDocument, int64, error)
	ListRevisions(ctx context.Context, bomID string) ([]entity.BOMRevision, error)
}

// SaveBOMRequest 创建/更新BOM请求，更新时提交整棵树
type SaveBOMRequest struct {
	Header BOMHeader  `json:"header"`
	Items  []bom.Node `json:"items"`
}

// BOMDetail BOM详情（表头 + 嵌套树）
type BOMDetail struct {
	entity.BOMDocument
	Items []bom.Node `json:"items"`
}

// revisionSnapshot 修订快照内容
type revisionSnapshot struct {
	Header            BOMHeader  `json:"header"`
	Items             []bom.Node `json:"items"`
	TotalMaterialCost float64    `json:"total_material_cost"`
}

// BOMService BOM服务
type BOMService struct {
	store     BOMStore
	validator *bom.Validator
	assembler *DocumentAssembler
	cache     *documentCache
	logger    *zap.Logger
}

// NewBOMService 创建BOM服务
func NewBOMService(store BOMStore, validator *bom.Validator, assembler *DocumentAssembler, cache *documentCache, logger *zap.Logger) *BOMService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BOMService{
		store:     store,
		validator: validator,
		assembler: assembler,
		cache:     cache,
		logger:    logger,
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// evaluate 校验并汇总，纯计算无副作用
func (s *BOMService) evaluate(ctx context.Context, items []bom.Node) (*bom.Tree, bom.Rollup, error) {
	_, span := startSpan(ctx, "bom.evaluate")
	tree, err := s.validator.Validate(items)
	if err != nil {
		if ve, ok := bom.AsValidationError(err); ok {
			problemCodes := make([]string, 0, len(ve.Problems))
			for _, p := range ve.Problems {
				problemCodes = append(problemCodes, string(p.Code))
			}
			observability.RecordValidation(0, problemCodes...)
			span.SetAttributes(attribute.Int("bom.problems", len(ve.Problems)))
		}
		endSpan(span, err)
		return nil, bom.Rollup{}, err
	}
	rollup, err := tree.Aggregate()
	if err != nil {
		observability.RecordValidation(tree.Len(), string(bom.ProblemInvalidAmount))
		endSpan(span, err)
		return nil, bom.Rollup{}, err
	}
	observability.RecordValidation(tree.Len())
	span.SetAttributes(attribute.Int("bom.nodes", tree.Len()), attribute.Float64("bom.total", rollup.TotalMaterialCost))
	endSpan(span, nil)
	return tree, rollup, nil
}

// Preview 试算：校验 + 汇总，不落库
func (s *BOMService) Preview(ctx context.Context, items []bom.Node) (*bom.Result, error) {
	tree, rollup, err := s.evaluate(ctx, items)
	if err != nil {
		return nil, err
	}
	return &bom.Result{Items: tree.Nodes(), Rollup: rollup}, nil
}

// Create 创建BOM。bom_number 冲突时重新分配编号，次数受 sequence_attempts 限制
func (s *BOMService) Create(ctx context.Context, userID string, req *SaveBOMRequest) (detail *BOMDetail, err error) {
	ctx, span := startSpan(ctx, "bom.create")
	defer func() { endSpan(span, err) }()

	if err := req.Header.Validate(); err != nil {
		return nil, err
	}
	tree, rollup, err := s.evaluate(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	at := s.assembler.Now()
	for attempt := 1; ; attempt++ {
		number, err := s.assembler.NextNumber(ctx, req.Header.MyCompanyName, at)
		if err != nil {
			return nil, err
		}
		doc := s.assembler.Assemble(req.Header, tree, rollup, number, userID, at)
		err = s.store.Create(ctx, doc)
		if err == nil {
			span.SetAttributes(attribute.String("bom.id", doc.ID), attribute.String("bom.number", doc.BOMNumber))
			s.logger.Info("bom created",
				zap.String("bom_id", doc.ID),
				zap.String("bom_number", doc.BOMNumber),
				zap.Int("items", rollup.TotalItems),
				zap.Float64("total_material_cost", rollup.TotalMaterialCost),
			)
			return newDetail(doc, tree.Nodes()), nil
		}
		if !errors.Is(err, repository.ErrDuplicateBOMNumber) {
			return nil, fmt.Errorf("create bom: %w", err)
		}
		if attempt >= s.assembler.Attempts() {
			return nil, fmt.Errorf("%w: %v", ErrSequenceAllocation, err)
		}
		observability.RecordSequenceRetry("duplicate")
		s.logger.Warn("bom number already taken, retrying",
			zap.String("bom_number", number),
			zap.Int("attempt", attempt),
		)
	}
}

// Update 整树替换。作废的BOM返回 ErrBOMReadOnly
func (s *BOMService) Update(ctx context.Context, id, userID string, req *SaveBOMRequest) (detail *BOMDetail, err error) {
	ctx, span := startSpan(ctx, "bom.update", attribute.String("bom.id", id))
	defer func() { endSpan(span, err) }()

	existing, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find bom: %w", err)
	}
	if existing.ReadOnly() {
		return nil, ErrBOMReadOnly
	}
	if err := req.Header.Validate(); err != nil {
		return nil, err
	}
	tree, rollup, err := s.evaluate(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	return s.replace(ctx, existing, req.Header, tree, rollup, userID)
}

// Recalculate 对已存的树重新校验、汇总并保存
func (s *BOMService) Recalculate(ctx context.Context, id, userID string) (detail *BOMDetail, err error) {
	ctx, span := startSpan(ctx, "bom.recalculate", attribute.String("bom.id", id))
	defer func() { endSpan(span, err) }()

	existing, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find bom: %w", err)
	}
	if existing.ReadOnly() {
		return nil, ErrBOMReadOnly
	}
	tree, rollup, err := s.evaluate(ctx, toNodes(existing.Items))
	if err != nil {
		return nil, err
	}
	return s.replace(ctx, existing, headerOf(existing), tree, rollup, userID)
}

func (s *BOMService) replace(ctx context.Context, existing *entity.BOMDocument, h BOMHeader, tree *bom.Tree, rollup bom.Rollup, userID string) (*BOMDetail, error) {
	rev, err := snapshotOf(existing, userID)
	if err != nil {
		return nil, err
	}
	doc := s.assembler.Reassemble(existing, h, tree, rollup, s.assembler.Now())
	if err := s.store.Replace(ctx, doc, rev); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: bom %s changed while saving", ErrInvalidTransition, doc.ID)
		}
		return nil, fmt.Errorf("replace bom: %w", err)
	}
	s.cache.evict(ctx, doc.ID)
	s.logger.Info("bom updated",
		zap.String("bom_id", doc.ID),
		zap.Int("revision", doc.Revision),
		zap.Float64("total_material_cost", doc.TotalMaterialCost),
	)
	return newDetail(doc, tree.Nodes()), nil
}

func snapshotOf(doc *entity.BOMDocument, userID string) (*entity.BOMRevision, error) {
	raw, err := json.Marshal(revisionSnapshot{
		Header:            headerOf(doc),
		Items:             toNodes(doc.Items),
		TotalMaterialCost: doc.TotalMaterialCost,
	})
	if err != nil {
		return nil, fmt.Errorf("encode revision snapshot: %w", err)
	}
	return &entity.BOMRevision{
		BOMID:             doc.ID,
		Revision:          doc.Revision,
		TotalMaterialCost: doc.TotalMaterialCost,
		Snapshot:          datatypes.JSON(raw),
		ChangedBy:         userID,
	}, nil
}

// Get 获取BOM详情。返回已存数据，不重新计算
func (s *BOMService) Get(ctx context.Context, id string) (detail *BOMDetail, err error) {
	ctx, span := startSpan(ctx, "bom.get", attribute.String("bom.id", id))
	defer func() { endSpan(span, err) }()

	if d, ok := s.cache.get(ctx, id); ok {
		span.SetAttributes(attribute.Bool("bom.cache_hit", true))
		return d, nil
	}
	gen := s.cache.generation(ctx, id)
	doc, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find bom: %w", err)
	}
	d := newDetail(doc, toNodes(doc.Items))
	s.cache.set(ctx, d, gen)
	return d, nil
}

// List 获取BOM列表（仅表头）
func (s *BOMService) List(ctx context.Context, params repository.ListParams) ([]entity.BOMDocument, int64, error) {
	docs, total, err := s.store.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list boms: %w", err)
	}
	return docs, total, nil
}

// Delete 删除BOM及行项、修订
func (s *BOMService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete bom: %w", err)
	}
	s.cache.evict(ctx, id)
	s.logger.Info("bom deleted", zap.String("bom_id", id))
	return nil
}

// Approve 审批：DRAFT → ACTIVE
func (s *BOMService) Approve(ctx context.Context, id, userID string) (*BOMDetail, error) {
	now := s.assembler.Now()
	return s.transition(ctx, id, []string{entity.BOMStatusDraft}, map[string]interface{}{
		"status":        entity.BOMStatusActive,
		"approved_by":   userID,
		"approval_date": now,
		"updated_at":    now,
	})
}

// Obsolete 作废：DRAFT/ACTIVE → OBSOLETE，此后只读
func (s *BOMService) Obsolete(ctx context.Context, id, userID string) (*BOMDetail, error) {
	return s.transition(ctx, id, []string{entity.BOMStatusDraft, entity.BOMStatusActive}, map[string]interface{}{
		"status":     entity.BOMStatusObsolete,
		"updated_at": s.assembler.Now(),
	})
}

func (s *BOMService) transition(ctx context.Context, id string, from []string, updates map[string]interface{}) (*BOMDetail, error) {
	if err := s.store.UpdateStatus(ctx, id, from, updates); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: bom %s is not in %v", ErrInvalidTransition, id, from)
		}
		return nil, fmt.Errorf("update bom status: %w", err)
	}
	s.cache.evict(ctx, id)
	s.logger.Info("bom status changed", zap.String("bom_id", id), zap.Any("status", updates["status"]))
	return s.Get(ctx, id)
}

// ListRevisions 修订快照，新的在前
func (s *BOMService) ListRevisions(ctx context.Context, id string) ([]entity.BOMRevision, error) {
	if _, err := s.store.FindByID(ctx, id); err != nil {
		return nil, fmt.Errorf("find bom: %w", err)
	}
	revs, err := s.store.ListRevisions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revs, nil
}

// Import 由电子表格构建树并创建BOM
func (s *BOMService) Import(ctx context.Context, userID string, header BOMHeader, r io.Reader) (*BOMDetail, error) {
	items, err := ParseSpreadsheet(r)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, userID, &SaveBOMRequest{Header: header, Items: items})
}

func newDetail(doc *entity.BOMDocument, items []bom.Node) *BOMDetail {
	d := &BOMDetail{BOMDocument: *doc, Items: items}
	d.BOMDocument.Items = nil
	if d.Items == nil {
		d.Items = []bom.Node{}
	}
	return d
}
