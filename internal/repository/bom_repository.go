package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-bom/internal/model/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const itemBatchSize = 200

// BOMRepository BOM仓库
type BOMRepository struct {
	db *gorm.DB
}

// NewBOMRepository 创建BOM仓库
func NewBOMRepository(db *gorm.DB) *BOMRepository {
	return &BOMRepository{db: db}
}

// ListParams 列表查询条件
type ListParams struct {
	Page     int
	PageSize int
	Status   string
	BOMType  string
	Company  string
	Keyword  string
}

// headerColumns 整树替换时更新的表头字段。id、bom_number、公司、创建信息与状态不在其中，
// 状态只经 UpdateStatus 变更
var headerColumns = []string{
	"bom_name", "product_name", "product_code", "version", "bom_date", "bom_type",
	"description", "notes",
	"total_material_cost", "total_items", "max_level", "currencies", "mixed_currency",
	"revision", "updated_at",
}

// Create 创建BOM文档及全部行项（单事务）
func (r *BOMRepository) Create(ctx context.Context, doc *entity.BOMDocument) error {
	if doc.ID == "" {
		doc.ID = generateID()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(doc).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateBOMNumber, doc.BOMNumber)
			}
			return err
		}
		return createItems(tx, doc.ID, doc.Items)
	})
}

func createItems(tx *gorm.DB, bomID string, items []entity.BOMItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].BOMID = bomID
		if items[i].ID == "" {
			items[i].ID = generateID()
		}
	}
	return tx.CreateInBatches(items, itemBatchSize).Error
}

// FindByID 根据ID获取BOM（含行项，按层级、序号排序）
func (r *BOMRepository) FindByID(ctx context.Context, id string) (*entity.BOMDocument, error) {
	var doc entity.BOMDocument
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("level ASC, sequence ASC")
		}).
		Where("id = ?", id).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// Replace 整树替换：更新表头、保存修订快照、删除旧行项、写入新行项（单事务）。
// doc.Revision 必须是新修订号；库中修订号不是 doc.Revision-1 或文档已作废时返回 ErrConflict
func (r *BOMRepository) Replace(ctx context.Context, doc *entity.BOMDocument, revision *entity.BOMRevision) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.BOMDocument{}).
			Where("id = ? AND revision = ? AND status <> ?", doc.ID, doc.Revision-1, entity.BOMStatusObsolete).
			Select(headerColumns).
			Omit(clause.Associations).
			Updates(doc)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.missingOrConflict(tx, doc.ID)
		}

		if revision != nil {
			revision.BOMID = doc.ID
			if revision.ID == "" {
				revision.ID = generateID()
			}
			if err := tx.Create(revision).Error; err != nil {
				if isDuplicateKey(err) {
					return ErrConflict
				}
				return err
			}
		}

		if err := tx.Where("bom_id = ?", doc.ID).Delete(&entity.BOMItem{}).Error; err != nil {
			return err
		}
		return createItems(tx, doc.ID, doc.Items)
	})
}

// UpdateStatus 状态流转，仅当当前状态属于 from 时生效
func (r *BOMRepository) UpdateStatus(ctx context.Context, id string, from []string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.BOMDocument{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.missingOrConflict(tx, id)
		}
		return nil
	})
}

func (r *BOMRepository) missingOrConflict(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&entity.BOMDocument{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// Delete 删除BOM（行项、修订一并删除，非软删除）
func (r *BOMRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bom_id = ?", id).Delete(&entity.BOMRevision{}).Error; err != nil {
			return err
		}
		if err := tx.Where("bom_id = ?", id).Delete(&entity.BOMItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&entity.BOMDocument{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// List 获取BOM列表（仅表头）
func (r *BOMRepository) List(ctx context.Context, params ListParams) ([]entity.BOMDocument, int64, error) {
	var docs []entity.BOMDocument
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.BOMDocument{})

	if params.Keyword != "" {
		kw := "%" + strings.ToLower(params.Keyword) + "%"
		query = query.Where("LOWER(bom_name) LIKE ? OR LOWER(bom_number) LIKE ? OR LOWER(product_code) LIKE ?", kw, kw, kw)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.BOMType != "" {
		query = query.Where("bom_type = ?", params.BOMType)
	}
	if params.Company != "" {
		query = query.Where("my_company_name = ?", params.Company)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	offset := (params.Page - 1) * params.PageSize
	err := query.
		Order("created_at DESC, bom_number DESC").
		Offset(offset).
		Limit(params.PageSize).
		Find(&docs).Error

	return docs, total, err
}

// ListRevisions 获取修订快照，新的在前
func (r *BOMRepository) ListRevisions(ctx context.Context, bomID string) ([]entity.BOMRevision, error) {
	var revisions []entity.BOMRevision
	err := r.db.WithContext(ctx).
		Where("bom_id = ?", bomID).
		Order("revision DESC").
		Find(&revisions).Error
	return revisions, err
}
