package entity

import (
	"time"

	"gorm.io/datatypes"
)

// BOMDocument BOM文档头。bom_number 在公司内唯一，编号流水按公司、按天分配
type BOMDocument struct {
	ID            string     `json:"id" gorm:"primaryKey;size:32"`
	BOMNumber     string     `json:"bom_number" gorm:"size:64;not null;uniqueIndex:idx_bom_company_number,priority:2"`
	BOMName       string     `json:"bom_name" gorm:"size:200;not null"`
	ProductName   string     `json:"product_name" gorm:"size:200"`
	ProductCode   string     `json:"product_code" gorm:"size:64;index"`
	Version       string     `json:"version" gorm:"size:16;not null;default:1.0"`
	BOMDate       time.Time  `json:"bom_date"`
	BOMType       string     `json:"bom_type" gorm:"size:32;not null;default:MANUFACTURING"`
	Status        string     `json:"status" gorm:"size:16;not null;default:DRAFT;index"`
	Description   string     `json:"description" gorm:"type:text"`
	Notes         string     `json:"notes" gorm:"type:text"`
	MyCompanyName string     `json:"my_company_name" gorm:"size:200;not null;default:'';uniqueIndex:idx_bom_company_number,priority:1"`
	CreatedBy     string     `json:"created_by" gorm:"size:32"`
	ApprovedBy    string     `json:"approved_by" gorm:"size:32"`
	ApprovalDate  *time.Time `json:"approval_date"`

	// 汇总
	TotalMaterialCost float64                     `json:"total_material_cost" gorm:"type:decimal(18,2);not null;default:0"`
	TotalItems        int                         `json:"total_items" gorm:"not null;default:0"`
	MaxLevel          int                         `json:"max_level" gorm:"not null;default:0"`
	Currencies        datatypes.JSONSlice[string] `json:"currencies"`
	MixedCurrency     bool                        `json:"mixed_currency" gorm:"not null;default:false"`
	Revision          int                         `json:"revision" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Items []BOMItem `json:"-" gorm:"foreignKey:BOMID"`
}

func (BOMDocument) TableName() string {
	return "bom_documents"
}

// ReadOnly 作废的BOM不可再修改
func (d *BOMDocument) ReadOnly() bool {
	return d.Status == BOMStatusObsolete
}

// BOMItem BOM行项（扁平存储，通过ParentNodeID还原树）
type BOMItem struct {
	ID                    string    `json:"id" gorm:"primaryKey;size:32"`
	BOMID                 string    `json:"bom_id" gorm:"size:32;not null;index"`
	NodeID                string    `json:"node_id" gorm:"size:64;not null"`
	ParentNodeID          string    `json:"parent_node_id" gorm:"size:64"`
	ItemCode              string    `json:"item_code" gorm:"size:64;not null"`
	ItemDescription       string    `json:"item_description" gorm:"size:500"`
	MaterialConsideration string    `json:"material_consideration" gorm:"type:text"`
	Quantity              float64   `json:"quantity" gorm:"type:decimal(15,4);not null"`
	UOM                   string    `json:"uom" gorm:"size:16;not null"`
	Rate                  float64   `json:"rate" gorm:"type:decimal(15,4);not null;default:0"`
	Currency              string    `json:"currency" gorm:"size:3"`
	Amount                float64   `json:"amount" gorm:"type:decimal(18,2);not null;default:0"`
	RollupCost            float64   `json:"rollup_cost" gorm:"type:decimal(18,2);not null;default:0"`
	Level                 int       `json:"level" gorm:"not null;default:0"`
	Sequence              int       `json:"sequence" gorm:"not null;default:0"`
	CreatedAt             time.Time `json:"created_at"`
}

func (BOMItem) TableName() string {
	return "bom_items"
}

// BOMSequence BOM编号流水（按公司+日期）
type BOMSequence struct {
	ScopeKey  string    `json:"scope_key" gorm:"primaryKey;size:128"`
	Value     int64     `json:"value" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BOMSequence) TableName() string {
	return "bom_sequences"
}

// BOMRevision BOM修订快照，更新时保存被替换的树
type BOMRevision struct {
	ID                string         `json:"id" gorm:"primaryKey;size:32"`
	BOMID             string         `json:"bom_id" gorm:"size:32;not null;uniqueIndex:idx_bom_revision"`
	Revision          int            `json:"revision" gorm:"not null;uniqueIndex:idx_bom_revision"`
	TotalMaterialCost float64        `json:"total_material_cost" gorm:"type:decimal(18,2)"`
	Snapshot          datatypes.JSON `json:"snapshot"`
	ChangedBy         string         `json:"changed_by" gorm:"size:32"`
	CreatedAt         time.Time      `json:"created_at"`
}

func (BOMRevision) TableName() string {
	return "bom_revisions"
}

// BOMStatus BOM状态
const (
	BOMStatusDraft    = "DRAFT"
	BOMStatusActive   = "ACTIVE"
	BOMStatusObsolete = "OBSOLETE"
)

// BOMType BOM类型
const (
	BOMTypeManufacturing = "MANUFACTURING"
	BOMTypeEngineering   = "ENGINEERING"
	BOMTypeSales         = "SALES"
	BOMTypeService       = "SERVICE"
)

// ValidBOMType 判断BOM类型是否合法
func ValidBOMType(t string) bool {
	switch t {
	case BOMTypeManufacturing, BOMTypeEngineering, BOMTypeSales, BOMTypeService:
		return true
	}
	return false
}

// AllModels 迁移用
func AllModels() []interface{} {
	return []interface{}{
		&BOMDocument{},
		&BOMItem{},
		&BOMSequence{},
		&BOMRevision{},
	}
}
