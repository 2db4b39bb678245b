package repository

import (
	"errors"
	"strings"

	"github.com/bitfantasy/nimo-bom/internal/model/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateBOMNumber bom_number 唯一约束冲突
	ErrDuplicateBOMNumber = errors.New("duplicate bom number")
	// ErrConflict 并发修改（修订号或状态已变化）
	ErrConflict = errors.New("record was modified concurrently")
)

// Repositories 仓库集合
type Repositories struct {
	BOM      *BOMRepository
	Sequence *SequenceRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		BOM:      NewBOMRepository(db),
		Sequence: NewSequenceRepository(db),
	}
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(entity.AllModels()...)
}

// generateID 生成32位ID
func generateID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:32]
}

// isDuplicateKey 识别唯一约束冲突。postgres 驱动翻译为 gorm.ErrDuplicatedKey，
// 纯Go的 sqlite 驱动只能按错误信息判断
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
