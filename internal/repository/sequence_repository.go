package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-bom/internal/model/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceRepository 数据库流水号分配
type SequenceRepository struct {
	db *gorm.DB
}

// NewSequenceRepository 创建流水号仓库
func NewSequenceRepository(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Allocate 原子递增 scopeKey 的流水号并返回新值。
// upsert 持有行锁直到事务结束，同一 scope 的并发调用串行化
func (r *SequenceRepository) Allocate(ctx context.Context, scopeKey string) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		seq := entity.BOMSequence{ScopeKey: scopeKey, Value: 1, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "scope_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":      gorm.Expr("bom_sequences.value + 1"),
				"updated_at": now,
			}),
		}).Create(&seq).Error; err != nil {
			return err
		}
		return tx.Model(&entity.BOMSequence{}).
			Select("value").
			Where("scope_key = ?", scopeKey).
			Scan(&value).Error
	})
	if err != nil {
		return 0, fmt.Errorf("allocate sequence %s: %w", scopeKey, err)
	}
	return value, nil
}
