package service

import (
	"fmt"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/bitfantasy/nimo-bom/internal/config"
	"github.com/bitfantasy/nimo-bom/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 服务集合
type Services struct {
	BOM       *BOMService
	Assembler *DocumentAssembler
	Validator *bom.Validator
}

// NewServices 创建服务集合。rdb 为 nil 时不启用读缓存，且不能使用 redis 流水号
func NewServices(repos *repository.Repositories, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var allocator bom.SequenceAllocator
	switch cfg.BOM.SequenceBackend {
	case config.SequenceBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("sequence backend %q requires a redis client", cfg.BOM.SequenceBackend)
		}
		allocator = repository.NewRedisSequenceAllocator(rdb)
	case config.SequenceBackendDatabase, "":
		allocator = repos.Sequence
	default:
		return nil, fmt.Errorf("unsupported sequence backend %q", cfg.BOM.SequenceBackend)
	}

	// nil *redis.Client 不能直接装进 redis.Cmdable
	var cache *documentCache
	if rdb != nil {
		cache = newDocumentCache(rdb, cfg.BOM.CacheTTL, logger)
	}

	validator := bom.NewValidator(cfg.BOM.MaxDepth)
	assembler := NewDocumentAssembler(allocator, cfg.BOM, logger)

	return &Services{
		BOM:       NewBOMService(repos.BOM, validator, assembler, cache, logger),
		Assembler: assembler,
		Validator: validator,
	}, nil
}
