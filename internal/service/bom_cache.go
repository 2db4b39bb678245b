package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-bom/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	documentCacheKeyPrefix = "bom:document:"
	// 代数键的保留时间在文档TTL之上再加这么久
	generationTTL = 24 * time.Hour
)

// fillIfCurrent 代数未变才写入文档键。KEYS: 文档键, 代数键; ARGV: 读库前的代数, 内容, 毫秒TTL
var fillIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// documentCache BOM详情读缓存。nil 表示未启用；redis 故障只记日志，不影响读写。
// 每次写库后递增文档的代数并删除缓存；回填时代数已变说明读到的可能是旧数据，放弃回填
type documentCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func newDocumentCache(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *documentCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &documentCache{rdb: rdb, ttl: ttl, logger: logger}
}

func documentCacheKey(id string) string {
	return documentCacheKeyPrefix + id
}

func generationKey(id string) string {
	return documentCacheKeyPrefix + id + ":gen"
}

// generation 读库前调用。返回空串表示 redis 不可用，本次不回填
func (c *documentCache) generation(ctx context.Context, id string) string {
	if c == nil {
		return ""
	}
	gen, err := c.rdb.Get(ctx, generationKey(id)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0"
	case err != nil:
		c.logger.Warn("read bom cache generation failed", zap.String("bom_id", id), zap.Error(err))
		return ""
	}
	return gen
}

func (c *documentCache) get(ctx context.Context, id string) (*BOMDetail, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, documentCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observability.RecordCacheLookup("miss")
		} else {
			observability.RecordCacheLookup("error")
			c.logger.Warn("read bom cache failed", zap.String("bom_id", id), zap.Error(err))
		}
		return nil, false
	}
	var d BOMDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		observability.RecordCacheLookup("error")
		c.logger.Warn("decode bom cache failed", zap.String("bom_id", id), zap.Error(err))
		c.evict(ctx, id)
		return nil, false
	}
	observability.RecordCacheLookup("hit")
	return &d, true
}

// set 回填缓存。gen 为读库前 generation 的返回值
func (c *documentCache) set(ctx context.Context, d *BOMDetail, gen string) {
	if c == nil || gen == "" {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		c.logger.Warn("encode bom cache failed", zap.String("bom_id", d.ID), zap.Error(err))
		return
	}
	keys := []string{documentCacheKey(d.ID), generationKey(d.ID)}
	filled, err := fillIfCurrent.Run(ctx, c.rdb, keys, gen, raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("write bom cache failed", zap.String("bom_id", d.ID), zap.Error(err))
		return
	}
	if filled == 0 {
		observability.RecordCacheLookup("stale")
	}
}

// evict 写库提交后调用
func (c *documentCache) evict(ctx context.Context, id string) {
	if c == nil {
		return
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(id))
		pipe.Expire(ctx, generationKey(id), c.ttl+generationTTL)
		pipe.Del(ctx, documentCacheKey(id))
		return nil
	})
	if err != nil {
		c.logger.Warn("evict bom cache failed", zap.String("bom_id", id), zap.Error(err))
	}
}
