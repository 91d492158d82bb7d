package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// setAvailableScript 仅当新版本不低于已缓存版本时写入，保留版本水位防止旧快照回填
var setAvailableScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'available', ARGV[1], 'version', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// balanceCache 可用余额缓存（hash: available, version），Redis 未配置时全部未命中
type balanceCache struct {
	data *Data
	log  *log.Helper
}

// NewBalanceCache 创建余额缓存
func NewBalanceCache(data *Data, logger log.Logger) biz.BalanceCache {
	return &balanceCache{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func balanceKey(userID string) string {
	return fmt.Sprintf("%s%s", constants.RedisKeyBalance, userID)
}

func (c *balanceCache) GetAvailable(ctx context.Context, userID string) (decimal.Decimal, bool, error) {
	if c.data.rdb == nil {
		return decimal.Zero, false, nil
	}
	s, err := c.data.rdb.HGet(ctx, balanceKey(userID), "available").Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		// 脏数据按未命中处理
		c.log.Warnf("invalid cached balance: user_id=%s, value=%q", userID, s)
		return decimal.Zero, false, nil
	}
	return v, true, nil
}

func (c *balanceCache) SetAvailable(ctx context.Context, userID string, available decimal.Decimal, version int64, ttl time.Duration) error {
	if c.data.rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	applied, err := setAvailableScript.Run(ctx, c.data.rdb, []string{balanceKey(userID)},
		available.String(), version, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if applied == 0 {
		c.log.Debugf("stale balance cache write skipped: user_id=%s, version=%d", userID, version)
	}
	return nil
}

func (c *balanceCache) Evict(ctx context.Context, userID string) error {
	if c.data.rdb == nil {
		return nil
	}
	return c.data.rdb.HDel(ctx, balanceKey(userID), "available").Err()
}
