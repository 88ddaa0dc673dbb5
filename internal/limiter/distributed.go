package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedTokenBucket 分散式令牌桶（Redis + Lua）
//
// 多個 relay 實例共用同一組計數器；Lua 腳本保證「讀取 → 補充 → 扣除」原子執行。
//
// Redis 狀態：
//   - {prefix}{key}:tokens      當前令牌數
//   - {prefix}{key}:last_refill 上次填充時間（Unix 秒）
type DistributedTokenBucket struct {
	client     redis.Scripter
	capacity   int64
	refillRate int64
	prefix     string
	script     *redis.Script
}

// KEYS[1]: key 前綴
// ARGV[1]: 容量
// ARGV[2]: 每秒填充數
// ARGV[3]: 當前時間（Unix 秒）
//
// 回傳 1 允許，0 拒絕
var tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(redis.call('GET', key .. ':tokens') or capacity)
local last_refill = tonumber(redis.call('GET', key .. ':last_refill') or now)

local elapsed = math.max(0, now - last_refill)
tokens = math.min(capacity, tokens + elapsed * refill_rate)

if tokens >= 1 then
    tokens = tokens - 1
    redis.call('SET', key .. ':tokens', tokens, 'EX', 3600)
    redis.call('SET', key .. ':last_refill', now, 'EX', 3600)
    return 1
end

return 0
`

// NewDistributedTokenBucket 建立分散式令牌桶
func NewDistributedTokenBucket(client redis.Scripter, capacity, refillRate int64, prefix string) *DistributedTokenBucket {
	return &DistributedTokenBucket{
		client:     client,
		capacity:   capacity,
		refillRate: refillRate,
		prefix:     prefix,
		script:     redis.NewScript(tokenBucketScript),
	}
}

// Allow 實現 Limiter
//
// Redis 錯誤時放行並回傳錯誤：可用性優先，呼叫者負責記錄。
func (d *DistributedTokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	result, err := d.script.Run(
		ctx,
		d.client,
		[]string{d.prefix + key},
		d.capacity,
		d.refillRate,
		time.Now().Unix(),
	).Int()
	if err != nil {
		return true, fmt.Errorf("redis 限流失敗: %w", err)
	}
	return result == 1, nil
}
