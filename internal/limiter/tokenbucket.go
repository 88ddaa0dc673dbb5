// Package limiter 提供令牌桶限流器。
//
// 用途：
//   - 每條 WebSocket 連接的入站訊息限流（TokenBucket，單機）
//   - /ws 握手的每 IP 連線限流（KeyedTokenBucket 單機，或 DistributedTokenBucket 走 Redis）
//
// 設計考量：
//   - 單機版使用本地記憶體，執行緒安全（sync.Mutex）
//   - 多實例部署時改用 Redis + Lua，所有實例共享計數
package limiter

import (
	"context"
	"sync"
	"time"
)

// Limiter 以 key 為維度的限流器
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucket 令牌桶
//
// 演算法：
//  1. 固定容量的桶，以固定速率填充令牌
//  2. 每個請求取出一個令牌
//  3. 沒有令牌則拒絕
//
// 容量決定可容忍的突發量，速率決定平均速率。
type TokenBucket struct {
	capacity   int64
	tokens     int64
	refillRate int64 // 每秒填充數
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 建立令牌桶，初始為滿
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow 嘗試取出一個令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens 當前令牌數
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// refill 依經過時間補充令牌，呼叫者需持有 mu
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int64(elapsed.Seconds() * float64(tb.refillRate))

	// 不足一個令牌時不推進 lastRefill，避免小數被吃掉
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

// KeyedTokenBucket 每個 key 一個令牌桶
//
// 閒置超過 idleTTL 的桶會在下一次 Allow 時順便清掉，
// 避免大量一次性 IP 讓 map 無限成長。
type KeyedTokenBucket struct {
	capacity   int64
	refillRate int64
	idleTTL    time.Duration
	buckets    map[string]*keyedEntry
	lastSweep  time.Time
	now        func() time.Time
	mu         sync.Mutex
}

type keyedEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewKeyedTokenBucket 建立以 key 區分的令牌桶
func NewKeyedTokenBucket(capacity, refillRate int64, idleTTL time.Duration) *KeyedTokenBucket {
	return &KeyedTokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		idleTTL:    idleTTL,
		buckets:    make(map[string]*keyedEntry),
		lastSweep:  time.Now(),
		now:        time.Now,
	}
}

// Allow 實現 Limiter
func (k *KeyedTokenBucket) Allow(_ context.Context, key string) (bool, error) {
	k.mu.Lock()
	now := k.now()

	if k.idleTTL > 0 && now.Sub(k.lastSweep) > k.idleTTL {
		for id, entry := range k.buckets {
			if now.Sub(entry.lastSeen) > k.idleTTL {
				delete(k.buckets, id)
			}
		}
		k.lastSweep = now
	}

	entry, ok := k.buckets[key]
	if !ok {
		entry = &keyedEntry{bucket: newTokenBucket(k.capacity, k.refillRate, k.now)}
		k.buckets[key] = entry
	}
	entry.lastSeen = now
	bucket := entry.bucket
	k.mu.Unlock()

	return bucket.Allow(), nil
}

// Len 目前追蹤的 key 數量
func (k *KeyedTokenBucket) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
