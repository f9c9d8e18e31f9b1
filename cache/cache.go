// Package cache 提供按条目 TTL 过期的内存缓存（CacheManager）
//
// 设计原则：
// 1. 纯时间过期 - 每个条目独立的 TTL，没有容量上限，也没有 LRU 驱逐
// 2. 类型安全 - 使用泛型提供编译时类型检查
// 3. 覆盖即重置 - 同一 key 再次 Set 会取消旧的过期定时器
// 4. 并发安全 - 使用 RWMutex 保护
package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Cache 通用泛型 TTL 缓存
//
// 过期策略：Set 时若给出 ttl > 0，则通过 time.AfterFunc 安排一次延迟删除；
// ttl <= 0 表示永不自动过期。同一 key 再次 Set 时取消旧定时器，并递增条目代数，
// 已经触发但尚未拿到锁的旧定时器会因为代数不匹配而放弃删除。
//
// 使用示例：
//
//	c := cache.New[string, []Row](cache.Config{Name: "user"})
//	c.Set(key, rows, 30*time.Second)
//	if rows, ok := c.Get(key); ok {
//	    // 使用缓存的值
//	}
type Cache[K comparable, V any] struct {
	name   string
	config Config

	items map[K]*cacheEntry[V]
	// 单调递增的代数，用于识别过期定时器所针对的写入
	generation uint64

	mu    sync.RWMutex
	stats CacheStats
}

// cacheEntry 缓存条目
type cacheEntry[V any] struct {
	value      V
	createdAt  time.Time
	expiresAt  time.Time // 零值表示永不过期
	generation uint64
	timer      *time.Timer
}

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// OnEvict 条目被过期删除时的回调（可选，在锁外调用）
	OnEvict func(key, value any)
}

// CacheStats 缓存统计信息
type CacheStats struct {
	Hits    int64 // 缓存命中次数
	Misses  int64 // 缓存未命中次数
	Expires int64 // TTL 过期次数
	Size    int   // 当前条目数
}

// Entry 条目快照
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// New 创建新的缓存实例
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}

	return &Cache[K, V]{
		name:   config.Name,
		config: config,
		items:  make(map[K]*cacheEntry[V]),
	}
}

// Name 返回缓存名称
func (c *Cache[K, V]) Name() string { return c.name }

// Get 获取缓存值
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		return value, false
	}
	// 定时器尚未执行但已过期：按未命中处理
	if !entry.expiresAt.IsZero() && !time.Now().Before(entry.expiresAt) {
		entry.timer.Stop()
		delete(c.items, key)
		c.stats.Expires++
		c.stats.Misses++
		c.stats.Size = len(c.items)
		return value, false
	}

	c.stats.Hits++
	return entry.value, true
}

// Has 判断 key 是否存在
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.items[key]
	if !ok {
		return false
	}
	return entry.expiresAt.IsZero() || time.Now().Before(entry.expiresAt)
}

// Set 设置缓存值，ttl <= 0 表示永不过期
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

func (c *Cache[K, V]) setLocked(key K, value V, ttl time.Duration) {
	if old, ok := c.items[key]; ok && old.timer != nil {
		old.timer.Stop()
	}

	c.generation++
	entry := &cacheEntry[V]{
		value:      value,
		createdAt:  time.Now(),
		generation: c.generation,
	}
	if ttl > 0 {
		entry.expiresAt = entry.createdAt.Add(ttl)
		gen := entry.generation
		entry.timer = time.AfterFunc(ttl, func() { c.expire(key, gen) })
	}
	c.items[key] = entry
	c.stats.Size = len(c.items)
}

// expire 定时器回调：只删除与 gen 对应的那次写入
func (c *Cache[K, V]) expire(key K, gen uint64) {
	c.mu.Lock()
	entry, ok := c.items[key]
	if !ok || entry.generation != gen {
		c.mu.Unlock()
		return
	}
	delete(c.items, key)
	c.stats.Expires++
	c.stats.Size = len(c.items)
	onEvict := c.config.OnEvict
	c.mu.Unlock()

	if onEvict != nil {
		onEvict(key, entry.value)
	}
}

// Delete 删除缓存条目
//
// 返回：是否存在并被删除
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(c.items, key)
	c.stats.Size = len(c.items)
	return true
}

// Clear 清空所有缓存并取消全部定时器
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.items {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	c.items = make(map[K]*cacheEntry[V])
	c.stats.Size = 0
}

// TTL 返回条目剩余存活时间；永不过期返回 0, true
func (c *Cache[K, V]) TTL(key K) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.items[key]
	if !ok {
		return 0, false
	}
	if entry.expiresAt.IsZero() {
		return 0, true
	}
	return time.Until(entry.expiresAt), true
}

// Stats 获取缓存统计信息（副本）
func (c *Cache[K, V]) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// Size 获取当前缓存条目数
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// HitRate 获取缓存命中率
func (c *Cache[K, V]) HitRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total)
}

// String 返回缓存信息的字符串表示
func (c *Cache[K, V]) String() string {
	stats := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d, hits=%d, misses=%d, hit_rate=%.2f%%, expires=%d",
		c.name,
		stats.Size,
		stats.Hits,
		stats.Misses,
		c.HitRate()*100,
		stats.Expires,
	)
}

// ------------------------------------------------------------------------
// 只读派生：全部基于当前条目集合计算，不维护额外状态
// ------------------------------------------------------------------------

// Entries 返回所有条目快照（顺序不固定）
func (c *Cache[K, V]) Entries() []Entry[K, V] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry[K, V], 0, len(c.items))
	for k, e := range c.items {
		out = append(out, Entry[K, V]{Key: k, Value: e.value})
	}
	return out
}

// Keys 返回所有 key
func (c *Cache[K, V]) Keys() []K {
	entries := c.Entries()
	keys := make([]K, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// Values 返回所有值
func (c *Cache[K, V]) Values() []V {
	entries := c.Entries()
	values := make([]V, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values
}

// ToObject 返回 key→value 的普通 map 快照
func (c *Cache[K, V]) ToObject() map[K]V {
	entries := c.Entries()
	out := make(map[K]V, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out
}

// Filter 返回满足条件的条目
func (c *Cache[K, V]) Filter(pred func(K, V) bool) []Entry[K, V] {
	var out []Entry[K, V]
	for _, e := range c.Entries() {
		if pred(e.Key, e.Value) {
			out = append(out, e)
		}
	}
	return out
}

// Find 返回任意一个满足条件的条目
func (c *Cache[K, V]) Find(pred func(K, V) bool) (Entry[K, V], bool) {
	for _, e := range c.Entries() {
		if pred(e.Key, e.Value) {
			return e, true
		}
	}
	return Entry[K, V]{}, false
}

// Some 是否存在满足条件的条目
func (c *Cache[K, V]) Some(pred func(K, V) bool) bool {
	_, ok := c.Find(pred)
	return ok
}

// Every 是否所有条目都满足条件（空缓存返回 true）
func (c *Cache[K, V]) Every(pred func(K, V) bool) bool {
	for _, e := range c.Entries() {
		if !pred(e.Key, e.Value) {
			return false
		}
	}
	return true
}

// Sort 按 less 排序后的条目快照
func (c *Cache[K, V]) Sort(less func(a, b Entry[K, V]) bool) []Entry[K, V] {
	entries := c.Entries()
	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
	return entries
}

// Merge 把 other 的条目写入当前缓存，保留 other 中的剩余 TTL
func (c *Cache[K, V]) Merge(other *Cache[K, V]) {
	if other == nil || other == c {
		return
	}
	type pending struct {
		key   K
		value V
		ttl   time.Duration
	}
	other.mu.RLock()
	items := make([]pending, 0, len(other.items))
	now := time.Now()
	for k, e := range other.items {
		var ttl time.Duration
		if !e.expiresAt.IsZero() {
			ttl = e.expiresAt.Sub(now)
			if ttl <= 0 {
				continue
			}
		}
		items = append(items, pending{key: k, value: e.value, ttl: ttl})
	}
	other.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range items {
		c.setLocked(p.key, p.value, p.ttl)
	}
}

// Clone 复制出一个独立的缓存（同名同配置，剩余 TTL 保留）
func (c *Cache[K, V]) Clone() *Cache[K, V] {
	clone := New[K, V](c.config)
	clone.Merge(c)
	return clone
}

// Map 将每个条目映射为新值
func Map[K comparable, V, R any](c *Cache[K, V], fn func(K, V) R) map[K]R {
	entries := c.Entries()
	out := make(map[K]R, len(entries))
	for _, e := range entries {
		out[e.Key] = fn(e.Key, e.Value)
	}
	return out
}

// Reduce 对所有条目做归约（遍历顺序不固定，fn 应满足交换律）
func Reduce[K comparable, V, R any](c *Cache[K, V], initial R, fn func(R, K, V) R) R {
	acc := initial
	for _, e := range c.Entries() {
		acc = fn(acc, e.Key, e.Value)
	}
	return acc
}
