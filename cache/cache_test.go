package cache

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCache_BasicOperations 测试基本操作
func TestCache_BasicOperations(t *testing.T) {
	cache := New[string, int](Config{Name: "test"})

	cache.Set("key1", 100, 0)
	value, found := cache.Get("key1")
	assert.True(t, found)
	assert.Equal(t, 100, value)
	assert.True(t, cache.Has("key1"))

	_, found = cache.Get("nonexistent")
	assert.False(t, found)

	assert.True(t, cache.Delete("key1"))
	_, found = cache.Get("key1")
	assert.False(t, found)

	// 重复删除
	assert.False(t, cache.Delete("key1"))
}

// TestCache_NoTTLNeverExpires 未给 ttl 的条目不会自动过期
func TestCache_NoTTLNeverExpires(t *testing.T) {
	cache := New[string, string](Config{Name: "test"})
	cache.Set("k", "v", 0)

	time.Sleep(30 * time.Millisecond)
	value, found := cache.Get("k")
	require.True(t, found)
	assert.Equal(t, "v", value)

	ttl, ok := cache.TTL("k")
	assert.True(t, ok)
	assert.Zero(t, ttl)
}

// TestCache_TTLExpiration 测试 TTL 过期
func TestCache_TTLExpiration(t *testing.T) {
	var evicted []string
	var mu sync.Mutex
	cache := New[string, int](Config{
		Name: "test",
		OnEvict: func(key, value any) {
			mu.Lock()
			evicted = append(evicted, key.(string))
			mu.Unlock()
		},
	})

	cache.Set("key1", 100, 20*time.Millisecond)
	value, found := cache.Get("key1")
	assert.True(t, found)
	assert.Equal(t, 100, value)

	assert.Eventually(t, func() bool { return !cache.Has("key1") }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evicted) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), cache.Stats().Expires)
}

// TestCache_OverwriteCancelsExpiry 覆盖写入取消旧定时器，最后一次写入生效
func TestCache_OverwriteCancelsExpiry(t *testing.T) {
	cache := New[string, string](Config{Name: "test"})

	cache.Set("k", "v1", 10*time.Millisecond)
	cache.Set("k", "v2", 0)

	time.Sleep(30 * time.Millisecond)
	value, found := cache.Get("k")
	require.True(t, found)
	assert.Equal(t, "v2", value)
}

// TestCache_StaleTimerIgnored 旧定时器即使触发也不会删除新值
func TestCache_StaleTimerIgnored(t *testing.T) {
	cache := New[string, string](Config{Name: "test"})
	cache.Set("k", "v1", time.Hour)
	staleGen := cache.items["k"].generation

	cache.Set("k", "v2", 0)
	cache.expire("k", staleGen)

	value, found := cache.Get("k")
	require.True(t, found)
	assert.Equal(t, "v2", value)
}

// TestCache_ResetTTL 再次设置 ttl 以新 ttl 为准
func TestCache_ResetTTL(t *testing.T) {
	cache := New[string, string](Config{Name: "test"})
	cache.Set("k", "v1", 15*time.Millisecond)
	cache.Set("k", "v2", time.Hour)

	time.Sleep(40 * time.Millisecond)
	value, found := cache.Get("k")
	require.True(t, found)
	assert.Equal(t, "v2", value)
}

// TestCache_Clear 测试清空
func TestCache_Clear(t *testing.T) {
	cache := New[int, string](Config{Name: "test"})
	for i := 0; i < 10; i++ {
		cache.Set(i, "value", time.Minute)
	}
	assert.Equal(t, 10, cache.Size())

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
	_, found := cache.Get(0)
	assert.False(t, found)
}

// TestCache_Derivations 测试只读派生方法
func TestCache_Derivations(t *testing.T) {
	cache := New[string, int](Config{Name: "test"})
	cache.Set("a", 1, 0)
	cache.Set("b", 2, 0)
	cache.Set("c", 3, 0)

	keys := cache.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	values := cache.Values()
	sort.Ints(values)
	assert.Equal(t, []int{1, 2, 3}, values)

	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, cache.ToObject())

	odd := cache.Filter(func(_ string, v int) bool { return v%2 == 1 })
	assert.Len(t, odd, 2)

	found, ok := cache.Find(func(k string, _ int) bool { return k == "b" })
	require.True(t, ok)
	assert.Equal(t, 2, found.Value)

	assert.True(t, cache.Some(func(_ string, v int) bool { return v > 2 }))
	assert.False(t, cache.Some(func(_ string, v int) bool { return v > 3 }))
	assert.True(t, cache.Every(func(_ string, v int) bool { return v > 0 }))
	assert.False(t, cache.Every(func(_ string, v int) bool { return v > 1 }))

	sorted := cache.Sort(func(a, b Entry[string, int]) bool { return a.Value > b.Value })
	assert.Equal(t, "c", sorted[0].Key)
	assert.Equal(t, "a", sorted[2].Key)

	doubled := Map(cache, func(_ string, v int) int { return v * 2 })
	assert.Equal(t, map[string]int{"a": 2, "b": 4, "c": 6}, doubled)

	sum := Reduce(cache, 0, func(acc int, _ string, v int) int { return acc + v })
	assert.Equal(t, 6, sum)
}

// TestCache_MergeAndClone 测试合并与复制
func TestCache_MergeAndClone(t *testing.T) {
	a := New[string, int](Config{Name: "a"})
	b := New[string, int](Config{Name: "b"})
	a.Set("x", 1, 0)
	b.Set("x", 10, 0)
	b.Set("y", 20, time.Hour)

	a.Merge(b)
	assert.Equal(t, map[string]int{"x": 10, "y": 20}, a.ToObject())
	ttl, ok := a.TTL("y")
	require.True(t, ok)
	assert.Greater(t, ttl, time.Minute)

	clone := a.Clone()
	clone.Set("z", 30, 0)
	assert.False(t, a.Has("z"))
	assert.Equal(t, "a", clone.Name())
	assert.Equal(t, 3, clone.Size())
}

// TestCache_Stats 测试统计
func TestCache_Stats(t *testing.T) {
	cache := New[string, int](Config{Name: "test"})
	cache.Set("k", 1, 0)

	cache.Get("k")
	cache.Get("k")
	cache.Get("missing")

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, cache.HitRate(), 0.001)
	assert.Contains(t, cache.String(), "Cache[test]")
}

// TestCache_ConcurrentAccess 测试并发访问
func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New[int, int](Config{Name: "test"})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := base*1000 + i
				cache.Set(key, i, time.Millisecond*time.Duration(i%3))
				cache.Get(key)
				cache.Has(key)
				if i%10 == 0 {
					cache.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, cache.Size(), 8*200)
}

// BenchmarkCache_Set 基准测试：Set
func BenchmarkCache_Set(b *testing.B) {
	cache := New[int, int](Config{Name: "bench"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Set(i%1000, i, 0)
	}
}
