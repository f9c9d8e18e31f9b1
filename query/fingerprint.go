package query

import (
	"encoding/json"
	"fmt"
	"time"

	"ormkit/internal/conv"
)

// 不参与指纹计算的选项：事务句柄与缓存控制本身
var fingerprintSkip = map[string]bool{
	OptTransaction: true,
	OptCache:       true,
	OptCacheKey:    true,
}

// Fingerprint 返回 (操作, 模型或显式缓存键, 过滤文档, 选项) 的确定性字符串。
// encoding/json 按键排序输出 map，因此相同文档得到相同指纹。
func Fingerprint(kind, model string, where Where, opts Options) string {
	if key, ok := opts[OptCacheKey].(string); ok && key != "" {
		model = key
	}
	filtered := make(map[string]any, len(opts))
	for k, v := range opts {
		if !fingerprintSkip[k] {
			filtered[k] = v
		}
	}
	payload := []any{kind, model, where, filtered}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%s|%s|%v|%v", kind, model, where, filtered)
	}
	return string(data)
}

// CacheTTL 解析 $cache 并决定本次读是否走缓存。
//
// 未给出 $cache 时，fallback > 0 即启用；true 启用并使用 fallback（0 表示永不过期）；
// 正数为毫秒 TTL；false 或非正数关闭缓存。
func CacheTTL(opts Options, fallback time.Duration) (ttl time.Duration, enabled bool) {
	raw, ok := opts[OptCache]
	if !ok || raw == nil {
		return fallback, fallback > 0
	}
	if b, isBool := raw.(bool); isBool {
		return fallback, b
	}
	if ms, isInt := conv.ToInt64(raw); isInt && ms > 0 {
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}

// HasTransaction 选项中是否携带事务句柄
func HasTransaction(opts Options) bool {
	v, ok := opts[OptTransaction]
	return ok && v != nil
}
