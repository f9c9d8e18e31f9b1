package messaging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Wildcard 订阅全部事件
const Wildcard = "*"

// Transport 事件传输
type Transport interface {
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	// Subscribe 按模式订阅，模式见 Matches
	Subscribe(pattern string, handler IMessageHandler) error
	Unsubscribe(pattern string, handler IMessageHandler) error
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// TransportStats 传输层统计信息
type TransportStats struct {
	Running      bool     `json:"running"`
	HandlerCount int      `json:"handler_count"`
	Patterns     []string `json:"patterns"`
	QueueSize    int      `json:"queue_size,omitempty"`
	QueueDepth   int      `json:"queue_depth,omitempty"`
	WorkerCount  int      `json:"worker_count,omitempty"`
}

// Matches 判断事件类型是否命中订阅模式：
//
//	"*"            全部事件
//	"User.*"       实体 User 的全部动作
//	"User.created" 精确匹配
func Matches(pattern, messageType string) bool {
	switch {
	case pattern == Wildcard:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(messageType, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == messageType
}

// Registry 各传输共用的订阅表，并发安全
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]IMessageHandler
}

// NewRegistry 创建订阅表
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]IMessageHandler)}
}

// Add 添加订阅
func (r *Registry) Add(pattern string, handler IMessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[pattern] = append(r.handlers[pattern], handler)
}

// Remove 移除订阅，返回该模式是否已没有处理器
func (r *Registry) Remove(pattern string, handler IMessageHandler) (empty bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handlers, ok := r.handlers[pattern]
	if !ok {
		return true, fmt.Errorf("no handlers for pattern %s", pattern)
	}
	for i, h := range handlers {
		if h == handler {
			rest := append(handlers[:i:i], handlers[i+1:]...)
			if len(rest) == 0 {
				delete(r.handlers, pattern)
				return true, nil
			}
			r.handlers[pattern] = rest
			return false, nil
		}
	}
	return false, fmt.Errorf("handler not found for pattern %s", pattern)
}

// Match 返回命中事件类型的处理器：精确匹配在前，实体通配其次，"*" 最后
func (r *Registry) Match(messageType string) []IMessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var exact, entity, all []IMessageHandler
	for pattern, hs := range r.handlers {
		if !Matches(pattern, messageType) {
			continue
		}
		switch {
		case pattern == messageType:
			exact = append(exact, hs...)
		case pattern == Wildcard:
			all = append(all, hs...)
		default:
			entity = append(entity, hs...)
		}
	}
	out := make([]IMessageHandler, 0, len(exact)+len(entity)+len(all))
	out = append(out, exact...)
	out = append(out, entity...)
	return append(out, all...)
}

// Handlers 返回某个模式下登记的处理器副本
func (r *Registry) Handlers(pattern string) []IMessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]IMessageHandler(nil), r.handlers[pattern]...)
}

// Patterns 已订阅的模式（排序）
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Stats 填充订阅相关的统计
func (r *Registry) Stats(running bool) TransportStats {
	r.mu.RLock()
	count := 0
	for _, hs := range r.handlers {
		count += len(hs)
	}
	r.mu.RUnlock()
	return TransportStats{Running: running, HandlerCount: count, Patterns: r.Patterns()}
}
