// Package sync 同步事件传输：Publish 在调用方 goroutine 中依次执行匹配的处理器，
// 处理器的错误合并后返回给发布者。适合测试与需要强一致回调的场景。
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ormkit/messaging"
)

// SyncTransport 同步传输
type SyncTransport struct {
	registry *messaging.Registry
	mutex    sync.RWMutex
	running  bool
}

// NewSyncTransport 创建同步传输
func NewSyncTransport() *SyncTransport {
	return &SyncTransport{registry: messaging.NewRegistry()}
}

func (t *SyncTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mutex.RLock()
	running := t.running
	t.mutex.RUnlock()
	if !running {
		return fmt.Errorf("sync transport is not running")
	}

	var errs []error
	for _, handler := range t.registry.Match(message.GetType()) {
		if err := handler.Handle(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", handler.Type(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("event %s handled with %d errors: %w", message.GetType(), len(errs), errors.Join(errs...))
	}
	return nil
}

// PublishAll 依次发布，遇到第一个错误即停止
func (t *SyncTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		if err := t.Publish(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (t *SyncTransport) Subscribe(pattern string, handler messaging.IMessageHandler) error {
	t.registry.Add(pattern, handler)
	return nil
}

func (t *SyncTransport) Unsubscribe(pattern string, handler messaging.IMessageHandler) error {
	_, err := t.registry.Remove(pattern, handler)
	return err
}

func (t *SyncTransport) Start(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.running = true
	return nil
}

func (t *SyncTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.running = false
	return nil
}

func (t *SyncTransport) Stats() messaging.TransportStats {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.registry.Stats(t.running)
}
