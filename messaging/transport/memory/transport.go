// Package memory 进程内的异步事件传输：有界队列加固定数量的 worker。
// 处理器的错误只记录日志，不会回传给发布者。
package memory

import (
	"context"
	"fmt"
	"sync"

	"ormkit/logging"
	"ormkit/messaging"
)

const (
	DefaultQueueSize = 1000
	DefaultWorkers   = 4
)

// Transport 内存事件传输
type Transport struct {
	registry *messaging.Registry
	logger   logging.Logger

	queue     chan messaging.IMessage
	queueSize int
	workers   int

	mutex   sync.RWMutex
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// New 创建内存传输，queueSize/workers <= 0 时使用默认值
func New(queueSize, workers int) *Transport {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Transport{
		registry:  messaging.NewRegistry(),
		logger:    logging.Component("transport.memory"),
		queue:     make(chan messaging.IMessage, queueSize),
		queueSize: queueSize,
		workers:   workers,
	}
}

func (t *Transport) Subscribe(pattern string, handler messaging.IMessageHandler) error {
	t.registry.Add(pattern, handler)
	return nil
}

func (t *Transport) Unsubscribe(pattern string, handler messaging.IMessageHandler) error {
	_, err := t.registry.Remove(pattern, handler)
	return err
}

// Publish 入队，队列已满时立即返回错误
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	return t.PublishAll(ctx, []messaging.IMessage{message})
}

func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if !t.running {
		return fmt.Errorf("memory transport is not running")
	}
	for _, message := range messages {
		select {
		case t.queue <- message:
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("event queue is full (%d)", t.queueSize)
		}
	}
	return nil
}

// Start 启动 worker；ctx 取消时 worker 退出，队列中剩余事件不再处理
func (t *Transport) Start(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.running {
		return fmt.Errorf("memory transport is already running")
	}
	if t.closed {
		return fmt.Errorf("memory transport is closed")
	}
	t.running = true
	for i := 0; i < t.workers; i++ {
		t.wg.Add(1)
		go t.worker(ctx)
	}
	return nil
}

// Close 停止接收新事件，等待队列中的事件处理完毕
func (t *Transport) Close() error {
	return t.CloseWithContext(context.Background())
}

// CloseWithContext 同 Close，ctx 到期时不再等待并返回 ctx.Err()
func (t *Transport) CloseWithContext(ctx context.Context) error {
	t.mutex.Lock()
	if !t.running {
		t.mutex.Unlock()
		return fmt.Errorf("memory transport is not running")
	}
	t.running = false
	t.closed = true
	close(t.queue)
	t.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mutex.RLock()
	running := t.running
	t.mutex.RUnlock()
	stats := t.registry.Stats(running)
	stats.QueueSize = t.queueSize
	stats.QueueDepth = len(t.queue)
	stats.WorkerCount = t.workers
	return stats
}

func (t *Transport) worker(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case message, ok := <-t.queue:
			if !ok {
				return
			}
			t.dispatch(ctx, message)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, message messaging.IMessage) {
	for _, handler := range t.registry.Match(message.GetType()) {
		if err := handler.Handle(ctx, message); err != nil {
			t.logger.Warn(ctx, "event handler failed",
				logging.String("event", message.GetType()),
				logging.String("event_id", message.GetID()),
				logging.String("handler", handler.Type()),
				logging.Error(err))
		}
	}
}
