package messaging

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc 中间件链的执行单元
type HandlerFunc func(ctx context.Context, message IMessage) error

// IMiddleware 发布前执行的中间件
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// IMessageBus 事件总线
type IMessageBus interface {
	Subscribe(ctx context.Context, pattern string, handler IMessageHandler) error
	Unsubscribe(ctx context.Context, pattern string, handler IMessageHandler) error
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Use(middleware IMiddleware)
}

// MessageBus 基于 Transport 的事件总线
type MessageBus struct {
	transport   Transport
	middlewares []IMiddleware
	mutex       sync.RWMutex
}

// NewMessageBus 创建事件总线
func NewMessageBus(transport Transport) *MessageBus {
	return &MessageBus{transport: transport}
}

// Transport 底层传输
func (bus *MessageBus) Transport() Transport { return bus.transport }

// Use 注册中间件，按注册顺序执行
func (bus *MessageBus) Use(middleware IMiddleware) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.middlewares = append(bus.middlewares, middleware)
}

func (bus *MessageBus) Subscribe(ctx context.Context, pattern string, handler IMessageHandler) error {
	return bus.transport.Subscribe(pattern, handler)
}

func (bus *MessageBus) Unsubscribe(ctx context.Context, pattern string, handler IMessageHandler) error {
	return bus.transport.Unsubscribe(pattern, handler)
}

// Publish 经过中间件后交给传输层
func (bus *MessageBus) Publish(ctx context.Context, message IMessage) error {
	return bus.chain(ctx, message, func(ctx context.Context, msg IMessage) error {
		return bus.transport.Publish(ctx, msg)
	})
}

// PublishAll 每条事件单独经过中间件，通过的事件一次性交给传输层。
// 中间件可以通过不调用 next 丢弃事件。
func (bus *MessageBus) PublishAll(ctx context.Context, messages []IMessage) error {
	if len(messages) == 0 {
		return nil
	}
	batched := make([]IMessage, 0, len(messages))
	for _, message := range messages {
		err := bus.chain(ctx, message, func(ctx context.Context, msg IMessage) error {
			batched = append(batched, msg)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to publish event %s: %w", message.GetID(), err)
		}
	}
	if len(batched) == 0 {
		return nil
	}
	if err := bus.transport.PublishAll(ctx, batched); err != nil {
		return fmt.Errorf("failed to publish batch (%d events): %w", len(batched), err)
	}
	return nil
}

func (bus *MessageBus) chain(ctx context.Context, message IMessage, final HandlerFunc) error {
	bus.mutex.RLock()
	middlewares := bus.middlewares
	bus.mutex.RUnlock()

	next := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		mw, inner := middlewares[i], next
		next = func(ctx context.Context, msg IMessage) error {
			return mw.Handle(ctx, msg, inner)
		}
	}
	return next(ctx, message)
}
