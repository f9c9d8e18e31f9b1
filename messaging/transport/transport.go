// Package transport 按配置选择生命周期事件的传输实现
package transport

import (
	"context"
	"fmt"

	"ormkit/config"
	"ormkit/errors"
	"ormkit/logging"
	"ormkit/messaging"
	"ormkit/messaging/transport/memory"
	"ormkit/messaging/transport/natsjetstream"
	"ormkit/messaging/transport/redisstreams"
)

// Open 创建（未启动的）传输；cfg 为 nil 时使用内存传输
func Open(cfg *config.Events) (messaging.Transport, error) {
	if cfg == nil {
		return memory.New(memory.DefaultQueueSize, memory.DefaultWorkers), nil
	}
	logger := logging.Component("transport").WithFields(logging.String("transport", cfg.Transport))
	switch cfg.Transport {
	case config.TransportMemory, "":
		return memory.New(memory.DefaultQueueSize, cfg.Workers), nil
	case config.TransportRedis:
		t, err := redisstreams.NewTransport(redisstreams.Config{Addr: cfg.URL, Stream: cfg.Stream, Logger: logger})
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "redis 事件传输配置无效")
		}
		return t, nil
	case config.TransportNATS:
		return natsjetstream.NewTransport(natsjetstream.Config{URL: cfg.URL, Stream: cfg.Stream, Logger: logger}), nil
	}
	return nil, errors.NewConfigurationError(fmt.Sprintf("事件传输类型 %q 不受支持", cfg.Transport)).
		WithContext("transport", cfg.Transport)
}

// NewBus 打开并启动传输，返回挂好日志中间件的总线
func NewBus(ctx context.Context, cfg *config.Events) (*messaging.MessageBus, error) {
	t, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := t.Start(ctx); err != nil {
		_ = t.Close()
		return nil, errors.NewConnectionError("events", err)
	}
	bus := messaging.NewMessageBus(t)
	bus.Use(messaging.NewLoggingMiddleware(nil))
	return bus, nil
}
