package messaging

import (
	"context"
	"time"

	"ormkit/logging"
)

// LoggingMiddleware 以 Debug 级别记录每个发布的事件，失败时记录 Warn
type LoggingMiddleware struct {
	logger logging.Logger
}

// NewLoggingMiddleware logger 为 nil 时使用 messaging 组件日志
func NewLoggingMiddleware(logger logging.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = logging.Component("messaging")
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Name() string { return "logging" }

func (m *LoggingMiddleware) Handle(ctx context.Context, msg IMessage, next HandlerFunc) error {
	start := time.Now()
	err := next(ctx, msg)
	fields := []logging.Field{
		logging.String("event", msg.GetType()),
		logging.String("event_id", msg.GetID()),
		logging.Duration("elapsed", time.Since(start)),
	}
	if p, ok := msg.GetMetadata()[MetaProvider].(string); ok {
		fields = append(fields, logging.String("provider", p))
	}
	if err != nil {
		m.logger.Warn(ctx, "event publish failed", append(fields, logging.Error(err))...)
		return err
	}
	m.logger.Debug(ctx, "event published", fields...)
	return nil
}

// EntityFilter 只放行指定实体的事件，其余事件被静默丢弃
type EntityFilter struct {
	entities map[string]bool
}

// NewEntityFilter entities 为空时放行全部事件
func NewEntityFilter(entities ...string) *EntityFilter {
	f := &EntityFilter{entities: make(map[string]bool, len(entities))}
	for _, e := range entities {
		f.entities[e] = true
	}
	return f
}

func (f *EntityFilter) Name() string { return "entity-filter" }

func (f *EntityFilter) Handle(ctx context.Context, msg IMessage, next HandlerFunc) error {
	if len(f.entities) == 0 {
		return next(ctx, msg)
	}
	if entity, _ := msg.GetMetadata()[MetaEntity].(string); f.entities[entity] {
		return next(ctx, msg)
	}
	return nil
}
