// Package natsjetstream 基于 NATS JetStream 的事件传输。
//
// 每个事件类型对应前缀下的一个主题（ormkit.events.User.created），
// 订阅模式映射为 JetStream 主题通配：
//
//	"*"            -> ormkit.events.>
//	"User.*"       -> ormkit.events.User.*
//	"User.created" -> ormkit.events.User.created
package natsjetstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"ormkit/logging"
	"ormkit/messaging"
)

// 默认值
const (
	DefaultStream        = "ORMKIT"
	DefaultSubjectPrefix = "ormkit.events."
)

// Config JetStream 传输配置
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int
	Logger        logging.Logger
	Conn          *nats.Conn

	// Retention limits|interest|workqueue，默认 limits
	Retention string
	MaxBytes  int64
	MaxAge    time.Duration
	Replicas  int
}

// Transport 基于 JetStream 的 messaging.Transport
type Transport struct {
	cfg      Config
	logger   logging.Logger
	registry *messaging.Registry

	mu       sync.RWMutex
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool
	subs     map[string]*nats.Subscription
	running  bool
}

// NewTransport 创建传输，连接在 Start 时建立
func NewTransport(cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if !strings.HasSuffix(cfg.SubjectPrefix, ".") {
		cfg.SubjectPrefix += "."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "ormkit-"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("transport.nats")
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger.WithFields(logging.String("stream", cfg.Stream)),
		registry: messaging.NewRegistry(),
		subs:     make(map[string]*nats.Subscription),
	}
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	js, running := t.js, t.running
	t.mu.RUnlock()
	if !running || js == nil {
		return errors.New("nats transport not running")
	}
	data, err := messaging.Encode(message)
	if err != nil {
		return err
	}
	_, err = js.Publish(t.subject(message.GetType()), data, nats.Context(ctx), nats.MsgId(message.GetID()))
	return err
}

func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 登记处理器；运行中时立即为新模式建立消费者
func (t *Transport) Subscribe(pattern string, handler messaging.IMessageHandler) error {
	t.registry.Add(pattern, handler)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.subscribeLocked(pattern)
	}
	return nil
}

func (t *Transport) Unsubscribe(pattern string, handler messaging.IMessageHandler) error {
	empty, err := t.registry.Remove(pattern, handler)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[pattern]; ok {
		delete(t.subs, pattern)
		return sub.Drain()
	}
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("nats transport already running")
	}
	if err := t.ensureConnection(); err != nil {
		return err
	}
	if err := t.ensureStream(); err != nil {
		return err
	}
	for _, pattern := range t.registry.Patterns() {
		if err := t.subscribeLocked(pattern); err != nil {
			return err
		}
	}
	t.running = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	for pattern, sub := range t.subs {
		if err := sub.Drain(); err != nil {
			t.logger.Warn(context.Background(), "drain subscription failed",
				logging.String("pattern", pattern), logging.Error(err))
		}
		delete(t.subs, pattern)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.js = nil
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.registry.Stats(t.running)
}

func (t *Transport) ensureConnection() error {
	if t.conn != nil && t.js != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("ormkit"))
		if err != nil {
			return err
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return err
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = t.js.AddStream(t.streamConfig())
	return err
}

func (t *Transport) streamConfig() *nats.StreamConfig {
	retention := nats.LimitsPolicy
	switch strings.ToLower(t.cfg.Retention) {
	case "interest":
		retention = nats.InterestPolicy
	case "workqueue":
		retention = nats.WorkQueuePolicy
	}
	sc := &nats.StreamConfig{
		Name:      t.cfg.Stream,
		Subjects:  []string{t.cfg.SubjectPrefix + ">"},
		Retention: retention,
	}
	if t.cfg.MaxBytes > 0 {
		sc.MaxBytes = t.cfg.MaxBytes
	}
	if t.cfg.MaxAge > 0 {
		sc.MaxAge = t.cfg.MaxAge
	}
	if t.cfg.Replicas > 0 {
		sc.Replicas = t.cfg.Replicas
	}
	return sc
}

func (t *Transport) subscribeLocked(pattern string) error {
	if _, exists := t.subs[pattern]; exists {
		return nil
	}
	durable := t.durable(pattern)
	sub, err := t.js.QueueSubscribe(t.subjectFor(pattern), durable, t.handleMessage(pattern),
		nats.ManualAck(),
		nats.Durable(durable),
		nats.DeliverNew(),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return err
	}
	t.subs[pattern] = sub
	return nil
}

// handleMessage 每个模式一个消费者，只分发给该模式下的处理器
func (t *Transport) handleMessage(pattern string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx := context.Background()
		decoded, err := messaging.Decode(msg.Data)
		if err != nil {
			t.logger.Warn(ctx, "decode nats message failed", logging.String("subject", msg.Subject), logging.Error(err))
			_ = msg.Term()
			return
		}
		if decoded.Type == "" {
			decoded.Type = strings.TrimPrefix(msg.Subject, t.cfg.SubjectPrefix)
		}
		for _, h := range t.registry.Handlers(pattern) {
			if err := h.Handle(ctx, decoded); err != nil {
				t.logger.Warn(ctx, "event handler failed",
					logging.String("handler", h.Type()),
					logging.String("event_type", decoded.Type),
					logging.Error(err))
			}
		}
		if err := msg.Ack(); err != nil {
			t.logger.Warn(ctx, "nats ack failed", logging.Error(err))
		}
	}
}

func (t *Transport) subject(messageType string) string {
	return t.cfg.SubjectPrefix + messageType
}

// subjectFor 订阅模式转换为 JetStream 主题过滤
func (t *Transport) subjectFor(pattern string) string {
	if pattern == messaging.Wildcard {
		return t.cfg.SubjectPrefix + ">"
	}
	return t.cfg.SubjectPrefix + pattern
}

// durable 消费者名称不能包含 . * >
func (t *Transport) durable(pattern string) string {
	name := strings.NewReplacer(".", "_", "*", "all", ">", "all").Replace(pattern)
	return t.cfg.DurablePrefix + name
}
