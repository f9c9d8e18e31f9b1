// Package redisstreams 基于 Redis Streams 消费组的事件传输。
//
// 所有生命周期事件写入同一个 stream，条目包含 type 与 data 两个字段，
// data 为 messaging.Encode 的 JSON 信封；消费端按订阅模式在本地分发。
package redisstreams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ormkit/logging"
	"ormkit/messaging"
	"ormkit/patterns/retry"
)

// DefaultStream 默认 stream 名称
const DefaultStream = "ormkit:events"

// client go-redis 中用到的命令子集
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// Config Redis Streams 传输配置
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Username     string
	Password     string
	DB           int
	Stream       string
	GroupName    string
	ConsumerName string
	// MaxLen stream 近似最大长度，0 表示不裁剪
	MaxLen       int64
	BlockTimeout time.Duration
	ReadCount    int64
	Logger       logging.Logger

	MinReadBackoff time.Duration // 读取错误最小退避，默认 100ms
	MaxReadBackoff time.Duration // 读取错误最大退避，默认 5s
}

// Transport 基于 Redis Streams 的 messaging.Transport
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger
	registry  *messaging.Registry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTransport 创建传输；未提供 Client 时按 Addr 自建连接并在 Close 时关闭
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "ormkit"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("transport.redisstreams")
	}

	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis address not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newTransport(cfg, cl, own), nil
}

func newTransport(cfg Config, cl client, own bool) *Transport {
	return &Transport{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger:    cfg.Logger.WithFields(logging.String("stream", cfg.Stream)),
		registry:  messaging.NewRegistry(),
	}
}

// Publish XADD 一条事件
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	values, err := encodeEntry(message)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: t.cfg.Stream, Values: values}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	return t.client.XAdd(ctx, args).Err()
}

// PublishAll 顺序写入，Redis Streams 不支持一次追加多条
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Subscribe(pattern string, handler messaging.IMessageHandler) error {
	t.registry.Add(pattern, handler)
	return nil
}

func (t *Transport) Unsubscribe(pattern string, handler messaging.IMessageHandler) error {
	_, err := t.registry.Remove(pattern, handler)
	return err
}

// Start 创建消费组并启动读取协程
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("redis streams transport already running")
	}
	if err := t.ensureGroup(ctx); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	t.wg.Add(1)
	go t.readLoop(loopCtx)
	return nil
}

// Close 停止读取；自建的连接一并关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.running = false
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	if t.ownClient {
		return t.client.Close()
	}
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	return t.registry.Stats(running)
}

func (t *Transport) ensureGroup(ctx context.Context) error {
	err := t.client.XGroupCreateMkStream(ctx, t.cfg.Stream, t.cfg.GroupName, "$").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.GroupName,
		Consumer: t.cfg.ConsumerName,
		Streams:  []string{t.cfg.Stream, ">"},
		Count:    t.cfg.ReadCount,
		Block:    t.cfg.BlockTimeout,
	}
	backoff := retry.Backoff{Initial: t.cfg.MinReadBackoff, Factor: 2, Max: t.cfg.MaxReadBackoff}
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			wait := backoff.Delay(failures)
			t.logger.Warn(ctx, "xreadgroup failed", logging.Duration("backoff", wait), logging.Error(err))
			if !retry.Sleep(ctx, wait) {
				return
			}
			continue
		}
		failures = 0
		for _, stream := range res {
			for _, entry := range stream.Messages {
				t.handleEntry(ctx, stream.Stream, entry)
			}
		}
	}
}

// handleEntry 分发并确认一条记录；无法解码的记录直接确认，避免反复投递
func (t *Transport) handleEntry(ctx context.Context, stream string, entry redis.XMessage) {
	msg, err := decodeEntry(entry)
	if err != nil {
		t.logger.Warn(ctx, "decode redis stream entry failed", logging.String("entry_id", entry.ID), logging.Error(err))
	} else {
		t.dispatch(ctx, msg)
	}
	if ackErr := t.client.XAck(ctx, stream, t.cfg.GroupName, entry.ID).Err(); ackErr != nil {
		t.logger.Warn(ctx, "xack failed", logging.String("entry_id", entry.ID), logging.Error(ackErr))
	}
}

func (t *Transport) dispatch(ctx context.Context, message messaging.IMessage) {
	for _, h := range t.registry.Match(message.GetType()) {
		if err := h.Handle(ctx, message); err != nil {
			t.logger.Warn(ctx, "event handler failed",
				logging.String("handler", h.Type()),
				logging.String("event_type", message.GetType()),
				logging.Error(err))
		}
	}
}

func encodeEntry(msg messaging.IMessage) (map[string]any, error) {
	data, err := messaging.Encode(msg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"type": msg.GetType(), "data": string(data)}, nil
}

func decodeEntry(entry redis.XMessage) (*messaging.Message, error) {
	raw, ok := entry.Values["data"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("entry %s has no data field", entry.ID)
	}
	msg, err := messaging.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = entry.ID
	}
	if msg.Type == "" {
		msg.Type, _ = entry.Values["type"].(string)
	}
	return msg, nil
}
