// Package model 是面向应用的执行层：每个实体一个 Engine，负责确保 provider 已连接、
// 编译查询文档、读写缓存、调用底层引擎，并把结果包装为 Record。
//
// 所有进程级状态（provider、连接状态、实体注册表、事务表）都归属于一个 Context，
// 测试可以创建多个互相隔离的 Context。
package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ormkit/config"
	"ormkit/connection"
	dbcore "ormkit/data/db"
	dbbasic "ormkit/data/db/basic"
	"ormkit/data/orm"
	"ormkit/data/orm/basic"
	"ormkit/errors"
	"ormkit/logging"
	"ormkit/messaging"
	"ormkit/messaging/transport"
	"ormkit/patterns/retry"
	"ormkit/schema"
)

// provider 一个已声明的 provider 及其底层引擎（未连接时为 nil）
type provider struct {
	cfg      config.Provider
	engine   *basic.Engine
	entities []string
}

// entityKey 实体在 provider 内唯一；不同 provider 可以注册同名实体
type entityKey struct {
	provider string
	entity   string
}

// Context 进程级上下文
type Context struct {
	mu        sync.RWMutex
	providers map[string]*provider
	order     []string
	engines   map[entityKey]*Engine
	txs       map[string]*Transaction

	conns       *connection.Manager
	opener      dbcore.NewDatabaseFunc
	bus         messaging.IMessageBus
	ownedBus    *messaging.MessageBus
	waitTimeout time.Duration
	logger      logging.Logger
	// customLogger 由 WithLogger 指定时，配置中的 log 段不覆盖它
	customLogger bool
}

// Option Context 选项
type Option func(*Context)

// WithLogger 指定日志
func WithLogger(l logging.Logger) Option {
	return func(c *Context) { c.logger, c.customLogger = l, true }
}

// WithOpener 替换打开数据库的工厂，默认 data/db/basic.New
func WithOpener(open dbcore.NewDatabaseFunc) Option {
	return func(c *Context) { c.opener = open }
}

// WithBus 生命周期事件的发布总线
func WithBus(bus messaging.IMessageBus) Option {
	return func(c *Context) { c.bus = bus }
}

// WithWaitTimeout 未开启自动连接时等待 provider 就绪的超时
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Context) { c.waitTimeout = d }
}

// NewContext 创建上下文
func NewContext(opts ...Option) *Context {
	c := &Context{
		providers:   make(map[string]*provider),
		engines:     make(map[entityKey]*Engine),
		txs:         make(map[string]*Transaction),
		conns:       connection.NewManager(),
		opener:      dbbasic.New,
		waitTimeout: connection.DefaultWaitTimeout,
		logger:      logging.Component("model"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connections 连接状态管理器
func (c *Context) Connections() *connection.Manager { return c.conns }

// AddProvider 声明 provider，重名返回 ConflictError
func (c *Context) AddProvider(p config.Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.providers[p.Provider]; dup {
		return errors.NewConflictError(fmt.Sprintf("provider %q 已存在", p.Provider)).
			WithContext("provider", p.Provider)
	}
	c.providers[p.Provider] = &provider{cfg: p}
	c.order = append(c.order, p.Provider)
	return nil
}

// LoadConfig 批量声明配置中的 provider。
// 配置了 events 且未通过 WithBus 指定总线时，按配置创建并启动事件传输。
func (c *Context) LoadConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.NewConfigurationError("配置为空")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Log != nil {
		logging.SetLogger(cfg.Log.Logger())
		if !c.customLogger {
			c.logger = logging.Component("model")
		}
	}
	for _, p := range cfg.Providers {
		if err := c.AddProvider(p); err != nil {
			return err
		}
	}
	if cfg.Events != nil && c.bus == nil {
		bus, err := transport.NewBus(context.Background(), cfg.Events)
		if err != nil {
			return err
		}
		c.bus = bus
		c.ownedBus = bus
	}
	return nil
}

// Bus 生命周期事件总线，未配置时为 nil
func (c *Context) Bus() messaging.IMessageBus { return c.bus }

// Shutdown 断开全部 provider，并关闭由配置创建的事件传输
func (c *Context) Shutdown(ctx context.Context) error {
	err := c.CloseAll(ctx)
	if c.ownedBus != nil {
		if cerr := c.ownedBus.Transport().Close(); cerr != nil && err == nil {
			err = cerr
		}
		c.bus, c.ownedBus = nil, nil
	}
	return err
}

// Providers 按声明顺序返回 provider 名称
func (c *Context) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Register 把实体注册到 provider 并返回其 Engine。
// provider 声明了 Entities 时，实体必须在列表中。
func (c *Context) Register(providerName string, s *schema.Schema) (*Engine, error) {
	if s == nil {
		return nil, errors.NewConfigurationError("schema 不能为空")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.providers[providerName]
	if !ok {
		return nil, errors.NewConfigurationError(fmt.Sprintf("provider %q 未配置", providerName)).
			WithContext("provider", providerName)
	}
	if len(p.cfg.Entities) > 0 && !p.cfg.HasEntity(s.Name) {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("实体 %s 不在 provider %q 的 entities 中", s.Name, providerName)).
			WithDetails(map[string]any{"provider": providerName, "entity": s.Name})
	}
	key := entityKey{providerName, s.Name}
	if _, dup := c.engines[key]; dup {
		return nil, errors.NewConflictError(fmt.Sprintf("实体 %s 已注册到 provider %q", s.Name, providerName)).
			WithDetails(map[string]any{"provider": providerName, "entity": s.Name})
	}

	e := newEngine(c, providerName, s, p.cfg.CacheTTL())
	c.engines[key] = e
	p.entities = append(p.entities, s.Name)
	return e, nil
}

// Model 按 provider 与实体名查找 Engine
func (c *Context) Model(providerName, entity string) (*Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.engines[entityKey{providerName, entity}]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("%s.%s", providerName, entity)).
			WithDetails(map[string]any{"provider": providerName, "entity": entity})
	}
	return e, nil
}

// Engine 按实体名查找 Engine；同名实体注册在多个 provider 上时返回 ConflictError，
// 此时改用 Model 指定 provider
func (c *Context) Engine(entity string) (*Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var found []*Engine
	for _, name := range c.order {
		if e, ok := c.engines[entityKey{name, entity}]; ok {
			found = append(found, e)
		}
	}
	switch len(found) {
	case 0:
		return nil, errors.NewNotFoundError(fmt.Sprintf("实体 %s", entity)).
			WithContext("entity", entity)
	case 1:
		return found[0], nil
	}
	return nil, errors.NewConflictError(fmt.Sprintf("实体 %s 注册在多个 provider 上", entity)).
		WithContext("entity", entity)
}

// HasEntity 实体是否已注册到任一 provider
func (c *Context) HasEntity(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key := range c.engines {
		if key.entity == name {
			return true
		}
	}
	return false
}

// Entities 已注册实体名（去重、排序）
func (c *Context) Entities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool, len(c.engines))
	names := make([]string, 0, len(c.engines))
	for key := range c.engines {
		if !seen[key.entity] {
			seen[key.entity] = true
			names = append(names, key.entity)
		}
	}
	sort.Strings(names)
	return names
}

// providerEntities 限定在单个 provider 内的实体注册表，用于 $include 校验
type providerEntities struct {
	c        *Context
	provider string
}

func (r providerEntities) HasEntity(name string) bool {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()
	_, ok := r.c.engines[entityKey{r.provider, name}]
	return ok
}

func (c *Context) lookupProvider(name string) (*provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[name]
	if !ok {
		return nil, errors.NewConfigurationError(fmt.Sprintf("provider %q 未配置", name)).
			WithContext("provider", name)
	}
	return p, nil
}

// nativeEngine 返回已连接 provider 的底层引擎
func (c *Context) nativeEngine(name string) (*basic.Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[name]
	if !ok {
		return nil, errors.NewConfigurationError(fmt.Sprintf("provider %q 未配置", name))
	}
	if p.engine == nil {
		return nil, errors.NewConnectionError(name, fmt.Errorf("provider 未连接"))
	}
	return p.engine, nil
}

func dbConfigOf(p config.Provider) dbcore.DBConfig {
	return dbcore.DBConfig{
		Driver:          p.Database,
		DSN:             p.DataSourceName(),
		MaxOpenConns:    p.Pool.MaxOpen,
		MaxIdleConns:    p.Pool.MaxIdle,
		ConnMaxLifetime: p.Pool.MaxLifetime,
	}
}

// Connect 连接 provider：打开数据库、定义并同步已注册的实体。
// 并发调用只会真正连接一次；失败时调用 OnError 并返回 ConnectionError。
func (c *Context) Connect(ctx context.Context, name string) error {
	p, err := c.lookupProvider(name)
	if err != nil {
		return err
	}
	err = c.conns.ConnectIfNotConnected(ctx, connection.ProviderName(name), func(ctx context.Context) error {
		eng, err := basic.Open(ctx, name, dbConfigOf(p.cfg), c.opener)
		if err != nil {
			return err
		}
		c.mu.RLock()
		schemas := make([]*schema.Schema, 0, len(p.entities))
		for _, entity := range p.entities {
			schemas = append(schemas, c.engines[entityKey{name, entity}].schema)
		}
		c.mu.RUnlock()

		for _, s := range schemas {
			m, err := eng.Define(s)
			if err == nil {
				err = m.Sync(ctx)
			}
			if err != nil {
				_ = eng.Close()
				return err
			}
		}

		c.mu.Lock()
		p.engine = eng
		c.mu.Unlock()

		c.logger.Info(ctx, "provider connected",
			logging.String("provider", name),
			logging.String("database", p.cfg.Database),
			logging.Int("entities", len(schemas)))
		if p.cfg.OnConnection != nil {
			p.cfg.OnConnection(name)
		}
		return nil
	})
	if err != nil && p.cfg.OnError != nil {
		p.cfg.OnError(name, err)
	}
	return err
}

// ConnectAll 依次连接全部 provider
func (c *Context) ConnectAll(ctx context.Context) error {
	for _, name := range c.Providers() {
		if err := c.Connect(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// ensureReady 确保 provider 可以接受查询。
// 开启 AutoConnect 时发起连接，连接失败隐式重试一次；否则等待其他调用方完成连接。
func (c *Context) ensureReady(ctx context.Context, name string) error {
	p, err := c.lookupProvider(name)
	if err != nil {
		return err
	}
	pn := connection.ProviderName(name)
	if c.conns.IsConnected(pn) {
		return nil
	}
	if p.cfg.AutoConnect {
		policy := retry.Once(50*time.Millisecond, errors.IsConnection)
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			c.logger.Warn(ctx, "provider 连接失败，稍后重试",
				logging.String("provider", name),
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait),
				logging.Error(err))
		}
		return policy.Do(ctx, func(ctx context.Context, _ int) error {
			return c.Connect(ctx, name)
		})
	}
	return c.conns.WaitUntilConnected(ctx, pn, c.waitTimeout)
}

// Close 断开 provider 并清空其实体的缓存
func (c *Context) Close(ctx context.Context, name string) error {
	p, err := c.lookupProvider(name)
	if err != nil {
		return err
	}
	c.conns.MarkDisconnected(connection.ProviderName(name))

	c.mu.Lock()
	eng := p.engine
	p.engine = nil
	engines := make([]*Engine, 0, len(p.entities))
	for _, entity := range p.entities {
		engines = append(engines, c.engines[entityKey{name, entity}])
	}
	c.mu.Unlock()

	for _, e := range engines {
		e.cache.Clear()
	}
	if eng == nil {
		return nil
	}
	c.logger.Info(ctx, "provider closed", logging.String("provider", name))
	if err := eng.Close(); err != nil {
		return errors.WrapPersistence(ctx, err, name, "close")
	}
	return nil
}

// CloseAll 断开全部 provider，返回遇到的第一个错误
func (c *Context) CloseAll(ctx context.Context) error {
	var first error
	for _, name := range c.Providers() {
		if err := c.Close(ctx, name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Drop 按注册的逆序删除 provider 下的全部表，然后断开
func (c *Context) Drop(ctx context.Context, name string) error {
	if err := c.ensureReady(ctx, name); err != nil {
		return err
	}
	eng, err := c.nativeEngine(name)
	if err != nil {
		return err
	}
	models := eng.Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := models[i].Drop(ctx); err != nil {
			return err
		}
	}
	return c.Close(ctx, name)
}

// Query 在 provider 上执行原始 SQL，tx 可以为 nil
func (c *Context) Query(ctx context.Context, name string, tx *Transaction, sql string, args ...any) ([]orm.Row, error) {
	if err := c.ensureReady(ctx, name); err != nil {
		return nil, err
	}
	eng, err := c.nativeEngine(name)
	if err != nil {
		return nil, err
	}
	var native orm.ITx
	if tx != nil {
		native = tx.NativeTx()
	}
	return eng.Query(ctx, native, sql, args...)
}

// Transaction 在 provider 上开启事务
func (c *Context) Transaction(ctx context.Context, name string) (*Transaction, error) {
	if err := c.ensureReady(ctx, name); err != nil {
		return nil, err
	}
	eng, err := c.nativeEngine(name)
	if err != nil {
		return nil, err
	}
	native, err := eng.Begin(ctx)
	if err != nil {
		return nil, err
	}
	t := &Transaction{ctx: c, provider: name, tx: native}
	c.mu.Lock()
	c.txs[native.ID()] = t
	c.mu.Unlock()
	c.logger.Debug(ctx, "transaction started",
		logging.String("provider", name), logging.String("tx", native.ID()))
	return t, nil
}

func (c *Context) transaction(native orm.ITx) (*Transaction, bool) {
	if native == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.txs[native.ID()]
	return t, ok
}

func (c *Context) forgetTx(id string) {
	c.mu.Lock()
	delete(c.txs, id)
	c.mu.Unlock()
}

// publish 发布生命周期事件；发布失败只记录日志，不影响已经完成的写入
func (c *Context) publish(ctx context.Context, msgs []messaging.IMessage) {
	if c.bus == nil || len(msgs) == 0 {
		return
	}
	if err := c.bus.PublishAll(ctx, msgs); err != nil {
		c.logger.Warn(ctx, "publish lifecycle events failed",
			logging.Int("count", len(msgs)), logging.Error(err))
	}
}
