// Package basic 是基于 data/db + data/db/sql 的底层引擎实现：
// 按 Schema 建表，执行条件查询、写入、软删除与预加载。
package basic

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	dbcore "ormkit/data/db"
	"ormkit/data/db/dialect"
	dbsql "ormkit/data/db/sql"
	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/logging"
	"ormkit/schema"
)

// Engine 一个 provider 的底层引擎
type Engine struct {
	name    string
	db      dbcore.IDatabase
	dialect dialect.Dialect
	caps    orm.Capabilities
	logger  logging.Logger

	mu     sync.RWMutex
	models map[string]*model
	order  []string
}

var _ orm.IEngine = (*Engine)(nil)

// New 在已打开的数据库上创建引擎
func New(name string, database dbcore.IDatabase) *Engine {
	d := dialect.FromDatabase(database)
	caps := orm.NewCapabilities(
		orm.CapabilityTransaction,
		orm.CapabilityEagerLoading,
		orm.CapabilityReturningInsert,
	)
	if d.SupportsLocking() {
		caps[orm.CapabilityLocking] = true
		caps[orm.CapabilitySkipLocked] = true
	}
	if d.Name() == dialect.NamePostgres {
		caps[orm.CapabilityLockOf] = true
		delete(caps, orm.CapabilityReturningInsert)
	}
	if d.SupportsDeleteLimit() {
		caps[orm.CapabilityDeleteLimit] = true
	}

	return &Engine{
		name:    name,
		db:      database,
		dialect: d,
		caps:    caps,
		logger:  logging.Component("engine").WithFields(logging.String("provider", name)),
		models:  make(map[string]*model),
	}
}

// Open 按配置打开数据库并创建引擎
func Open(ctx context.Context, name string, config dbcore.DBConfig, open dbcore.NewDatabaseFunc) (*Engine, error) {
	database, err := open(ctx, config)
	if err != nil {
		return nil, err
	}
	return New(name, database), nil
}

func (e *Engine) Name() string                   { return e.name }
func (e *Engine) Dialect() dialect.Dialect       { return e.dialect }
func (e *Engine) Capabilities() orm.Capabilities { return e.caps }
func (e *Engine) Database() dbcore.IDatabase     { return e.db }
func (e *Engine) Ping(ctx context.Context) error { return e.db.Ping(ctx) }
func (e *Engine) Close() error                   { return e.db.Close() }

// Define 绑定实体模式
func (e *Engine) Define(s *schema.Schema) (orm.IModel, error) {
	if s == nil {
		return nil, errors.NewConfigurationError("schema 不能为空")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.models[s.Name]; dup {
		return nil, errors.NewConflictError(fmt.Sprintf("provider %s 已定义实体 %s", e.name, s.Name))
	}
	m := &model{engine: e, s: s}
	e.models[s.Name] = m
	e.order = append(e.order, s.Name)
	return m, nil
}

// Model 按实体名查找模型
func (e *Engine) Model(entity string) (orm.IModel, bool) {
	m, ok := e.lookup(entity)
	if !ok {
		return nil, false
	}
	return m, true
}

func (e *Engine) lookup(entity string) (*model, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.models[entity]
	return m, ok
}

// Models 按定义顺序返回模型
func (e *Engine) Models() []orm.IModel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]orm.IModel, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.models[name])
	}
	return out
}

// Begin 开启事务
func (e *Engine) Begin(ctx context.Context) (orm.ITx, error) {
	t, err := e.db.Begin(ctx)
	if err != nil {
		return nil, errors.WrapPersistence(ctx, err, e.name, "begin")
	}
	return &Tx{id: uuid.NewString(), tx: t}, nil
}

// Query 执行原始 SQL
func (e *Engine) Query(ctx context.Context, tx orm.ITx, query string, args ...any) ([]orm.Row, error) {
	database := e.database(tx)
	e.logger.Debug(ctx, "raw query", logging.String("sql", query), logging.Any("args", args))
	rows, err := database.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapPersistence(ctx, err, e.name, "query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.WrapPersistence(ctx, err, e.name, "query")
	}
	var out []orm.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.WrapPersistence(ctx, err, e.name, "query")
		}
		row := make(orm.Row, len(cols))
		for i, c := range cols {
			row[c] = normalizeRaw(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(ctx, err, e.name, "query")
	}
	return out, nil
}

func (e *Engine) database(tx orm.ITx) dbcore.IExecutor {
	if tx != nil && tx.DB() != nil {
		return tx.DB()
	}
	return e.db
}

func (e *Engine) sql(tx orm.ITx) dbsql.ISql {
	return dbsql.New(e.database(tx))
}

// Tx 引擎事务
type Tx struct {
	id string
	tx dbcore.ITransaction
}

var _ orm.ITx = (*Tx)(nil)

func (t *Tx) ID() string           { return t.id }
func (t *Tx) DB() dbcore.IExecutor { return t.tx }

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.Translate(err, "")
	}
	return nil
}

func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return errors.Translate(err, "")
	}
	return nil
}
