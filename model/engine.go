package model

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"ormkit/cache"
	"ormkit/data/orm"
	"ormkit/data/orm/basic"
	"ormkit/errors"
	"ormkit/logging"
	"ormkit/mutation"
	"ormkit/query"
	"ormkit/schema"
	"ormkit/validation"
)

// MaxBatchIDs SearchByIDs 单次允许的最大 id 数
const MaxBatchIDs = 1000

// Engine 单个实体的执行入口
type Engine struct {
	ctx      *Context
	provider string
	schema   *schema.Schema
	parser   *mutation.Parser
	cache    *cache.Cache[string, any]
	cacheTTL time.Duration
	logger   logging.Logger

	// preset 由 Scope 派生的视图携带的预设，原始 Engine 为 nil
	preset *schema.Preset
	// root 派生视图指回原始 Engine；Record 总是绑定 root，按主键操作不受作用域过滤
	root *Engine

	bind *binding
}

// binding 底层模型的惰性绑定，provider 重连后自动失效
type binding struct {
	mu     sync.Mutex
	native *basic.Engine
	model  orm.IModel
}

func newEngine(c *Context, providerName string, s *schema.Schema, ttl time.Duration) *Engine {
	return &Engine{
		ctx:      c,
		provider: providerName,
		schema:   s,
		parser:   mutation.NewParser(s.Rules()),
		cache:    cache.New[string, any](cache.Config{Name: s.Name}),
		cacheTTL: ttl,
		logger: logging.Component("model").WithFields(
			logging.String("provider", providerName),
			logging.String("entity", s.Name)),
		bind: &binding{},
	}
}

func (e *Engine) Schema() *schema.Schema           { return e.schema }
func (e *Engine) Provider() string                 { return e.provider }
func (e *Engine) Cache() *cache.Cache[string, any] { return e.cache }

// Transaction 在本实体所属的 provider 上开启事务
func (e *Engine) Transaction(ctx context.Context) (*Transaction, error) {
	return e.ctx.Transaction(ctx, e.provider)
}

// model 确保 provider 就绪并返回底层模型；实体在连接之后注册时在此补建表
func (e *Engine) model(ctx context.Context) (orm.IModel, error) {
	if err := e.ctx.ensureReady(ctx, e.provider); err != nil {
		return nil, err
	}
	native, err := e.ctx.nativeEngine(e.provider)
	if err != nil {
		return nil, err
	}

	e.bind.mu.Lock()
	defer e.bind.mu.Unlock()
	if e.bind.native == native && e.bind.model != nil {
		return e.bind.model, nil
	}
	m, ok := native.Model(e.schema.Name)
	if !ok {
		if m, err = native.Define(e.schema); err != nil {
			return nil, err
		}
		if err := m.Sync(ctx); err != nil {
			return nil, err
		}
	}
	e.bind.native, e.bind.model = native, m
	return m, nil
}

// ---------------------------------------------------------------------------
// 作用域
// ---------------------------------------------------------------------------

// Scope 应用一个命名作用域，见 Scopes
func (e *Engine) Scope(name string, args ...any) (*Engine, error) {
	return e.Scopes([]string{name}, args...)
}

// Scopes 依次合并多个命名作用域，返回派生视图；args 传给参数化作用域。
// 键冲突时后应用的作用域覆盖先前的，调用时给出的过滤与选项再覆盖作用域。
func (e *Engine) Scopes(names []string, args ...any) (*Engine, error) {
	merged := schema.Preset{Where: map[string]any{}, Options: map[string]any{}}
	if e.preset != nil {
		overlay(merged.Where, e.preset.Where)
		overlay(merged.Options, e.preset.Options)
	}
	for _, name := range names {
		sc, ok := e.schema.Scope(name)
		if !ok {
			return nil, errors.NewNotFoundError(fmt.Sprintf("作用域 %s.%s", e.schema.Name, name)).
				WithDetails(map[string]any{"entity": e.schema.Name, "scope": name})
		}
		p := sc.Resolve(args...)
		overlay(merged.Where, p.Where)
		overlay(merged.Options, p.Options)
	}
	view := *e
	view.preset = &merged
	view.root = e.base()
	return &view, nil
}

// registry $include 只能引用同一 provider 上注册的实体
func (e *Engine) registry() query.EntityRegistry {
	return providerEntities{c: e.ctx, provider: e.provider}
}

// base 原始（未套用作用域的）Engine
func (e *Engine) base() *Engine {
	if e.root != nil {
		return e.root
	}
	return e
}

func overlay(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// applyScope 合并作用域预设与调用参数，不修改调用方的 map
func (e *Engine) applyScope(where query.Where, opts query.Options) (query.Where, query.Options) {
	if e.preset == nil {
		return where, opts
	}
	w := make(query.Where, len(e.preset.Where)+len(where))
	overlay(w, e.preset.Where)
	overlay(w, where)
	o := make(query.Options, len(e.preset.Options)+len(opts))
	overlay(o, e.preset.Options)
	overlay(o, opts)
	return w, o
}

// ---------------------------------------------------------------------------
// 读
// ---------------------------------------------------------------------------

// cached 以指纹为键读写缓存；事务内的读取不使用缓存
func (e *Engine) cached(kind string, where query.Where, opts query.Options, load func() (any, error)) (any, error) {
	if query.HasTransaction(opts) {
		return load()
	}
	ttl, enabled := query.CacheTTL(opts, e.cacheTTL)
	if !enabled {
		return load()
	}
	key := query.Fingerprint(kind, e.schema.Name, where, opts)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, v, ttl)
	return v, nil
}

// Search 查询多条，没有结果时返回空切片
func (e *Engine) Search(ctx context.Context, where query.Where, opts query.Options) ([]*Record, error) {
	where, opts = e.applyScope(where, opts)
	find, err := query.CompileSearch(where, opts)
	if err != nil {
		return nil, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return nil, err
	}
	v, err := e.cached("search", where, opts, func() (any, error) {
		return m.FindAll(ctx, find)
	})
	if err != nil {
		return nil, err
	}
	return e.wrapAll(v.([]orm.Row)), nil
}

// SearchOne 查询单条，支持 $include；没有匹配记录时返回 nil, nil
func (e *Engine) SearchOne(ctx context.Context, where query.Where, opts query.Options) (*Record, error) {
	where, opts = e.applyScope(where, opts)
	find, err := query.CompileSearchOne(where, opts, e.registry())
	if err != nil {
		return nil, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return nil, err
	}
	v, err := e.cached("searchOne", where, opts, func() (any, error) {
		return m.FindOne(ctx, find)
	})
	if err != nil {
		return nil, err
	}
	row, _ := v.(orm.Row)
	if row == nil {
		return nil, nil
	}
	return e.wrap(row), nil
}

// SearchFirst 未指定 $sort 时按主键升序取第一条
func (e *Engine) SearchFirst(ctx context.Context, where query.Where, opts query.Options) (*Record, error) {
	o := make(query.Options, len(opts)+1)
	overlay(o, opts)
	if _, ok := o[query.OptSort]; !ok {
		o[query.OptSort] = []query.SortField{{Field: e.schema.PrimaryKey().Name}}
	}
	return e.SearchOne(ctx, where, o)
}

// idColumn 按 id 查询要求实体有自增列
func (e *Engine) idColumn() (*schema.Field, error) {
	f := e.schema.AutoIncrement()
	if f == nil {
		return nil, errors.NewNotFoundError("ID Column").
			WithDetails(map[string]any{"entity": e.schema.Name, "name": "ID Column"})
	}
	return f, nil
}

// SearchByID 按自增 id 查询
func (e *Engine) SearchByID(ctx context.Context, id any, opts query.Options) (*Record, error) {
	f, err := e.idColumn()
	if err != nil {
		return nil, err
	}
	return e.SearchOne(ctx, query.Where{f.Name: id}, opts)
}

// SearchByIDs 按自增 id 批量查询，ids 数量在 1 到 MaxBatchIDs 之间
func (e *Engine) SearchByIDs(ctx context.Context, ids []any, opts query.Options) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, errors.NewValidationError("ids 不能为空").WithContext("entity", e.schema.Name)
	}
	if len(ids) > MaxBatchIDs {
		return nil, errors.NewValidationError(
			fmt.Sprintf("ids 数量 %d 超过上限 %d", len(ids), MaxBatchIDs)).
			WithDetails(map[string]any{"entity": e.schema.Name, "count": len(ids), "max": MaxBatchIDs})
	}
	f, err := e.idColumn()
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, query.Where{f.Name: map[string]any{"$in": ids}}, opts)
}

// Count 计数
func (e *Engine) Count(ctx context.Context, where query.Where, opts query.Options) (int64, error) {
	where, opts = e.applyScope(where, opts)
	find, err := query.CompileCount(where, opts)
	if err != nil {
		return 0, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return 0, err
	}
	v, err := e.cached("count", where, opts, func() (any, error) {
		return m.Count(ctx, find)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Exists 是否存在匹配记录
func (e *Engine) Exists(ctx context.Context, where query.Where, opts query.Options) (bool, error) {
	n, err := e.Count(ctx, where, opts)
	return n > 0, err
}

// Distinct 按 $field 中的每个字段返回一组去重取值；空表得到每个字段一个空列表
func (e *Engine) Distinct(ctx context.Context, where query.Where, opts query.Options) ([][]any, error) {
	where, opts = e.applyScope(where, opts)
	fields, find, err := query.CompileDistinct(where, opts)
	if err != nil {
		return nil, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return nil, err
	}
	v, err := e.cached("distinct", where, opts, func() (any, error) {
		out := make([][]any, len(fields))
		for i, f := range fields {
			values, err := m.Distinct(ctx, f, find)
			if err != nil {
				return nil, err
			}
			if values == nil {
				values = []any{}
			}
			out[i] = values
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	// 返回副本，调用方修改结果不影响缓存
	return cloneValue(v).([][]any), nil
}

// PagedResult 分页结果
type PagedResult struct {
	Data       []*Record `json:"data"`
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	Size       int       `json:"size"`
	TotalPages int       `json:"total_pages"`
}

// Paginate 分页查询，page 从 1 开始
func (e *Engine) Paginate(ctx context.Context, where query.Where, page, size int, opts query.Options) (*PagedResult, error) {
	if err := validation.ValidatePageParams(page, size); err != nil {
		return nil, err
	}
	total, err := e.Count(ctx, where, opts)
	if err != nil {
		return nil, err
	}
	o := make(query.Options, len(opts)+2)
	overlay(o, opts)
	o[query.OptLimit] = size
	o[query.OptOffset] = (page - 1) * size
	if _, ok := o[query.OptSort]; !ok {
		o[query.OptSort] = []query.SortField{{Field: e.schema.PrimaryKey().Name}}
	}
	records, err := e.Search(ctx, where, o)
	if err != nil {
		return nil, err
	}
	return &PagedResult{
		Data:       records,
		Total:      total,
		Page:       page,
		Size:       size,
		TotalPages: int(math.Ceil(float64(total) / float64(size))),
	}, nil
}
