package model

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/logging"
	"ormkit/messaging"
	"ormkit/mutation"
	"ormkit/query"
	"ormkit/schema"
	"ormkit/validation"
)

// ---------------------------------------------------------------------------
// 插入
// ---------------------------------------------------------------------------

// prepare 补齐 ObjectId 与默认值并按字段规则校验，返回新的 map
func (e *Engine) prepare(values map[string]any) (map[string]any, error) {
	vals := make(map[string]any, len(values)+1)
	for k, v := range values {
		vals[k] = v
	}
	if pk := e.schema.PrimaryKey(); pk.Name == schema.ObjectIDField && vals[pk.Name] == nil {
		vals[pk.Name] = uuid.NewString()
	}
	for _, f := range e.schema.Fields {
		if _, set := vals[f.Name]; set {
			continue
		}
		if v, ok := f.DefaultValue(); ok {
			vals[f.Name] = v
		}
	}
	rules := e.schema.Rules()
	fields := make([]string, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if err := validation.ValidateAll(fields, rules, vals); err != nil {
		return nil, err
	}
	return vals, nil
}

// Build 插入一条记录。ObjectId 在发送到数据库之前生成，重试不会产生重复记录。
func (e *Engine) Build(ctx context.Context, values map[string]any, opts query.Options) (*Record, error) {
	_, opts = e.applyScope(nil, opts)
	wopts, err := query.CompileUpdate(nil, opts)
	if err != nil {
		return nil, err
	}
	vals, err := e.prepare(values)
	if err != nil {
		return nil, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return nil, err
	}
	row, err := m.Create(ctx, vals, wopts)
	if err != nil {
		return nil, err
	}
	e.afterWrite(ctx, wopts.Tx, e.events(messaging.ActionCreated, row))
	return e.wrap(row), nil
}

// BuildMany 批量插入，任一条失败全部回滚
func (e *Engine) BuildMany(ctx context.Context, values []map[string]any, opts query.Options) ([]*Record, error) {
	_, opts = e.applyScope(nil, opts)
	wopts, err := query.CompileUpdate(nil, opts)
	if err != nil {
		return nil, err
	}
	rows := make([]orm.Row, len(values))
	for i, v := range values {
		if rows[i], err = e.prepare(v); err != nil {
			return nil, err
		}
	}
	m, err := e.model(ctx)
	if err != nil {
		return nil, err
	}
	created, err := m.BulkCreate(ctx, rows, wopts)
	if err != nil {
		return nil, err
	}
	e.afterWrite(ctx, wopts.Tx, e.events(messaging.ActionCreated, created...))
	return e.wrapAll(created), nil
}

// ---------------------------------------------------------------------------
// 更新
// ---------------------------------------------------------------------------

// readOptions 写操作定位目标时沿用的读选项
func readOptions(opts query.Options) query.Options {
	out := query.Options{}
	for _, k := range []string{query.OptTransaction, query.OptParanoid, query.OptLogging, query.OptSort} {
		if v, ok := opts[k]; ok {
			out[k] = v
		}
	}
	return out
}

// literals 过滤条件中的字面量等值项，用作 upsert 的初始值
func literals(where query.Where) map[string]any {
	out := make(map[string]any)
	for k, v := range where {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if doc, ok := v.(map[string]any); ok && len(doc) > 0 {
			continue
		}
		out[k] = v
	}
	return out
}

func (e *Engine) pkWhere(row orm.Row) *orm.Condition {
	pk := e.schema.PrimaryKey().Name
	return orm.Leaf(pk, orm.OpEq, row[pk])
}

// reload 按主键重新读取，包含已软删除的记录
func (e *Engine) reload(ctx context.Context, m orm.IModel, row orm.Row, tx orm.ITx) (orm.Row, error) {
	return m.FindOne(ctx, orm.FindOptions{Where: e.pkWhere(row), Unscoped: true, Tx: tx})
}

// Update 更新第一条匹配记录并返回更新后的记录。
// 没有匹配时返回 nil, nil；$upsert 为 true 时改为以 过滤字面量+更新结果 插入新记录。
func (e *Engine) Update(ctx context.Context, where query.Where, doc mutation.Update, opts query.Options) (*Record, error) {
	where, opts = e.applyScope(where, opts)
	plan, err := mutation.Compile(doc)
	if err != nil {
		return nil, err
	}
	upsert := false
	if v, ok := opts[query.OptUpsert]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, errors.NewOptionError(query.OptUpsert, "必须是布尔值", v)
		}
		upsert = b
	}
	find, err := query.CompileSearchOne(where, readOptions(opts), e.registry())
	if err != nil {
		return nil, err
	}
	wopts, err := query.CompileUpdate(nil, opts)
	if err != nil {
		return nil, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return nil, err
	}

	row, err := m.FindOne(ctx, find)
	if err != nil {
		return nil, err
	}
	if row == nil {
		if !upsert {
			return nil, nil
		}
		seed := literals(where)
		res, err := plan.Apply(seed, e.schema.Rules())
		if err != nil {
			return nil, err
		}
		o := make(query.Options, len(opts))
		overlay(o, opts)
		delete(o, query.OptUpsert)
		e.logger.Debug(ctx, "upsert falls back to build")
		return e.Build(ctx, mutation.Merge(seed, res), o)
	}

	res, err := plan.Apply(row, e.schema.Rules())
	if err != nil {
		return nil, err
	}
	wopts.Where = e.pkWhere(row)
	wopts.Unscoped = true
	if _, err := m.Update(ctx, res.Values(), wopts); err != nil {
		return nil, err
	}
	updated, err := e.reload(ctx, m, row, wopts.Tx)
	if err != nil {
		return nil, err
	}
	e.afterWrite(ctx, wopts.Tx, e.events(messaging.ActionUpdated, updated))
	return e.wrap(updated), nil
}

// Upsert 等价于 Update 加上 $upsert: true
func (e *Engine) Upsert(ctx context.Context, where query.Where, doc mutation.Update, opts query.Options) (*Record, error) {
	o := make(query.Options, len(opts)+1)
	overlay(o, opts)
	o[query.OptUpsert] = true
	return e.Update(ctx, where, doc, o)
}

// UpdateMany 更新全部匹配记录，返回受影响行数。
// 只含 $set/$unset/$clear 的更新直接下推为一条 UPDATE；其余逐行计算后在同一事务中写入。
func (e *Engine) UpdateMany(ctx context.Context, where query.Where, doc mutation.Update, opts query.Options) (int64, error) {
	where, opts = e.applyScope(where, opts)
	plan, err := mutation.Compile(doc)
	if err != nil {
		return 0, err
	}
	wopts, err := query.CompileUpdate(where, opts)
	if err != nil {
		return 0, err
	}
	rules := e.schema.Rules()
	m, err := e.model(ctx)
	if err != nil {
		return 0, err
	}

	if patch, ok := plan.Static(); ok && wopts.Limit == 0 {
		for _, f := range plan.Fields() {
			if err := validation.Validate(f, rules[f], patch[f]); err != nil {
				return 0, err
			}
		}
		n, err := m.Update(ctx, patch, wopts)
		if err != nil {
			return 0, err
		}
		e.afterWrite(ctx, wopts.Tx, e.summary(messaging.ActionUpdated, where, n))
		return n, nil
	}

	var own *Transaction
	if wopts.Tx == nil {
		if own, err = e.ctx.Transaction(ctx, e.provider); err != nil {
			return 0, err
		}
		wopts.Tx = own.NativeTx()
	}
	n, err := e.updateEach(ctx, m, plan, wopts)
	if err != nil {
		if own != nil {
			if rerr := own.Rollback(ctx); rerr != nil {
				e.logger.Warn(ctx, "rollback failed", logging.Error(rerr))
			}
		}
		return 0, err
	}
	e.afterWrite(ctx, wopts.Tx, e.summary(messaging.ActionUpdated, where, n))
	if own != nil {
		if err := own.Commit(ctx); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (e *Engine) updateEach(ctx context.Context, m orm.IModel, plan *mutation.Plan, wopts orm.WriteOptions) (int64, error) {
	rows, err := m.FindAll(ctx, orm.FindOptions{
		Where:    wopts.Where,
		Limit:    wopts.Limit,
		Unscoped: wopts.Unscoped,
		Logging:  wopts.Logging,
		Tx:       wopts.Tx,
	})
	if err != nil {
		return 0, err
	}
	rules := e.schema.Rules()
	var total int64
	for _, row := range rows {
		res, err := plan.Apply(row, rules)
		if err != nil {
			return 0, err
		}
		per := wopts
		per.Where = e.pkWhere(row)
		per.Unscoped = true
		per.Limit = 0
		n, err := m.Update(ctx, res.Values(), per)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// SearchAndReplace 用 replacement 整体替换第一条匹配记录。
// 主键、自增列与时间戳保留，replacement 中未出现的字段回到默认值或 NULL。
func (e *Engine) SearchAndReplace(ctx context.Context, where query.Where, replacement map[string]any, opts query.Options) (*Record, error) {
	where, opts = e.applyScope(where, opts)
	find, err := query.CompileSearchOne(where, readOptions(opts), e.registry())
	if err != nil {
		return nil, err
	}
	wopts, err := query.CompileUpdate(nil, opts)
	if err != nil {
		return nil, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return nil, err
	}
	row, err := m.FindOne(ctx, find)
	if err != nil || row == nil {
		return nil, err
	}

	values := make(map[string]any, len(e.schema.Fields))
	for _, f := range e.schema.Fields {
		if f.PrimaryKey || f.AutoIncrement || isTimestamp(f.Name) {
			continue
		}
		if v, ok := replacement[f.Name]; ok {
			values[f.Name] = v
		} else if v, ok := f.DefaultValue(); ok {
			values[f.Name] = v
		} else {
			values[f.Name] = nil
		}
	}
	for k := range replacement {
		if !e.schema.HasField(k) {
			return nil, errors.NewValidationError(
				fmt.Sprintf("实体 %s 没有字段 %s", e.schema.Name, k)).WithContext("field", k)
		}
	}
	rules := e.schema.Rules()
	for f, r := range rules {
		if _, ok := values[f]; !ok {
			continue
		}
		if err := validation.Validate(f, r, values[f]); err != nil {
			return nil, err
		}
	}

	wopts.Where = e.pkWhere(row)
	wopts.Unscoped = true
	if _, err := m.Update(ctx, values, wopts); err != nil {
		return nil, err
	}
	updated, err := e.reload(ctx, m, row, wopts.Tx)
	if err != nil {
		return nil, err
	}
	e.afterWrite(ctx, wopts.Tx, e.events(messaging.ActionUpdated, updated))
	return e.wrap(updated), nil
}

func isTimestamp(name string) bool {
	switch name {
	case schema.CreatedAtField, schema.UpdatedAtField, schema.DeletedAtField:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// 删除与恢复
// ---------------------------------------------------------------------------

// Delete 物理删除第一条匹配记录，没有匹配时返回 false
func (e *Engine) Delete(ctx context.Context, where query.Where, opts query.Options) (bool, error) {
	n, err := e.deleteOne(ctx, where, opts, true)
	return n > 0, err
}

// DeleteMany 物理删除全部匹配记录，返回删除行数；空条件返回 ValidationError
func (e *Engine) DeleteMany(ctx context.Context, where query.Where, opts query.Options) (int64, error) {
	return e.deleteMany(ctx, where, opts, true)
}

// SoftDelete 软删除第一条匹配记录，实体必须开启 Paranoid
func (e *Engine) SoftDelete(ctx context.Context, where query.Where, opts query.Options) (bool, error) {
	if err := e.requireParanoid("软删除"); err != nil {
		return false, err
	}
	n, err := e.deleteOne(ctx, where, opts, false)
	return n > 0, err
}

// SoftDeleteMany 软删除全部匹配记录
func (e *Engine) SoftDeleteMany(ctx context.Context, where query.Where, opts query.Options) (int64, error) {
	if err := e.requireParanoid("软删除"); err != nil {
		return 0, err
	}
	return e.deleteMany(ctx, where, opts, false)
}

func (e *Engine) requireParanoid(op string) error {
	if e.schema.Paranoid {
		return nil
	}
	return errors.NewValidationError(fmt.Sprintf("实体 %s 未开启软删除，无法%s", e.schema.Name, op)).
		WithContext("entity", e.schema.Name)
}

func withForce(opts query.Options, force bool) query.Options {
	o := make(query.Options, len(opts)+1)
	overlay(o, opts)
	o[query.OptForce] = force
	return o
}

func (e *Engine) deleteOne(ctx context.Context, where query.Where, opts query.Options, force bool) (int64, error) {
	where, opts = e.applyScope(where, opts)
	opts = withForce(opts, force)
	find, err := query.CompileSearchOne(where, readOptions(opts), e.registry())
	if err != nil {
		return 0, err
	}
	wopts, err := query.CompileDestroy(nil, opts)
	if err != nil {
		return 0, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return 0, err
	}
	row, err := m.FindOne(ctx, find)
	if err != nil || row == nil {
		return 0, err
	}
	wopts.Where = e.pkWhere(row)
	n, err := m.Destroy(ctx, wopts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.afterWrite(ctx, wopts.Tx, e.events(messaging.ActionDeleted, row))
	}
	return n, nil
}

func (e *Engine) deleteMany(ctx context.Context, where query.Where, opts query.Options, force bool) (int64, error) {
	where, opts = e.applyScope(where, opts)
	wopts, err := query.CompileDestroy(where, withForce(opts, force))
	if err != nil {
		return 0, err
	}
	if wopts.Where == nil {
		return 0, errors.NewValidationError(fmt.Sprintf("实体 %s 不允许无条件删除", e.schema.Name)).
			WithContext("entity", e.schema.Name)
	}
	m, err := e.model(ctx)
	if err != nil {
		return 0, err
	}
	n, err := m.Destroy(ctx, wopts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.afterWrite(ctx, wopts.Tx, e.summary(messaging.ActionDeleted, where, n))
	}
	return n, nil
}

// Restore 恢复匹配的软删除记录，返回恢复行数
func (e *Engine) Restore(ctx context.Context, where query.Where, opts query.Options) (int64, error) {
	if err := e.requireParanoid("恢复"); err != nil {
		return 0, err
	}
	where, opts = e.applyScope(where, opts)
	wopts, err := query.CompileDestroy(where, opts)
	if err != nil {
		return 0, err
	}
	m, err := e.model(ctx)
	if err != nil {
		return 0, err
	}
	n, err := m.Restore(ctx, wopts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.afterWrite(ctx, wopts.Tx, e.summary(messaging.ActionRestored, where, n))
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// 写后处理
// ---------------------------------------------------------------------------

// events 每条记录一个事件
func (e *Engine) events(action string, rows ...orm.Row) []messaging.IMessage {
	out := make([]messaging.IMessage, len(rows))
	for i, r := range rows {
		out[i] = messaging.NewEvent(e.provider, e.schema.Name, action, r)
	}
	return out
}

// summary 批量写入只发一个事件，携带过滤条件与受影响行数
func (e *Engine) summary(action string, where query.Where, n int64) []messaging.IMessage {
	return []messaging.IMessage{messaging.NewEvent(e.provider, e.schema.Name, action, map[string]any{
		"where": where,
		"count": n,
	})}
}

// afterWrite 清空本实体缓存并发布事件；事务内的写入推迟到提交之后
func (e *Engine) afterWrite(ctx context.Context, tx orm.ITx, msgs []messaging.IMessage) {
	e.cache.Clear()
	if t, ok := e.ctx.transaction(tx); ok {
		t.deferWrite(e, msgs)
		return
	}
	e.ctx.publish(ctx, msgs)
}
