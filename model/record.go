package model

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"ormkit/data/orm"
	"ormkit/data/orm/basic"
	"ormkit/errors"
	"ormkit/internal/conv"
	"ormkit/mutation"
	"ormkit/query"
	"ormkit/schema"
	"ormkit/validation"
)

// Record 单条记录的包装：数据快照加上指回所属 Engine 的操作。
// Record 不是并发安全的，需要跨 goroutine 使用时先 Clone。
type Record struct {
	engine   *Engine
	data     map[string]any
	original map[string]any
	isNew    bool
	deleted  bool
}

// copyRow 深拷贝一行：数组与对象字段不与缓存中的快照共享
func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyRow(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	case time.Time, string, bool, nil:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if item := cloneValue(rv.Index(i).Interface()); item != nil {
				out.Index(i).Set(reflect.ValueOf(item))
			}
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item := cloneValue(iter.Value().Interface())
			if item == nil {
				out.SetMapIndex(iter.Key(), reflect.Zero(rv.Type().Elem()))
				continue
			}
			out.SetMapIndex(iter.Key(), reflect.ValueOf(item))
		}
		return out.Interface()
	}
	return v
}

// wrap 记录总是绑定原始 Engine，避免作用域过滤影响按主键的操作
func (e *Engine) wrap(row orm.Row) *Record {
	e = e.base()
	r := &Record{engine: e, data: copyRow(row), original: copyRow(row)}
	r.deleted = e.schema.Paranoid && row[schema.DeletedAtField] != nil
	return r
}

func (e *Engine) wrapAll(rows []orm.Row) []*Record {
	out := make([]*Record, len(rows))
	for i, row := range rows {
		out[i] = e.wrap(row)
	}
	return out
}

// New 创建尚未保存的记录，Save 时插入
func (e *Engine) New(values map[string]any) *Record {
	return &Record{engine: e.base(), data: copyRow(values), original: map[string]any{}, isNew: true}
}

// Engine 所属 Engine
func (r *Record) Engine() *Engine { return r.engine }

// ID 主键值
func (r *Record) ID() any { return r.data[r.engine.schema.PrimaryKey().Name] }

// Get 读取字段
func (r *Record) Get(field string) any { return r.data[field] }

// Set 修改字段，未声明的字段返回 ValidationError
func (r *Record) Set(field string, value any) error {
	if !r.engine.schema.HasField(field) {
		return errors.NewValidationError(
			fmt.Sprintf("实体 %s 没有字段 %s", r.engine.schema.Name, field)).WithContext("field", field)
	}
	r.data[field] = value
	return nil
}

// ToObject 数据的深拷贝
func (r *Record) ToObject() map[string]any { return copyRow(r.data) }

// ToJSON 序列化为 JSON
func (r *Record) ToJSON() ([]byte, error) { return json.Marshal(r.data) }

// MarshalJSON 实现 json.Marshaler
func (r *Record) MarshalJSON() ([]byte, error) { return r.ToJSON() }

func (r *Record) String() string {
	b, err := r.ToJSON()
	if err != nil {
		return fmt.Sprintf("%s%v", r.engine.schema.Name, r.data)
	}
	return string(b)
}

// IsNew 是否尚未插入
func (r *Record) IsNew() bool { return r.isNew }

// IsDeleted 是否已被删除或软删除
func (r *Record) IsDeleted() bool { return r.deleted }

// IsModified 自上次读取以来是否被修改；给出 fields 时只比较这些字段
func (r *Record) IsModified(fields ...string) bool {
	return len(r.changes(fields...)) > 0
}

func (r *Record) changes(fields ...string) map[string]any {
	if len(fields) == 0 {
		seen := make(map[string]bool, len(r.data)+len(r.original))
		for k := range r.data {
			seen[k] = true
		}
		for k := range r.original {
			seen[k] = true
		}
		for k := range seen {
			fields = append(fields, k)
		}
	}
	out := make(map[string]any)
	for _, f := range fields {
		now, ok := r.data[f]
		was, had := r.original[f]
		if ok != had || !conv.Equal(now, was) {
			out[f] = now
		}
	}
	return out
}

// Validate 按字段规则校验当前数据
func (r *Record) Validate() error {
	rules := r.engine.schema.Rules()
	fields := make([]string, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return validation.ValidateAll(fields, rules, r.data)
}

// IsValid 当前数据是否满足全部字段规则
func (r *Record) IsValid() bool { return r.Validate() == nil }

func (r *Record) pkWhere() query.Where {
	return query.Where{r.engine.schema.PrimaryKey().Name: r.ID()}
}

func (r *Record) reset(rec *Record) {
	r.data, r.original = rec.data, rec.original
	r.isNew, r.deleted = false, rec.deleted
}

// Save 新记录插入，已有记录只写回被修改的字段
func (r *Record) Save(ctx context.Context, opts query.Options) error {
	if r.isNew {
		rec, err := r.engine.Build(ctx, r.data, opts)
		if err != nil {
			return err
		}
		r.reset(rec)
		return nil
	}
	changed := r.changes()
	if len(changed) == 0 {
		return nil
	}
	return r.Update(ctx, mutation.Update{mutation.OpSet: changed}, opts)
}

// Update 以更新文档修改本记录并刷新数据
func (r *Record) Update(ctx context.Context, doc mutation.Update, opts query.Options) error {
	if r.isNew {
		return errors.NewValidationError("记录尚未保存").WithContext("entity", r.engine.schema.Name)
	}
	rec, err := r.engine.Update(ctx, r.pkWhere(), doc, unscopedOptions(opts))
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.NewNotFoundError(fmt.Sprintf("%s(%v)", r.engine.schema.Name, r.ID()))
	}
	r.reset(rec)
	return nil
}

// Delete 物理删除本记录
func (r *Record) Delete(ctx context.Context, opts query.Options) (bool, error) {
	ok, err := r.engine.Delete(ctx, r.pkWhere(), unscopedOptions(opts))
	if err == nil && ok {
		r.deleted = true
	}
	return ok, err
}

// SoftDelete 软删除本记录
func (r *Record) SoftDelete(ctx context.Context, opts query.Options) (bool, error) {
	ok, err := r.engine.SoftDelete(ctx, r.pkWhere(), opts)
	if err != nil || !ok {
		return ok, err
	}
	return true, r.Refresh(ctx)
}

// Restore 恢复本记录
func (r *Record) Restore(ctx context.Context, opts query.Options) (bool, error) {
	n, err := r.engine.Restore(ctx, r.pkWhere(), opts)
	if err != nil || n == 0 {
		return false, err
	}
	return true, r.Refresh(ctx)
}

// Refresh 从数据库重新读取，丢弃本地修改
func (r *Record) Refresh(ctx context.Context) error {
	rec, err := r.engine.SearchOne(ctx, r.pkWhere(), query.Options{
		query.OptParanoid: false,
		query.OptCache:    false,
	})
	if err != nil {
		return err
	}
	if rec == nil {
		r.deleted = true
		return errors.NewNotFoundError(fmt.Sprintf("%s(%v)", r.engine.schema.Name, r.ID()))
	}
	r.reset(rec)
	return nil
}

// Reload 撤销本地修改，回到上次读取时的数据
func (r *Record) Reload() {
	r.data = copyRow(r.original)
}

// Role 按角色投影字段，未声明的角色返回 NotFoundError
func (r *Record) Role(name string) (map[string]any, error) {
	fields, ok := r.engine.schema.Role(name)
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("角色 %s.%s", r.engine.schema.Name, name)).
			WithDetails(map[string]any{"entity": r.engine.schema.Name, "role": name})
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := r.data[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

// Clone 复制为一条新记录，去掉主键、自增列与时间戳
func (r *Record) Clone() *Record {
	data := copyRow(r.data)
	for _, f := range r.engine.schema.Fields {
		if f.PrimaryKey || f.AutoIncrement || isTimestamp(f.Name) {
			delete(data, f.Name)
		}
	}
	return r.engine.New(data)
}

// ExpiresAt 过期时间：Expiry 字段的时间加上时长；未声明或字段为空时返回 false
func (r *Record) ExpiresAt() (time.Time, bool) {
	exp := r.engine.schema.Expiry
	if exp == nil {
		return time.Time{}, false
	}
	switch v := r.data[exp.Field].(type) {
	case time.Time:
		return v.Add(exp.After), true
	case string:
		if t, ok := basic.ParseTime(v); ok {
			return t.Add(exp.After), true
		}
	}
	return time.Time{}, false
}

// unscopedOptions 按主键操作的记录方法同样作用于已软删除的记录
func unscopedOptions(opts query.Options) query.Options {
	o := make(query.Options, len(opts)+1)
	overlay(o, opts)
	if _, ok := o[query.OptParanoid]; !ok {
		o[query.OptParanoid] = false
	}
	return o
}
