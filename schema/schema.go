// Package schema 以显式构建器声明实体：字段、主键、关联、作用域、角色、规则与钩子。
// Build 之后的 Schema 不可变，可在多个 goroutine 间共享。
package schema

import (
	"context"
	"sort"
	"time"

	"ormkit/validation"
)

// 内置字段名
const (
	ObjectIDField  = "ObjectId"
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"
	DeletedAtField = "deletedAt"
)

// RelationKind 关联类型
type RelationKind string

const (
	BelongsTo RelationKind = "belongs_to"
	HasOne    RelationKind = "has_one"
	HasMany   RelationKind = "has_many"
)

// Relation 关联声明
//
//   - BelongsTo：ForeignKey 在本实体上，指向 Target 的 TargetKey（默认主键）
//   - HasOne/HasMany：ForeignKey 在 Target 上，指向本实体的 SourceKey（默认主键）
type Relation struct {
	Name       string
	Kind       RelationKind
	Target     string
	ForeignKey string
	SourceKey  string
	TargetKey  string
}

// Preset 作用域预设：一段过滤条件与查询选项
type Preset struct {
	Where   map[string]any
	Options map[string]any
}

// Scope 命名作用域，Static 与 Fn 二选一
type Scope struct {
	Name   string
	Static *Preset
	Fn     func(args ...any) Preset
}

// Resolve 求出作用域的预设
func (s Scope) Resolve(args ...any) Preset {
	if s.Fn != nil {
		return s.Fn(args...)
	}
	if s.Static != nil {
		return *s.Static
	}
	return Preset{}
}

// HookEvent 生命周期事件
type HookEvent string

const (
	BeforeCreate  HookEvent = "beforeCreate"
	AfterCreate   HookEvent = "afterCreate"
	BeforeUpdate  HookEvent = "beforeUpdate"
	AfterUpdate   HookEvent = "afterUpdate"
	BeforeDestroy HookEvent = "beforeDestroy"
	AfterDestroy  HookEvent = "afterDestroy"
	BeforeRestore HookEvent = "beforeRestore"
	AfterRestore  HookEvent = "afterRestore"
)

// HookFunc 钩子签名：values 为受影响的字段值（before 钩子可修改），fields 为受影响的字段名
type HookFunc func(ctx context.Context, values map[string]any, fields []string) error

// Expiry 记录过期声明：Field 的时间值 + After 即为过期时间
type Expiry struct {
	Field string
	After time.Duration
}

// Schema 实体模式
type Schema struct {
	Name       string
	Table      string
	Fields     []*Field
	Relations  []Relation
	Paranoid   bool
	Timestamps bool
	Expiry     *Expiry

	fieldIndex map[string]*Field
	scopes     map[string]Scope
	roles      map[string][]string
	hooks      map[HookEvent][]HookFunc
}

// Field 按名称查找字段
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.fieldIndex[name]
	return f, ok
}

// HasField 字段是否存在
func (s *Schema) HasField(name string) bool {
	_, ok := s.fieldIndex[name]
	return ok
}

// FieldNames 按声明顺序返回字段名
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// PrimaryKey 返回主键字段
func (s *Schema) PrimaryKey() *Field {
	for _, f := range s.Fields {
		if f.PrimaryKey {
			return f
		}
	}
	return nil
}

// AutoIncrement 返回自增字段，没有时返回 nil
func (s *Schema) AutoIncrement() *Field {
	for _, f := range s.Fields {
		if f.AutoIncrement {
			return f
		}
	}
	return nil
}

// Rules 返回所有声明了规则的字段
func (s *Schema) Rules() map[string]validation.Rules {
	out := make(map[string]validation.Rules)
	for _, f := range s.Fields {
		if len(f.Rules) > 0 {
			out[f.Name] = f.Rules
		}
	}
	return out
}

// Relation 按名称或目标实体查找关联
func (s *Schema) Relation(name string) (Relation, bool) {
	for _, r := range s.Relations {
		if r.Name == name {
			return r, true
		}
	}
	for _, r := range s.Relations {
		if r.Target == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Scope 按名称查找作用域
func (s *Schema) Scope(name string) (Scope, bool) {
	sc, ok := s.scopes[name]
	return sc, ok
}

// ScopeNames 已声明的作用域（排序）
func (s *Schema) ScopeNames() []string {
	names := make([]string, 0, len(s.scopes))
	for n := range s.scopes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Role 返回角色可见的字段
func (s *Schema) Role(name string) ([]string, bool) {
	fields, ok := s.roles[name]
	return append([]string(nil), fields...), ok
}

// Hooks 返回某事件的钩子
func (s *Schema) Hooks(event HookEvent) []HookFunc {
	return s.hooks[event]
}

// RunHooks 依次执行钩子，遇错即停
func (s *Schema) RunHooks(ctx context.Context, event HookEvent, values map[string]any, fields []string) error {
	for _, h := range s.hooks[event] {
		if err := h(ctx, values, fields); err != nil {
			return err
		}
	}
	return nil
}
