package schema

import (
	"fmt"
	"strings"
	"time"

	dbsql "ormkit/data/db/sql"
	"ormkit/errors"
)

// Builder 实体模式构建器
//
//	users := schema.New("User").
//	    Field("id", schema.KindInteger, schema.AutoIncrement()).
//	    Field("email", schema.KindString, schema.Unique(), schema.WithRules(validation.Rules{"$validEmail": true})).
//	    Timestamps().
//	    Paranoid().
//	    MustBuild()
type Builder struct {
	s    *Schema
	errs []error
}

// New 开始声明实体
func New(name string) *Builder {
	return &Builder{s: &Schema{
		Name:       name,
		Table:      name,
		fieldIndex: make(map[string]*Field),
		scopes:     make(map[string]Scope),
		roles:      make(map[string][]string),
		hooks:      make(map[HookEvent][]HookFunc),
	}}
}

func (b *Builder) fail(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// Table 指定表名（默认与实体同名）
func (b *Builder) Table(table string) *Builder {
	b.s.Table = table
	return b
}

// Field 声明字段
func (b *Builder) Field(name string, kind Kind, opts ...FieldOption) *Builder {
	if _, dup := b.s.fieldIndex[name]; dup {
		return b.fail(errors.NewConflictError(fmt.Sprintf("实体 %s 的字段 %s 重复声明", b.s.Name, name)))
	}
	f := &Field{Name: name, Kind: kind, Nullable: true}
	for _, opt := range opts {
		opt(f)
	}
	if f.PrimaryKey || f.AutoIncrement {
		f.Nullable = false
	}
	b.s.Fields = append(b.s.Fields, f)
	b.s.fieldIndex[name] = f
	return b
}

// Timestamps 自动维护 createdAt / updatedAt
func (b *Builder) Timestamps() *Builder {
	b.s.Timestamps = true
	return b
}

// Paranoid 软删除：删除时写入 deletedAt，查询默认过滤已删除记录
func (b *Builder) Paranoid() *Builder {
	b.s.Paranoid = true
	return b
}

// ExpiresAfter 声明记录在 field 时间之后 d 过期
func (b *Builder) ExpiresAfter(field string, d time.Duration) *Builder {
	b.s.Expiry = &Expiry{Field: field, After: d}
	return b
}

// BelongsTo 本实体的 foreignKey 指向 target 的主键
func (b *Builder) BelongsTo(name, target, foreignKey string) *Builder {
	return b.relation(Relation{Name: name, Kind: BelongsTo, Target: target, ForeignKey: foreignKey})
}

// HasOne target 上的 foreignKey 指向本实体主键
func (b *Builder) HasOne(name, target, foreignKey string) *Builder {
	return b.relation(Relation{Name: name, Kind: HasOne, Target: target, ForeignKey: foreignKey})
}

// HasMany target 上的 foreignKey 指向本实体主键
func (b *Builder) HasMany(name, target, foreignKey string) *Builder {
	return b.relation(Relation{Name: name, Kind: HasMany, Target: target, ForeignKey: foreignKey})
}

func (b *Builder) relation(r Relation) *Builder {
	if r.Name == "" {
		r.Name = r.Target
	}
	if r.ForeignKey == "" {
		if r.Kind == BelongsTo {
			r.ForeignKey = lowerFirst(r.Target) + "Id"
		} else {
			r.ForeignKey = lowerFirst(b.s.Name) + "Id"
		}
	}
	for _, existing := range b.s.Relations {
		if existing.Name == r.Name {
			return b.fail(errors.NewConflictError(fmt.Sprintf("实体 %s 的关联 %s 重复声明", b.s.Name, r.Name)))
		}
	}
	b.s.Relations = append(b.s.Relations, r)
	return b
}

// Scope 声明静态作用域
func (b *Builder) Scope(name string, preset Preset) *Builder {
	p := preset
	return b.scope(Scope{Name: name, Static: &p})
}

// ScopeFunc 声明参数化作用域
func (b *Builder) ScopeFunc(name string, fn func(args ...any) Preset) *Builder {
	return b.scope(Scope{Name: name, Fn: fn})
}

func (b *Builder) scope(sc Scope) *Builder {
	if _, dup := b.s.scopes[sc.Name]; dup {
		return b.fail(errors.NewConflictError(fmt.Sprintf("实体 %s 的作用域 %s 重复声明", b.s.Name, sc.Name)))
	}
	b.s.scopes[sc.Name] = sc
	return b
}

// Role 声明角色可见字段
func (b *Builder) Role(name string, fields ...string) *Builder {
	b.s.roles[name] = append([]string(nil), fields...)
	return b
}

// Hook 注册生命周期钩子
func (b *Builder) Hook(event HookEvent, fn HookFunc) *Builder {
	b.s.hooks[event] = append(b.s.hooks[event], fn)
	return b
}

// Build 校验并返回不可变的 Schema
func (b *Builder) Build() (*Schema, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	s := b.s
	if !dbsql.IsSafeIdentifier(s.Name) || !dbsql.IsSafeIdentifier(s.Table) {
		return nil, errors.NewConfigurationError(fmt.Sprintf("实体名或表名非法: %q / %q", s.Name, s.Table))
	}

	if err := b.resolveKeys(); err != nil {
		return nil, err
	}
	if s.Timestamps {
		b.ensureField(CreatedAtField, KindDateTime)
		b.ensureField(UpdatedAtField, KindDateTime)
	}
	if s.Paranoid {
		b.ensureField(DeletedAtField, KindDateTime)
	}

	for _, f := range s.Fields {
		if err := checkField(s.Name, f); err != nil {
			return nil, err
		}
	}
	for _, r := range s.Relations {
		if r.Kind == BelongsTo && !s.HasField(r.ForeignKey) {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("实体 %s 的关联 %s 缺少外键字段 %s", s.Name, r.Name, r.ForeignKey))
		}
	}
	for role, fields := range s.roles {
		for _, f := range fields {
			if !s.HasField(f) {
				return nil, errors.NewConfigurationError(
					fmt.Sprintf("实体 %s 的角色 %s 引用了不存在的字段 %s", s.Name, role, f))
			}
		}
	}
	if s.Expiry != nil {
		f, ok := s.Field(s.Expiry.Field)
		if !ok || !f.Kind.IsTime() {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("实体 %s 的过期字段 %s 必须是时间字段", s.Name, s.Expiry.Field))
		}
	}
	return s, nil
}

// MustBuild Build 失败时 panic，用于包级变量声明
func (b *Builder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

// resolveKeys 保证：至多一个自增字段；没有自增也没有主键时合成 ObjectId 主键
func (b *Builder) resolveKeys() error {
	s := b.s
	var auto, pks []*Field
	for _, f := range s.Fields {
		if f.AutoIncrement {
			auto = append(auto, f)
		}
		if f.PrimaryKey {
			pks = append(pks, f)
		}
	}
	if len(auto) > 1 {
		return errors.NewConfigurationError(fmt.Sprintf("实体 %s 声明了多个自增字段", s.Name))
	}
	if len(pks) > 1 {
		return errors.NewConfigurationError(fmt.Sprintf("实体 %s 声明了多个主键（不支持复合主键）", s.Name))
	}

	if len(auto) == 1 {
		a := auto[0]
		if !a.Kind.IsInteger() {
			return errors.NewConfigurationError(fmt.Sprintf("实体 %s 的自增字段 %s 必须是整数类型", s.Name, a.Name))
		}
		if len(pks) == 1 && pks[0] != a {
			return errors.NewConfigurationError(fmt.Sprintf("实体 %s 的自增字段 %s 必须同时是主键", s.Name, a.Name))
		}
		a.PrimaryKey = true
		return nil
	}
	if len(pks) == 0 {
		if _, taken := s.fieldIndex[ObjectIDField]; taken {
			return errors.NewConflictError(fmt.Sprintf("实体 %s 的字段 %s 与合成主键冲突", s.Name, ObjectIDField))
		}
		oid := &Field{Name: ObjectIDField, Kind: KindString, PrimaryKey: true}
		s.Fields = append([]*Field{oid}, s.Fields...)
		s.fieldIndex[ObjectIDField] = oid
	}
	return nil
}

func (b *Builder) ensureField(name string, kind Kind) {
	if _, ok := b.s.fieldIndex[name]; ok {
		return
	}
	f := &Field{Name: name, Kind: kind, Nullable: true}
	b.s.Fields = append(b.s.Fields, f)
	b.s.fieldIndex[name] = f
}

func checkField(entity string, f *Field) error {
	if !dbsql.IsSafeIdentifier(f.Name) || strings.Contains(f.Name, ".") {
		return errors.NewConfigurationError(fmt.Sprintf("实体 %s 的字段名 %q 非法", entity, f.Name))
	}
	if !knownKinds[f.Kind] {
		return errors.NewConfigurationError(fmt.Sprintf("实体 %s 的字段 %s 类型 %q 未知", entity, f.Name, f.Kind))
	}
	if f.Hash != nil && f.Encrypt != nil {
		return errors.NewConfigurationError(fmt.Sprintf("实体 %s 的字段 %s 不能同时哈希和加密", entity, f.Name))
	}
	if (f.Hash != nil || f.Encrypt != nil) && f.Kind != KindString && f.Kind != KindText {
		return errors.NewConfigurationError(fmt.Sprintf("实体 %s 的字段 %s 只有字符串才能哈希或加密", entity, f.Name))
	}
	if f.Encrypt != nil {
		switch len(f.Encrypt.Key) {
		case 16, 24, 32:
		default:
			return errors.NewConfigurationError(fmt.Sprintf("实体 %s 的字段 %s 加密密钥长度必须是 16/24/32", entity, f.Name))
		}
	}
	return f.Rules.Check(f.Name)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
