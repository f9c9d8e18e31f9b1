package query

import (
	"fmt"
	"sort"
	"strings"

	"ormkit/data/db/dialect"
	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/internal/conv"
)

// 选项键
const (
	OptLimit       = "$limit"
	OptOffset      = "$offset"
	OptSort        = "$sort"
	OptAttributes  = "$attributes"
	OptGroup       = "$group"
	OptHaving      = "$having"
	OptRaw         = "$raw"
	OptParanoid    = "$paranoid"
	OptSubQuery    = "$subQuery"
	OptLogging     = "$logging"
	OptUseMaster   = "$useMaster"
	OptLock        = "$lock"
	OptSkipLocked  = "$skipLocked"
	OptPlain       = "$plain"
	OptDistinct    = "$distinct"
	OptInclude     = "$include"
	OptTransaction = "$transaction"
	OptField       = "$field"
	OptFields      = "$fields"
	OptHooks       = "$hooks"
	OptForce       = "$force"
	OptUpsert      = "$upsert"
	OptCache       = "$cache"
	OptCacheKey    = "$cacheKey"
)

var lockLevels = map[string]string{
	"update":        dialect.LockUpdate,
	"share":         dialect.LockShare,
	"key_share":     dialect.LockKeyShare,
	"no_key_update": dialect.LockNoKeyUpdate,
}

// SortField 有序的排序声明，保留调用方给出的字段顺序
type SortField struct {
	Field string
	Desc  bool
}

// TxCarrier 可以提供底层事务的句柄（例如 model.Transaction）
type TxCarrier interface {
	NativeTx() orm.ITx
}

// EntityRegistry 已注册实体的查询接口，供 $include 校验
type EntityRegistry interface {
	HasEntity(name string) bool
}

// CompileSearch 编译"查询多条"的选项
func CompileSearch(where Where, opts Options) (orm.FindOptions, error) {
	cond, err := CompileWhere(where)
	if err != nil {
		return orm.FindOptions{}, err
	}
	out := orm.FindOptions{Where: cond}
	if err := applyFindOptions(&out, opts); err != nil {
		return orm.FindOptions{}, err
	}
	return out, nil
}

// CompileSearchOne 编译"查询单条"的选项：固定 Limit 1，并解析 $include
func CompileSearchOne(where Where, opts Options, registry EntityRegistry) (orm.FindOptions, error) {
	out, err := CompileSearch(where, opts)
	if err != nil {
		return orm.FindOptions{}, err
	}
	out.Limit = 1
	if raw, ok := opts[OptInclude]; ok && raw != nil {
		includes, err := compileIncludes(raw, registry)
		if err != nil {
			return orm.FindOptions{}, err
		}
		out.Include = includes
	}
	return out, nil
}

// CompileCount 编译计数选项，只保留影响结果集的部分
func CompileCount(where Where, opts Options) (orm.FindOptions, error) {
	full, err := CompileSearch(where, opts)
	if err != nil {
		return orm.FindOptions{}, err
	}
	return orm.FindOptions{
		Where:    full.Where,
		Group:    full.Group,
		Having:   full.Having,
		Distinct: full.Distinct,
		Unscoped: full.Unscoped,
		Logging:  full.Logging,
		Tx:       full.Tx,
	}, nil
}

// CompileDistinct 编译去重查询：$field 为至少一个字段名的列表
func CompileDistinct(where Where, opts Options) ([]string, orm.FindOptions, error) {
	fields, err := stringList(OptField, opts[OptField])
	if err != nil {
		return nil, orm.FindOptions{}, err
	}
	if len(fields) == 0 {
		return nil, orm.FindOptions{}, errors.NewOptionError(OptField, "至少需要一个字段", opts[OptField])
	}
	rest := make(Options, len(opts))
	for k, v := range opts {
		if k != OptField {
			rest[k] = v
		}
	}
	out, err := CompileSearch(where, rest)
	if err != nil {
		return nil, orm.FindOptions{}, err
	}
	return fields, out, nil
}

// CompileUpdate 编译写操作选项（更新）
func CompileUpdate(where Where, opts Options) (orm.WriteOptions, error) {
	return compileWrite(where, opts)
}

// CompileDestroy 编译写操作选项（删除/恢复）
func CompileDestroy(where Where, opts Options) (orm.WriteOptions, error) {
	return compileWrite(where, opts)
}

func compileWrite(where Where, opts Options) (orm.WriteOptions, error) {
	cond, err := CompileWhere(where)
	if err != nil {
		return orm.WriteOptions{}, err
	}
	out := orm.WriteOptions{Where: cond}

	if v, ok := opts[OptLimit]; ok && v != nil {
		n, err := positiveInt(OptLimit, v)
		if err != nil {
			return orm.WriteOptions{}, err
		}
		out.Limit = n
	}
	if v, ok := opts[OptFields]; ok && v != nil {
		fields, err := stringList(OptFields, v)
		if err != nil {
			return orm.WriteOptions{}, err
		}
		out.Fields = fields
	}
	flags := []struct {
		key string
		set func(bool)
	}{
		{OptLogging, func(b bool) { out.Logging = b }},
		{OptParanoid, func(b bool) { out.Unscoped = !b }},
		{OptHooks, func(b bool) { out.SkipHooks = !b }},
		{OptForce, func(b bool) { out.Force = b }},
	}
	for _, f := range flags {
		if v, ok := opts[f.key]; ok && v != nil {
			b, err := boolOption(f.key, v)
			if err != nil {
				return orm.WriteOptions{}, err
			}
			f.set(b)
		}
	}
	tx, err := transactionOption(opts[OptTransaction])
	if err != nil {
		return orm.WriteOptions{}, err
	}
	out.Tx = tx
	return out, nil
}

func applyFindOptions(out *orm.FindOptions, opts Options) error {
	for _, key := range sortedKeys(opts) {
		v := opts[key]
		if v == nil {
			continue
		}
		var err error
		switch key {
		case OptLimit:
			out.Limit, err = positiveInt(key, v)
		case OptOffset:
			out.Offset, err = nonNegativeInt(key, v)
		case OptSort:
			out.Order, err = compileSort(v)
		case OptAttributes:
			out.Attributes, out.Exclude, err = compileAttributes(v)
		case OptGroup:
			out.Group, err = stringList(key, v)
		case OptHaving:
			out.Having, err = compileHaving(v)
		case OptLock:
			out.Lock, err = compileLock(v)
		case OptTransaction:
			out.Tx, err = transactionOption(v)
		case OptSubQuery:
			var b bool
			b, err = boolOption(key, v)
			out.SubQuery = &b
		case OptRaw, OptParanoid, OptLogging, OptUseMaster, OptSkipLocked, OptPlain, OptDistinct:
			var b bool
			if b, err = boolOption(key, v); err == nil {
				setFindFlag(out, key, b)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func setFindFlag(out *orm.FindOptions, key string, b bool) {
	switch key {
	case OptRaw:
		out.Raw = b
	case OptParanoid:
		out.Unscoped = !b
	case OptLogging:
		out.Logging = b
	case OptUseMaster:
		out.UseMaster = b
	case OptSkipLocked:
		out.SkipLocked = b
	case OptPlain:
		out.Plain = b
	case OptDistinct:
		out.Distinct = b
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func positiveInt(option string, v any) (int, error) {
	if !conv.IsInteger(v) {
		return 0, errors.NewOptionError(option, "必须是正整数", v)
	}
	n, _ := conv.ToInt64(v)
	if n <= 0 {
		return 0, errors.NewOptionError(option, "必须是正整数", v)
	}
	return int(n), nil
}

func nonNegativeInt(option string, v any) (int, error) {
	if !conv.IsInteger(v) {
		return 0, errors.NewOptionError(option, "必须是非负整数", v)
	}
	n, _ := conv.ToInt64(v)
	if n < 0 {
		return 0, errors.NewOptionError(option, "必须是非负整数", v)
	}
	return int(n), nil
}

func boolOption(option string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewOptionError(option, "必须是布尔值", v)
	}
	return b, nil
}

// stringList 接受单个字符串或字符串列表
func stringList(option string, v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil, errors.NewOptionError(option, "字段名不能为空", v)
		}
		return []string{s}, nil
	}
	if ss, ok := v.([]string); ok {
		return append([]string(nil), ss...), nil
	}
	items, ok := conv.ToSlice(v)
	if !ok {
		return nil, errors.NewOptionError(option, "必须是字段名列表", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, errors.NewOptionError(option, "必须是字段名列表", v)
		}
		out = append(out, s)
	}
	return out, nil
}

// compileSort 1/true/"asc" 为升序，-1/false/"desc" 为降序
func compileSort(v any) ([]orm.OrderBy, error) {
	switch s := v.(type) {
	case []SortField:
		out := make([]orm.OrderBy, 0, len(s))
		for _, f := range s {
			if f.Field == "" {
				return nil, errors.NewOptionError(OptSort, "字段名不能为空", v)
			}
			out = append(out, orm.OrderBy{Column: f.Field, Desc: f.Desc})
		}
		return out, nil
	case string:
		return []orm.OrderBy{{Column: s}}, nil
	}
	m, ok := conv.ToMap(v)
	if !ok {
		return nil, errors.NewOptionError(OptSort, "必须是 字段→方向 的映射", v)
	}
	out := make([]orm.OrderBy, 0, len(m))
	for _, field := range sortedKeys(m) {
		desc, err := sortDirection(field, m[field])
		if err != nil {
			return nil, err
		}
		out = append(out, orm.OrderBy{Column: field, Desc: desc})
	}
	return out, nil
}

func sortDirection(field string, dir any) (bool, error) {
	switch d := dir.(type) {
	case bool:
		return !d, nil
	case string:
		switch strings.ToLower(d) {
		case "asc":
			return false, nil
		case "desc":
			return true, nil
		}
	default:
		if conv.IsNumber(d) {
			return !conv.Truthy(d), nil
		}
	}
	return false, errors.NewOptionError(OptSort, fmt.Sprintf("字段 %s 的方向必须是 1/-1/true/false", field), dir)
}

// compileAttributes 列表为显式投影；{$include, $exclude} 中 $include 同样视为显式列表
func compileAttributes(v any) ([]string, []string, error) {
	if m, ok := conv.ToMap(v); ok {
		for k := range m {
			if k != "$include" && k != "$exclude" {
				return nil, nil, errors.NewOptionError(OptAttributes, "只接受 $include 与 $exclude", k)
			}
		}
		include, err := stringList(OptAttributes, m["$include"])
		if err != nil {
			return nil, nil, err
		}
		exclude, err := stringList(OptAttributes, m["$exclude"])
		if err != nil {
			return nil, nil, err
		}
		return include, exclude, nil
	}
	attrs, err := stringList(OptAttributes, v)
	return attrs, nil, err
}

func compileHaving(v any) (*orm.Condition, error) {
	m, ok := conv.ToMap(v)
	if !ok {
		return nil, errors.NewOptionError(OptHaving, "必须是过滤文档", v)
	}
	return CompileWhere(m)
}

// compileLock true 为 FOR UPDATE；{$level, $of} 指定级别与锁定的实体
func compileLock(v any) (*orm.Lock, error) {
	if b, ok := v.(bool); ok {
		if !b {
			return nil, nil
		}
		return &orm.Lock{Level: dialect.LockUpdate}, nil
	}
	m, ok := conv.ToMap(v)
	if !ok {
		return nil, errors.NewOptionError(OptLock, "必须是布尔值或 {$level, $of}", v)
	}
	lock := &orm.Lock{Level: dialect.LockUpdate}
	if raw, ok := m["$level"]; ok && raw != nil {
		name, _ := raw.(string)
		level, known := lockLevels[strings.ToLower(name)]
		if !known {
			return nil, errors.NewOptionError(OptLock, "$level 取值为 update/share/key_share/no_key_update", raw)
		}
		lock.Level = level
	}
	if raw, ok := m["$of"]; ok && raw != nil {
		of, isString := raw.(string)
		if !isString {
			return nil, errors.NewOptionError(OptLock, "$of 必须是实体名", raw)
		}
		lock.Of = of
	}
	return lock, nil
}

func transactionOption(v any) (orm.ITx, error) {
	switch tx := v.(type) {
	case nil:
		return nil, nil
	case orm.ITx:
		return tx, nil
	case TxCarrier:
		return tx.NativeTx(), nil
	}
	return nil, errors.NewOptionError(OptTransaction, "必须是事务句柄", fmt.Sprintf("%T", v))
}

// compileIncludes 取值为单个 include 文档或其列表：
//
//	{"$model": "Post", "$as": "posts", "$where": {...}, "$attributes": [...], "$required": true}
func compileIncludes(v any, registry EntityRegistry) ([]orm.Include, error) {
	items, ok := conv.ToSlice(v)
	if !ok {
		items = []any{v}
	}
	out := make([]orm.Include, 0, len(items))
	for _, item := range items {
		inc, err := compileInclude(item, registry)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

func compileInclude(item any, registry EntityRegistry) (orm.Include, error) {
	if name, ok := item.(string); ok {
		item = map[string]any{"$model": name}
	}
	m, ok := conv.ToMap(item)
	if !ok {
		return orm.Include{}, errors.NewOptionError(OptInclude, "必须是实体名或 include 文档", item)
	}
	entity, _ := m["$model"].(string)
	if entity == "" {
		return orm.Include{}, errors.NewOptionError(OptInclude, "缺少 $model", item)
	}
	if registry == nil || !registry.HasEntity(entity) {
		return orm.Include{}, errors.NewNotFoundError(fmt.Sprintf("实体 %s", entity)).
			WithContext("entity", entity)
	}

	inc := orm.Include{Relation: entity}
	if as, ok := m["$as"].(string); ok && as != "" {
		inc.Relation = as
	}
	if raw, ok := m["$where"]; ok && raw != nil {
		w, isMap := conv.ToMap(raw)
		if !isMap {
			return orm.Include{}, errors.NewOptionError(OptInclude, "$where 必须是过滤文档", raw)
		}
		cond, err := CompileWhere(w)
		if err != nil {
			return orm.Include{}, err
		}
		inc.Where = cond
	}
	if raw, ok := m["$attributes"]; ok && raw != nil {
		attrs, err := stringList(OptInclude, raw)
		if err != nil {
			return orm.Include{}, err
		}
		inc.Attributes = attrs
	}
	for key, dst := range map[string]*bool{"$required": &inc.Required, "$unscoped": &inc.Unscoped} {
		if raw, ok := m[key]; ok && raw != nil {
			b, err := boolOption(OptInclude, raw)
			if err != nil {
				return orm.Include{}, err
			}
			*dst = b
		}
	}
	if raw, ok := m["$include"]; ok && raw != nil {
		nested, err := compileIncludes(raw, registry)
		if err != nil {
			return orm.Include{}, err
		}
		inc.Include = nested
	}
	return inc, nil
}
