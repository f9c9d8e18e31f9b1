package schema

import (
	"ormkit/validation"
)

// Kind 字段类型标签
type Kind string

const (
	KindString   Kind = "string"
	KindText     Kind = "text"
	KindInteger  Kind = "integer"
	KindBigInt   Kind = "bigint"
	KindFloat    Kind = "float"
	KindDecimal  Kind = "decimal"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"
	KindJSON     Kind = "json"
	KindArray    Kind = "array"
	KindUUID     Kind = "uuid"
	KindEnum     Kind = "enum"
	KindBlob     Kind = "blob"
)

var knownKinds = map[Kind]bool{
	KindString: true, KindText: true, KindInteger: true, KindBigInt: true,
	KindFloat: true, KindDecimal: true, KindBoolean: true, KindDate: true,
	KindDateTime: true, KindJSON: true, KindArray: true, KindUUID: true,
	KindEnum: true, KindBlob: true,
}

// IsNumeric 是否为数值类型
func (k Kind) IsNumeric() bool {
	switch k {
	case KindInteger, KindBigInt, KindFloat, KindDecimal:
		return true
	}
	return false
}

// IsInteger 是否为整数类型
func (k Kind) IsInteger() bool {
	return k == KindInteger || k == KindBigInt
}

// IsTime 是否为时间类型
func (k Kind) IsTime() bool {
	return k == KindDate || k == KindDateTime
}

// IsStructured 是否以 JSON 文本存储
func (k Kind) IsStructured() bool {
	return k == KindJSON || k == KindArray
}

// ForeignKey 外键声明
type ForeignKey struct {
	Entity   string
	Field    string
	OnDelete string
}

// HashSpec 写入前做单向哈希（bcrypt）
type HashSpec struct {
	Cost int
}

// EncryptSpec 写入前加密、读取后解密（AES-GCM），Key 长度需为 16/24/32 字节
type EncryptSpec struct {
	Key []byte
}

// Field 字段描述符，注册后不可变
type Field struct {
	Name          string
	Kind          Kind
	Nullable      bool
	Unique        bool
	PrimaryKey    bool
	AutoIncrement bool
	// Default 默认值；可为 func() any，在插入时求值
	Default    any
	Index      bool
	Enum       []string
	Hash       *HashSpec
	Encrypt    *EncryptSpec
	ForeignKey *ForeignKey
	Rules      validation.Rules
}

// DefaultValue 求默认值
func (f *Field) DefaultValue() (any, bool) {
	if f.Default == nil {
		return nil, false
	}
	if fn, ok := f.Default.(func() any); ok {
		return fn(), true
	}
	return f.Default, true
}

// FieldOption 字段选项
type FieldOption func(*Field)

// PrimaryKey 标记主键
func PrimaryKey() FieldOption {
	return func(f *Field) { f.PrimaryKey = true }
}

// AutoIncrement 标记自增（每个实体至多一个）
func AutoIncrement() FieldOption {
	return func(f *Field) { f.AutoIncrement = true }
}

// Unique 唯一约束
func Unique() FieldOption {
	return func(f *Field) { f.Unique = true }
}

// NotNull 非空约束
func NotNull() FieldOption {
	return func(f *Field) { f.Nullable = false }
}

// Default 默认值，可传 func() any
func Default(v any) FieldOption {
	return func(f *Field) { f.Default = v }
}

// Indexed 建立普通索引
func Indexed() FieldOption {
	return func(f *Field) { f.Index = true }
}

// Enum 枚举取值，同时追加 $enum 规则
func Enum(values ...string) FieldOption {
	return func(f *Field) {
		f.Enum = append([]string(nil), values...)
		if f.Rules == nil {
			f.Rules = validation.Rules{}
		}
		opts := make([]any, len(values))
		for i, v := range values {
			opts[i] = v
		}
		f.Rules[validation.RuleEnum] = opts
	}
}

// Hash 写入前 bcrypt 哈希，cost <= 0 时使用默认 cost
func Hash(cost int) FieldOption {
	return func(f *Field) { f.Hash = &HashSpec{Cost: cost} }
}

// Encrypt 写入前 AES-GCM 加密
func Encrypt(key []byte) FieldOption {
	return func(f *Field) { f.Encrypt = &EncryptSpec{Key: append([]byte(nil), key...)} }
}

// References 外键
func References(entity, field, onDelete string) FieldOption {
	return func(f *Field) {
		f.ForeignKey = &ForeignKey{Entity: entity, Field: field, OnDelete: onDelete}
	}
}

// WithRules 字段规则，与已有规则合并
func WithRules(rules validation.Rules) FieldOption {
	return func(f *Field) {
		if f.Rules == nil {
			f.Rules = validation.Rules{}
		}
		for k, v := range rules {
			f.Rules[k] = v
		}
	}
}
