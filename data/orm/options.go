package orm

// Op 条件运算符
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNotIn      Op = "notIn"
	OpLike       Op = "like"
	OpNotLike    Op = "notLike"
	OpILike      Op = "iLike"
	OpNotILike   Op = "notILike"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
	OpSubstring  Op = "substring"
	OpBetween    Op = "between"
	OpNotBetween Op = "notBetween"
	OpIs         Op = "is"
	OpNot        Op = "not"
	OpAnd        Op = "and"
	OpOr         Op = "or"
)

// IsLogical 是否为组合节点
func (o Op) IsLogical() bool { return o == OpAnd || o == OpOr }

// Condition 条件树。叶子节点使用 Field/Op/Value，组合节点（and/or）使用 Children。
type Condition struct {
	Field    string
	Op       Op
	Value    any
	Children []*Condition
}

// Leaf 构造叶子条件
func Leaf(field string, op Op, value any) *Condition {
	return &Condition{Field: field, Op: op, Value: value}
}

// And 组合条件，忽略 nil，单个子条件直接返回
func And(children ...*Condition) *Condition {
	return combine(OpAnd, children)
}

// Or 组合条件，忽略 nil，单个子条件直接返回
func Or(children ...*Condition) *Condition {
	return combine(OpOr, children)
}

func combine(op Op, children []*Condition) *Condition {
	kept := make([]*Condition, 0, len(children))
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Condition{Op: op, Children: kept}
}

// OrderBy 排序字段
type OrderBy struct {
	Column string
	Desc   bool
}

// Lock 行锁，Level 取值见 dialect.Lock* 常量
type Lock struct {
	Level string
	Of    string
}

// Include 预加载关联
type Include struct {
	// Relation 关联名或目标实体名
	Relation   string
	Where      *Condition
	Attributes []string
	// Required 为 true 时丢弃没有关联记录的主记录
	Required bool
	Unscoped bool
	Include  []Include
}

// FindOptions 读操作选项
type FindOptions struct {
	Where      *Condition
	Attributes []string
	Exclude    []string
	Order      []OrderBy
	Group      []string
	Having     *Condition
	Limit      int
	Offset     int
	Distinct   bool
	Include    []Include
	Lock       *Lock
	SkipLocked bool

	// Unscoped 为 true 时包含已软删除的记录
	Unscoped bool
	// Raw 为 true 时跳过字段解码，返回驱动原始值
	Raw bool
	// Logging 为 true 时以 Debug 级别记录 SQL
	Logging bool

	// 以下选项透传，当前引擎只做记录
	SubQuery  *bool
	UseMaster bool
	Plain     bool

	Tx ITx
}

// WriteOptions 写操作选项
type WriteOptions struct {
	Where *Condition
	// Fields 限定允许写入的字段，空表示全部
	Fields []string
	Limit  int
	// Force 为 true 时对软删除实体执行物理删除
	Force     bool
	Unscoped  bool
	SkipHooks bool
	Logging   bool

	Tx ITx
}
