// Package query 把声明式的查询文档（$where 过滤与 $limit/$sort 等选项）
// 编译为底层引擎的 orm.FindOptions / orm.WriteOptions。
//
// 所有函数都是纯函数：相同输入得到相同输出，没有副作用。
package query

import (
	"fmt"
	"sort"
	"strings"

	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/internal/conv"
)

// Where 过滤文档：字段 → 字面量 或 {$op: 值}，可用 $and/$or 递归组合
type Where = map[string]any

// Options 查询选项文档（$limit、$sort、$attributes ...）
type Options = map[string]any

var operators = map[string]orm.Op{
	"$eq":         orm.OpEq,
	"$ne":         orm.OpNe,
	"$gt":         orm.OpGt,
	"$gte":        orm.OpGte,
	"$lt":         orm.OpLt,
	"$lte":        orm.OpLte,
	"$in":         orm.OpIn,
	"$notIn":      orm.OpNotIn,
	"$like":       orm.OpLike,
	"$notLike":    orm.OpNotLike,
	"$iLike":      orm.OpILike,
	"$notILike":   orm.OpNotILike,
	"$startsWith": orm.OpStartsWith,
	"$endsWith":   orm.OpEndsWith,
	"$substring":  orm.OpSubstring,
	"$between":    orm.OpBetween,
	"$notBetween": orm.OpNotBetween,
	"$is":         orm.OpIs,
	"$not":        orm.OpNot,
}

var operatorKeys = func() map[orm.Op]string {
	out := make(map[orm.Op]string, len(operators))
	for k, op := range operators {
		out[op] = k
	}
	return out
}()

// CompileWhere 编译过滤文档。空文档返回 nil（不过滤）。
//
// 键按字典序处理；多个字段、同一字段上的多个运算符以 AND 组合；
// 字面量切片等价于 $in，nil 等价于 IS NULL。
func CompileWhere(w Where) (*orm.Condition, error) {
	leaves, err := compileTerms(w)
	if err != nil {
		return nil, err
	}
	return orm.And(leaves...), nil
}

func compileTerms(w Where) ([]*orm.Condition, error) {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*orm.Condition
	for _, k := range keys {
		v := w[k]
		switch {
		case k == "$and" || k == "$or":
			node, err := compileLogical(k, v)
			if err != nil {
				return nil, err
			}
			out = append(out, node)
		case strings.HasPrefix(k, "$"):
			return nil, errors.NewValidationError(fmt.Sprintf("未知的过滤运算符 %s", k)).WithContext("operator", k)
		case k == "":
			return nil, errors.NewValidationError("过滤字段名不能为空")
		default:
			leaves, err := compileField(k, v)
			if err != nil {
				return nil, err
			}
			out = append(out, leaves...)
		}
	}
	return out, nil
}

// compileLogical $and/$or 的取值是过滤文档列表；$and 也接受单个文档
func compileLogical(key string, v any) (*orm.Condition, error) {
	items, ok := conv.ToSlice(v)
	if !ok {
		if m, isMap := conv.ToMap(v); isMap && key == "$and" {
			items = []any{m}
		} else {
			return nil, errors.NewValidationError(fmt.Sprintf("%s 需要过滤文档列表", key)).WithContext("operator", key)
		}
	}
	op := orm.OpAnd
	if key == "$or" {
		op = orm.OpOr
	}
	node := &orm.Condition{Op: op}
	for _, item := range items {
		sub, ok := conv.ToMap(item)
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("%s 的元素必须是过滤文档（当前 %T）", key, item))
		}
		child, err := CompileWhere(sub)
		if err != nil {
			return nil, err
		}
		if child == nil {
			// 空文档恒真：$or 整体恒真，$and 中忽略
			if op == orm.OpOr {
				return nil, nil
			}
			continue
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func compileField(field string, v any) ([]*orm.Condition, error) {
	if ops, ok := conv.ToMap(v); ok && isOperatorDoc(ops) {
		keys := make([]string, 0, len(ops))
		for k := range ops {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make([]*orm.Condition, 0, len(keys))
		for _, k := range keys {
			if k == "$and" || k == "$or" {
				node, err := compileFieldLogical(field, k, ops[k])
				if err != nil {
					return nil, err
				}
				out = append(out, node)
				continue
			}
			op, known := operators[k]
			if !known {
				return nil, errors.NewValidationError(
					fmt.Sprintf("字段 %s 使用了未知的运算符 %s", field, k)).
					WithDetails(map[string]any{"field": field, "operator": k})
			}
			out = append(out, orm.Leaf(field, op, ops[k]))
		}
		return out, nil
	}
	if items, ok := conv.ToSlice(v); ok {
		return []*orm.Condition{orm.Leaf(field, orm.OpIn, items)}, nil
	}
	return []*orm.Condition{orm.Leaf(field, orm.OpEq, v)}, nil
}

// compileFieldLogical {"age": {"$or": [{"$lt": 5}, {"$gt": 10}]}}
func compileFieldLogical(field, key string, v any) (*orm.Condition, error) {
	items, ok := conv.ToSlice(v)
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("字段 %s 的 %s 需要列表", field, key))
	}
	op := orm.OpAnd
	if key == "$or" {
		op = orm.OpOr
	}
	node := &orm.Condition{Op: op}
	for _, item := range items {
		leaves, err := compileField(field, item)
		if err != nil {
			return nil, err
		}
		if child := orm.And(leaves...); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node, nil
}

// isOperatorDoc 所有键都以 $ 开头；混用字段与运算符的文档视为字面量
func isOperatorDoc(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// DecompileWhere 把条件树还原为过滤文档。
//
// AND 节点尽量合并为单个文档；同一字段同一运算符出现两次等无法合并的情况
// 退回 {"$and": [...]} 形式。字面量统一还原为显式的 {$eq: v}。
func DecompileWhere(cond *orm.Condition) Where {
	if cond == nil {
		return Where{}
	}
	switch cond.Op {
	case orm.OpOr:
		items := make([]any, len(cond.Children))
		for i, c := range cond.Children {
			items[i] = DecompileWhere(c)
		}
		return Where{"$or": items}
	case orm.OpAnd:
		merged := Where{}
		for _, c := range cond.Children {
			if !mergeInto(merged, DecompileWhere(c)) {
				items := make([]any, len(cond.Children))
				for i, c := range cond.Children {
					items[i] = DecompileWhere(c)
				}
				return Where{"$and": items}
			}
		}
		return merged
	}
	key, ok := operatorKeys[cond.Op]
	if !ok {
		key = "$eq"
	}
	return Where{cond.Field: map[string]any{key: cond.Value}}
}

// mergeInto 合并成功返回 true；任何键冲突返回 false 且 dst 可能已被部分修改
func mergeInto(dst, src Where) bool {
	for k, v := range src {
		existing, taken := dst[k]
		if !taken {
			dst[k] = v
			continue
		}
		if strings.HasPrefix(k, "$") {
			return false
		}
		a, okA := existing.(map[string]any)
		b, okB := v.(map[string]any)
		if !okA || !okB {
			return false
		}
		combined := make(map[string]any, len(a)+len(b))
		for op, val := range a {
			combined[op] = val
		}
		for op, val := range b {
			if _, dup := combined[op]; dup {
				return false
			}
			combined[op] = val
		}
		dst[k] = combined
	}
	return true
}
