// Package mutation 把声明式更新文档（$set、$inc、$push ...）作用于一条记录快照，
// 生成一次原子写入所需的扁平补丁。
//
// 每个字段只能被一个运算符组修改；新值在接受前按字段规则校验，
// 任意一条违规都会让整个更新失败，不产生部分补丁。
package mutation

import (
	"fmt"
	"sort"
	"strings"

	"ormkit/errors"
	"ormkit/internal/conv"
	"ormkit/validation"
)

// Update 更新文档：运算符组 → {字段 → 操作数}；不带 $ 的键等价于 $set
type Update = map[string]any

// 全局运算符
const (
	OpSet   = "$set"
	OpUnset = "$unset"
	OpClear = "$clear"
	OpOmit  = "$omit"
)

// applyFunc 计算字段的新值；unset 为 true 时该字段从记录中移除
type applyFunc func(field string, current, operand any) (value any, unset bool, err error)

var registry = map[string]applyFunc{}

func register(fn applyFunc, names ...string) {
	for _, n := range names {
		registry[n] = fn
	}
}

func init() {
	register(func(_ string, _, operand any) (any, bool, error) { return operand, false, nil }, OpSet)
	register(func(_ string, _, _ any) (any, bool, error) { return nil, true, nil }, OpUnset, OpClear)
	register(applyOmit, OpOmit)
	registerNumeric()
	registerStrings()
	registerArrays()
	register(applyToggle, "$toggle")
}

// IsOperator 是否为已知的运算符组
func IsOperator(name string) bool {
	_, ok := registry[name]
	return ok
}

// Mutation 一个字段上的一次修改
type Mutation struct {
	Group   string
	Field   string
	Operand any
}

// Plan 解析后的更新计划，按字段名排序
type Plan struct {
	Mutations []Mutation
}

// Compile 解析更新文档并检查字段归属冲突
func Compile(doc Update) (*Plan, error) {
	owner := make(map[string]string)
	plan := &Plan{}

	claim := func(group, field string, operand any) error {
		if field == "" {
			return errors.NewValidationError(fmt.Sprintf("%s 的字段名不能为空", group))
		}
		if prev, taken := owner[field]; taken {
			return errors.NewConflictError(
				fmt.Sprintf("字段 %s 同时被 %s 与 %s 修改", field, prev, group)).
				WithDetails(map[string]any{"field": field, "groups": []string{prev, group}})
		}
		owner[field] = group
		plan.Mutations = append(plan.Mutations, Mutation{Group: group, Field: field, Operand: operand})
		return nil
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !strings.HasPrefix(key, "$") {
			if err := claim(OpSet, key, doc[key]); err != nil {
				return nil, err
			}
			continue
		}
		if !IsOperator(key) {
			return nil, errors.NewValidationError(fmt.Sprintf("未知的更新运算符 %s", key)).WithContext("operator", key)
		}
		fields, ok := conv.ToMap(doc[key])
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("%s 需要 字段→操作数 的映射", key)).WithContext("operator", key)
		}
		names := make([]string, 0, len(fields))
		for f := range fields {
			names = append(names, f)
		}
		sort.Strings(names)
		for _, f := range names {
			if err := claim(key, f, fields[f]); err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(plan.Mutations, func(i, j int) bool {
		return plan.Mutations[i].Field < plan.Mutations[j].Field
	})
	return plan, nil
}

// Fields 受影响的字段（排序）
func (p *Plan) Fields() []string {
	out := make([]string, len(p.Mutations))
	for i, m := range p.Mutations {
		out[i] = m.Field
	}
	return out
}

// Static 计划只包含 $set/$unset/$clear 时返回与记录无关的补丁，可直接批量写入
func (p *Plan) Static() (map[string]any, bool) {
	out := make(map[string]any, len(p.Mutations))
	for _, m := range p.Mutations {
		switch m.Group {
		case OpSet:
			out[m.Field] = m.Operand
		case OpUnset, OpClear:
			out[m.Field] = nil
		default:
			return nil, false
		}
	}
	return out, true
}

// Result 解析结果
type Result struct {
	// Set 字段的新值
	Set map[string]any
	// Unset 被清除的字段（排序）
	Unset []string
}

// Values 返回写入用的扁平补丁，被清除的字段写为 nil
func (r *Result) Values() map[string]any {
	out := make(map[string]any, len(r.Set)+len(r.Unset))
	for k, v := range r.Set {
		out[k] = v
	}
	for _, f := range r.Unset {
		out[f] = nil
	}
	return out
}

// Fields 受影响的字段（排序）
func (r *Result) Fields() []string {
	out := make([]string, 0, len(r.Set)+len(r.Unset))
	for k := range r.Set {
		out = append(out, k)
	}
	out = append(out, r.Unset...)
	sort.Strings(out)
	return out
}

// Apply 把更新计划作用于记录快照，record 本身不会被修改
func (p *Plan) Apply(record map[string]any, rules map[string]validation.Rules) (*Result, error) {
	res := &Result{Set: make(map[string]any, len(p.Mutations))}
	for _, m := range p.Mutations {
		fn := registry[m.Group]
		value, unset, err := fn(m.Field, record[m.Field], m.Operand)
		if err != nil {
			return nil, err
		}
		if err := validation.Validate(m.Field, rules[m.Field], value); err != nil {
			return nil, err
		}
		if unset {
			res.Unset = append(res.Unset, m.Field)
			continue
		}
		res.Set[m.Field] = value
	}
	sort.Strings(res.Unset)
	return res, nil
}

// Parser 绑定字段规则的更新解析器
type Parser struct {
	rules map[string]validation.Rules
}

// NewParser 创建解析器，rules 可以为 nil
func NewParser(rules map[string]validation.Rules) *Parser {
	return &Parser{rules: rules}
}

// Apply 解析并应用更新文档
func (p *Parser) Apply(record map[string]any, doc Update) (*Result, error) {
	plan, err := Compile(doc)
	if err != nil {
		return nil, err
	}
	return plan.Apply(record, p.rules)
}

// Merge 把结果写回记录副本
func Merge(record map[string]any, res *Result) map[string]any {
	out := make(map[string]any, len(record)+len(res.Set))
	for k, v := range record {
		out[k] = v
	}
	for k, v := range res.Set {
		out[k] = v
	}
	for _, f := range res.Unset {
		delete(out, f)
	}
	return out
}

func applyToggle(field string, current, _ any) (any, bool, error) {
	switch v := current.(type) {
	case nil:
		return true, false, nil
	case bool:
		return !v, false, nil
	}
	if conv.IsNumber(current) {
		return !conv.Truthy(current), false, nil
	}
	return nil, false, typeError(field, "$toggle", "布尔值", current)
}

// applyOmit 从对象字段中移除子键，操作数为键名或键名列表
func applyOmit(field string, current, operand any) (any, bool, error) {
	obj := map[string]any{}
	if current != nil {
		m, ok := conv.ToMap(current)
		if !ok {
			return nil, false, typeError(field, OpOmit, "对象", current)
		}
		for k, v := range m {
			obj[k] = v
		}
	}
	keys, ok := conv.ToSlice(operand)
	if !ok {
		keys = []any{operand}
	}
	for _, k := range keys {
		delete(obj, fmt.Sprint(k))
	}
	return obj, false, nil
}

func typeError(field, op, want string, got any) error {
	return errors.NewValidationError(
		fmt.Sprintf("字段 %s 不能执行 %s：需要%s（当前 %T）", field, op, want, got)).
		WithDetails(map[string]any{"field": field, "operator": op})
}
