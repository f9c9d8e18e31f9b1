package query

import (
	"fmt"
	"regexp"
	"strings"

	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/internal/conv"
)

// Match 在内存中判断一条记录是否满足过滤文档，语义与 SQL 编译结果一致
func Match(w Where, row map[string]any) (bool, error) {
	cond, err := CompileWhere(w)
	if err != nil {
		return false, err
	}
	return Evaluate(cond, row)
}

// MatchValue 判断单个值是否满足规格：运算符文档按运算符求值，其余按相等比较
func MatchValue(spec any, v any) (bool, error) {
	if ops, ok := conv.ToMap(spec); ok && isOperatorDoc(ops) {
		return Match(Where{"v": ops}, map[string]any{"v": v})
	}
	return conv.Equal(spec, v), nil
}

// Evaluate 在内存中对条件树求值
func Evaluate(cond *orm.Condition, row map[string]any) (bool, error) {
	if cond == nil {
		return true, nil
	}
	switch cond.Op {
	case orm.OpAnd:
		for _, c := range cond.Children {
			ok, err := Evaluate(c, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case orm.OpOr:
		for _, c := range cond.Children {
			ok, err := Evaluate(c, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return evalLeaf(cond, row[cond.Field])
}

func evalLeaf(cond *orm.Condition, v any) (bool, error) {
	want := cond.Value
	switch cond.Op {
	case orm.OpEq, orm.OpIs, "":
		if want == nil {
			return v == nil, nil
		}
		return v != nil && conv.Equal(v, want), nil
	case orm.OpNe:
		if want == nil {
			return v != nil, nil
		}
		return v != nil && !conv.Equal(v, want), nil
	case orm.OpNot:
		if want == nil {
			return v != nil, nil
		}
		return !conv.Equal(v, want), nil
	case orm.OpGt:
		return v != nil && conv.Compare(v, want) > 0, nil
	case orm.OpGte:
		return v != nil && conv.Compare(v, want) >= 0, nil
	case orm.OpLt:
		return v != nil && conv.Compare(v, want) < 0, nil
	case orm.OpLte:
		return v != nil && conv.Compare(v, want) <= 0, nil
	case orm.OpIn, orm.OpNotIn:
		items, ok := conv.ToSlice(want)
		if !ok {
			items = []any{want}
		}
		found := false
		for _, item := range items {
			if conv.Equal(v, item) {
				found = true
				break
			}
		}
		if cond.Op == orm.OpIn {
			return found, nil
		}
		return v != nil && !found, nil
	case orm.OpBetween, orm.OpNotBetween:
		bounds, ok := conv.ToSlice(want)
		if !ok || len(bounds) != 2 {
			return false, errors.NewValidationError(fmt.Sprintf("字段 %s 的 %s 需要两个边界值", cond.Field, cond.Op))
		}
		if v == nil {
			return false, nil
		}
		inside := conv.Compare(v, bounds[0]) >= 0 && conv.Compare(v, bounds[1]) <= 0
		return inside == (cond.Op == orm.OpBetween), nil
	}

	if v == nil {
		return false, nil
	}
	s, pattern := fmt.Sprint(v), fmt.Sprint(want)
	switch cond.Op {
	case orm.OpStartsWith:
		return strings.HasPrefix(s, pattern), nil
	case orm.OpEndsWith:
		return strings.HasSuffix(s, pattern), nil
	case orm.OpSubstring:
		return strings.Contains(s, pattern), nil
	case orm.OpLike, orm.OpNotLike, orm.OpILike, orm.OpNotILike:
		insensitive := cond.Op == orm.OpILike || cond.Op == orm.OpNotILike
		re, err := likePattern(pattern, insensitive)
		if err != nil {
			return false, err
		}
		negate := cond.Op == orm.OpNotLike || cond.Op == orm.OpNotILike
		return re.MatchString(s) != negate, nil
	}
	return false, errors.NewValidationError(fmt.Sprintf("不支持的运算符 %q", cond.Op))
}

// likePattern 把 SQL LIKE 模式（% 与 _）转换为锚定的正则
func likePattern(pattern string, insensitive bool) (*regexp.Regexp, error) {
	var sb strings.Builder
	if insensitive {
		sb.WriteString("(?is)")
	} else {
		sb.WriteString("(?s)")
	}
	sb.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteByte('.')
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteByte('$')
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("非法的 LIKE 模式 %q", pattern))
	}
	return re, nil
}
