package basic

import (
	"fmt"
	"strings"

	"ormkit/data/db/dialect"
	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/internal/conv"
	"ormkit/schema"
)

// whereCompiler 把条件树编译为带 ? 占位符的 SQL 片段
type whereCompiler struct {
	d dialect.Dialect
	s *schema.Schema
}

func (c whereCompiler) compile(cond *orm.Condition) (string, []any, error) {
	if cond == nil {
		return "", nil, nil
	}
	if cond.Op.IsLogical() {
		return c.compileGroup(cond)
	}

	f, ok := c.s.Field(cond.Field)
	if !ok {
		return "", nil, errors.NewValidationError(
			fmt.Sprintf("实体 %s 没有字段 %s", c.s.Name, cond.Field)).WithContext("field", cond.Field)
	}
	col := c.d.QuoteIdentifier(f.Name)
	v := cond.Value

	switch cond.Op {
	case orm.OpEq, "":
		if v == nil {
			return col + " IS NULL", nil, nil
		}
		return col + " = ?", []any{encodeCondValue(c.d, f, v)}, nil
	case orm.OpNe:
		if v == nil {
			return col + " IS NOT NULL", nil, nil
		}
		return col + " <> ?", []any{encodeCondValue(c.d, f, v)}, nil
	case orm.OpIs:
		if v == nil {
			return col + " IS NULL", nil, nil
		}
		return col + " = ?", []any{encodeCondValue(c.d, f, v)}, nil
	case orm.OpNot:
		if v == nil {
			return col + " IS NOT NULL", nil, nil
		}
		return "(" + col + " IS NULL OR " + col + " <> ?)", []any{encodeCondValue(c.d, f, v)}, nil
	case orm.OpGt:
		return col + " > ?", []any{encodeCondValue(c.d, f, v)}, nil
	case orm.OpGte:
		return col + " >= ?", []any{encodeCondValue(c.d, f, v)}, nil
	case orm.OpLt:
		return col + " < ?", []any{encodeCondValue(c.d, f, v)}, nil
	case orm.OpLte:
		return col + " <= ?", []any{encodeCondValue(c.d, f, v)}, nil
	case orm.OpIn, orm.OpNotIn:
		items, ok := conv.ToSlice(v)
		if !ok {
			items = []any{v}
		}
		if len(items) == 0 {
			if cond.Op == orm.OpIn {
				return "1 = 0", nil, nil
			}
			return "1 = 1", nil, nil
		}
		args := make([]any, len(items))
		for i, item := range items {
			args[i] = encodeCondValue(c.d, f, item)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(items)), ", ")
		if cond.Op == orm.OpIn {
			return col + " IN (" + placeholders + ")", args, nil
		}
		return col + " NOT IN (" + placeholders + ")", args, nil
	case orm.OpLike:
		return col + " LIKE ?", []any{fmt.Sprint(v)}, nil
	case orm.OpNotLike:
		return col + " NOT LIKE ?", []any{fmt.Sprint(v)}, nil
	case orm.OpILike:
		return c.d.LikeInsensitive(col, false), []any{fmt.Sprint(v)}, nil
	case orm.OpNotILike:
		return c.d.LikeInsensitive(col, true), []any{fmt.Sprint(v)}, nil
	case orm.OpStartsWith:
		return col + " LIKE ?", []any{fmt.Sprint(v) + "%"}, nil
	case orm.OpEndsWith:
		return col + " LIKE ?", []any{"%" + fmt.Sprint(v)}, nil
	case orm.OpSubstring:
		return col + " LIKE ?", []any{"%" + fmt.Sprint(v) + "%"}, nil
	case orm.OpBetween, orm.OpNotBetween:
		bounds, ok := conv.ToSlice(v)
		if !ok || len(bounds) != 2 {
			return "", nil, errors.NewValidationError(
				fmt.Sprintf("字段 %s 的 %s 需要两个边界值", f.Name, cond.Op)).WithContext("field", f.Name)
		}
		args := []any{encodeCondValue(c.d, f, bounds[0]), encodeCondValue(c.d, f, bounds[1])}
		if cond.Op == orm.OpBetween {
			return col + " BETWEEN ? AND ?", args, nil
		}
		return col + " NOT BETWEEN ? AND ?", args, nil
	}
	return "", nil, errors.NewValidationError(fmt.Sprintf("不支持的运算符 %q", cond.Op))
}

func (c whereCompiler) compileGroup(cond *orm.Condition) (string, []any, error) {
	if len(cond.Children) == 0 {
		if cond.Op == orm.OpAnd {
			return "1 = 1", nil, nil
		}
		return "1 = 0", nil, nil
	}
	parts := make([]string, 0, len(cond.Children))
	var args []any
	for _, child := range cond.Children {
		frag, childArgs, err := c.compile(child)
		if err != nil {
			return "", nil, err
		}
		if frag == "" {
			continue
		}
		parts = append(parts, frag)
		args = append(args, childArgs...)
	}
	switch len(parts) {
	case 0:
		return "", nil, nil
	case 1:
		return parts[0], args, nil
	}
	sep := " AND "
	if cond.Op == orm.OpOr {
		sep = " OR "
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}
