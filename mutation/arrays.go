package mutation

import (
	"sort"

	"ormkit/internal/conv"
	"ormkit/query"
)

type arrayFunc func(field string, items []any, operand any) ([]any, error)

func registerArrays() {
	arr := func(op string, fn arrayFunc) {
		register(func(field string, current, operand any) (any, bool, error) {
			items, err := toArray(field, op, current)
			if err != nil {
				return nil, false, err
			}
			out, err := fn(field, items, operand)
			return out, false, err
		}, op)
	}

	arr("$push", applyPush)
	arr("$pop", func(_ string, items []any, operand any) ([]any, error) {
		if len(items) == 0 {
			return items, nil
		}
		// 与排序方向约定一致：1/true 移除末尾，-1/false 移除开头
		if conv.Truthy(operand) {
			return items[:len(items)-1], nil
		}
		return items[1:], nil
	})
	arr("$pull", func(_ string, items []any, operand any) ([]any, error) {
		out := make([]any, 0, len(items))
		for _, item := range items {
			matched, err := query.MatchValue(operand, item)
			if err != nil {
				return nil, err
			}
			if !matched {
				out = append(out, item)
			}
		}
		return out, nil
	})
	arr("$addToSet", func(_ string, items []any, operand any) ([]any, error) {
		for _, v := range eachValues(operand) {
			if !containsValue(items, v) {
				items = append(items, v)
			}
		}
		return items, nil
	})
	arr("$sliceArray", func(field string, items []any, operand any) ([]any, error) {
		begin, end, ok := sliceBounds(operand, len(items))
		if !ok {
			return nil, typeError(field, "$sliceArray", " {$begin, $end}", operand)
		}
		return append([]any{}, items[begin:end]...), nil
	})
	arr("$concat", func(_ string, items []any, operand any) ([]any, error) {
		extra, ok := conv.ToSlice(operand)
		if !ok {
			extra = []any{operand}
		}
		return append(items, extra...), nil
	})

	// $slice 与 $reverse 同时适用于字符串与数组
	register(func(field string, current, operand any) (any, bool, error) {
		if s, ok := current.(string); ok {
			runes := []rune(s)
			begin, end, ok := sliceBounds(operand, len(runes))
			if !ok {
				return nil, false, typeError(field, "$slice", " {$begin, $end}", operand)
			}
			return string(runes[begin:end]), false, nil
		}
		items, err := toArray(field, "$slice", current)
		if err != nil {
			return nil, false, err
		}
		begin, end, ok := sliceBounds(operand, len(items))
		if !ok {
			return nil, false, typeError(field, "$slice", " {$begin, $end}", operand)
		}
		return append([]any{}, items[begin:end]...), false, nil
	}, "$slice")

	register(func(field string, current, _ any) (any, bool, error) {
		if s, ok := current.(string); ok {
			return reverseString(s), false, nil
		}
		items, err := toArray(field, "$reverse", current)
		if err != nil {
			return nil, false, err
		}
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
		return items, false, nil
	}, "$reverse")
}

// toArray 复制当前数组，字段缺失视为空数组
func toArray(field, op string, current any) ([]any, error) {
	if current == nil {
		return []any{}, nil
	}
	items, ok := conv.ToSlice(current)
	if !ok {
		return nil, typeError(field, op, "数组", current)
	}
	return append([]any{}, items...), nil
}

// eachValues 解析 {$each: [...]} 或单个值
func eachValues(operand any) []any {
	if m, ok := conv.ToMap(operand); ok {
		if each, exists := m["$each"]; exists {
			if items, ok := conv.ToSlice(each); ok {
				return items
			}
			return []any{each}
		}
	}
	return []any{operand}
}

func containsValue(items []any, v any) bool {
	for _, item := range items {
		if conv.Equal(item, v) {
			return true
		}
	}
	return false
}

// applyPush 单个值追加到末尾；{$each, $position, $sort} 批量插入到指定位置后可选重排
func applyPush(field string, items []any, operand any) ([]any, error) {
	m, ok := conv.ToMap(operand)
	if !ok || m["$each"] == nil {
		return append(items, operand), nil
	}
	values := eachValues(operand)

	pos := len(items)
	if raw, exists := m["$position"]; exists && raw != nil {
		p, ok := conv.ToInt64(raw)
		if !ok {
			return nil, typeError(field, "$push", "整数 $position", raw)
		}
		if p < 0 {
			p += int64(len(items))
		}
		pos = int(clampIndex(p, len(items)))
	}
	out := make([]any, 0, len(items)+len(values))
	out = append(out, items[:pos]...)
	out = append(out, values...)
	out = append(out, items[pos:]...)

	if raw, exists := m["$sort"]; exists && raw != nil {
		desc := !conv.Truthy(raw)
		sort.SliceStable(out, func(i, j int) bool {
			c := conv.Compare(out[i], out[j])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	return out, nil
}
