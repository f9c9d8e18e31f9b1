package mutation

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ormkit/internal/conv"
)

// Caser 有内部状态，不能跨 goroutine 共享，每次调用新建
func upper(s string) string { return cases.Upper(language.Und).String(s) }
func lower(s string) string { return cases.Lower(language.Und).String(s) }
func title(s string) string { return cases.Title(language.Und).String(s) }

// stringFunc 字符串变换，操作数含义由各运算符决定
type stringFunc func(field, s string, operand any) (string, error)

func registerStrings() {
	str := func(op string, fn stringFunc) {
		register(func(field string, current, operand any) (any, bool, error) {
			var s string
			switch v := current.(type) {
			case nil:
			case string:
				s = v
			default:
				return nil, false, typeError(field, op, "字符串", current)
			}
			out, err := fn(field, s, operand)
			return out, false, err
		}, op)
	}

	str("$append", func(_, s string, operand any) (string, error) { return s + fmt.Sprint(operand), nil })
	str("$prepend", func(_, s string, operand any) (string, error) { return fmt.Sprint(operand) + s, nil })
	str("$replace", applyReplace)
	str("$trim", func(_, s string, operand any) (string, error) {
		if cutset, ok := operand.(string); ok && cutset != "" {
			return strings.Trim(s, cutset), nil
		}
		return strings.TrimSpace(s), nil
	})
	str("$substr", applySubstr)
	str("$lowercase", func(_, s string, _ any) (string, error) { return lower(s), nil })
	str("$uppercase", func(_, s string, _ any) (string, error) { return upper(s), nil })
	str("$titlecase", func(_, s string, _ any) (string, error) { return title(s), nil })
	str("$capitalize", func(_, s string, _ any) (string, error) { return capitalize(s), nil })
	str("$camelcase", func(_, s string, _ any) (string, error) { return camelCase(s), nil })
	str("$kebabcase", func(_, s string, _ any) (string, error) { return joinWords(s, "-"), nil })
	str("$snakecase", func(_, s string, _ any) (string, error) { return joinWords(s, "_"), nil })
}

// applyReplace {$searchValue, $replaceValue}，替换全部出现
func applyReplace(field, s string, operand any) (string, error) {
	m, ok := conv.ToMap(operand)
	if !ok {
		return "", typeError(field, "$replace", " {$searchValue, $replaceValue}", operand)
	}
	search, ok := m["$searchValue"].(string)
	if !ok || search == "" {
		return "", typeError(field, "$replace", "非空的 $searchValue", m["$searchValue"])
	}
	replacement := ""
	if r, exists := m["$replaceValue"]; exists && r != nil {
		replacement = fmt.Sprint(r)
	}
	return strings.ReplaceAll(s, search, replacement), nil
}

// applySubstr {$start, $length}，按字符计数；$length 缺省时截到末尾
func applySubstr(field, s string, operand any) (string, error) {
	m, ok := conv.ToMap(operand)
	if !ok {
		return "", typeError(field, "$substr", " {$start, $length}", operand)
	}
	runes := []rune(s)
	start, _ := conv.ToInt64(m["$start"])
	if start < 0 {
		start += int64(len(runes))
	}
	start = clampIndex(start, len(runes))
	end := int64(len(runes))
	if raw, exists := m["$length"]; exists && raw != nil {
		n, ok := conv.ToInt64(raw)
		if !ok || n < 0 {
			return "", typeError(field, "$substr", "非负的 $length", raw)
		}
		end = clampIndex(start+n, len(runes))
	}
	return string(runes[start:end]), nil
}

// sliceBounds 负下标从末尾计数，结果截断到 [0, n]
func sliceBounds(operand any, n int) (int, int, bool) {
	m, ok := conv.ToMap(operand)
	if !ok {
		return 0, 0, false
	}
	resolve := func(key string, fallback int64) (int64, bool) {
		raw, exists := m[key]
		if !exists || raw == nil {
			return fallback, true
		}
		v, ok := conv.ToInt64(raw)
		if !ok {
			return 0, false
		}
		if v < 0 {
			v += int64(n)
		}
		return clampIndex(v, n), true
	}
	begin, okB := resolve("$begin", 0)
	end, okE := resolve("$end", int64(n))
	if !okB || !okE {
		return 0, 0, false
	}
	if end < begin {
		end = begin
	}
	return int(begin), int(end), true
}

func clampIndex(i int64, n int) int64 {
	switch {
	case i < 0:
		return 0
	case i > int64(n):
		return int64(n)
	}
	return i
}

func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	return upper(string(runes[:1])) + lower(string(runes[1:]))
}

// words 按非字母数字字符与大小写边界切分
func words(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

func joinWords(s, sep string) string {
	parts := words(s)
	for i, w := range parts {
		parts[i] = lower(w)
	}
	return strings.Join(parts, sep)
}

func camelCase(s string) string {
	parts := words(s)
	for i, w := range parts {
		if i == 0 {
			parts[i] = lower(w)
			continue
		}
		parts[i] = capitalize(w)
	}
	return strings.Join(parts, "")
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
