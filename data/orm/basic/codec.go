package basic

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ormkit/data/db/dialect"
	"ormkit/errors"
	"ormkit/internal/conv"
	"ormkit/schema"
)

// TimeLayout sqlite 下时间列的存储格式：定长 UTC 文本，字典序即时间序
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

var parseLayouts = []string{
	TimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime 解析时间文本，接受存储格式、RFC3339 和常见的 SQL 文本格式
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// encodeValue 把字段值转换为驱动参数
func encodeValue(d dialect.Dialect, f *schema.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Hash != nil || f.Encrypt != nil {
		return f.EncodeForStorage(v)
	}

	switch {
	case f.Kind.IsTime():
		t, err := toTime(f, v)
		if err != nil {
			return nil, err
		}
		return encodeTime(d, t), nil
	case f.Kind == schema.KindBoolean:
		b := conv.Truthy(v)
		if d.Name() == dialect.NamePostgres {
			return b, nil
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case f.Kind.IsStructured():
		if raw, ok := v.(json.RawMessage); ok {
			return string(raw), nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("字段 %s 无法序列化为 JSON: %v", f.Name, err))
		}
		return string(data), nil
	case f.Kind.IsInteger():
		if n, ok := conv.ToInt64(v); ok {
			return n, nil
		}
		return nil, errors.NewValidationError(fmt.Sprintf("字段 %s 需要整数（当前 %v）", f.Name, v))
	case f.Kind == schema.KindFloat || f.Kind == schema.KindDecimal:
		if n, ok := conv.ToFloat(v); ok {
			return n, nil
		}
		return nil, errors.NewValidationError(fmt.Sprintf("字段 %s 需要数值（当前 %v）", f.Name, v))
	}
	return v, nil
}

// encodeCondValue 条件中的取值：时间与布尔需要与存储形式一致，其余原样
func encodeCondValue(d dialect.Dialect, f *schema.Field, v any) any {
	if f == nil || v == nil {
		return v
	}
	switch {
	case f.Kind.IsTime():
		if t, err := toTime(f, v); err == nil {
			return encodeTime(d, t)
		}
	case f.Kind == schema.KindBoolean:
		if _, ok := v.(bool); ok {
			out, _ := encodeValue(d, f, v)
			return out
		}
	}
	return v
}

func encodeTime(d dialect.Dialect, t time.Time) any {
	t = t.UTC()
	if d.NativeTime() {
		return t
	}
	return t.Format(TimeLayout)
}

func toTime(f *schema.Field, v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t != nil {
			return *t, nil
		}
	case string:
		if parsed, ok := ParseTime(t); ok {
			return parsed, nil
		}
	case int64:
		return time.UnixMilli(t), nil
	}
	return time.Time{}, errors.NewValidationError(fmt.Sprintf("字段 %s 需要时间值（当前 %v）", f.Name, v))
}

// decodeValue 把驱动返回值转换为字段类型对应的 Go 值
func decodeValue(f *schema.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && f.Kind != schema.KindBlob {
		v = string(b)
	}
	if f.Encrypt != nil {
		return f.DecodeFromStorage(v)
	}

	switch {
	case f.Kind.IsInteger():
		if n, ok := conv.ToInt64(v); ok {
			return n, nil
		}
	case f.Kind == schema.KindFloat || f.Kind == schema.KindDecimal:
		if n, ok := conv.ToFloat(v); ok {
			return n, nil
		}
	case f.Kind == schema.KindBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err == nil {
				return parsed, nil
			}
		}
		if n, ok := conv.ToFloat(v); ok {
			return n != 0, nil
		}
	case f.Kind.IsTime():
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			if parsed, ok := ParseTime(t); ok {
				return parsed, nil
			}
		}
	case f.Kind.IsStructured():
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, errors.WrapError(err, errors.ErrCodePersistence,
					fmt.Sprintf("字段 %s 的 JSON 内容损坏", f.Name))
			}
			return out, nil
		}
	}
	return v, nil
}

// normalizeRaw 原始查询结果：[]byte 转为 string
func normalizeRaw(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
