package validation

import (
	"fmt"
	"math"
	"regexp"

	"ormkit/errors"
	"ormkit/internal/conv"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IValidator 自定义校验器，挂在 $validate 规则上
type IValidator interface {
	Validate(value any) error
}

// ValidatorFunc 函数适配为 IValidator
type ValidatorFunc func(value any) error

func (f ValidatorFunc) Validate(value any) error { return f(value) }

// 以下检查函数返回的是违规原因，由 Validate 包装为 RuleError。

// ValidateLength 验证字符串/列表/对象的长度（字符串按字符计），max < 0 表示不限
func ValidateLength(value any, min, max int64) error {
	l, ok := length(value)
	if !ok {
		return fmt.Errorf("无法取得长度")
	}
	if int64(l) < min {
		return fmt.Errorf("长度小于 %d（当前 %d）", min, l)
	}
	if max >= 0 && int64(l) > max {
		return fmt.Errorf("长度大于 %d（当前 %d）", max, l)
	}
	return nil
}

// ValidateBounds 验证数值（或字符串/列表长度）落在 [lo, hi] 内，用 ±Inf 表示单侧
func ValidateBounds(value any, lo, hi float64) error {
	f, ok := measure(value)
	if !ok {
		return fmt.Errorf("不是数值")
	}
	if f < lo {
		return fmt.Errorf("小于 %v", lo)
	}
	if f > hi {
		return fmt.Errorf("大于 %v", hi)
	}
	return nil
}

// ValidateEmail 验证邮箱格式
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("邮箱格式不正确")
	}
	return nil
}

// ValidateEnum 验证值属于候选列表（深比较）
func ValidateEnum(value any, options []any) error {
	for _, opt := range options {
		if conv.Equal(opt, value) {
			return nil
		}
	}
	return fmt.Errorf("不在枚举 %v 中", options)
}

// MaxPageSize 分页查询单页上限
const MaxPageSize = 1000

// ValidatePageParams 验证分页参数
func ValidatePageParams(page, pageSize int) error {
	if page <= 0 {
		return errors.NewOptionError("page", "必须大于0", page)
	}
	if pageSize <= 0 {
		return errors.NewOptionError("size", "必须大于0", pageSize)
	}
	if pageSize > MaxPageSize {
		return errors.NewOptionError("size", fmt.Sprintf("不能超过%d", MaxPageSize), pageSize)
	}
	return nil
}

var (
	negInf = math.Inf(-1)
	posInf = math.Inf(1)
)
