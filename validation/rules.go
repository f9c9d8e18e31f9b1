package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ormkit/errors"
	"ormkit/internal/conv"
)

// 规则名称
const (
	RuleRequired   = "$required"
	RuleMinLength  = "$minLength"
	RuleMaxLength  = "$maxLength"
	RuleRange      = "$range"
	RuleMin        = "$min"
	RuleMax        = "$max"
	RulePositive   = "$positive"
	RuleNegative   = "$negative"
	RuleInteger    = "$integer"
	RuleEnum       = "$enum"
	RuleMatch      = "$match"
	RuleValidEmail = "$validEmail"
	RuleValidURL   = "$validURL"
	RuleValidUUID  = "$validUUID"
	RuleValidate   = "$validate"
)

// ruleOrder 规则的求值顺序，保证同一输入总是报告同一条违规
var ruleOrder = []string{
	RuleRequired,
	RuleInteger, RulePositive, RuleNegative, RuleMin, RuleMax, RuleRange,
	RuleMinLength, RuleMaxLength,
	RuleEnum, RuleMatch,
	RuleValidEmail, RuleValidURL, RuleValidUUID,
	RuleValidate,
}

var knownRules = func() map[string]bool {
	m := make(map[string]bool, len(ruleOrder))
	for _, r := range ruleOrder {
		m[r] = true
	}
	return m
}()

// Rules 字段规则声明，例如：
//
//	validation.Rules{"$required": true, "$minLength": 3, "$enum": []any{"a", "b"}}
//
// $range 取 [min, max]；$match 取正则字符串或 *regexp.Regexp；
// $validate 取 IValidator 或 func(any) error。
type Rules map[string]any

// Check 检查规则声明本身：未知规则名或参数类型错误返回 ConfigurationError
func (r Rules) Check(field string) error {
	for name, arg := range r {
		if !knownRules[name] {
			return errors.NewConfigurationError(fmt.Sprintf("字段 %s 声明了未知规则 %s", field, name))
		}
		if err := checkArg(name, arg); err != nil {
			return errors.NewConfigurationError(fmt.Sprintf("字段 %s 的规则 %s 参数非法: %v", field, name, err))
		}
	}
	return nil
}

func checkArg(name string, arg any) error {
	switch name {
	case RuleMinLength, RuleMaxLength:
		if _, ok := conv.ToInt64(arg); !ok {
			return fmt.Errorf("需要整数")
		}
	case RuleMin, RuleMax:
		if _, ok := conv.ToFloat(arg); !ok {
			return fmt.Errorf("需要数值")
		}
	case RuleRange:
		bounds, ok := conv.ToSlice(arg)
		if !ok || len(bounds) != 2 {
			return fmt.Errorf("需要 [min, max]")
		}
	case RuleEnum:
		if _, ok := conv.ToSlice(arg); !ok {
			return fmt.Errorf("需要列表")
		}
	case RuleMatch:
		if _, err := compilePattern(arg); err != nil {
			return err
		}
	case RuleValidate:
		if validatorOf(arg) == nil {
			return fmt.Errorf("需要 IValidator 或 func(any) error")
		}
	}
	return nil
}

// Validate 按规则校验字段的新值，违规时返回 NewRuleError(field, rule, value)。
// 值为空且未声明 $required 时跳过其余规则。
func Validate(field string, rules Rules, value any) error {
	if len(rules) == 0 {
		return nil
	}
	if isEmpty(value) {
		if conv.Truthy(rules[RuleRequired]) {
			return errors.NewRuleError(field, RuleRequired, value)
		}
		return nil
	}

	for _, name := range ruleOrder {
		arg, ok := rules[name]
		if !ok || name == RuleRequired {
			continue
		}
		if err := apply(name, arg, value); err != nil {
			return errors.NewRuleError(field, name, value).WithContext("reason", err.Error())
		}
	}
	return nil
}

// ValidateAll 校验整条记录，返回第一条违规（按字段名顺序由调用方决定）
func ValidateAll(fields []string, rules map[string]Rules, values map[string]any) error {
	for _, f := range fields {
		if err := Validate(f, rules[f], values[f]); err != nil {
			return err
		}
	}
	return nil
}

func apply(name string, arg, value any) error {
	switch name {
	case RuleInteger:
		if conv.Truthy(arg) && !conv.IsInteger(value) {
			return fmt.Errorf("不是整数")
		}
	case RulePositive:
		if conv.Truthy(arg) {
			if f, ok := conv.ToFloat(value); !ok || f <= 0 {
				return fmt.Errorf("不是正数")
			}
		}
	case RuleNegative:
		if conv.Truthy(arg) {
			if f, ok := conv.ToFloat(value); !ok || f >= 0 {
				return fmt.Errorf("不是负数")
			}
		}
	case RuleMin:
		bound, _ := conv.ToFloat(arg)
		return ValidateBounds(value, bound, posInf)
	case RuleMax:
		bound, _ := conv.ToFloat(arg)
		return ValidateBounds(value, negInf, bound)
	case RuleRange:
		bounds, ok := conv.ToSlice(arg)
		if !ok || len(bounds) != 2 {
			return fmt.Errorf("规则参数非法")
		}
		lo, _ := conv.ToFloat(bounds[0])
		hi, _ := conv.ToFloat(bounds[1])
		return ValidateBounds(value, lo, hi)
	case RuleMinLength:
		n, _ := conv.ToInt64(arg)
		return ValidateLength(value, n, -1)
	case RuleMaxLength:
		n, _ := conv.ToInt64(arg)
		return ValidateLength(value, 0, n)
	case RuleEnum:
		options, _ := conv.ToSlice(arg)
		return ValidateEnum(value, options)
	case RuleMatch:
		re, err := compilePattern(arg)
		if err != nil {
			return err
		}
		if !re.MatchString(fmt.Sprint(value)) {
			return fmt.Errorf("不匹配 %s", re.String())
		}
	case RuleValidEmail:
		if conv.Truthy(arg) {
			return ValidateEmail(fmt.Sprint(value))
		}
	case RuleValidURL:
		if conv.Truthy(arg) {
			u, err := url.ParseRequestURI(fmt.Sprint(value))
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("不是合法 URL")
			}
		}
	case RuleValidUUID:
		if conv.Truthy(arg) {
			if _, err := uuid.Parse(fmt.Sprint(value)); err != nil {
				return fmt.Errorf("不是合法 UUID")
			}
		}
	case RuleValidate:
		if v := validatorOf(arg); v != nil {
			return v.Validate(value)
		}
	}
	return nil
}

// measure 数值取自身，字符串/列表取长度
func measure(value any) (float64, bool) {
	if conv.IsNumber(value) {
		return conv.ToFloat(value)
	}
	if l, ok := length(value); ok {
		return float64(l), true
	}
	return 0, false
}

func length(value any) (int, bool) {
	if s, ok := value.(string); ok {
		return len([]rune(s)), true
	}
	if s, ok := conv.ToSlice(value); ok {
		return len(s), true
	}
	if m, ok := conv.ToMap(value); ok {
		return len(m), true
	}
	return 0, false
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	if s, ok := conv.ToSlice(value); ok {
		return len(s) == 0
	}
	return false
}

func validatorOf(arg any) IValidator {
	switch v := arg.(type) {
	case IValidator:
		return v
	case func(any) error:
		return ValidatorFunc(v)
	}
	return nil
}

var patternCache sync.Map // string → *regexp.Regexp

func compilePattern(arg any) (*regexp.Regexp, error) {
	switch p := arg.(type) {
	case *regexp.Regexp:
		return p, nil
	case string:
		if cached, ok := patternCache.Load(p); ok {
			return cached.(*regexp.Regexp), nil
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patternCache.Store(p, re)
		return re, nil
	}
	return nil, fmt.Errorf("需要正则表达式")
}
