package errors

import "fmt"

// NewConfigurationError 配置缺失或格式错误
func NewConfigurationError(msg string) IError {
	return NewError(ErrCodeConfiguration, msg)
}

// NewConnectionError 连接尝试失败，携带 provider 名称
func NewConnectionError(provider string, cause error) IError {
	return NewErrorWithCause(ErrCodeConnection,
		fmt.Sprintf("provider %q 连接失败", provider), cause).
		WithContext("provider", provider)
}

// NewConnectionTimeout 等待连接超时
func NewConnectionTimeout(provider string, timeoutMs int64) IError {
	return NewError(ErrCodeConnectionTimeout,
		fmt.Sprintf("等待 provider %q 连接超时（%dms），请检查配置或开启 autoConnect", provider, timeoutMs)).
		WithDetails(map[string]any{"provider": provider, "timeout_ms": timeoutMs})
}

// NewValidationError 创建验证错误
func NewValidationError(msg string) IError {
	return NewError(ErrCodeValidation, msg)
}

// NewOptionError 查询选项取值非法
func NewOptionError(option, constraint string, value any) IError {
	return NewError(ErrCodeValidation,
		fmt.Sprintf("选项 %s 非法: %s（当前 %v）", option, constraint, value)).
		WithDetails(map[string]any{"option": option, "constraint": constraint, "value": value})
}

// NewRuleError 字段规则校验失败
func NewRuleError(field, rule string, value any) IError {
	return NewError(ErrCodeValidation,
		fmt.Sprintf("字段 %s 未通过规则 %s（当前 %v）", field, rule, value)).
		WithDetails(map[string]any{"field": field, "rule": rule, "value": value})
}

// NewConflictError 创建冲突错误
func NewConflictError(msg string) IError {
	return NewError(ErrCodeConflict, msg)
}

// NewNotFoundError 创建未找到错误，what 为缺失对象的名称
func NewNotFoundError(what string) IError {
	return NewError(ErrCodeNotFound, fmt.Sprintf("%s 未找到", what)).
		WithContext("name", what)
}

// NewArithmeticError 数值运算产生除零或非有限结果
func NewArithmeticError(field, op string, value any) IError {
	return NewError(ErrCodeArithmetic,
		fmt.Sprintf("字段 %s 执行 %s 得到非法结果（%v）", field, op, value)).
		WithDetails(map[string]any{"field": field, "op": op, "value": value})
}
