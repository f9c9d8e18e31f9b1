// Package errors 封闭的错误分类：调用方只会看到配置、连接、连接超时、校验、冲突、
// 未找到、持久化、算术与内部错误九类，底层驱动错误一律经 Translate 翻译。
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeConnection        ErrorCode = "CONNECTION_ERROR"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodePersistence       ErrorCode = "PERSISTENCE_ERROR"
	ErrCodeArithmetic        ErrorCode = "ARITHMETIC_ERROR"
)

// IError 错误接口
type IError interface {
	error

	Code() ErrorCode
	Message() string
	Cause() error

	// Details 结构化详情，例如 provider、field、rule、option
	Details() map[string]any

	Stack() string

	// Severity 严重级别（仅用于展示）
	Severity() Severity

	// WithDetails/WithContext 返回追加了详情的副本，原错误不变
	WithDetails(details map[string]any) IError
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

func newAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		code:    code,
		message: message,
		cause:   cause,
		details: make(map[string]any),
		stack:   captureStack(4),
	}
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return newAppError(code, message, nil)
}

// NewErrorWithCause 创建带原因的错误
func NewErrorWithCause(code ErrorCode, message string, cause error) IError {
	return newAppError(code, message, cause)
}

// WrapError 包装错误，err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return newAppError(code, message, err)
}

// Error 形如 "[NOT_FOUND] User 未找到" 或 "[PERSISTENCE_ERROR] 唯一约束冲突（users.email）: <cause>"
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }

func (e *AppError) Message() string { return e.message }

func (e *AppError) Cause() error { return e.cause }

func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

func (e *AppError) Stack() string { return e.stack }

// Severity 按错误代码推导严重级别
func (e *AppError) Severity() Severity { return severityOf(e.code) }

// Is 同错误代码的 AppError 视为相等，否则沿 cause 比较
func (e *AppError) Is(target error) bool {
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	return e.cause != nil && stdErrors.Is(e.cause, target)
}

func (e *AppError) Unwrap() error { return e.cause }

func (e *AppError) WithDetails(details map[string]any) IError {
	out := e.with()
	maps.Copy(out.details, details)
	return out
}

func (e *AppError) WithContext(key string, value any) IError {
	out := e.with()
	out.details[key] = value
	return out
}

// with 复制一份错误（保留原堆栈）
func (e *AppError) with() *AppError {
	details := make(map[string]any, len(e.details)+1)
	maps.Copy(details, e.details)
	return &AppError{code: e.code, message: e.message, cause: e.cause, details: details, stack: e.stack}
}

// 各错误代码的哨兵，只用于 errors.Is 按代码比较
var (
	ErrInternal          = NewError(ErrCodeInternal, "内部错误")
	ErrConfiguration     = NewError(ErrCodeConfiguration, "配置错误")
	ErrConnection        = NewError(ErrCodeConnection, "连接失败")
	ErrConnectionTimeout = NewError(ErrCodeConnectionTimeout, "等待连接超时")
	ErrValidation        = NewError(ErrCodeValidation, "数据验证失败")
	ErrConflict          = NewError(ErrCodeConflict, "资源冲突")
	ErrNotFound          = NewError(ErrCodeNotFound, "资源未找到")
	ErrPersistence       = NewError(ErrCodePersistence, "持久化失败")
	ErrArithmetic        = NewError(ErrCodeArithmetic, "算术错误")
)

func IsNotFound(err error) bool          { return IsErrorCode(err, ErrCodeNotFound) }
func IsValidation(err error) bool        { return IsErrorCode(err, ErrCodeValidation) }
func IsConflict(err error) bool          { return IsErrorCode(err, ErrCodeConflict) }
func IsConfiguration(err error) bool     { return IsErrorCode(err, ErrCodeConfiguration) }
func IsConnection(err error) bool        { return IsErrorCode(err, ErrCodeConnection) }
func IsConnectionTimeout(err error) bool { return IsErrorCode(err, ErrCodeConnectionTimeout) }
func IsPersistence(err error) bool       { return IsErrorCode(err, ErrCodePersistence) }
func IsArithmetic(err error) bool        { return IsErrorCode(err, ErrCodeArithmetic) }

// IsErrorCode 检查最外层 AppError 的错误代码
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stdErrors.As(err, &appErr) && appErr.code == code
}

// GetErrorCode 获取错误代码；非 AppError 视为内部错误
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

// Detail 读取错误详情中的某个键，不存在时返回 nil
func Detail(err error, key string) any {
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.Details()[key]
	}
	return nil
}

// captureStack 从第 skip 层调用开始记录最多 32 帧
func captureStack(skip int) string {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}
