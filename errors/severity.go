package errors

import stdErrors "errors"

// Severity 错误严重级别，仅用于日志/终端展示
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
	SeverityFatal Severity = "fatal"
)

const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorPurple = "\033[35m"
)

func severityOf(code ErrorCode) Severity {
	switch code {
	case ErrCodeNotFound:
		return SeverityInfo
	case ErrCodeValidation, ErrCodeConflict, ErrCodeArithmetic:
		return SeverityWarn
	case ErrCodeConfiguration:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// Tag 返回带 ANSI 颜色的级别标签，例如 "\033[31m[ERROR]\033[0m"
func (s Severity) Tag() string {
	color := colorRed
	label := "[ERROR]"
	switch s {
	case SeverityInfo:
		color, label = colorCyan, "[INFO]"
	case SeverityWarn:
		color, label = colorYellow, "[WARN]"
	case SeverityFatal:
		color, label = colorPurple, "[FATAL]"
	}
	return color + label + colorReset
}

// Pretty 返回带级别标签的错误描述
func Pretty(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.Severity().Tag() + " " + appErr.Error()
	}
	return SeverityError.Tag() + " " + err.Error()
}
