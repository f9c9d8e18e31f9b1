package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

// TestFormatValue 测试值格式化
func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "字符串", value: "test", want: "test"},
		{name: "错误", value: errors.New("error message"), want: "error message"},
		{name: "整数", value: 123, want: "123"},
		{name: "布尔值", value: true, want: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(tt.value); got != tt.want {
				t.Errorf("formatValue() = %s, 期望 %s", got, tt.want)
			}
		})
	}
}

// TestStdLogger_Levels 测试各级别输出及字段
func TestStdLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerWithWriter("test", &buf, DebugLevel)
	ctx := context.Background()

	logger.Debug(ctx, "debug message", String("key", "value"))
	logger.Info(ctx, "info message", Int("count", 123))
	logger.Warn(ctx, "warn message", Bool("critical", true))
	logger.Error(ctx, "error message", Error(errors.New("test error")))

	output := buf.String()
	for _, want := range []string{
		"[DEBUG] test debug message key=value",
		"[INFO] test info message count=123",
		"[WARN] test warn message critical=true",
		"[ERROR] test error message error=test error",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("输出不包含 %q:\n%s", want, output)
		}
	}
}

// TestStdLogger_MinLevel 测试最低级别过滤
func TestStdLogger_MinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerWithWriter("", &buf, WarnLevel)
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "hidden")
	logger.Warn(ctx, "shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Error("低于最低级别的日志不应输出")
	}
	if !strings.Contains(output, "shown") {
		t.Error("Warn 日志应输出")
	}
}

// TestStdLogger_WithFields_Immutable 测试WithFields不改变原Logger
func TestStdLogger_WithFields_Immutable(t *testing.T) {
	logger := NewStdLogger("test")
	originalFieldsCount := len(logger.fields)

	loggerWithFields := logger.WithFields(String("key", "value"))

	if len(logger.fields) != originalFieldsCount {
		t.Error("WithFields改变了原Logger的fields")
	}
	newLogger := loggerWithFields.(*StdLogger)
	if len(newLogger.fields) != originalFieldsCount+1 {
		t.Errorf("新Logger的fields数量 = %d, 期望 %d", len(newLogger.fields), originalFieldsCount+1)
	}
}

// TestMemoryLogger 测试内存Logger共享条目
func TestMemoryLogger(t *testing.T) {
	logger := NewMemoryLogger()
	child := logger.WithFields(String("component", "cache"))

	child.Info(context.Background(), "hit", String("key", "k1"))

	entries := logger.Entries()
	if len(entries) != 1 {
		t.Fatalf("条目数 = %d, 期望 1", len(entries))
	}
	if v, ok := entries[0].Field("component"); !ok || v != "cache" {
		t.Errorf("component 字段 = %v", v)
	}
	if entries[0].Level != InfoLevel {
		t.Errorf("级别 = %s", entries[0].Level)
	}
}

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	if ParseLevel("warn") != WarnLevel {
		t.Error("warn 解析错误")
	}
	if ParseLevel("unknown") != InfoLevel {
		t.Error("未知级别应回退到 Info")
	}
	if lvl, ok := LookupLevel(" ERROR "); !ok || lvl != ErrorLevel {
		t.Errorf("LookupLevel(ERROR) = %v, %v", lvl, ok)
	}
	if _, ok := LookupLevel("verbose"); ok {
		t.Error("verbose 不是合法级别")
	}
}

// TestGlobalLogger 测试全局Logger
func TestGlobalLogger(t *testing.T) {
	originalLogger := GetLogger()
	defer SetLogger(originalLogger)

	mem := NewMemoryLogger()
	SetLogger(mem)

	Component("model").Warn(context.Background(), "slow query")

	entries := mem.Entries()
	if len(entries) != 1 || entries[0].Message != "slow query" {
		t.Fatalf("全局Logger未生效: %+v", entries)
	}
}
