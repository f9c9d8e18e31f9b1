package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	sharederrors "ormkit/errors"
)

func TestValidateLength(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		min     int64
		max     int64
		wantErr bool
	}{
		{name: "有效长度", value: "hello", min: 3, max: 10},
		{name: "长度太短", value: "ab", min: 3, max: 10, wantErr: true},
		{name: "长度太长", value: "abcdefghijk", min: 3, max: 10, wantErr: true},
		{name: "多字节字符按字符计", value: "你好世界", min: 1, max: 4},
		{name: "无最大限制", value: "very long string that exceeds normal limits", min: 3, max: -1},
		{name: "列表", value: []any{1, 2}, min: 3, max: -1, wantErr: true},
		{name: "数值没有长度", value: 42, min: 0, max: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLength(tt.value, tt.min, tt.max)
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestValidateBounds(t *testing.T) {
	assert.NoError(t, ValidateBounds(5, 1, 10))
	assert.NoError(t, ValidateBounds(int64(1), 1, 1))
	assert.Error(t, ValidateBounds(0.5, 1, 10))
	assert.Error(t, ValidateBounds(11, math.Inf(-1), 10))
	assert.NoError(t, ValidateBounds("abc", 3, math.Inf(1)))
	assert.Error(t, ValidateBounds(true, 0, 1))
}

func TestValidateEmail(t *testing.T) {
	for _, ok := range []string{"user@example.com", "user.name+tag@example.co.uk"} {
		assert.NoError(t, ValidateEmail(ok), ok)
	}
	for _, bad := range []string{"", "userexample.com", "user@", "@example.com", "user@example"} {
		assert.Error(t, ValidateEmail(bad), bad)
	}
}

func TestValidateEnum(t *testing.T) {
	options := []any{"active", "inactive", 3}
	assert.NoError(t, ValidateEnum("active", options))
	assert.NoError(t, ValidateEnum(3.0, options))
	assert.Error(t, ValidateEnum("deleted", options))
	assert.Error(t, ValidateEnum(nil, options))
}

func TestValidatePageParams(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		pageSize int
		option   string
	}{
		{name: "有效分页", page: 1, pageSize: 20},
		{name: "页码为0", page: 0, pageSize: 20, option: "page"},
		{name: "每页大小为负数", page: 1, pageSize: -10, option: "size"},
		{name: "每页大小超过上限", page: 1, pageSize: MaxPageSize + 1, option: "size"},
		{name: "最大每页大小边界", page: 1, pageSize: MaxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePageParams(tt.page, tt.pageSize)
			if tt.option == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, sharederrors.IsValidation(err))
			assert.Equal(t, tt.option, sharederrors.Detail(err, "option"))
		})
	}
}
