package sql

import (
	"fmt"
	"strings"

	"ormkit/errors"
)

// IsSafeIdentifier 判断 name 是否可以直接拼进语句的标识符位置。
//
// 接受 foo、bar_1 以及以点分隔的限定名 schema.table；每段以字母或下划线开头，
// 其余字符限于字母、数字和下划线。空格、分号、引号一律拒绝。
func IsSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if !isIdentPart(part) {
			return false
		}
	}
	return true
}

func isIdentPart(s string) bool {
	if s == "" {
		return false
	}
	for i, ch := range []byte(s) {
		switch {
		case ch == '_', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case i > 0 && ch >= '0' && ch <= '9':
		default:
			return false
		}
	}
	return true
}

// checkIdentifiers 返回第一个不安全标识符对应的校验错误
func checkIdentifiers(kind string, names ...string) error {
	for _, n := range names {
		if !IsSafeIdentifier(n) {
			return errors.NewValidationError(fmt.Sprintf("不安全的%s名 %q", kind, n)).
				WithContext("identifier", n)
		}
	}
	return nil
}
