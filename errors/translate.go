package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// PersistenceKind 持久化错误的子类别
type PersistenceKind string

const (
	KindUniqueConstraint  PersistenceKind = "unique_constraint"
	KindForeignKey        PersistenceKind = "foreign_key"
	KindNotNull           PersistenceKind = "not_null"
	KindTimeout           PersistenceKind = "timeout"
	KindAccessDenied      PersistenceKind = "access_denied"
	KindHostNotFound      PersistenceKind = "host_not_found"
	KindConnectionRefused PersistenceKind = "connection_refused"
	KindDatabase          PersistenceKind = "database"
)

var kindMessages = map[PersistenceKind]string{
	KindUniqueConstraint:  "唯一约束冲突",
	KindForeignKey:        "外键约束失败",
	KindNotNull:           "非空约束失败",
	KindTimeout:           "数据库操作超时",
	KindAccessDenied:      "数据库拒绝访问",
	KindHostNotFound:      "数据库主机不存在",
	KindConnectionRefused: "数据库拒绝连接",
	KindDatabase:          "数据库错误",
}

// NewPersistenceError 构造指定子类别的持久化错误
func NewPersistenceError(kind PersistenceKind, target string, cause error) IError {
	msg := kindMessages[kind]
	if msg == "" {
		msg = kindMessages[KindDatabase]
	}
	if target != "" {
		msg = fmt.Sprintf("%s（%s）", msg, target)
	}
	return NewErrorWithCause(ErrCodePersistence, msg, cause).
		WithDetails(map[string]any{"kind": kind, "target": target})
}

// PersistenceKindOf 返回持久化错误的子类别，非持久化错误返回空串
func PersistenceKindOf(err error) PersistenceKind {
	if !IsPersistence(err) {
		return ""
	}
	if kind, ok := Detail(err, "kind").(PersistenceKind); ok {
		return kind
	}
	return KindDatabase
}

// Translate 将底层驱动错误翻译为 PersistenceError。
//
// 已经是 IError 的错误原样返回；model 为出错的表/实体名，在无法从驱动消息中
// 解析出具体字段时作为 target。
func Translate(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(IError); ok {
		return err
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return err
	}

	kind, target := classify(err)
	if target == "" {
		target = model
	}
	return NewPersistenceError(kind, target, err)
}

func classify(err error) (PersistenceKind, string) {
	var sqliteErr *sqlite.Error
	if stdErrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return KindUniqueConstraint, constraintTarget(sqliteErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return KindForeignKey, ""
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return KindNotNull, constraintTarget(sqliteErr.Error())
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return KindTimeout, ""
		case sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
			return KindAccessDenied, ""
		}
		// 未开启扩展结果码时只能看到 SQLITE_CONSTRAINT，交给消息匹配
		return classifyMessage(sqliteErr.Error())
	}

	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062, 1586:
			return KindUniqueConstraint, mysqlKeyName(mysqlErr.Message)
		case 1216, 1217, 1451, 1452:
			return KindForeignKey, ""
		case 1048, 1364:
			return KindNotNull, ""
		case 1205, 3024:
			return KindTimeout, ""
		case 1044, 1045, 1142:
			return KindAccessDenied, ""
		}
		return KindDatabase, ""
	}

	if stdErrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, ""
	}

	var dnsErr *net.DNSError
	if stdErrors.As(err, &dnsErr) {
		return KindHostNotFound, dnsErr.Name
	}
	var opErr *net.OpError
	if stdErrors.As(err, &opErr) {
		if opErr.Timeout() {
			return KindTimeout, ""
		}
		return KindConnectionRefused, ""
	}

	return classifyMessage(err.Error())
}

// classifyMessage 兜底：按消息关键字识别
func classifyMessage(raw string) (PersistenceKind, string) {
	msg := strings.ToLower(raw)
	switch {
	case strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate"):
		return KindUniqueConstraint, constraintTarget(raw)
	case strings.Contains(msg, "foreign key"):
		return KindForeignKey, ""
	case strings.Contains(msg, "not null"):
		return KindNotNull, constraintTarget(raw)
	case strings.Contains(msg, "timeout"):
		return KindTimeout, ""
	case strings.Contains(msg, "access denied"):
		return KindAccessDenied, ""
	case strings.Contains(msg, "connection refused"):
		return KindConnectionRefused, ""
	case strings.Contains(msg, "no such host"):
		return KindHostNotFound, ""
	}
	return KindDatabase, ""
}

// constraintTarget 从 "UNIQUE constraint failed: users.email" 中取出 "users.email"
func constraintTarget(msg string) string {
	idx := strings.LastIndex(msg, "failed:")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(msg[idx+len("failed:"):])
	if i := strings.IndexAny(rest, " ()"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSuffix(rest, ",")
}

// mysqlKeyName 从 "Duplicate entry 'x' for key 'users.email'" 中取出键名
func mysqlKeyName(msg string) string {
	idx := strings.LastIndex(msg, "for key '")
	if idx < 0 {
		return ""
	}
	rest := msg[idx+len("for key '"):]
	return strings.TrimSuffix(rest, "'")
}
