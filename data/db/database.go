// Package db 是原生引擎与 database/sql 之间的薄抽象：
// 执行器（DB 与事务共用）、结果集、连接配置与工厂。
// 具体实现见 data/db/basic（modernc sqlite 与 go-sql-driver/mysql）。
package db

import (
	"context"
	"database/sql"
	"time"
)

// IExecutor 可执行 SQL 的对象；语句统一使用 ? 占位符，由实现按方言改写
type IExecutor interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// DriverName 底层驱动名：sqlite | mysql，供 dialect.FromDatabase 推断方言
	DriverName() string
}

// IDatabase 连接池
type IDatabase interface {
	IExecutor

	Begin(ctx context.Context) (ITransaction, error)
	Ping(ctx context.Context) error
	Close() error
}

// ITransaction 事务。嵌套事务不受支持，调用方在上层协调边界。
type ITransaction interface {
	IExecutor

	Commit() error
	Rollback() error
}

// IRows 查询结果集
type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
	Columns() ([]string, error)
}

// IRow 单行结果
type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DBConfig 数据库配置
type DBConfig struct {
	Driver string // mysql, sqlite
	DSN    string

	// 连接池；内存 sqlite 固定为单连接
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// PingTimeout 打开后可用性检查的超时，默认 3s
	PingTimeout time.Duration
}

// NewDatabaseFunc 打开数据库的工厂，model.WithOpener 可以替换它
type NewDatabaseFunc func(ctx context.Context, config DBConfig) (IDatabase, error)
