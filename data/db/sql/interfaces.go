// Package sql 提供方言感知的 SQL 语句构建器
package sql

import (
	"context"
	"database/sql"

	core "ormkit/data/db"
	"ormkit/data/db/dialect"
)

// ISql 提供统一的 SQL 构建与执行接口。
type ISql interface {
	Select(columns ...string) ISelectBuilder
	InsertInto(table string) IInsertBuilder
	Update(table string) IUpdateBuilder
	DeleteFrom(table string) IDeleteBuilder
	CreateTable(table string) ICreateTableBuilder

	// Dialect 返回推断出的方言
	Dialect() dialect.Dialect
	// Executor 返回执行语句的连接或事务
	Executor() core.IExecutor
}

// ISelectBuilder 构建 SELECT 语句。列名与表名由调用方负责转义。
type ISelectBuilder interface {
	Distinct() ISelectBuilder
	From(table string) ISelectBuilder
	// Where 追加 AND 条件；Or 把条件与上一个 Where 片段合并为 (a OR b)
	Where(cond string, args ...any) ISelectBuilder
	Or(cond string, args ...any) ISelectBuilder
	GroupBy(cols ...string) ISelectBuilder
	Having(cond string, args ...any) ISelectBuilder
	OrderBy(expr string) ISelectBuilder
	Limit(n int) ISelectBuilder
	Offset(n int) ISelectBuilder
	// Lock 追加方言生成的行锁子句（见 dialect.LockClause）
	Lock(clause string) ISelectBuilder
	Build() (Statement, error)
	Query(ctx context.Context) (core.IRows, error)
	QueryRow(ctx context.Context) core.IRow
}

// IInsertBuilder 构建 INSERT 语句。
type IInsertBuilder interface {
	Columns(cols ...string) IInsertBuilder
	Values(vals ...any) IInsertBuilder
	Build() (Statement, error)
	Exec(ctx context.Context) (sql.Result, error)
}

// IUpdateBuilder 构建 UPDATE 语句。
type IUpdateBuilder interface {
	Set(column string, val any) IUpdateBuilder
	SetMap(values map[string]any) IUpdateBuilder
	Where(cond string, args ...any) IUpdateBuilder
	Build() (Statement, error)
	Exec(ctx context.Context) (sql.Result, error)
}

// IDeleteBuilder 构建 DELETE 语句。
type IDeleteBuilder interface {
	Where(cond string, args ...any) IDeleteBuilder
	Limit(n int) IDeleteBuilder
	Build() (Statement, error)
	Exec(ctx context.Context) (sql.Result, error)
}

// ICreateTableBuilder 构建 CREATE TABLE IF NOT EXISTS 语句。
type ICreateTableBuilder interface {
	// Column 追加列，definition 为列类型及约束（例如 "TEXT NOT NULL UNIQUE"）
	Column(name, definition string) ICreateTableBuilder
	// ForeignKey 追加外键约束
	ForeignKey(column, refTable, refColumn, onDelete string) ICreateTableBuilder
	Build() (Statement, error)
	Exec(ctx context.Context) error
}

type sqlImpl struct {
	db      core.IExecutor
	dialect dialect.Dialect
}

// New 创建 ISql 实例。
func New(db core.IExecutor) ISql {
	return &sqlImpl{
		db:      db,
		dialect: dialect.FromDatabase(db),
	}
}

func (s *sqlImpl) Select(columns ...string) ISelectBuilder {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return &selectBuilder{
		db:      s.db,
		dialect: s.dialect,
		cols:    columns,
	}
}

func (s *sqlImpl) InsertInto(table string) IInsertBuilder {
	return &insertBuilder{db: s.db, dialect: s.dialect, table: table}
}

func (s *sqlImpl) Update(table string) IUpdateBuilder {
	return &updateBuilder{db: s.db, dialect: s.dialect, table: table}
}

func (s *sqlImpl) DeleteFrom(table string) IDeleteBuilder {
	return &deleteBuilder{db: s.db, dialect: s.dialect, table: table}
}

func (s *sqlImpl) CreateTable(table string) ICreateTableBuilder {
	return &createTableBuilder{db: s.db, dialect: s.dialect, table: table}
}

func (s *sqlImpl) Dialect() dialect.Dialect { return s.dialect }

func (s *sqlImpl) Executor() core.IExecutor {
	return s.db
}
