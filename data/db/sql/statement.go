package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	core "ormkit/data/db"
	"ormkit/errors"
)

// Statement 构建完成的语句：带 ? 占位符的文本与按出现顺序排列的参数。
// 占位符由执行层按方言改写（见 dialect.Rebind）。
type Statement struct {
	SQL  string
	Args []any
}

func (s Statement) String() string {
	return fmt.Sprintf("%s %v", s.SQL, s.Args)
}

// predicates 以 AND 连接的条件片段
type predicates struct {
	parts []string
	args  []any
}

func (p *predicates) and(cond string, args []any) {
	if cond == "" {
		return
	}
	p.parts = append(p.parts, cond)
	p.args = append(p.args, args...)
}

// or 与最近一个片段组成 (last OR cond)；没有片段时等同 and
func (p *predicates) or(cond string, args []any) {
	if cond == "" {
		return
	}
	if len(p.parts) == 0 {
		p.and(cond, args)
		return
	}
	last := len(p.parts) - 1
	p.parts[last] = "(" + p.parts[last] + " OR " + cond + ")"
	p.args = append(p.args, args...)
}

// writer 累积语句文本与参数；每次 Build 使用新的 writer，builder 自身状态不被修改
type writer struct {
	sb   strings.Builder
	args []any
}

func (w *writer) write(parts ...string) {
	for _, p := range parts {
		w.sb.WriteString(p)
	}
}

func (w *writer) param(v any) {
	w.sb.WriteString("?")
	w.args = append(w.args, v)
}

// clause 写入 " KEYWORD a AND b"；没有条件时什么也不写
func (w *writer) clause(keyword string, p predicates) {
	if len(p.parts) == 0 {
		return
	}
	w.write(" ", keyword, " ", strings.Join(p.parts, " AND "))
	w.args = append(w.args, p.args...)
}

func (w *writer) statement() Statement {
	return Statement{SQL: w.sb.String(), Args: w.args}
}

// errRow 构建失败时由 QueryRow 返回，Scan 直接报告构建错误
type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
func (r errRow) Err() error        { return r.err }

var _ core.IRow = errRow{}

func execStatement(ctx context.Context, db core.IExecutor, build func() (Statement, error)) (sql.Result, error) {
	st, err := build()
	if err != nil {
		return nil, err
	}
	return db.Exec(ctx, st.SQL, st.Args...)
}

func builderError(stmt, msg string) error {
	return errors.NewValidationError(fmt.Sprintf("%s: %s", stmt, msg)).WithContext("statement", stmt)
}
