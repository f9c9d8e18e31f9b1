package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	core "ormkit/data/db"
	"ormkit/data/db/dialect"
)

// insertBuilder 多行 VALUES；每行长度必须与列数一致
type insertBuilder struct {
	db      core.IExecutor
	dialect dialect.Dialect

	table   string
	columns []string
	rows    [][]any
}

func (b *insertBuilder) Columns(cols ...string) IInsertBuilder {
	b.columns = cols
	return b
}

func (b *insertBuilder) Values(vals ...any) IInsertBuilder {
	if len(vals) > 0 {
		b.rows = append(b.rows, vals)
	}
	return b
}

func (b *insertBuilder) Build() (Statement, error) {
	switch {
	case len(b.columns) == 0:
		return Statement{}, builderError("insert", "未指定列")
	case len(b.rows) == 0:
		return Statement{}, builderError("insert", "至少需要一行数据")
	}
	for i, row := range b.rows {
		if len(row) != len(b.columns) {
			return Statement{}, builderError("insert",
				fmt.Sprintf("第 %d 行有 %d 个值，但声明了 %d 列", i+1, len(row), len(b.columns)))
		}
	}
	if err := checkIdentifiers("表", b.table); err != nil {
		return Statement{}, err
	}
	if err := checkIdentifiers("列", b.columns...); err != nil {
		return Statement{}, err
	}

	var w writer
	w.write("INSERT INTO ", b.dialect.QuoteIdentifier(b.table), " (", b.quoted(), ") VALUES ")
	for i, row := range b.rows {
		if i > 0 {
			w.write(", ")
		}
		w.write("(")
		for j, v := range row {
			if j > 0 {
				w.write(", ")
			}
			w.param(v)
		}
		w.write(")")
	}
	return w.statement(), nil
}

func (b *insertBuilder) quoted() string {
	out := make([]string, len(b.columns))
	for i, c := range b.columns {
		out[i] = b.dialect.QuoteIdentifier(c)
	}
	return strings.Join(out, ", ")
}

func (b *insertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return execStatement(ctx, b.db, b.Build)
}
