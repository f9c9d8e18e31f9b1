package sql

import (
	"context"
	"strings"

	core "ormkit/data/db"
	"ormkit/data/db/dialect"
)

// selectBuilder 列与表名原样写入，转义由调用方完成
type selectBuilder struct {
	db      core.IExecutor
	dialect dialect.Dialect

	distinct bool
	cols     []string
	table    string
	where    predicates
	groupBy  []string
	having   predicates
	orderBy  string
	limit    int
	offset   int
	lock     string
}

func (b *selectBuilder) Distinct() ISelectBuilder {
	b.distinct = true
	return b
}

func (b *selectBuilder) From(table string) ISelectBuilder {
	b.table = table
	return b
}

func (b *selectBuilder) Where(cond string, args ...any) ISelectBuilder {
	b.where.and(cond, args)
	return b
}

func (b *selectBuilder) Or(cond string, args ...any) ISelectBuilder {
	b.where.or(cond, args)
	return b
}

func (b *selectBuilder) GroupBy(cols ...string) ISelectBuilder {
	b.groupBy = append(b.groupBy, cols...)
	return b
}

func (b *selectBuilder) Having(cond string, args ...any) ISelectBuilder {
	b.having.and(cond, args)
	return b
}

func (b *selectBuilder) OrderBy(expr string) ISelectBuilder {
	b.orderBy = expr
	return b
}

func (b *selectBuilder) Limit(n int) ISelectBuilder {
	b.limit = n
	return b
}

func (b *selectBuilder) Offset(n int) ISelectBuilder {
	b.offset = n
	return b
}

func (b *selectBuilder) Lock(clause string) ISelectBuilder {
	b.lock = clause
	return b
}

func (b *selectBuilder) Build() (Statement, error) {
	if b.table == "" {
		return Statement{}, builderError("select", "缺少 FROM 表名")
	}

	var w writer
	w.write("SELECT ")
	if b.distinct {
		w.write("DISTINCT ")
	}
	w.write(strings.Join(b.cols, ", "), " FROM ", b.table)
	w.clause("WHERE", b.where)
	if len(b.groupBy) > 0 {
		w.write(" GROUP BY ", strings.Join(b.groupBy, ", "))
	}
	w.clause("HAVING", b.having)
	if b.orderBy != "" {
		w.write(" ORDER BY ", b.orderBy)
	}
	b.writePaging(&w)
	w.write(b.lock)
	return w.statement(), nil
}

// writePaging sqlite 与 mysql 都不接受单独的 OFFSET，缺 LIMIT 时补一个“无上限”
func (b *selectBuilder) writePaging(w *writer) {
	switch {
	case b.limit > 0:
		w.write(" LIMIT ")
		w.param(b.limit)
	case b.offset > 0 && b.dialect.Name() == dialect.NameMySQL:
		w.write(" LIMIT 18446744073709551615")
	case b.offset > 0 && b.dialect.Name() != dialect.NamePostgres:
		w.write(" LIMIT -1")
	}
	if b.offset > 0 {
		w.write(" OFFSET ")
		w.param(b.offset)
	}
}

func (b *selectBuilder) Query(ctx context.Context) (core.IRows, error) {
	st, err := b.Build()
	if err != nil {
		return nil, err
	}
	return b.db.Query(ctx, st.SQL, st.Args...)
}

func (b *selectBuilder) QueryRow(ctx context.Context) core.IRow {
	st, err := b.Build()
	if err != nil {
		return errRow{err: err}
	}
	return b.db.QueryRow(ctx, st.SQL, st.Args...)
}
