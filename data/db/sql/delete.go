package sql

import (
	"context"
	"database/sql"

	core "ormkit/data/db"
	"ormkit/data/db/dialect"
)

type deleteBuilder struct {
	db      core.IExecutor
	dialect dialect.Dialect

	table string
	where predicates
	limit int
}

func (b *deleteBuilder) Where(cond string, args ...any) IDeleteBuilder {
	b.where.and(cond, args)
	return b
}

// Limit 方言不支持 DELETE ... LIMIT 时忽略
func (b *deleteBuilder) Limit(n int) IDeleteBuilder {
	b.limit = n
	return b
}

func (b *deleteBuilder) Build() (Statement, error) {
	if err := checkIdentifiers("表", b.table); err != nil {
		return Statement{}, err
	}
	var w writer
	w.write("DELETE FROM ", b.dialect.QuoteIdentifier(b.table))
	w.clause("WHERE", b.where)
	if b.limit > 0 && b.dialect.SupportsDeleteLimit() {
		w.write(" LIMIT ")
		w.param(b.limit)
	}
	return w.statement(), nil
}

func (b *deleteBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return execStatement(ctx, b.db, b.Build)
}
