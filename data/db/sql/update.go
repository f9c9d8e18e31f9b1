package sql

import (
	"context"
	"database/sql"
	"slices"

	core "ormkit/data/db"
	"ormkit/data/db/dialect"
)

type assignment struct {
	column string
	value  any
}

type updateBuilder struct {
	db      core.IExecutor
	dialect dialect.Dialect

	table string
	sets  []assignment
	where predicates
}

func (b *updateBuilder) Set(col string, val any) IUpdateBuilder {
	b.sets = append(b.sets, assignment{column: col, value: val})
	return b
}

// SetMap 按列名排序追加，生成的语句与 map 遍历顺序无关
func (b *updateBuilder) SetMap(values map[string]any) IUpdateBuilder {
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	for _, c := range cols {
		b.Set(c, values[c])
	}
	return b
}

func (b *updateBuilder) Where(cond string, args ...any) IUpdateBuilder {
	b.where.and(cond, args)
	return b
}

func (b *updateBuilder) Build() (Statement, error) {
	if len(b.sets) == 0 {
		return Statement{}, builderError("update", "没有要更新的列")
	}
	if err := checkIdentifiers("表", b.table); err != nil {
		return Statement{}, err
	}

	var w writer
	w.write("UPDATE ", b.dialect.QuoteIdentifier(b.table), " SET ")
	for i, a := range b.sets {
		if err := checkIdentifiers("列", a.column); err != nil {
			return Statement{}, err
		}
		if i > 0 {
			w.write(", ")
		}
		w.write(b.dialect.QuoteIdentifier(a.column), " = ")
		w.param(a.value)
	}
	w.clause("WHERE", b.where)
	return w.statement(), nil
}

func (b *updateBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return execStatement(ctx, b.db, b.Build)
}
