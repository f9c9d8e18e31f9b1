package basic

import (
	"context"
	"database/sql"
	"sync/atomic"

	core "ormkit/data/db"
	"ormkit/data/db/dialect"
)

// Tx 委托给 *sql.Tx 的事务；语句同样按方言改写占位符
type Tx struct {
	tx      *sql.Tx
	driver  string
	dialect dialect.Dialect
	done    atomic.Bool
}

var _ core.ITransaction = (*Tx)(nil)

func (t *Tx) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) DriverName() string { return t.driver }

// Commit 提交事务；重复提交/回滚返回 sql.ErrTxDone
func (t *Tx) Commit() error {
	if !t.done.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	if !t.done.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	return t.tx.Rollback()
}
