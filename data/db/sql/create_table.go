package sql

import (
	"context"
	"fmt"
	"strings"

	core "ormkit/data/db"
	"ormkit/data/db/dialect"
)

type columnDef struct {
	name       string
	definition string
}

type foreignKey struct {
	column, refTable, refColumn, onDelete string
}

// createTableBuilder 生成 CREATE TABLE IF NOT EXISTS，重复执行不报错
type createTableBuilder struct {
	db      core.IExecutor
	dialect dialect.Dialect

	table   string
	columns []columnDef
	fks     []foreignKey
}

func (b *createTableBuilder) Column(name, definition string) ICreateTableBuilder {
	b.columns = append(b.columns, columnDef{name: name, definition: definition})
	return b
}

func (b *createTableBuilder) ForeignKey(column, refTable, refColumn, onDelete string) ICreateTableBuilder {
	b.fks = append(b.fks, foreignKey{column: column, refTable: refTable, refColumn: refColumn, onDelete: onDelete})
	return b
}

func (b *createTableBuilder) Build() (Statement, error) {
	if len(b.columns) == 0 {
		return Statement{}, builderError("create table", "至少需要一列")
	}
	if err := checkIdentifiers("表", b.table); err != nil {
		return Statement{}, err
	}

	q := b.dialect.QuoteIdentifier
	defs := make([]string, 0, len(b.columns)+len(b.fks))
	for _, c := range b.columns {
		if err := checkIdentifiers("列", c.name); err != nil {
			return Statement{}, err
		}
		defs = append(defs, q(c.name)+" "+c.definition)
	}
	for _, fk := range b.fks {
		if err := checkIdentifiers("外键", fk.column, fk.refTable, fk.refColumn); err != nil {
			return Statement{}, err
		}
		def := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", q(fk.column), q(fk.refTable), q(fk.refColumn))
		if action := onDeleteAction(fk.onDelete); action != "" {
			def += " ON DELETE " + action
		}
		defs = append(defs, def)
	}

	var w writer
	w.write("CREATE TABLE IF NOT EXISTS ", q(b.table), " (", strings.Join(defs, ", "), ")")
	return w.statement(), nil
}

// onDeleteAction 只放行已知的引用动作，其余忽略
func onDeleteAction(s string) string {
	switch a := strings.ToUpper(strings.TrimSpace(s)); a {
	case "CASCADE", "SET NULL", "RESTRICT", "NO ACTION":
		return a
	}
	return ""
}

func (b *createTableBuilder) Exec(ctx context.Context) error {
	_, err := execStatement(ctx, b.db, b.Build)
	return err
}
