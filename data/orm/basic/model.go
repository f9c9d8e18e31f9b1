package basic

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	dbcore "ormkit/data/db"
	"ormkit/data/db/dialect"
	dbsql "ormkit/data/db/sql"
	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/logging"
	"ormkit/schema"
)

type model struct {
	engine *Engine
	s      *schema.Schema
}

var _ orm.IModel = (*model)(nil)

func (m *model) Schema() *schema.Schema { return m.s }

func (m *model) d() dialect.Dialect { return m.engine.dialect }

func (m *model) quote(name string) string { return m.d().QuoteIdentifier(name) }

func (m *model) where() whereCompiler { return whereCompiler{d: m.d(), s: m.s} }

func (m *model) fail(ctx context.Context, err error, op string) error {
	return errors.WrapPersistence(ctx, err, m.s.Name, op)
}

func (m *model) logSQL(ctx context.Context, enabled bool, b interface {
	Build() (dbsql.Statement, error)
}) {
	if !enabled {
		return
	}
	st, err := b.Build()
	if err != nil {
		return
	}
	m.engine.logger.Debug(ctx, "sql",
		logging.String("model", m.s.Name),
		logging.String("sql", st.SQL),
		logging.Any("args", st.Args))
}

// ------------------------------------------------------------------------
// 建表
// ------------------------------------------------------------------------

// Sync 建表与普通索引
func (m *model) Sync(ctx context.Context) error {
	ct := m.engine.sql(nil).CreateTable(m.s.Table)
	for _, f := range m.s.Fields {
		ct.Column(f.Name, m.columnDefinition(f))
		if f.ForeignKey == nil {
			continue
		}
		refTable, refColumn, err := m.resolveReference(f.ForeignKey)
		if err != nil {
			return err
		}
		ct.ForeignKey(f.Name, refTable, refColumn, f.ForeignKey.OnDelete)
	}
	if err := ct.Exec(ctx); err != nil {
		return m.fail(ctx, err, "sync")
	}

	for _, f := range m.s.Fields {
		if !f.Index || f.Unique || f.PrimaryKey {
			continue
		}
		if err := m.createIndex(ctx, f.Name); err != nil {
			return m.fail(ctx, err, "sync")
		}
	}
	return nil
}

func (m *model) columnDefinition(f *schema.Field) string {
	if f.AutoIncrement {
		return m.d().AutoIncrementColumn()
	}
	def := m.d().ColumnType(string(f.Kind))
	if f.PrimaryKey {
		return def + " PRIMARY KEY"
	}
	if !f.Nullable {
		def += " NOT NULL"
	}
	if f.Unique {
		def += " UNIQUE"
	}
	return def
}

func (m *model) resolveReference(fk *schema.ForeignKey) (string, string, error) {
	if target, ok := m.engine.lookup(fk.Entity); ok {
		column := fk.Field
		if column == "" {
			column = target.s.PrimaryKey().Name
		}
		return target.s.Table, column, nil
	}
	if fk.Field == "" {
		return "", "", errors.NewConfigurationError(
			fmt.Sprintf("实体 %s 的外键引用了未定义的实体 %s", m.s.Name, fk.Entity))
	}
	return fk.Entity, fk.Field, nil
}

func (m *model) createIndex(ctx context.Context, field string) error {
	name := m.quote("idx_" + m.s.Table + "_" + field)
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, m.quote(m.s.Table), m.quote(field))
	if m.d().Name() == dialect.NameMySQL {
		stmt = fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, m.quote(m.s.Table), m.quote(field))
	}
	_, err := m.engine.db.Exec(ctx, stmt)
	var myErr *mysql.MySQLError
	if stdErrors.As(err, &myErr) && myErr.Number == 1061 {
		// 索引已存在
		return nil
	}
	return err
}

// Drop 删除表
func (m *model) Drop(ctx context.Context) error {
	if _, err := m.engine.db.Exec(ctx, "DROP TABLE IF EXISTS "+m.quote(m.s.Table)); err != nil {
		return m.fail(ctx, err, "drop")
	}
	return nil
}

// ------------------------------------------------------------------------
// 读
// ------------------------------------------------------------------------

// scoped 软删除实体默认只看未删除的记录
func (m *model) scoped(where *orm.Condition, unscoped bool) *orm.Condition {
	if !m.s.Paranoid || unscoped {
		return where
	}
	return orm.And(where, orm.Leaf(schema.DeletedAtField, orm.OpEq, nil))
}

func (m *model) checkFields(option string, names []string) error {
	for _, n := range names {
		if !m.s.HasField(n) {
			return errors.NewOptionError(option, fmt.Sprintf("实体 %s 没有字段 %s", m.s.Name, n), n)
		}
	}
	return nil
}

// projection 计算要查询的列，预加载所需的关联键总会被带上
func (m *model) projection(opts orm.FindOptions) ([]string, error) {
	if err := m.checkFields("$attributes", opts.Attributes); err != nil {
		return nil, err
	}
	if err := m.checkFields("$attributes.$exclude", opts.Exclude); err != nil {
		return nil, err
	}

	cols := opts.Attributes
	if len(cols) == 0 {
		cols = m.s.FieldNames()
	}
	excluded := make(map[string]bool, len(opts.Exclude))
	for _, e := range opts.Exclude {
		excluded[e] = true
	}

	seen := make(map[string]bool, len(cols))
	out := make([]string, 0, len(cols))
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, c := range cols {
		if !excluded[c] {
			add(c)
		}
	}
	for _, inc := range opts.Include {
		if rel, ok := m.s.Relation(inc.Relation); ok {
			add(m.localKey(rel))
		}
	}
	return out, nil
}

func (m *model) selectFor(ctx context.Context, opts orm.FindOptions, cols []string) (dbsql.ISelectBuilder, error) {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = m.quote(c)
	}
	sq := m.engine.sql(opts.Tx).Select(quoted...).From(m.quote(m.s.Table))
	if opts.Distinct {
		sq.Distinct()
	}

	frag, args, err := m.where().compile(m.scoped(opts.Where, opts.Unscoped))
	if err != nil {
		return nil, err
	}
	sq.Where(frag, args...)

	if len(opts.Group) > 0 {
		if err := m.checkFields("$group", opts.Group); err != nil {
			return nil, err
		}
		group := make([]string, len(opts.Group))
		for i, g := range opts.Group {
			group[i] = m.quote(g)
		}
		sq.GroupBy(group...)
	}
	if opts.Having != nil {
		frag, args, err := m.where().compile(opts.Having)
		if err != nil {
			return nil, err
		}
		sq.Having(frag, args...)
	}
	if len(opts.Order) > 0 {
		parts := make([]string, 0, len(opts.Order))
		for _, o := range opts.Order {
			if !m.s.HasField(o.Column) {
				return nil, errors.NewOptionError("$sort", fmt.Sprintf("实体 %s 没有字段 %s", m.s.Name, o.Column), o.Column)
			}
			dir := " ASC"
			if o.Desc {
				dir = " DESC"
			}
			parts = append(parts, m.quote(o.Column)+dir)
		}
		sq.OrderBy(strings.Join(parts, ", "))
	}
	if opts.Limit > 0 {
		sq.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		sq.Offset(opts.Offset)
	}
	if opts.Lock != nil {
		of := opts.Lock.Of
		if target, ok := m.engine.lookup(of); ok {
			of = target.s.Table
		}
		clause := m.d().LockClause(opts.Lock.Level, of, opts.SkipLocked)
		if clause == "" {
			m.engine.logger.Debug(ctx, "当前方言不支持行锁，忽略 $lock", logging.String("model", m.s.Name))
		}
		sq.Lock(clause)
	}
	return sq, nil
}

// FindAll 条件查询
func (m *model) FindAll(ctx context.Context, opts orm.FindOptions) ([]orm.Row, error) {
	cols, err := m.projection(opts)
	if err != nil {
		return nil, err
	}
	sq, err := m.selectFor(ctx, opts, cols)
	if err != nil {
		return nil, err
	}
	m.logSQL(ctx, opts.Logging, sq)

	rows, err := sq.Query(ctx)
	if err != nil {
		return nil, m.fail(ctx, err, "findAll")
	}
	result, err := m.scan(rows, opts.Raw)
	if err != nil {
		return nil, m.fail(ctx, err, "findAll")
	}
	if len(opts.Include) > 0 && len(result) > 0 {
		return m.loadIncludes(ctx, result, opts.Include, opts.Tx)
	}
	return result, nil
}

// FindOne 取第一条，没有时返回 nil, nil
func (m *model) FindOne(ctx context.Context, opts orm.FindOptions) (orm.Row, error) {
	opts.Limit = 1
	rows, err := m.FindAll(ctx, opts)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count 计数（忽略投影与分组）
func (m *model) Count(ctx context.Context, opts orm.FindOptions) (int64, error) {
	sq := m.engine.sql(opts.Tx).Select("COUNT(*)").From(m.quote(m.s.Table))
	frag, args, err := m.where().compile(m.scoped(opts.Where, opts.Unscoped))
	if err != nil {
		return 0, err
	}
	sq.Where(frag, args...)
	m.logSQL(ctx, opts.Logging, sq)

	var n int64
	if err := sq.QueryRow(ctx).Scan(&n); err != nil {
		return 0, m.fail(ctx, err, "count")
	}
	return n, nil
}

// Distinct 单字段去重取值，结果按取值升序
func (m *model) Distinct(ctx context.Context, field string, opts orm.FindOptions) ([]any, error) {
	f, ok := m.s.Field(field)
	if !ok {
		return nil, errors.NewOptionError("$field", fmt.Sprintf("实体 %s 没有字段 %s", m.s.Name, field), field)
	}
	opts.Attributes = []string{field}
	opts.Exclude = nil
	opts.Include = nil
	opts.Distinct = true
	if len(opts.Order) == 0 {
		opts.Order = []orm.OrderBy{{Column: field}}
	}
	sq, err := m.selectFor(ctx, opts, []string{field})
	if err != nil {
		return nil, err
	}
	m.logSQL(ctx, opts.Logging, sq)

	rows, err := sq.Query(ctx)
	if err != nil {
		return nil, m.fail(ctx, err, "distinct")
	}
	defer rows.Close()

	out := make([]any, 0)
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, m.fail(ctx, err, "distinct")
		}
		decoded, err := decodeValue(f, v)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	if err := rows.Err(); err != nil {
		return nil, m.fail(ctx, err, "distinct")
	}
	return out, nil
}

func (m *model) scan(rows dbcore.IRows, raw bool) ([]orm.Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]orm.Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(orm.Row, len(cols))
		for i, c := range cols {
			f, known := m.s.Field(c)
			if raw || !known {
				row[c] = normalizeRaw(values[i])
				continue
			}
			v, err := decodeValue(f, values[i])
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ------------------------------------------------------------------------
// 写
// ------------------------------------------------------------------------

// restrict 校验字段并按 Fields 白名单过滤
func (m *model) restrict(values orm.Row, allowed []string) (orm.Row, error) {
	var allow map[string]bool
	if len(allowed) > 0 {
		allow = make(map[string]bool, len(allowed))
		for _, a := range allowed {
			allow[a] = true
		}
	}
	out := make(orm.Row, len(values))
	for k, v := range values {
		if !m.s.HasField(k) {
			return nil, errors.NewValidationError(
				fmt.Sprintf("实体 %s 没有字段 %s", m.s.Name, k)).WithContext("field", k)
		}
		if allow != nil && !allow[k] {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func sortedKeys(values orm.Row) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Create 插入一行：补默认值、时间戳与 ObjectId，执行钩子，插入后按主键回读
func (m *model) Create(ctx context.Context, values orm.Row, opts orm.WriteOptions) (orm.Row, error) {
	vals, err := m.restrict(values, opts.Fields)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, f := range m.s.Fields {
		if _, set := vals[f.Name]; set {
			continue
		}
		if v, ok := f.DefaultValue(); ok {
			vals[f.Name] = v
		}
	}
	if m.s.Timestamps {
		if vals[schema.CreatedAtField] == nil {
			vals[schema.CreatedAtField] = now
		}
		if vals[schema.UpdatedAtField] == nil {
			vals[schema.UpdatedAtField] = now
		}
	}
	pk := m.s.PrimaryKey()
	if pk.Name == schema.ObjectIDField && vals[pk.Name] == nil {
		vals[pk.Name] = uuid.NewString()
	}

	if !opts.SkipHooks {
		if err := m.s.RunHooks(ctx, schema.BeforeCreate, vals, sortedKeys(vals)); err != nil {
			return nil, err
		}
	}

	cols := make([]string, 0, len(vals))
	args := make([]any, 0, len(vals))
	for _, f := range m.s.Fields {
		v, set := vals[f.Name]
		if !set || (f.AutoIncrement && v == nil) {
			continue
		}
		encoded, err := encodeValue(m.d(), f, v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, f.Name)
		args = append(args, encoded)
	}
	if len(cols) == 0 {
		return nil, errors.NewValidationError(fmt.Sprintf("实体 %s 没有可插入的字段", m.s.Name))
	}

	ins := m.engine.sql(opts.Tx).InsertInto(m.s.Table).Columns(cols...).Values(args...)
	m.logSQL(ctx, opts.Logging, ins)
	res, err := ins.Exec(ctx)
	if err != nil {
		return nil, m.fail(ctx, err, "create")
	}

	key := vals[pk.Name]
	if pk.AutoIncrement && key == nil {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, m.fail(ctx, err, "create")
		}
		key = id
	}
	created, err := m.FindOne(ctx, orm.FindOptions{
		Where:    orm.Leaf(pk.Name, orm.OpEq, key),
		Unscoped: true,
		Tx:       opts.Tx,
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errors.NewError(errors.ErrCodePersistence,
			fmt.Sprintf("实体 %s 插入后无法按主键回读", m.s.Name))
	}

	if !opts.SkipHooks {
		if err := m.s.RunHooks(ctx, schema.AfterCreate, created, sortedKeys(created)); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// BulkCreate 逐行插入；未传入事务时自行开启，任一行失败全部回滚
func (m *model) BulkCreate(ctx context.Context, rows []orm.Row, opts orm.WriteOptions) (out []orm.Row, err error) {
	if len(rows) == 0 {
		return []orm.Row{}, nil
	}
	if opts.Tx == nil {
		tx, berr := m.engine.Begin(ctx)
		if berr != nil {
			return nil, berr
		}
		opts.Tx = tx
		defer func() {
			if err != nil {
				_ = tx.Rollback()
				return
			}
			if cerr := tx.Commit(); cerr != nil {
				out, err = nil, cerr
			}
		}()
	}

	out = make([]orm.Row, 0, len(rows))
	for _, r := range rows {
		created, err := m.Create(ctx, r, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

// Update 条件更新
func (m *model) Update(ctx context.Context, values orm.Row, opts orm.WriteOptions) (int64, error) {
	vals, err := m.restrict(values, opts.Fields)
	if err != nil {
		return 0, err
	}
	if m.s.Timestamps {
		if _, set := vals[schema.UpdatedAtField]; !set {
			vals[schema.UpdatedAtField] = time.Now().UTC()
		}
	}
	if len(vals) == 0 {
		return 0, nil
	}

	if !opts.SkipHooks {
		if err := m.s.RunHooks(ctx, schema.BeforeUpdate, vals, sortedKeys(vals)); err != nil {
			return 0, err
		}
	}

	upd := m.engine.sql(opts.Tx).Update(m.s.Table)
	for _, k := range sortedKeys(vals) {
		f, _ := m.s.Field(k)
		encoded, err := encodeValue(m.d(), f, vals[k])
		if err != nil {
			return 0, err
		}
		upd.Set(k, encoded)
	}
	frag, args, err := m.where().compile(m.scoped(opts.Where, opts.Unscoped))
	if err != nil {
		return 0, err
	}
	upd.Where(frag, args...)
	m.logSQL(ctx, opts.Logging, upd)

	res, err := upd.Exec(ctx)
	if err != nil {
		return 0, m.fail(ctx, err, "update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, m.fail(ctx, err, "update")
	}

	if !opts.SkipHooks && n > 0 {
		if err := m.s.RunHooks(ctx, schema.AfterUpdate, vals, sortedKeys(vals)); err != nil {
			return n, err
		}
	}
	return n, nil
}

// targets 读取将被删除/恢复的记录，仅在存在钩子时调用
func (m *model) targets(ctx context.Context, where *orm.Condition, unscoped bool, tx orm.ITx) ([]orm.Row, error) {
	return m.FindAll(ctx, orm.FindOptions{Where: where, Unscoped: unscoped, Tx: tx})
}

func (m *model) hasHooks(events ...schema.HookEvent) bool {
	for _, e := range events {
		if len(m.s.Hooks(e)) > 0 {
			return true
		}
	}
	return false
}

func (m *model) runRowHooks(ctx context.Context, event schema.HookEvent, rows []orm.Row) error {
	for _, r := range rows {
		if err := m.s.RunHooks(ctx, event, r, sortedKeys(r)); err != nil {
			return err
		}
	}
	return nil
}

// Destroy 软删除实体写入 deletedAt，Force 或非软删除实体执行物理删除
func (m *model) Destroy(ctx context.Context, opts orm.WriteOptions) (int64, error) {
	if opts.Where == nil {
		return 0, errors.NewValidationError(fmt.Sprintf("实体 %s 不允许无条件删除", m.s.Name))
	}
	soft := m.s.Paranoid && !opts.Force
	unscoped := opts.Unscoped || opts.Force

	var rows []orm.Row
	if !opts.SkipHooks && m.hasHooks(schema.BeforeDestroy, schema.AfterDestroy) {
		var err error
		if rows, err = m.targets(ctx, opts.Where, unscoped, opts.Tx); err != nil {
			return 0, err
		}
		if err := m.runRowHooks(ctx, schema.BeforeDestroy, rows); err != nil {
			return 0, err
		}
	}

	var (
		n   int64
		err error
	)
	if soft {
		n, err = m.softDestroy(ctx, opts)
	} else {
		n, err = m.hardDestroy(ctx, opts, unscoped)
	}
	if err != nil {
		return 0, err
	}
	if rows != nil && n > 0 {
		if err := m.runRowHooks(ctx, schema.AfterDestroy, rows); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (m *model) softDestroy(ctx context.Context, opts orm.WriteOptions) (int64, error) {
	f, _ := m.s.Field(schema.DeletedAtField)
	stamp, err := encodeValue(m.d(), f, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	frag, args, err := m.where().compile(m.scoped(opts.Where, false))
	if err != nil {
		return 0, err
	}
	upd := m.engine.sql(opts.Tx).Update(m.s.Table).Set(schema.DeletedAtField, stamp).Where(frag, args...)
	m.logSQL(ctx, opts.Logging, upd)
	res, err := upd.Exec(ctx)
	if err != nil {
		return 0, m.fail(ctx, err, "destroy")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, m.fail(ctx, err, "destroy")
	}
	return n, nil
}

func (m *model) hardDestroy(ctx context.Context, opts orm.WriteOptions, unscoped bool) (int64, error) {
	frag, args, err := m.where().compile(m.scoped(opts.Where, unscoped))
	if err != nil {
		return 0, err
	}
	del := m.engine.sql(opts.Tx).DeleteFrom(m.s.Table).Where(frag, args...)
	if opts.Limit > 0 {
		del.Limit(opts.Limit)
	}
	m.logSQL(ctx, opts.Logging, del)
	res, err := del.Exec(ctx)
	if err != nil {
		return 0, m.fail(ctx, err, "destroy")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, m.fail(ctx, err, "destroy")
	}
	return n, nil
}

// Restore 清空匹配记录的 deletedAt
func (m *model) Restore(ctx context.Context, opts orm.WriteOptions) (int64, error) {
	if !m.s.Paranoid {
		return 0, errors.NewValidationError(fmt.Sprintf("实体 %s 未开启软删除，无法恢复", m.s.Name))
	}
	where := orm.And(opts.Where, orm.Leaf(schema.DeletedAtField, orm.OpNe, nil))

	var rows []orm.Row
	if !opts.SkipHooks && m.hasHooks(schema.BeforeRestore, schema.AfterRestore) {
		var err error
		if rows, err = m.targets(ctx, where, true, opts.Tx); err != nil {
			return 0, err
		}
		if err := m.runRowHooks(ctx, schema.BeforeRestore, rows); err != nil {
			return 0, err
		}
	}

	frag, args, err := m.where().compile(where)
	if err != nil {
		return 0, err
	}
	upd := m.engine.sql(opts.Tx).Update(m.s.Table).Set(schema.DeletedAtField, nil).Where(frag, args...)
	m.logSQL(ctx, opts.Logging, upd)
	res, err := upd.Exec(ctx)
	if err != nil {
		return 0, m.fail(ctx, err, "restore")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, m.fail(ctx, err, "restore")
	}

	if rows != nil && n > 0 {
		for _, r := range rows {
			r[schema.DeletedAtField] = nil
		}
		if err := m.runRowHooks(ctx, schema.AfterRestore, rows); err != nil {
			return n, err
		}
	}
	return n, nil
}
