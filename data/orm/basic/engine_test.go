package basic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbcore "ormkit/data/db"
	dbbasic "ormkit/data/db/basic"
	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/schema"
)

var secretKey = []byte("0123456789abcdef")

func newEngine(t *testing.T) *Engine {
	t.Helper()
	database, err := dbbasic.New(context.Background(), dbcore.DBConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return New("main", database)
}

type fixture struct {
	engine *Engine
	users  orm.IModel
	posts  orm.IModel
	notes  orm.IModel
}

func setup(t *testing.T, userHooks ...func(*schema.Builder)) fixture {
	t.Helper()
	ctx := context.Background()
	e := newEngine(t)

	ub := schema.New("User").
		Table("users").
		Field("id", schema.KindInteger, schema.AutoIncrement()).
		Field("name", schema.KindString, schema.NotNull()).
		Field("email", schema.KindString, schema.Unique()).
		Field("active", schema.KindBoolean, schema.Default(true)).
		Field("tags", schema.KindArray).
		Field("score", schema.KindFloat, schema.Indexed()).
		Timestamps().
		Paranoid().
		HasMany("posts", "Post", "userId")
	for _, h := range userHooks {
		h(ub)
	}
	users, err := e.Define(ub.MustBuild())
	require.NoError(t, err)

	posts, err := e.Define(schema.New("Post").
		Table("posts").
		Field("id", schema.KindInteger, schema.AutoIncrement()).
		Field("userId", schema.KindInteger, schema.References("User", "", "CASCADE")).
		Field("title", schema.KindString).
		BelongsTo("author", "User", "userId").
		MustBuild())
	require.NoError(t, err)

	notes, err := e.Define(schema.New("Note").
		Field("body", schema.KindText).
		Field("secret", schema.KindString, schema.Encrypt(secretKey)).
		Field("due", schema.KindDateTime).
		MustBuild())
	require.NoError(t, err)

	for _, m := range e.Models() {
		require.NoError(t, m.Sync(ctx))
	}
	return fixture{engine: e, users: users, posts: posts, notes: notes}
}

func TestEngine_DefineTwice(t *testing.T) {
	e := newEngine(t)
	s := schema.New("A").Field("x", schema.KindString).MustBuild()
	_, err := e.Define(s)
	require.NoError(t, err)
	_, err = e.Define(s)
	assert.True(t, errors.IsConflict(err))

	m, ok := e.Model("A")
	require.True(t, ok)
	assert.Same(t, s, m.Schema())
	_, ok = e.Model("B")
	assert.False(t, ok)
}

func TestModel_CreateAppliesDefaultsAndTimestamps(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	row, err := f.users.Create(ctx, orm.Row{"name": "ann", "email": "ann@example.com", "tags": []any{"a", "b"}}, orm.WriteOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), row["id"])
	assert.Equal(t, true, row["active"])
	assert.Equal(t, []any{"a", "b"}, row["tags"])
	assert.Nil(t, row[schema.DeletedAtField])
	created, ok := row[schema.CreatedAtField].(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), created, 5*time.Second)
}

func TestModel_CreateSynthesizesObjectID(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	due := time.Date(2030, 1, 2, 3, 4, 5, 6000, time.UTC)
	row, err := f.notes.Create(ctx, orm.Row{"body": "hi", "secret": "pssst", "due": due}, orm.WriteOptions{})
	require.NoError(t, err)

	id, ok := row[schema.ObjectIDField].(string)
	require.True(t, ok)
	assert.Len(t, id, 36)
	assert.Equal(t, "pssst", row["secret"])
	assert.Equal(t, due, row["due"])

	raw, err := f.engine.Query(ctx, nil, `SELECT secret FROM "Note"`)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.NotEqual(t, "pssst", raw[0]["secret"])
}

func TestModel_WhereOperators(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.users.BulkCreate(ctx, []orm.Row{
		{"name": "Alice", "email": "a@x.io", "score": 10.0},
		{"name": "bob", "email": "b@x.io", "score": 20.0},
		{"name": "Carol", "score": 30.0},
	}, orm.WriteOptions{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		where *orm.Condition
		want  []string
	}{
		{"eq", orm.Leaf("name", orm.OpEq, "bob"), []string{"bob"}},
		{"null", orm.Leaf("email", orm.OpEq, nil), []string{"Carol"}},
		{"not null", orm.Leaf("email", orm.OpNe, nil), []string{"Alice", "bob"}},
		{"in", orm.Leaf("score", orm.OpIn, []any{10, 30}), []string{"Alice", "Carol"}},
		{"empty in", orm.Leaf("score", orm.OpIn, []any{}), []string{}},
		{"empty not in", orm.Leaf("score", orm.OpNotIn, []any{}), []string{"Alice", "bob", "Carol"}},
		{"ilike", orm.Leaf("name", orm.OpILike, "a%"), []string{"Alice"}},
		{"starts with", orm.Leaf("name", orm.OpStartsWith, "Ca"), []string{"Carol"}},
		{"ends with", orm.Leaf("name", orm.OpEndsWith, "ob"), []string{"bob"}},
		{"substring", orm.Leaf("name", orm.OpSubstring, "li"), []string{"Alice"}},
		{"between", orm.Leaf("score", orm.OpBetween, []any{15, 30}), []string{"bob", "Carol"}},
		{"not between", orm.Leaf("score", orm.OpNotBetween, []any{15, 30}), []string{"Alice"}},
		{
			"or",
			orm.Or(orm.Leaf("score", orm.OpLt, 15), orm.Leaf("score", orm.OpGte, 30)),
			[]string{"Alice", "Carol"},
		},
		{
			"and",
			orm.And(orm.Leaf("score", orm.OpGt, 10), orm.Leaf("score", orm.OpLte, 20)),
			[]string{"bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := f.users.FindAll(ctx, orm.FindOptions{
				Where: tt.where,
				Order: []orm.OrderBy{{Column: "score"}},
			})
			require.NoError(t, err)
			names := make([]string, 0, len(rows))
			for _, r := range rows {
				names = append(names, r["name"].(string))
			}
			assert.Equal(t, tt.want, names)
		})
	}

	_, err = f.users.FindAll(ctx, orm.FindOptions{Where: orm.Leaf("nope", orm.OpEq, 1)})
	assert.True(t, errors.IsValidation(err))
	_, err = f.users.FindAll(ctx, orm.FindOptions{Where: orm.Leaf("score", orm.OpBetween, []any{1})})
	assert.True(t, errors.IsValidation(err))
}

func TestModel_ProjectionOrderPaging(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	for _, n := range []string{"a", "b", "c", "d"} {
		_, err := f.users.Create(ctx, orm.Row{"name": n}, orm.WriteOptions{})
		require.NoError(t, err)
	}

	rows, err := f.users.FindAll(ctx, orm.FindOptions{
		Attributes: []string{"id", "name"},
		Order:      []orm.OrderBy{{Column: "name", Desc: true}},
		Limit:      2,
		Offset:     1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, orm.Row{"id": int64(3), "name": "c"}, rows[0])
	assert.Equal(t, "b", rows[1]["name"])

	rows, err = f.users.FindAll(ctx, orm.FindOptions{Exclude: []string{"tags", "score"}, Offset: 3})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0], "tags")

	// sqlite 不支持行锁，子句被忽略
	row, err := f.users.FindOne(ctx, orm.FindOptions{Lock: &orm.Lock{Level: "UPDATE"}, SkipLocked: true})
	require.NoError(t, err)
	assert.NotNil(t, row)

	n, err := f.users.Count(ctx, orm.FindOptions{Where: orm.Leaf("name", orm.OpIn, []any{"a", "b"})})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestModel_FindOneMissing(t *testing.T) {
	f := setup(t)
	row, err := f.users.FindOne(context.Background(), orm.FindOptions{Where: orm.Leaf("id", orm.OpEq, 99)})
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestModel_UpdateWritesNull(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	row, err := f.users.Create(ctx, orm.Row{"name": "ann", "email": "ann@x.io"}, orm.WriteOptions{})
	require.NoError(t, err)

	n, err := f.users.Update(ctx, orm.Row{"email": nil, "active": false},
		orm.WriteOptions{Where: orm.Leaf("id", orm.OpEq, row["id"])})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.users.FindOne(ctx, orm.FindOptions{Where: orm.Leaf("id", orm.OpEq, row["id"])})
	require.NoError(t, err)
	assert.Nil(t, got["email"])
	assert.Equal(t, false, got["active"])

	_, err = f.users.Update(ctx, orm.Row{"bogus": 1}, orm.WriteOptions{})
	assert.True(t, errors.IsValidation(err))
}

func TestModel_SoftDeleteRestoreForce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	row, err := f.users.Create(ctx, orm.Row{"name": "ann"}, orm.WriteOptions{})
	require.NoError(t, err)
	byID := orm.Leaf("id", orm.OpEq, row["id"])

	_, err = f.users.Destroy(ctx, orm.WriteOptions{})
	assert.True(t, errors.IsValidation(err), "unconditional delete is rejected")

	n, err := f.users.Destroy(ctx, orm.WriteOptions{Where: byID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.users.FindOne(ctx, orm.FindOptions{Where: byID})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.users.FindOne(ctx, orm.FindOptions{Where: byID, Unscoped: true})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.IsType(t, time.Time{}, got[schema.DeletedAtField])

	// 已软删除的记录不会被再次删除
	n, err = f.users.Destroy(ctx, orm.WriteOptions{Where: byID})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.users.Restore(ctx, orm.WriteOptions{Where: byID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err = f.users.FindOne(ctx, orm.FindOptions{Where: byID})
	require.NoError(t, err)
	require.NotNil(t, got)

	n, err = f.users.Destroy(ctx, orm.WriteOptions{Where: byID, Force: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	count, err := f.users.Count(ctx, orm.FindOptions{Unscoped: true})
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.posts.Restore(ctx, orm.WriteOptions{})
	assert.True(t, errors.IsValidation(err))
}

func TestModel_BulkCreateRollsBack(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.users.BulkCreate(ctx, []orm.Row{
		{"name": "a", "email": "dup@x.io"},
		{"name": "b", "email": "dup@x.io"},
	}, orm.WriteOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsPersistence(err))
	assert.Equal(t, errors.KindUniqueConstraint, errors.PersistenceKindOf(err))

	n, err := f.users.Count(ctx, orm.FindOptions{Unscoped: true})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModel_TransactionVisibility(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tx, err := f.engine.Begin(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID())
	_, err = f.users.Create(ctx, orm.Row{"name": "tx"}, orm.WriteOptions{Tx: tx})
	require.NoError(t, err)
	n, err := f.users.Count(ctx, orm.FindOptions{Tx: tx})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Rollback())

	n, err = f.users.Count(ctx, orm.FindOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModel_Distinct(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	values, err := f.users.Distinct(ctx, "name", orm.FindOptions{})
	require.NoError(t, err)
	assert.NotNil(t, values)
	assert.Empty(t, values)

	for _, n := range []string{"b", "a", "b"} {
		_, err := f.users.Create(ctx, orm.Row{"name": n}, orm.WriteOptions{})
		require.NoError(t, err)
	}
	values, err = f.users.Distinct(ctx, "name", orm.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, values)

	_, err = f.users.Distinct(ctx, "missing", orm.FindOptions{})
	assert.True(t, errors.IsValidation(err))
}

func TestModel_Include(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	ann, err := f.users.Create(ctx, orm.Row{"name": "ann"}, orm.WriteOptions{})
	require.NoError(t, err)
	_, err = f.users.Create(ctx, orm.Row{"name": "bob"}, orm.WriteOptions{})
	require.NoError(t, err)
	for _, title := range []string{"one", "two"} {
		_, err := f.posts.Create(ctx, orm.Row{"userId": ann["id"], "title": title}, orm.WriteOptions{})
		require.NoError(t, err)
	}

	users, err := f.users.FindAll(ctx, orm.FindOptions{
		Attributes: []string{"name"},
		Order:      []orm.OrderBy{{Column: "id"}},
		Include:    []orm.Include{{Relation: "posts"}},
	})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Len(t, users[0]["posts"], 2)
	assert.Equal(t, []orm.Row{}, users[1]["posts"])

	users, err = f.users.FindAll(ctx, orm.FindOptions{Include: []orm.Include{{Relation: "Post", Required: true}}})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ann", users[0]["name"])

	post, err := f.posts.FindOne(ctx, orm.FindOptions{Include: []orm.Include{{Relation: "author", Attributes: []string{"name"}}}})
	require.NoError(t, err)
	author, ok := post["author"].(orm.Row)
	require.True(t, ok)
	assert.Equal(t, "ann", author["name"])

	_, err = f.posts.FindAll(ctx, orm.FindOptions{Include: []orm.Include{{Relation: "comments"}}})
	assert.True(t, errors.IsNotFound(err))
}

func TestModel_Hooks(t *testing.T) {
	ctx := context.Background()
	var events []string
	var createFields []string
	f := setup(t, func(b *schema.Builder) {
		b.Hook(schema.BeforeCreate, func(_ context.Context, values map[string]any, fields []string) error {
			createFields = fields
			values["name"] = "hooked"
			return nil
		})
		for _, ev := range []schema.HookEvent{schema.AfterCreate, schema.BeforeUpdate, schema.AfterUpdate,
			schema.BeforeDestroy, schema.AfterDestroy, schema.BeforeRestore, schema.AfterRestore} {
			ev := ev
			b.Hook(ev, func(context.Context, map[string]any, []string) error {
				events = append(events, string(ev))
				return nil
			})
		}
	})

	row, err := f.users.Create(ctx, orm.Row{"name": "raw"}, orm.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hooked", row["name"])
	assert.Contains(t, createFields, "name")
	assert.Contains(t, createFields, schema.CreatedAtField)

	byID := orm.WriteOptions{Where: orm.Leaf("id", orm.OpEq, row["id"])}
	_, err = f.users.Update(ctx, orm.Row{"score": 1}, byID)
	require.NoError(t, err)
	_, err = f.users.Destroy(ctx, byID)
	require.NoError(t, err)
	_, err = f.users.Restore(ctx, byID)
	require.NoError(t, err)

	assert.Equal(t, []string{"afterCreate", "beforeUpdate", "afterUpdate",
		"beforeDestroy", "afterDestroy", "beforeRestore", "afterRestore"}, events)

	events = nil
	_, err = f.users.Create(ctx, orm.Row{"name": "quiet"}, orm.WriteOptions{SkipHooks: true})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEngine_RawQuery(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.users.Create(ctx, orm.Row{"name": "ann"}, orm.WriteOptions{})
	require.NoError(t, err)

	rows, err := f.engine.Query(ctx, nil, "SELECT name, active FROM users WHERE id = ?", 1)
	require.NoError(t, err)
	assert.Equal(t, []orm.Row{{"name": "ann", "active": int64(1)}}, rows)

	_, err = f.engine.Query(ctx, nil, "SELECT * FROM missing_table")
	assert.True(t, errors.IsPersistence(err))
	assert.True(t, f.engine.Capabilities().Supports(orm.CapabilityTransaction))
	assert.False(t, f.engine.Capabilities().Supports(orm.CapabilityLocking))
}
