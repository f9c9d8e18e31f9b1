package model

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormkit/config"
	"ormkit/errors"
	"ormkit/logging"
	"ormkit/messaging"
	synctransport "ormkit/messaging/transport/sync"
	"ormkit/mutation"
	"ormkit/query"
	"ormkit/schema"
	"ormkit/validation"
)

func userSchema() *schema.Schema {
	return schema.New("User").
		Table("users").
		Field("id", schema.KindInteger, schema.AutoIncrement()).
		Field("name", schema.KindString, schema.NotNull(), schema.WithRules(validation.Rules{
			validation.RuleRequired:  true,
			validation.RuleMinLength: 2,
		})).
		Field("age", schema.KindInteger, schema.WithRules(validation.Rules{
			validation.RuleRange: []any{0, 150},
		})).
		Field("active", schema.KindBoolean, schema.Default(true)).
		Field("tags", schema.KindArray).
		Timestamps().
		Paranoid().
		Scope("adults", schema.Preset{Where: map[string]any{"age": map[string]any{"$gte": 18}}}).
		ScopeFunc("named", func(args ...any) schema.Preset {
			return schema.Preset{Where: map[string]any{"name": args[0]}}
		}).
		Role("public", "id", "name").
		MustBuild()
}

func noteSchema() *schema.Schema {
	return schema.New("Note").
		Field("body", schema.KindText).
		Field("due", schema.KindDateTime).
		ExpiresAfter("due", time.Hour).
		MustBuild()
}

type recorder struct {
	mu   sync.Mutex
	msgs []messaging.IMessage
}

func (r *recorder) Handle(_ context.Context, m messaging.IMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) Type() string { return "recorder" }

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fixture struct {
	ctx    *Context
	users  *Engine
	notes  *Engine
	events *recorder
}

func testProvider(autoConnect bool) config.Provider {
	return config.Provider{
		Provider:    "main",
		Database:    config.DatabaseSQLite,
		DSN:         ":memory:",
		AutoConnect: autoConnect,
		Cache:       config.Cache{Duration: 60_000},
	}
}

func setup(t *testing.T, opts ...Option) fixture {
	t.Helper()
	transport := synctransport.NewSyncTransport()
	require.NoError(t, transport.Start(context.Background()))
	bus := messaging.NewMessageBus(transport)
	rec := &recorder{}
	for _, action := range []string{messaging.ActionCreated, messaging.ActionUpdated, messaging.ActionDeleted, messaging.ActionRestored} {
		require.NoError(t, bus.Subscribe(context.Background(), messaging.EventType("User", action), rec))
	}

	c := NewContext(append([]Option{WithBus(bus)}, opts...)...)
	require.NoError(t, c.AddProvider(testProvider(true)))
	users, err := c.Register("main", userSchema())
	require.NoError(t, err)
	notes, err := c.Register("main", noteSchema())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseAll(context.Background()) })
	return fixture{ctx: c, users: users, notes: notes, events: rec}
}

func seed(t *testing.T, e *Engine, rows ...map[string]any) []*Record {
	t.Helper()
	out, err := e.BuildMany(context.Background(), rows, nil)
	require.NoError(t, err)
	return out
}

func TestContext_RegisterErrors(t *testing.T) {
	c := NewContext()
	p := testProvider(true)
	p.Entities = []string{"User"}
	require.NoError(t, c.AddProvider(p))

	err := c.AddProvider(p)
	assert.True(t, errors.IsConflict(err))

	_, err = c.Register("other", userSchema())
	assert.True(t, errors.IsConfiguration(err))

	_, err = c.Register("main", noteSchema())
	assert.True(t, errors.IsConfiguration(err))

	_, err = c.Register("main", userSchema())
	require.NoError(t, err)
	_, err = c.Register("main", userSchema())
	assert.True(t, errors.IsConflict(err))

	_, err = c.Engine("Nope")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, c.HasEntity("User"))
	assert.Equal(t, []string{"User"}, c.Entities())
}

func TestContext_SameEntityOnTwoProviders(t *testing.T) {
	ctx := context.Background()
	c := NewContext()
	archive := testProvider(true)
	archive.Provider = "archive"
	require.NoError(t, c.AddProvider(testProvider(true)))
	require.NoError(t, c.AddProvider(archive))
	t.Cleanup(func() { _ = c.CloseAll(context.Background()) })

	mainUsers, err := c.Register("main", userSchema())
	require.NoError(t, err)
	archivedUsers, err := c.Register("archive", userSchema())
	require.NoError(t, err)

	_, err = mainUsers.Build(ctx, map[string]any{"name": "alice"}, nil)
	require.NoError(t, err)
	n, err := archivedUsers.Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := c.Model("archive", "User")
	require.NoError(t, err)
	assert.Same(t, archivedUsers, got)

	_, err = c.Engine("User")
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, []string{"User"}, c.Entities())

	_, err = c.Model("archive", "Note")
	require.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "archive.Note")
	assert.Equal(t, "archive", errors.Detail(err, "provider"))
}

func TestContext_WaitTimeoutWithoutAutoConnect(t *testing.T) {
	var connected []string
	c := NewContext(WithWaitTimeout(50 * time.Millisecond))
	p := testProvider(false)
	p.OnConnection = func(name string) { connected = append(connected, name) }
	require.NoError(t, c.AddProvider(p))
	users, err := c.Register("main", userSchema())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseAll(context.Background()) })

	start := time.Now()
	_, err = users.Search(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConnectionTimeout(err))
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, c.Connect(context.Background(), "main"))
	assert.Equal(t, []string{"main"}, connected)
	rows, err := users.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEngine_BuildAndSearch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.users.Build(ctx, map[string]any{"name": "alice", "age": 30}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID())
	assert.Equal(t, true, rec.Get("active"))
	assert.NotNil(t, rec.Get(schema.CreatedAtField))
	assert.False(t, rec.IsNew())

	rows, err := f.users.Search(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].Get("name"))

	missing, err := f.users.SearchOne(ctx, query.Where{"name": "bob"}, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := f.users.Exists(ctx, query.Where{"name": "alice"}, nil)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, f.events.count())
}

func TestEngine_BuildAssignsObjectID(t *testing.T) {
	f := setup(t)
	rec, err := f.notes.Build(context.Background(), map[string]any{"body": "hi"}, nil)
	require.NoError(t, err)
	id, ok := rec.ID().(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}

func TestEngine_BuildRejectsRuleViolation(t *testing.T) {
	f := setup(t)
	_, err := f.users.Build(context.Background(), map[string]any{"name": "alice", "age": 200}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, validation.RuleRange, errors.Detail(err, "rule"))

	_, err = f.users.BuildMany(context.Background(), []map[string]any{{"name": "ok"}, {"name": "x"}}, nil)
	assert.True(t, errors.IsValidation(err))
	n, err := f.users.Count(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_SearchByIDs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice"}, map[string]any{"name": "bob"}, map[string]any{"name": "carol"})

	tooMany := make([]any, MaxBatchIDs+1)
	for i := range tooMany {
		tooMany[i] = i + 1
	}
	_, err := f.users.SearchByIDs(ctx, tooMany, nil)
	assert.True(t, errors.IsValidation(err))

	_, err = f.users.SearchByIDs(ctx, []any{}, nil)
	assert.True(t, errors.IsValidation(err))

	_, err = f.notes.SearchByIDs(ctx, []any{5}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "ID Column")

	rows, err := f.users.SearchByIDs(ctx, []any{1, 3}, query.Options{query.OptSort: "id"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "carol", rows[1].Get("name"))

	one, err := f.users.SearchByID(ctx, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "bob", one.Get("name"))
}

func TestEngine_DistinctOnEmptyTable(t *testing.T) {
	f := setup(t)
	out, err := f.users.Distinct(context.Background(), nil, query.Options{query.OptField: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{}}, out)

	seed(t, f.users, map[string]any{"name": "alice", "age": 3}, map[string]any{"name": "alice", "age": 4})
	out, err = f.users.Distinct(context.Background(), nil, query.Options{query.OptField: []string{"name", "age"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Len(t, out[0], 1)
	assert.Len(t, out[1], 2)

	_, err = f.users.Distinct(context.Background(), nil, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestEngine_UpdateAndUpsert(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice", "age": 30, "tags": []any{"a"}})

	rec, err := f.users.Update(ctx, query.Where{"name": "alice"}, mutation.Update{
		"$inc":  map[string]any{"age": 1},
		"$push": map[string]any{"tags": "b"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(31), rec.Get("age"))
	assert.Equal(t, []any{"a", "b"}, rec.Get("tags"))

	missing, err := f.users.Update(ctx, query.Where{"name": "nobody"}, mutation.Update{"age": 1}, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := f.users.Upsert(ctx, query.Where{"name": "carol"}, mutation.Update{"$inc": map[string]any{"age": 5}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "carol", created.Get("name"))
	assert.Equal(t, int64(5), created.Get("age"))

	_, err = f.users.Update(ctx, query.Where{"name": "alice"}, mutation.Update{"$set": map[string]any{"age": 500}}, nil)
	assert.True(t, errors.IsValidation(err))

	_, err = f.users.Update(ctx, query.Where{"name": "alice"}, mutation.Update{"age": 1, "$inc": map[string]any{"age": 1}}, nil)
	assert.True(t, errors.IsConflict(err))

	_, err = f.users.Update(ctx, query.Where{"name": "alice"}, mutation.Update{"age": 1}, query.Options{query.OptUpsert: "yes"})
	assert.True(t, errors.IsValidation(err))
}

func TestEngine_UpdateMany(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users,
		map[string]any{"name": "alice", "age": 10},
		map[string]any{"name": "bob", "age": 20},
		map[string]any{"name": "carol", "age": 30})

	n, err := f.users.UpdateMany(ctx, query.Where{"age": map[string]any{"$gte": 20}}, mutation.Update{"active": false}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.users.UpdateMany(ctx, query.Where{"active": false}, mutation.Update{"$inc": map[string]any{"age": 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := f.users.Search(ctx, nil, query.Options{query.OptSort: "id"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), rows[0].Get("age"))
	assert.Equal(t, int64(21), rows[1].Get("age"))
	assert.Equal(t, int64(31), rows[2].Get("age"))

	_, err = f.users.UpdateMany(ctx, nil, mutation.Update{"$inc": map[string]any{"age": 200}}, nil)
	assert.True(t, errors.IsValidation(err))
	rows, err = f.users.Search(ctx, nil, query.Options{query.OptSort: "id"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), rows[0].Get("age"), "failed bulk update rolls back")
}

func TestEngine_SearchAndReplace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice", "age": 30, "tags": []any{"x"}})

	rec, err := f.users.SearchAndReplace(ctx, query.Where{"name": "alice"}, map[string]any{"name": "alicia"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID())
	assert.Equal(t, "alicia", rec.Get("name"))
	assert.Nil(t, rec.Get("age"))
	assert.Nil(t, rec.Get("tags"))
	assert.Equal(t, true, rec.Get("active"))

	_, err = f.users.SearchAndReplace(ctx, query.Where{"name": "alicia"}, map[string]any{"nope": 1}, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestEngine_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users,
		map[string]any{"name": "alice", "age": 10},
		map[string]any{"name": "bob", "age": 20},
		map[string]any{"name": "carol", "age": 30})

	ok, err := f.users.Delete(ctx, query.Where{"name": "nobody"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.users.Delete(ctx, query.Where{"name": "alice"}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.users.DeleteMany(ctx, query.Where{}, nil)
	assert.True(t, errors.IsValidation(err))

	n, err := f.users.DeleteMany(ctx, query.Where{"age": map[string]any{"$gt": 100}}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.users.DeleteMany(ctx, query.Where{"age": map[string]any{"$gte": 20}}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := f.users.Count(ctx, nil, query.Options{query.OptParanoid: false})
	require.NoError(t, err)
	assert.Zero(t, all, "hard delete removes rows")
}

func TestEngine_SoftDeleteAndRestore(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice"}, map[string]any{"name": "bob"})

	ok, err := f.users.SoftDelete(ctx, query.Where{"name": "alice"}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	visible, err := f.users.Search(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	all, err := f.users.Search(ctx, nil, query.Options{query.OptParanoid: false, query.OptSort: "id"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].IsDeleted())

	n, err := f.users.SoftDeleteMany(ctx, query.Where{"name": "bob"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.users.Restore(ctx, query.Where{"name": map[string]any{"$in": []any{"alice", "bob"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.notes.SoftDelete(ctx, query.Where{"body": "x"}, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestEngine_Scopes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users,
		map[string]any{"name": "kid", "age": 10},
		map[string]any{"name": "bob", "age": 20},
		map[string]any{"name": "carol", "age": 30})

	adults, err := f.users.Scope("adults")
	require.NoError(t, err)
	rows, err := adults.Search(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	bob, err := f.users.Scopes([]string{"adults", "named"}, "bob")
	require.NoError(t, err)
	n, err := bob.Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 调用参数覆盖作用域
	n, err = adults.Count(ctx, query.Where{"age": 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.users.Scope("missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestRecord_ReadThroughScopeIgnoresScopeFilter(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice", "age": 30})

	adults, err := f.users.Scope("adults")
	require.NoError(t, err)
	rec, err := adults.SearchOne(ctx, query.Where{"name": "alice"}, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Same(t, f.users, rec.Engine())

	// 更新后记录已不在 adults 作用域内，按主键的操作仍然找得到它
	require.NoError(t, rec.Update(ctx, mutation.Update{"$set": map[string]any{"age": 10}}, nil))
	require.NoError(t, rec.Refresh(ctx))
	assert.False(t, rec.IsDeleted())
	assert.Equal(t, int64(10), rec.Get("age"))

	require.NoError(t, rec.Update(ctx, mutation.Update{"$set": map[string]any{"age": 11}}, nil))
	assert.Equal(t, int64(11), rec.Get("age"))

	fresh := adults.New(map[string]any{"name": "kid", "age": 5})
	require.NoError(t, fresh.Save(ctx, nil))
	require.NoError(t, fresh.Refresh(ctx))
	assert.Equal(t, "kid", fresh.Get("name"))
}

func TestRecord_MutatingValuesDoesNotTouchCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice", "age": 30, "tags": []any{"a", "b"}})

	rows, err := f.users.Search(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	tags := rows[0].Get("tags").([]any)
	tags[0] = "changed"
	rows[0].ToObject()["tags"].([]any)[1] = "changed"

	again, err := f.users.Search(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, []any{"a", "b"}, again[0].Get("tags"))
	assert.Equal(t, int64(1), f.users.Cache().Stats().Hits)

	values, err := f.users.Distinct(ctx, nil, query.Options{query.OptField: []string{"name"}})
	require.NoError(t, err)
	values[0][0] = "changed"
	values, err = f.users.Distinct(ctx, nil, query.Options{query.OptField: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"alice"}}, values)
}

func TestCloneValue(t *testing.T) {
	src := map[string]any{
		"list":   []any{map[string]any{"k": "v"}},
		"nested": map[string]any{"ids": []int{1, 2}},
		"plain":  3,
		"none":   nil,
	}
	dst := copyRow(src)
	assert.Equal(t, src, dst)

	dst["list"].([]any)[0].(map[string]any)["k"] = "x"
	dst["nested"].(map[string]any)["ids"].([]int)[0] = 9
	assert.Equal(t, "v", src["list"].([]any)[0].(map[string]any)["k"])
	assert.Equal(t, []int{1, 2}, src["nested"].(map[string]any)["ids"])
}

func TestEngine_CacheInvalidatedByWrites(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice"})

	_, err := f.users.Search(ctx, nil, nil)
	require.NoError(t, err)
	_, err = f.users.Search(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.users.Cache().Size())
	assert.Equal(t, int64(1), f.users.Cache().Stats().Hits)

	_, err = f.users.Search(ctx, nil, query.Options{query.OptCache: false})
	require.NoError(t, err)
	assert.Equal(t, 1, f.users.Cache().Size())

	seed(t, f.users, map[string]any{"name": "bob"})
	assert.Zero(t, f.users.Cache().Size())

	rows, err := f.users.Search(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestTransaction_CommitPublishesAfterCommit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tx, err := f.users.Transaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", tx.Provider())
	assert.NotEmpty(t, tx.ID())

	var called bool
	tx.AfterCommit(func(context.Context) { called = true })

	_, err = f.users.Build(ctx, map[string]any{"name": "alice"}, query.Options{query.OptTransaction: tx})
	require.NoError(t, err)
	n, err := f.users.Count(ctx, nil, query.Options{query.OptTransaction: tx})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, f.events.count())
	assert.False(t, called)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, f.events.count())
	assert.True(t, called)
	assert.True(t, errors.IsValidation(tx.Commit(ctx)))
}

func TestTransaction_RollbackDiscards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tx, err := f.ctx.Transaction(ctx, "main")
	require.NoError(t, err)
	_, err = f.users.Build(ctx, map[string]any{"name": "alice"}, query.Options{query.OptTransaction: tx})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	n, err := f.users.Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.events.count())
}

func TestEngine_Paginate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, name := range []string{"a1", "a2", "a3", "a4", "a5"} {
		seed(t, f.users, map[string]any{"name": name})
	}

	page, err := f.users.Paginate(ctx, nil, 2, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "a3", page.Data[0].Get("name"))

	_, err = f.users.Paginate(ctx, nil, 0, 2, nil)
	assert.True(t, errors.IsValidation(err))
	_, err = f.users.Paginate(ctx, nil, 1, validation.MaxPageSize+1, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestEngine_SearchFirstAndOptionErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "zed"}, map[string]any{"name": "amy"})

	first, err := f.users.SearchFirst(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "zed", first.Get("name"))

	_, err = f.users.Search(ctx, nil, query.Options{query.OptLimit: -1})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, query.OptLimit, errors.Detail(err, "option"))
}

func TestContext_DropAndReconnect(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice"})

	require.NoError(t, f.ctx.Drop(ctx, "main"))
	assert.False(t, f.ctx.Connections().IsConnected("main"))

	rows, err := f.users.Search(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestContext_RawQuery(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f.users, map[string]any{"name": "alice"})

	rows, err := f.ctx.Query(ctx, "main", nil, "SELECT name FROM users WHERE id = ?", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])
}

func TestRecord_Lifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	rec := seed(t, f.users, map[string]any{"name": "alice", "age": 30})[0]

	require.NoError(t, rec.Set("age", 40))
	assert.True(t, rec.IsModified())
	assert.True(t, rec.IsModified("age"))
	assert.False(t, rec.IsModified("name"))
	rec.Reload()
	assert.Equal(t, int64(30), rec.Get("age"))

	require.NoError(t, rec.Set("age", 41))
	require.NoError(t, rec.Save(ctx, nil))
	assert.False(t, rec.IsModified())
	require.NoError(t, rec.Refresh(ctx))
	assert.Equal(t, int64(41), rec.Get("age"))

	require.NoError(t, rec.Update(ctx, mutation.Update{"$uppercase": map[string]any{"name": true}}, nil))
	assert.Equal(t, "ALICE", rec.Get("name"))

	assert.True(t, errors.IsValidation(rec.Set("nope", 1)))
	require.NoError(t, rec.Set("age", 999))
	assert.False(t, rec.IsValid())
	rec.Reload()
	assert.True(t, rec.IsValid())

	public, err := rec.Role("public")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(1), "name": "ALICE"}, public)
	_, err = rec.Role("admin")
	assert.True(t, errors.IsNotFound(err))

	js, err := rec.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(js), `"name":"ALICE"`)
	assert.True(t, strings.HasPrefix(rec.String(), "{"))

	clone := rec.Clone()
	assert.True(t, clone.IsNew())
	assert.Nil(t, clone.ID())
	require.NoError(t, clone.Save(ctx, nil))
	assert.Equal(t, int64(2), clone.ID())

	ok, err := rec.SoftDelete(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rec.IsDeleted())
	ok, err = rec.Restore(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, rec.IsDeleted())

	ok, err = rec.Delete(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rec.IsDeleted())
	assert.True(t, errors.IsNotFound(rec.Refresh(ctx)))
}

func TestRecord_NewAndExpiresAt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	due := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := f.notes.New(map[string]any{"body": "todo", "due": due})
	assert.True(t, rec.IsNew())
	require.NoError(t, rec.Save(ctx, nil))
	assert.False(t, rec.IsNew())

	at, ok := rec.ExpiresAt()
	require.True(t, ok)
	assert.True(t, at.Equal(due.Add(time.Hour)))

	_, ok = f.users.New(nil).ExpiresAt()
	assert.False(t, ok)
}

func TestContext_LoadConfigEvents(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.LoadConfig(&config.Config{
		Providers: []config.Provider{testProvider(true)},
		Events:    &config.Events{Transport: config.TransportMemory, Workers: 1},
	}))
	require.NotNil(t, c.Bus())

	got := make(chan string, 4)
	require.NoError(t, c.Bus().Subscribe(context.Background(), "User.*", messaging.NewHandler("rec", func(_ context.Context, m messaging.IMessage) error {
		got <- m.GetType()
		return nil
	})))
	users, err := c.Register("main", userSchema())
	require.NoError(t, err)
	_, err = users.Build(context.Background(), map[string]any{"name": "Ann"}, nil)
	require.NoError(t, err)

	select {
	case typ := <-got:
		assert.Equal(t, "User.created", typ)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Nil(t, c.Bus())

	err = c.LoadConfig(&config.Config{Events: &config.Events{Transport: "kafka"}})
	assert.True(t, errors.IsConfiguration(err))
}

func TestContext_LoadConfigLog(t *testing.T) {
	prev := logging.GetLogger()
	t.Cleanup(func() { logging.SetLogger(prev) })

	custom := logging.NewMemoryLogger()
	c := NewContext(WithLogger(custom))
	require.NoError(t, c.LoadConfig(&config.Config{Log: &config.Log{Level: "error"}}))
	assert.NotSame(t, prev, logging.GetLogger())
	assert.Same(t, custom, c.logger)

	err := NewContext().LoadConfig(&config.Config{Log: &config.Log{Level: "verbose"}})
	assert.True(t, errors.IsConfiguration(err))
}
