package model

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/tenant"
	"github.com/trezcool/masomo/storage"
	"github.com/trezcool/masomo/storage/database/inmem"
)

var bookSchema = Schema{
	Name:       "book",
	Collection: "books",
	Indexes:    []storage.Index{{Field: "isbn", Unique: true}},
}

type book struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	ISBN  string `json:"isbn,omitempty"`
}

func setup(t *testing.T) (*Binder, *tenant.Registry) {
	reg := tenant.NewRegistry(inmemdb.Open(), tenant.Options{})
	binder := NewBinder(nil)
	reg.OnClose(binder.Forget)
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })
	return binder, reg
}

func resolve(t *testing.T, reg *tenant.Registry, key string) *tenant.Conn {
	conn, err := reg.Resolve(context.Background(), key)
	require.NoError(t, err)
	return conn
}

func TestBinder_Bind(t *testing.T) {
	binder, reg := setup(t)
	ctx := context.Background()
	conn := resolve(t, reg, "p")

	m1, err := binder.Bind(ctx, conn, bookSchema, "")
	require.NoError(t, err)
	m2, err := binder.Bind(ctx, conn, bookSchema, "books")
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Equal(t, "books", m1.Collection())
	assert.Equal(t, "book", m1.Schema())
	assert.Equal(t, tenant.Key("p"), m1.Tenant())
	assert.Equal(t, 1, binder.Len())
}

func TestBinder_Bind_invalid(t *testing.T) {
	binder, reg := setup(t)
	ctx := context.Background()
	conn := resolve(t, reg, "p")

	tests := []struct {
		name       string
		conn       *tenant.Conn
		schema     Schema
		collection string
	}{
		{name: "nil conn", schema: bookSchema},
		{name: "no schema name", conn: conn, schema: Schema{Collection: "books"}},
		{name: "no collection", conn: conn, schema: Schema{Name: "thing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := binder.Bind(ctx, tt.conn, tt.schema, tt.collection)
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}

	_, err := binder.Bind(ctx, conn, bookSchema, "")
	require.NoError(t, err)
	_, err = binder.Bind(ctx, conn, bookSchema, "other_books")
	assert.ErrorIs(t, err, core.ErrInvalidArgument, "a schema name is bound to one collection per connection")
}

func TestBinder_Bind_tenantIsolation(t *testing.T) {
	binder, reg := setup(t)
	ctx := context.Background()

	pm, err := binder.Bind(ctx, resolve(t, reg, "p"), bookSchema, "")
	require.NoError(t, err)
	zm, err := binder.Bind(ctx, resolve(t, reg, "z"), bookSchema, "")
	require.NoError(t, err)
	require.NotSame(t, pm, zm)

	require.NoError(t, pm.Insert(ctx, "1", book{ID: "1", Title: "Things Fall Apart"}))

	n, err := zm.Count(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n, "a write in one tenant must not be visible in another")

	err = zm.Get(ctx, "1", &book{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestBinder_Bind_concurrent(t *testing.T) {
	binder, reg := setup(t)
	conn := resolve(t, reg, "nps")

	const n = 30
	models := make([]*Model, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mdl, err := binder.Bind(context.Background(), conn, bookSchema, "")
			assert.NoError(t, err)
			models[i] = mdl
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, models[0], models[i])
	}
}

// slowDB delays collection registration until its context is done or the delay elapses.
type slowDB struct {
	storage.Database
	delay   time.Duration
	entered chan struct{}
	calls   int32
}

func (db *slowDB) EnsureCollection(ctx context.Context, name string, indexes ...storage.Index) error {
	if atomic.AddInt32(&db.calls, 1) == 1 {
		close(db.entered)
	}
	timer := time.NewTimer(db.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return db.Database.EnsureCollection(ctx, name, indexes...)
}

func TestBinder_Bind_cancelledWaiter(t *testing.T) {
	binder, reg := setup(t)
	inner := resolve(t, reg, "p")
	db := &slowDB{Database: inner.Database(), delay: 100 * time.Millisecond, entered: make(chan struct{})}
	conn := tenant.NewConn(inner.Tenant(), db)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := binder.Bind(ctxA, conn, bookSchema, "")
		errA <- err
	}()
	<-db.entered

	type result struct {
		mdl *Model
		err error
	}
	resB := make(chan result, 1)
	go func() {
		mdl, err := binder.Bind(context.Background(), conn, bookSchema, "")
		resB <- result{mdl, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancelA()

	assert.ErrorIs(t, <-errA, core.ErrCancelled)
	b := <-resB
	require.NoError(t, b.err, "a live caller must not fail because another one gave up")
	assert.Equal(t, "books", b.mdl.Collection())
	assert.EqualValues(t, 1, atomic.LoadInt32(&db.calls))
}

func TestBinder_Bind_callerDeadline(t *testing.T) {
	binder, reg := setup(t)
	inner := resolve(t, reg, "p")
	db := &slowDB{Database: inner.Database(), delay: time.Second, entered: make(chan struct{})}
	conn := tenant.NewConn(inner.Tenant(), db)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := binder.Bind(ctx, conn, bookSchema, "")
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBinder_Forget(t *testing.T) {
	binder, reg := setup(t)
	ctx := context.Background()

	_, err := binder.Bind(ctx, resolve(t, reg, "p"), bookSchema, "")
	require.NoError(t, err)
	require.Equal(t, 1, binder.Len())

	require.NoError(t, reg.CloseAll(ctx))
	assert.Equal(t, 0, binder.Len())
}

func TestModel_CRUD(t *testing.T) {
	binder, reg := setup(t)
	ctx := context.Background()

	mdl, err := binder.Bind(ctx, resolve(t, reg, "p"), bookSchema, "")
	require.NoError(t, err)

	require.NoError(t, mdl.Insert(ctx, "1", book{ID: "1", Title: "Weep Not, Child", ISBN: "111"}))
	require.NoError(t, mdl.Insert(ctx, "2", book{ID: "2", Title: "Petals of Blood", ISBN: "222"}))
	require.NoError(t, mdl.Insert(ctx, "3", book{ID: "3", Title: "Devil on the Cross"}))

	err = mdl.Insert(ctx, "1", book{ID: "1"})
	assert.ErrorIs(t, err, core.ErrDuplicate, "duplicate id")
	err = mdl.Insert(ctx, "4", book{ID: "4", ISBN: "111"})
	assert.ErrorIs(t, err, core.ErrDuplicate, "duplicate unique field")

	var got book
	require.NoError(t, mdl.Get(ctx, "2", &got))
	assert.Equal(t, "Petals of Blood", got.Title)

	var found []book
	require.NoError(t, mdl.Find(ctx, storage.Filter{
		Prefix: map[string]string{"title": "pe"},
	}, &found))
	require.Len(t, found, 1)
	assert.Equal(t, "2", found[0].ID)

	got.Title = "Petals of Blood (2nd ed.)"
	require.NoError(t, mdl.Replace(ctx, "2", got))
	require.NoError(t, mdl.Get(ctx, "2", &got))
	assert.Equal(t, "Petals of Blood (2nd ed.)", got.Title)
	assert.ErrorIs(t, mdl.Replace(ctx, "9", got), core.ErrNotFound)

	n, err := mdl.Delete(ctx, "1", "9")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = mdl.Count(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	found = nil
	require.NoError(t, mdl.Find(ctx, storage.Filter{
		Sort:  []storage.Ordering{{Field: "title", Ascending: true}},
		Limit: 1,
	}, &found))
	require.Len(t, found, 1)
	assert.Equal(t, "3", found[0].ID)
}
