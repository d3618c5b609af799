// Package storagetest checks that a storage.Cluster behaves the way the tenancy core expects.
// Every driver runs it from its own tests.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/storage"
)

type person struct {
	ID         string `json:"id" bson:"id"`
	Identifier string `json:"identifier,omitempty" bson:"identifier,omitempty"`
	Name       string `json:"name" bson:"name"`
	Age        int    `json:"age" bson:"age"`
	Active     bool   `json:"active" bson:"active"`
}

// Run runs the conformance suite against cluster. Namespaces are suffixed with a timestamp so
// that runs against a shared server do not collide.
func Run(t *testing.T, cluster storage.Cluster) {
	suffix := fmt.Sprintf("%d", time.Now().UnixNano()%1e9)
	ns := func(name string) string { return "storagetest_" + name + "_" + suffix }

	t.Run("namespaces", func(t *testing.T) { testNamespaces(t, cluster, ns("a"), ns("b")) })
	t.Run("collection", func(t *testing.T) { testCollection(t, cluster, ns("coll")) })
	t.Run("counters", func(t *testing.T) { testCounters(t, cluster, ns("ctr")) })
	t.Run("concurrent increments", func(t *testing.T) { testConcurrentIncrements(t, cluster, ns("conc")) })
}

func open(t *testing.T, cluster storage.Cluster, name string) storage.Database {
	t.Helper()
	db, err := cluster.Open(context.Background(), name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func testNamespaces(t *testing.T, cluster storage.Cluster, a, b string) {
	ctx := context.Background()
	dba, dbb := open(t, cluster, a), open(t, cluster, b)
	assert.Equal(t, a, dba.Name())

	require.NoError(t, dba.EnsureCollection(ctx, "people"))
	require.NoError(t, dbb.EnsureCollection(ctx, "people"))
	require.NoError(t, dba.Collection("people").Insert(ctx, "1", person{ID: "1", Name: "Amina"}))

	n, err := dbb.Collection("people").Count(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n, "namespaces are isolated")

	// data outlives the handle
	again := open(t, cluster, a)
	require.NoError(t, again.EnsureCollection(ctx, "people"))
	var got person
	require.NoError(t, again.Collection("people").Get(ctx, "1", &got))
	assert.Equal(t, "Amina", got.Name)
}

func testCollection(t *testing.T, cluster storage.Cluster, name string) {
	ctx := context.Background()
	db := open(t, cluster, name)
	require.NoError(t, db.EnsureCollection(ctx, "people",
		storage.Index{Field: "identifier", Unique: true},
		storage.Index{Field: "name"},
	))
	require.NoError(t, db.EnsureCollection(ctx, "people", storage.Index{Field: "identifier", Unique: true}), "ensuring twice is fine")
	coll := db.Collection("people")
	assert.Equal(t, "people", coll.Name())

	people := []person{
		{ID: "1", Identifier: "X-T-0001", Name: "Amina", Age: 30, Active: true},
		{ID: "2", Identifier: "X-T-0002", Name: "amadou", Age: 41},
		{ID: "3", Identifier: "X-T-0003", Name: "Bola", Age: 25, Active: true},
		{ID: "4", Name: "placeholder"},
		{ID: "5", Name: "another placeholder"},
	}
	for _, p := range people {
		require.NoError(t, coll.Insert(ctx, p.ID, p))
	}

	err := coll.Insert(ctx, "1", person{ID: "1"})
	assert.True(t, errors.Is(err, storage.ErrDuplicate), "duplicate id: %v", err)
	err = coll.Insert(ctx, "6", person{ID: "6", Identifier: "X-T-0002"})
	assert.True(t, errors.Is(err, storage.ErrDuplicate), "duplicate unique field: %v", err)

	var got person
	require.NoError(t, coll.Get(ctx, "2", &got))
	assert.Equal(t, people[1], got)
	err = coll.Get(ctx, "42", &got)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "missing id: %v", err)

	var found []person
	require.NoError(t, coll.Find(ctx, storage.Filter{
		Prefix: map[string]string{"name": "AM"},
		Sort:   []storage.Ordering{{Field: "identifier", Ascending: true}},
	}, &found))
	require.Len(t, found, 2)
	assert.Equal(t, "1", found[0].ID)
	assert.Equal(t, "2", found[1].ID)

	found = nil
	require.NoError(t, coll.Find(ctx, storage.Filter{
		Eq:    map[string]interface{}{"active": true},
		Sort:  []storage.Ordering{{Field: "name", Ascending: false}},
		Limit: 1,
	}, &found))
	require.Len(t, found, 1)
	assert.Equal(t, "3", found[0].ID)

	found = nil
	require.NoError(t, coll.Find(ctx, storage.Filter{Prefix: map[string]string{"identifier": "x-t-"}}, &found))
	assert.Len(t, found, 3, "prefixes match case-insensitively and skip missing fields")

	found = nil
	require.NoError(t, coll.Find(ctx, storage.Filter{Prefix: map[string]string{"name": "a_"}}, &found))
	assert.Empty(t, found, "prefixes are literal")

	n, err := coll.Count(ctx, storage.Filter{Eq: map[string]interface{}{"identifier": "X-T-0003"}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got = people[1]
	got.Active = true
	require.NoError(t, coll.Replace(ctx, "2", got))
	n, err = coll.Count(ctx, storage.Filter{Eq: map[string]interface{}{"active": true}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	err = coll.Replace(ctx, "42", got)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "replace missing id: %v", err)

	n, err = coll.Delete(ctx, "1", "2", "42")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = coll.Count(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// a deleted identifier is free again at the storage level
	require.NoError(t, coll.Insert(ctx, "7", person{ID: "7", Identifier: "X-T-0001"}))
}

func testCounters(t *testing.T, cluster storage.Cluster, name string) {
	ctx := context.Background()
	db := open(t, cluster, name)

	_, ok, err := db.Counter(ctx, "identifier.teacher")
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := db.Increment(ctx, "identifier.teacher", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, val)

	val, err = db.Increment(ctx, "identifier.teacher", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, val)

	val, err = db.Increment(ctx, "identifier.teacher", 10)
	require.NoError(t, err)
	assert.EqualValues(t, 11, val, "floor above the value")

	val, err = db.Increment(ctx, "identifier.teacher", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 12, val, "floor below the value")

	val, err = db.Increment(ctx, "identifier.admin", 7)
	require.NoError(t, err)
	assert.EqualValues(t, 8, val, "a new counter starts from its floor")

	val, ok, err = db.Counter(ctx, "identifier.teacher")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 12, val)
}

func testConcurrentIncrements(t *testing.T, cluster storage.Cluster, name string) {
	ctx := context.Background()
	db := open(t, cluster, name)

	const n = 30
	vals := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, err := db.Increment(ctx, "identifier.student", 5)
			assert.NoError(t, err)
			vals[i] = val
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, val := range vals {
		assert.False(t, seen[val], "value %d handed out twice", val)
		seen[val] = true
		assert.True(t, val >= 6 && val <= 5+n, "value %d out of range", val)
	}
}
