// Package inmemdb is an in-process storage.Cluster. Data outlives Database handles the way it
// would on a real cluster: re-opening a namespace sees what was written before.
package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo/storage"
)

type (
	Cluster struct {
		mu          sync.RWMutex
		namespaces  map[string]*namespace
		opens       map[string]int
		unreachable bool
		latency     time.Duration
		closed      bool
	}

	namespace struct {
		mu       sync.RWMutex
		tables   map[string]*table
		counters map[string]int64
	}

	// DB is a handle to one namespace.
	DB struct {
		name    string
		ns      *namespace
		cluster *Cluster

		mu     sync.RWMutex
		closed bool
	}
)

var (
	_ storage.Cluster  = (*Cluster)(nil)
	_ storage.Database = (*DB)(nil)
)

func Open() *Cluster {
	return &Cluster{
		namespaces: make(map[string]*namespace),
		opens:      make(map[string]int),
	}
}

// SetUnreachable simulates a cluster outage for subsequent Open calls.
func (c *Cluster) SetUnreachable(down bool) {
	c.mu.Lock()
	c.unreachable = down
	c.mu.Unlock()
}

// SetLatency delays every Open by d (or until the context is done).
func (c *Cluster) SetLatency(d time.Duration) {
	c.mu.Lock()
	c.latency = d
	c.mu.Unlock()
}

// OpenCount returns how many times namespace has been opened successfully.
func (c *Cluster) OpenCount(ns string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opens[ns]
}

// Namespaces returns the names of the namespaces created so far.
func (c *Cluster) Namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.namespaces))
	for name := range c.namespaces {
		names = append(names, name)
	}
	return names
}

func (c *Cluster) Open(ctx context.Context, name string) (storage.Database, error) {
	c.mu.RLock()
	latency, down, closed := c.latency, c.unreachable, c.closed
	c.mu.RUnlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if closed {
		return nil, storage.ErrClosed
	}
	if down {
		return nil, errors.Wrapf(storage.ErrUnreachable, "opening %s", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.namespaces[name]
	if !ok {
		ns = &namespace{
			tables:   make(map[string]*table),
			counters: make(map[string]int64),
		}
		c.namespaces[name] = ns
	}
	c.opens[name]++
	return &DB{name: name, ns: ns, cluster: c}, nil
}

func (c *Cluster) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (db *DB) Name() string { return db.name }

func (db *DB) Collection(name string) storage.Collection {
	return &collection{db: db, name: name}
}

func (db *DB) EnsureCollection(ctx context.Context, name string, indexes ...storage.Index) error {
	if err := db.check(ctx); err != nil {
		return err
	}
	db.ns.mu.Lock()
	defer db.ns.mu.Unlock()

	tbl := db.ns.table(name)
	for _, idx := range indexes {
		if idx.Unique {
			tbl.unique[idx.Field] = struct{}{}
		}
	}
	return nil
}

func (db *DB) Counter(ctx context.Context, key string) (int64, bool, error) {
	if err := db.check(ctx); err != nil {
		return 0, false, err
	}
	db.ns.mu.RLock()
	defer db.ns.mu.RUnlock()
	val, ok := db.ns.counters[key]
	return val, ok, nil
}

func (db *DB) Increment(ctx context.Context, key string, floor int64) (int64, error) {
	if err := db.check(ctx); err != nil {
		return 0, err
	}
	db.ns.mu.Lock()
	defer db.ns.mu.Unlock()

	val := db.ns.counters[key]
	if floor > val {
		val = floor
	}
	val++
	db.ns.counters[key] = val
	return val, nil
}

func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
	return nil
}

func (db *DB) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return storage.ErrClosed
	}
	return nil
}

// table returns the named table, creating it. Callers hold ns.mu for writing.
func (ns *namespace) table(name string) *table {
	tbl, ok := ns.tables[name]
	if !ok {
		tbl = newTable()
		ns.tables[name] = tbl
	}
	return tbl
}
