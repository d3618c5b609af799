// Package model binds entity schemas to tenant connections.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/tenant"
	"github.com/trezcool/masomo/storage"
)

// Schema describes an entity type: its name, default collection and indexes.
type Schema struct {
	Name       string
	Collection string
	Indexes    []storage.Index
}

type memoKey struct {
	conn *tenant.Conn
	name string
}

// Binder hands out Models, one per (connection, schema name).
type Binder struct {
	log core.Logger

	mu     sync.RWMutex
	models map[memoKey]*Model
	group  singleflight.Group
}

// NewBinder returns a Binder with an empty memo.
func NewBinder(log core.Logger) *Binder {
	if log == nil {
		log = core.NopLogger
	}
	return &Binder{log: log, models: make(map[memoKey]*Model)}
}

// Bind returns the Model of schema on conn. An empty collection means schema.Collection.
// The first bind of a pair ensures the collection and its indexes exist; later binds touch no storage.
func (b *Binder) Bind(ctx context.Context, conn *tenant.Conn, schema Schema, collection string) (*Model, error) {
	const op = "model.Bind"

	if conn == nil {
		return nil, core.Errorf(op, core.KindInvalidArgument, "nil connection")
	}
	name := strings.TrimSpace(schema.Name)
	if name == "" {
		return nil, core.Errorf(op, core.KindInvalidArgument, "schema name is required")
	}
	if collection = strings.TrimSpace(collection); collection == "" {
		collection = strings.TrimSpace(schema.Collection)
	}
	if collection == "" {
		return nil, core.Errorf(op, core.KindInvalidArgument, "no collection for schema %q", name)
	}

	key := memoKey{conn: conn, name: name}
	if mdl, err := b.cached(op, key, collection); mdl != nil || err != nil {
		return mdl, err
	}
	if err := core.FromContext(ctx, op); err != nil {
		return nil, err
	}

	// detached: one waiter's cancellation must not fail the others
	detached := context.WithoutCancel(ctx)
	ch := b.group.DoChan(fmt.Sprintf("%p/%s", conn, name), func() (interface{}, error) {
		if mdl, err := b.cached(op, key, collection); mdl != nil || err != nil {
			return mdl, err
		}
		if err := conn.Database().EnsureCollection(detached, collection, schema.Indexes...); err != nil {
			return nil, core.E(op, core.KindStorage, errors.Wrapf(err, "registering %s in %s", collection, conn.Namespace()))
		}
		mdl := &Model{
			schema: name,
			tenant: conn.Tenant(),
			coll:   conn.Database().Collection(collection),
		}
		b.mu.Lock()
		b.models[key] = mdl
		b.mu.Unlock()
		b.log.Debug("schema bound", map[string]interface{}{"tenant": conn.Tenant().String(), "schema": name, "collection": collection})
		return mdl, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, core.E(op, core.KindCancelled, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	mdl := res.Val.(*Model)
	if mdl.Collection() != collection {
		return nil, core.Errorf(op, core.KindInvalidArgument, "schema %q already bound to %q on %s", name, mdl.Collection(), conn)
	}
	return mdl, nil
}

func (b *Binder) cached(op string, key memoKey, collection string) (*Model, error) {
	b.mu.RLock()
	mdl, ok := b.models[key]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if mdl.Collection() != collection {
		return nil, core.Errorf(op, core.KindInvalidArgument, "schema %q already bound to %q on %s", key.name, mdl.Collection(), key.conn)
	}
	return mdl, nil
}

// Forget drops the Models bound on conn. Registries call it when they release conn.
func (b *Binder) Forget(conn *tenant.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.models {
		if key.conn == conn {
			delete(b.models, key)
		}
	}
}

// Len returns the number of memoized Models.
func (b *Binder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.models)
}
