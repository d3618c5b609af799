package model

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/tenant"
	"github.com/trezcool/masomo/storage"
)

// Model is the accessor of one entity type within one tenant. Obtain it from a Binder.
type Model struct {
	schema string
	tenant tenant.Key
	coll   storage.Collection
}

func (m *Model) Schema() string     { return m.schema }
func (m *Model) Tenant() tenant.Key { return m.tenant }
func (m *Model) Collection() string { return m.coll.Name() }

func (m *Model) Insert(ctx context.Context, id string, doc interface{}) error {
	return m.wrap("model.Insert", m.coll.Insert(ctx, id, doc))
}

// Get decodes the document stored under id into out; core.ErrNotFound if absent.
func (m *Model) Get(ctx context.Context, id string, out interface{}) error {
	return m.wrap("model.Get", m.coll.Get(ctx, id, out))
}

// Find decodes the documents matching f into out, a pointer to a slice.
func (m *Model) Find(ctx context.Context, f storage.Filter, out interface{}) error {
	return m.wrap("model.Find", m.coll.Find(ctx, f, out))
}

func (m *Model) Count(ctx context.Context, f storage.Filter) (int64, error) {
	n, err := m.coll.Count(ctx, f)
	return n, m.wrap("model.Count", err)
}

func (m *Model) Replace(ctx context.Context, id string, doc interface{}) error {
	return m.wrap("model.Replace", m.coll.Replace(ctx, id, doc))
}

// Delete removes the documents stored under ids and returns how many existed.
func (m *Model) Delete(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := m.coll.Delete(ctx, ids...)
	return n, m.wrap("model.Delete", err)
}

// wrap maps storage errors to the core error kinds.
func (m *Model) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	err = errors.Wrapf(err, "%s.%s", m.tenant, m.coll.Name())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return core.E(op, core.KindNotFound, err)
	case errors.Is(err, storage.ErrDuplicate):
		return core.E(op, core.KindDuplicate, err)
	case errors.Is(err, storage.ErrUnreachable):
		return core.E(op, core.KindConnection, err)
	}
	return core.E(op, core.KindStorage, err)
}
