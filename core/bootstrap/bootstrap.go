// Package bootstrap prepares the namespace of a tenant: one collection per role, each holding a
// placeholder record so that an initialized tenant with no people differs from a fresh one.
package bootstrap

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/metrics"
	"github.com/trezcool/masomo/core/model"
	"github.com/trezcool/masomo/core/tenant"
	"github.com/trezcool/masomo/core/user"
)

// PlaceholderID is the ID of the placeholder record of every role collection.
// A fixed ID makes a second placeholder impossible, whatever the number of processes bootstrapping.
const PlaceholderID = "_placeholder"

// Options configures a Bootstrapper.
type Options struct {
	Logger  core.Logger
	Metrics *metrics.Metrics
}

// Bootstrapper initializes tenant namespaces, once per tenant.
type Bootstrapper struct {
	reg     *tenant.Registry
	binder  *model.Binder
	log     core.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	done  map[tenant.Key]struct{}
	group singleflight.Group
}

// New returns a Bootstrapper over reg and binder.
func New(reg *tenant.Registry, binder *model.Binder, opts Options) *Bootstrapper {
	b := &Bootstrapper{
		reg:     reg,
		binder:  binder,
		log:     opts.Logger,
		metrics: opts.Metrics,
		done:    make(map[tenant.Key]struct{}),
	}
	if b.log == nil {
		b.log = core.NopLogger
	}
	if b.metrics == nil {
		b.metrics = metrics.New(nil)
	}
	return b
}

// Placeholder is the placeholder record of role. It has no identifier, so identifier scans never
// count it.
func Placeholder(role user.Role) user.User {
	return user.User{
		ID:          PlaceholderID,
		Role:        role,
		Name:        "placeholder",
		Placeholder: true,
		CreatedAt:   time.Now().UTC(),
	}
}

// EnsureInitialized creates the role collections of the tenant and their placeholders.
// It is idempotent and safe to call concurrently.
func (b *Bootstrapper) EnsureInitialized(ctx context.Context, tenantKey string) error {
	const op = "bootstrap.EnsureInitialized"

	conn, err := b.reg.Resolve(ctx, tenantKey)
	if err != nil {
		return err
	}
	key := conn.Tenant()

	b.mu.RLock()
	_, done := b.done[key]
	b.mu.RUnlock()
	if done {
		return nil
	}

	// detached: one waiter's cancellation must not fail the others
	ch := b.group.DoChan(string(key), func() (interface{}, error) {
		return nil, b.initialize(context.WithoutCancel(ctx), op, conn)
	})
	select {
	case <-ctx.Done():
		return core.E(op, core.KindCancelled, ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

func (b *Bootstrapper) initialize(ctx context.Context, op string, conn *tenant.Conn) error {
	key := conn.Tenant()

	b.mu.RLock()
	_, done := b.done[key]
	b.mu.RUnlock()
	if done {
		return nil
	}

	var created int
	for _, role := range user.AllRoles {
		mdl, err := b.binder.Bind(ctx, conn, user.Schema(role), "")
		if err != nil {
			return err
		}
		switch err := mdl.Insert(ctx, PlaceholderID, Placeholder(role)); {
		case err == nil:
			created++
		case core.IsKind(err, core.KindDuplicate):
			// already initialized, maybe by another process
		default:
			return core.E(op, core.KindOf(err), err)
		}
	}

	b.mu.Lock()
	b.done[key] = struct{}{}
	b.mu.Unlock()

	if created > 0 {
		b.metrics.TenantsInitialized.Inc()
		b.log.Info("tenant initialized", map[string]interface{}{"tenant": key.String(), "namespace": conn.Namespace()})
	}
	return nil
}

// IsInitialized reports whether every role collection of the tenant holds its placeholder.
func (b *Bootstrapper) IsInitialized(ctx context.Context, tenantKey string) (bool, error) {
	conn, err := b.reg.Resolve(ctx, tenantKey)
	if err != nil {
		return false, err
	}

	b.mu.RLock()
	_, done := b.done[conn.Tenant()]
	b.mu.RUnlock()
	if done {
		return true, nil
	}

	for _, role := range user.AllRoles {
		mdl, err := b.binder.Bind(ctx, conn, user.Schema(role), "")
		if err != nil {
			return false, err
		}
		var placeholder user.User
		if err := mdl.Get(ctx, PlaceholderID, &placeholder); err != nil {
			if core.IsKind(err, core.KindNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}
