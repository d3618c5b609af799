package tenant

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/metrics"
	"github.com/trezcool/masomo/storage"
)

// Options configures a Registry.
type Options struct {
	// NamespacePrefix is prepended to the tenant key to name its namespace (default "school_").
	NamespacePrefix string
	// OpenTimeout bounds a single connection open; zero means no bound besides the cluster's own.
	OpenTimeout time.Duration
	Logger      core.Logger
	Metrics     *metrics.Metrics
}

// Registry lazily opens and caches one Conn per tenant.
//
// Cache hits take a read lock only. Concurrent first resolutions of the same tenant collapse into
// a single open; different tenants open in parallel. Failed opens are not cached.
type Registry struct {
	cluster storage.Cluster
	opts    Options
	log     core.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	conns   map[Key]*Conn
	closed  bool
	onClose []func(*Conn)

	group singleflight.Group
}

// NewRegistry returns an empty Registry over cluster.
func NewRegistry(cluster storage.Cluster, opts Options) *Registry {
	if opts.NamespacePrefix == "" {
		opts.NamespacePrefix = "school_"
	}
	r := &Registry{
		cluster: cluster,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		conns:   make(map[Key]*Conn),
	}
	if r.log == nil {
		r.log = core.NopLogger
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	return r
}

// NamespacePrefix returns the prefix used to name tenant namespaces.
func (r *Registry) NamespacePrefix() string { return r.opts.NamespacePrefix }

// OnClose registers fn to be called with every Conn released by CloseAll.
func (r *Registry) OnClose(fn func(*Conn)) {
	r.mu.Lock()
	r.onClose = append(r.onClose, fn)
	r.mu.Unlock()
}

func (r *Registry) cached(key Key) (*Conn, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[key]
	return conn, ok, r.closed
}

// Resolve returns the Conn of the tenant, opening it on first use.
func (r *Registry) Resolve(ctx context.Context, rawKey string) (*Conn, error) {
	const op = "tenant.Resolve"

	key, err := Normalize(rawKey)
	if err != nil {
		return nil, err
	}

	if err := core.FromContext(ctx, op); err != nil {
		return nil, err
	}
	conn, ok, closed := r.cached(key)
	if closed {
		return nil, core.E(op, core.KindRegistryClosed, nil)
	}
	if ok {
		return conn, nil
	}

	// detached: one waiter's cancellation must not fail the others
	ch := r.group.DoChan(string(key), func() (interface{}, error) {
		return r.open(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return nil, core.E(op, core.KindCancelled, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	}
}

func (r *Registry) open(ctx context.Context, key Key) (*Conn, error) {
	const op = "tenant.open"

	if conn, ok, closed := r.cached(key); closed {
		return nil, core.E(op, core.KindRegistryClosed, nil)
	} else if ok {
		return conn, nil
	}

	if r.opts.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.OpenTimeout)
		defer cancel()
	}

	ns := key.Namespace(r.opts.NamespacePrefix)
	db, err := r.cluster.Open(ctx, ns)
	if err != nil {
		r.metrics.ConnectionErrors.Inc()
		return nil, core.E(op, core.KindConnection, errors.Wrapf(err, "opening %s", ns))
	}

	conn := &Conn{key: key, db: db}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = db.Close(context.Background())
		return nil, core.E(op, core.KindRegistryClosed, nil)
	}
	r.conns[key] = conn
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.ConnectionsOpened.Inc()
	r.metrics.ConnectionsOpen.Set(float64(n))
	r.log.Info("tenant connection opened", map[string]interface{}{"tenant": key.String(), "namespace": ns})
	return conn, nil
}

// Tenants returns the keys of the cached connections, sorted.
func (r *Registry) Tenants() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.conns))
	for key := range r.conns {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of cached connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll releases every cached Conn. The Registry is unusable afterwards: Resolve fails with
// RegistryClosed. Closing twice is a no-op.
func (r *Registry) CloseAll(ctx context.Context) error {
	const op = "tenant.CloseAll"

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := r.conns
	r.conns = make(map[Key]*Conn)
	hooks := r.onClose
	r.mu.Unlock()

	keys := make([]Key, 0, len(conns))
	for key := range conns {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var errs error
	for _, key := range keys {
		conn := conns[key]
		for _, fn := range hooks {
			fn(conn)
		}
		if err := conn.db.Close(ctx); err != nil {
			errs = multierr.Append(errs, core.E(op, core.KindStorage, errors.Wrapf(err, "closing %s", conn.Namespace())))
			continue
		}
		r.log.Info("tenant connection closed", map[string]interface{}{"tenant": key.String()})
	}
	r.metrics.ConnectionsOpen.Set(0)
	return errs
}
