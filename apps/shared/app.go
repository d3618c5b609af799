// Package shared is the composition root of the masomo apps: it wires config, logging, storage and
// the tenancy core together.
package shared

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/bootstrap"
	"github.com/trezcool/masomo/core/metrics"
	"github.com/trezcool/masomo/core/model"
	"github.com/trezcool/masomo/core/sequence"
	"github.com/trezcool/masomo/core/tenant"
	"github.com/trezcool/masomo/core/user"
	"github.com/trezcool/masomo/storage"
	"github.com/trezcool/masomo/storage/database/inmem"
	"github.com/trezcool/masomo/storage/database/mongo"
	"github.com/trezcool/masomo/storage/database/postgres"
)

// App holds the long-lived dependencies of a masomo process.
type App struct {
	Conf     *core.Config
	Logger   core.Logger
	Metrics  *metrics.Metrics
	Cluster  storage.Cluster
	Registry *tenant.Registry
	Binder   *model.Binder
	IDs      *sequence.Allocator
	Boot     *bootstrap.Bootstrapper
	UserSvc  *user.Service
}

// NewCluster returns the storage cluster selected by conf.Storage.Driver.
func NewCluster(conf *core.Config) (storage.Cluster, error) {
	switch conf.Storage.Driver {
	case core.DriverPostgres:
		return pgdb.NewCluster(conf.Storage.Postgres), nil
	case core.DriverMongo:
		return mongodb.NewCluster(conf.Storage.Mongo), nil
	case core.DriverMemory:
		return inmemdb.Open(), nil
	}
	return nil, errors.Errorf("unknown storage driver %q", conf.Storage.Driver)
}

// New wires an App over cluster. Metrics are registered on reg when not nil.
func New(conf *core.Config, logger core.Logger, cluster storage.Cluster, reg prometheus.Registerer) *App {
	if logger == nil {
		logger = core.NopLogger
	}
	mtx := metrics.New(reg)

	registry := tenant.NewRegistry(cluster, tenant.Options{
		NamespacePrefix: conf.Storage.NamespacePrefix,
		OpenTimeout:     conf.Storage.OpenTimeout,
		Logger:          logger,
		Metrics:         mtx,
	})
	binder := model.NewBinder(logger)
	registry.OnClose(binder.Forget)

	ids := sequence.NewAllocator(registry, binder, sequence.Options{
		Overflow: conf.Sequence.Overflow,
		Logger:   logger,
		Metrics:  mtx,
	})

	return &App{
		Conf:     conf,
		Logger:   logger,
		Metrics:  mtx,
		Cluster:  cluster,
		Registry: registry,
		Binder:   binder,
		IDs:      ids,
		Boot:     bootstrap.New(registry, binder, bootstrap.Options{Logger: logger, Metrics: mtx}),
		UserSvc:  user.NewService(registry, binder, ids, logger),
	}
}

// Close releases every tenant connection, then the cluster.
func (app *App) Close(ctx context.Context) error {
	err := app.Registry.CloseAll(ctx)
	return multierr.Append(err, app.Cluster.Close(ctx))
}
