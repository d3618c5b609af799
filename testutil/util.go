// Package testutil wires the tenancy core over the in-memory storage driver for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/masomo/core/metrics"
	"github.com/trezcool/masomo/core/model"
	"github.com/trezcool/masomo/core/tenant"
	"github.com/trezcool/masomo/storage"
	"github.com/trezcool/masomo/storage/database/inmem"
)

// Stack is a Registry and a Binder over one in-memory cluster.
type Stack struct {
	Cluster  *inmemdb.Cluster
	Registry *tenant.Registry
	Binder   *model.Binder
	Metrics  *metrics.Metrics
}

// NewStack builds a Stack; the registry is closed when the test ends.
func NewStack(t *testing.T) *Stack {
	t.Helper()
	s := &Stack{
		Cluster: inmemdb.Open(),
		Binder:  model.NewBinder(nil),
		Metrics: metrics.New(nil),
	}
	s.Registry = tenant.NewRegistry(s.Cluster, tenant.Options{
		OpenTimeout: 5 * time.Second,
		Metrics:     s.Metrics,
	})
	s.Registry.OnClose(s.Binder.Forget)
	t.Cleanup(func() { _ = s.Registry.CloseAll(context.Background()) })
	return s
}

// Conn resolves tenantKey or fails the test.
func (s *Stack) Conn(t *testing.T, tenantKey string) *tenant.Conn {
	t.Helper()
	conn, err := s.Registry.Resolve(context.Background(), tenantKey)
	if err != nil {
		t.Fatalf("Conn(%q) failed: %v", tenantKey, err)
	}
	return conn
}

// Bind binds schema on the tenant's connection or fails the test.
func (s *Stack) Bind(t *testing.T, tenantKey string, schema model.Schema) *model.Model {
	t.Helper()
	mdl, err := s.Binder.Bind(context.Background(), s.Conn(t, tenantKey), schema, "")
	if err != nil {
		t.Fatalf("Bind(%q, %q) failed: %v", tenantKey, schema.Name, err)
	}
	return mdl
}

// Insert stores doc under id through mdl or fails the test.
func Insert(t *testing.T, mdl *model.Model, id string, doc interface{}) {
	t.Helper()
	if err := mdl.Insert(context.Background(), id, doc); err != nil {
		t.Fatalf("Insert(%q) failed: %v", id, err)
	}
}

// Count counts the documents of mdl matching f or fails the test.
func Count(t *testing.T, mdl *model.Model, f storage.Filter) int64 {
	t.Helper()
	n, err := mdl.Count(context.Background(), f)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	return n
}
