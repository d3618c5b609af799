// Package sequence allocates the human-readable identifiers of person records:
// {TENANT}-{ROLECODE}-{NNNN}, eg. "NPS-T-0042".
//
// Each (tenant, role) pair has a counter in the tenant's namespace, advanced by one atomic storage
// operation per allocation, so concurrent allocations never hand out the same number. A counter that
// does not exist yet is seeded from the largest identifier already stored in the role's collection.
package sequence

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/metrics"
	"github.com/trezcool/masomo/core/model"
	"github.com/trezcool/masomo/core/tenant"
	"github.com/trezcool/masomo/core/user"
	"github.com/trezcool/masomo/storage"
)

const (
	// Width is the zero-padded width of the sequence number.
	Width = 4
	// MaxSeq is the largest sequence number that fits Width.
	MaxSeq = 9999

	identifierField = "identifier"
)

// Options configures an Allocator.
type Options struct {
	// Overflow is core.OverflowFail (default) or core.OverflowWiden.
	Overflow string
	Logger   core.Logger
	Metrics  *metrics.Metrics
}

// Allocator hands out sequential identifiers per (tenant, role).
type Allocator struct {
	reg     *tenant.Registry
	binder  *model.Binder
	widen   bool
	log     core.Logger
	metrics *metrics.Metrics
}

var _ user.IdentifierAllocator = (*Allocator)(nil)

// NewAllocator returns an Allocator resolving tenants through reg and binding role collections
// through binder.
func NewAllocator(reg *tenant.Registry, binder *model.Binder, opts Options) *Allocator {
	a := &Allocator{
		reg:     reg,
		binder:  binder,
		widen:   opts.Overflow == core.OverflowWiden,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if a.log == nil {
		a.log = core.NopLogger
	}
	if a.metrics == nil {
		a.metrics = metrics.New(nil)
	}
	return a
}

// CounterKey is the name of the counter of role in the tenant's sequences collection.
func CounterKey(role user.Role) string {
	return "identifier." + role.String()
}

// Prefix returns "{TENANT}-{ROLECODE}-".
func Prefix(key tenant.Key, role user.Role) string {
	return key.IDPrefix() + "-" + role.Code() + "-"
}

// Format renders the identifier of the seq-th record of role in the tenant.
func Format(key tenant.Key, role user.Role, seq int64) string {
	return fmt.Sprintf("%s%0*d", Prefix(key, role), Width, seq)
}

// NextIdentifier consumes and returns the next identifier of role in the tenant.
// Identifiers are never handed out twice, even after the record holding one is deleted.
func (a *Allocator) NextIdentifier(ctx context.Context, tenantKey string, role user.Role) (string, error) {
	const op = "sequence.NextIdentifier"

	conn, mdl, err := a.bind(ctx, op, tenantKey, role)
	if err != nil {
		return "", err
	}
	db := conn.Database()
	counter := CounterKey(role)

	_, exists, err := db.Counter(ctx, counter)
	if err != nil {
		return "", core.E(op, core.KindStorage, errors.Wrapf(err, "reading counter %s", counter))
	}
	var floor int64
	if !exists {
		if floor, err = a.scanMax(ctx, mdl, conn.Tenant(), role); err != nil {
			return "", core.E(op, core.KindStorage, err)
		}
		a.metrics.CounterSeeds.WithLabelValues(role.String()).Inc()
		a.log.Info("identifier counter seeded", map[string]interface{}{
			"tenant": conn.Tenant().String(),
			"role":   role.String(),
			"floor":  floor,
		})
	}

	// concurrent seeders may pass the same floor: the increment merges it atomically
	next, err := db.Increment(ctx, counter, floor)
	if err != nil {
		return "", core.E(op, core.KindStorage, errors.Wrapf(err, "advancing counter %s", counter))
	}
	if next > MaxSeq && !a.widen {
		return "", core.Errorf(op, core.KindSequenceExhausted, "%s sequence is full", Prefix(conn.Tenant(), role))
	}
	a.metrics.IdentifiersAllocated.WithLabelValues(role.String()).Inc()
	return Format(conn.Tenant(), role, next), nil
}

// Peek returns the identifier the next NextIdentifier call would return, without consuming it.
func (a *Allocator) Peek(ctx context.Context, tenantKey string, role user.Role) (string, error) {
	const op = "sequence.Peek"

	conn, mdl, err := a.bind(ctx, op, tenantKey, role)
	if err != nil {
		return "", err
	}
	counter := CounterKey(role)

	current, exists, err := conn.Database().Counter(ctx, counter)
	if err != nil {
		return "", core.E(op, core.KindStorage, errors.Wrapf(err, "reading counter %s", counter))
	}
	if !exists {
		if current, err = a.scanMax(ctx, mdl, conn.Tenant(), role); err != nil {
			return "", core.E(op, core.KindStorage, err)
		}
	}
	if current+1 > MaxSeq && !a.widen {
		return "", core.Errorf(op, core.KindSequenceExhausted, "%s sequence is full", Prefix(conn.Tenant(), role))
	}
	return Format(conn.Tenant(), role, current+1), nil
}

func (a *Allocator) bind(ctx context.Context, op, tenantKey string, role user.Role) (*tenant.Conn, *model.Model, error) {
	if !role.Valid() {
		return nil, nil, core.Errorf(op, core.KindInvalidRole, "unknown role %q", role)
	}
	conn, err := a.reg.Resolve(ctx, tenantKey)
	if err != nil {
		return nil, nil, err
	}
	mdl, err := a.binder.Bind(ctx, conn, user.Schema(role), "")
	if err != nil {
		return nil, nil, err
	}
	return conn, mdl, nil
}

// scanMax returns the largest sequence number among the identifiers stored in the role's
// collection, 0 if there are none.
func (a *Allocator) scanMax(ctx context.Context, mdl *model.Model, key tenant.Key, role user.Role) (int64, error) {
	prefix := Prefix(key, role)
	digits := `\d{4}`
	if a.widen {
		digits = `\d{4,}`
	}
	pattern := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(prefix) + `(` + digits + `)$`)

	var docs []struct {
		Identifier string `json:"identifier" bson:"identifier"`
	}
	f := storage.Filter{Prefix: map[string]string{identifierField: prefix}}
	if err := mdl.Find(ctx, f, &docs); err != nil {
		return 0, errors.Wrapf(err, "scanning %s", mdl.Collection())
	}

	var max int64
	for _, doc := range docs {
		m := pattern.FindStringSubmatch(doc.Identifier)
		if m == nil {
			continue
		}
		seq, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

// Identifier is a parsed sequential identifier.
type Identifier struct {
	Tenant tenant.Key
	Role   user.Role
	Seq    int64
}

func (id Identifier) String() string { return Format(id.Tenant, id.Role, id.Seq) }

// Parse splits s into its tenant, role and sequence number. Sequence numbers wider than Width are
// accepted.
func Parse(s string) (Identifier, error) {
	const op = "sequence.Parse"

	parts := strings.Split(core.CleanString(s), "-")
	if len(parts) != 3 || len(parts[2]) < Width {
		return Identifier{}, core.Errorf(op, core.KindInvalidArgument, "malformed identifier %q", s)
	}
	key, err := tenant.Normalize(parts[0])
	if err != nil {
		return Identifier{}, err
	}
	role, err := user.ParseRole(parts[1])
	if err != nil || len(parts[1]) != 1 {
		return Identifier{}, core.Errorf(op, core.KindInvalidArgument, "malformed identifier %q", s)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 || strings.HasPrefix(parts[2], "+") {
		return Identifier{}, core.Errorf(op, core.KindInvalidArgument, "malformed identifier %q", s)
	}
	return Identifier{Tenant: key, Role: role, Seq: seq}, nil
}
