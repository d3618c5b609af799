package user

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/model"
	"github.com/trezcool/masomo/core/tenant"
	"github.com/trezcool/masomo/storage"
)

type (
	// IdentifierAllocator hands out the sequential identifiers of new records.
	IdentifierAllocator interface {
		NextIdentifier(ctx context.Context, tenantKey string, role Role) (string, error)
	}

	Service struct {
		reg    *tenant.Registry
		binder *model.Binder
		ids    IdentifierAllocator
		log    core.Logger
	}
)

func NewService(reg *tenant.Registry, binder *model.Binder, ids IdentifierAllocator, log core.Logger) *Service {
	if log == nil {
		log = core.NopLogger
	}
	return &Service{reg: reg, binder: binder, ids: ids, log: log}
}

// Model returns the accessor of the role's records within the tenant.
func (svc *Service) Model(ctx context.Context, tenantKey string, role Role) (*model.Model, error) {
	if !role.Valid() {
		return nil, core.Errorf("user.Model", core.KindInvalidRole, "unknown role %q", role)
	}
	conn, err := svc.reg.Resolve(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	return svc.binder.Bind(ctx, conn, Schema(role), "")
}

// Create validates nu, allocates the next identifier of its role and stores the new record.
func (svc *Service) Create(ctx context.Context, tenantKey string, nu NewUser) (User, error) {
	if err := nu.Validate(); err != nil {
		return User{}, err
	}
	mdl, err := svc.Model(ctx, tenantKey, nu.Role)
	if err != nil {
		return User{}, err
	}
	ident, err := svc.ids.NextIdentifier(ctx, tenantKey, nu.Role)
	if err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	usr := User{
		ID:         uuid.New().String(),
		Identifier: ident,
		Role:       nu.Role,
		Name:       nu.Name,
		Email:      nu.Email,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if nu.Password != "" {
		if err := usr.SetPassword(nu.Password); err != nil {
			return User{}, err
		}
	}
	if err := mdl.Insert(ctx, usr.ID, usr); err != nil {
		return User{}, err
	}
	svc.log.Info("user created", map[string]interface{}{"tenant": mdl.Tenant().String(), "identifier": ident})
	return usr, nil
}

func (svc *Service) Get(ctx context.Context, tenantKey string, role Role, id string) (User, error) {
	mdl, err := svc.Model(ctx, tenantKey, role)
	if err != nil {
		return User{}, err
	}
	var usr User
	if err := mdl.Get(ctx, id, &usr); err != nil {
		return User{}, err
	}
	return usr, nil
}

// GetByIdentifier finds a record by its sequential identifier, eg. "NPS-T-0003".
// The role is read from the identifier.
func (svc *Service) GetByIdentifier(ctx context.Context, tenantKey, identifier string) (User, error) {
	const op = "user.GetByIdentifier"

	identifier = strings.ToUpper(core.CleanString(identifier))
	parts := strings.Split(identifier, "-")
	if len(parts) != 3 {
		return User{}, core.Errorf(op, core.KindInvalidArgument, "malformed identifier %q", identifier)
	}
	role, err := ParseRole(parts[1])
	if err != nil {
		return User{}, err
	}
	mdl, err := svc.Model(ctx, tenantKey, role)
	if err != nil {
		return User{}, err
	}

	var users []User
	if err := mdl.Find(ctx, storage.Filter{Eq: map[string]interface{}{"identifier": identifier}, Limit: 1}, &users); err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, core.Errorf(op, core.KindNotFound, "no user %s", identifier)
	}
	return users[0], nil
}

// Query returns the role's records matching filter, ordered by identifier. Placeholders are skipped.
func (svc *Service) Query(ctx context.Context, tenantKey string, role Role, filter QueryFilter) ([]User, error) {
	mdl, err := svc.Model(ctx, tenantKey, role)
	if err != nil {
		return nil, err
	}

	filter.Clean()
	f := storage.Filter{Sort: []storage.Ordering{{Field: "identifier", Ascending: true}}}
	if filter.Search != "" {
		f.Prefix = map[string]string{"name": filter.Search}
	}
	if filter.IsActive != nil {
		f.Eq = map[string]interface{}{"is_active": *filter.IsActive}
	}

	var found []User
	if err := mdl.Find(ctx, f, &found); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(found))
	for _, usr := range found {
		if usr.Placeholder {
			continue
		}
		users = append(users, usr)
		if filter.Limit > 0 && len(users) == filter.Limit {
			break
		}
	}
	return users, nil
}

// Delete removes records by ID. Their identifiers are never handed out again.
func (svc *Service) Delete(ctx context.Context, tenantKey string, role Role, ids ...string) (int64, error) {
	mdl, err := svc.Model(ctx, tenantKey, role)
	if err != nil {
		return 0, err
	}
	return mdl.Delete(ctx, ids...)
}

// SetPassword replaces the password of the record holding identifier.
func (svc *Service) SetPassword(ctx context.Context, tenantKey, identifier, pwd string) (User, error) {
	usr, err := svc.GetByIdentifier(ctx, tenantKey, identifier)
	if err != nil {
		return User{}, err
	}
	mdl, err := svc.Model(ctx, tenantKey, usr.Role)
	if err != nil {
		return User{}, err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, err
	}
	usr.UpdatedAt = time.Now().UTC()
	if err := mdl.Replace(ctx, usr.ID, usr); err != nil {
		return User{}, err
	}
	return usr, nil
}
