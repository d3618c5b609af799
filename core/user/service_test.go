package user

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/core"
	tu "github.com/trezcool/masomo/testutil"
)

// fakeAllocator counts per (tenant, role) in memory.
type fakeAllocator struct {
	mu   sync.Mutex
	seqs map[string]int
	err  error
}

func (a *fakeAllocator) NextIdentifier(_ context.Context, tenantKey string, role Role) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seqs == nil {
		a.seqs = make(map[string]int)
	}
	k := tenantKey + "/" + role.String()
	a.seqs[k]++
	return fmt.Sprintf("X-%s-%04d", role.Code(), a.seqs[k]), nil
}

func setup(t *testing.T) (*Service, *fakeAllocator) {
	stack := tu.NewStack(t)
	alloc := &fakeAllocator{}
	return NewService(stack.Registry, stack.Binder, alloc, nil), alloc
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "admin", want: RoleAdmin},
		{in: " Teacher ", want: RoleTeacher},
		{in: "S", want: RoleStudent},
		{in: "p", want: RoleParent},
		{in: "parent", want: RoleParent},
		{in: "janitor", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidRole)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRole_attributes(t *testing.T) {
	codes := make(map[string]Role)
	collections := make(map[string]Role)
	for _, role := range AllRoles {
		assert.Len(t, role.Code(), 1)
		assert.NotContains(t, codes, role.Code())
		assert.NotContains(t, collections, role.Collection())
		codes[role.Code()] = role
		collections[role.Collection()] = role
	}
	assert.Equal(t, "A", RoleAdmin.Code())
	assert.Equal(t, "teachers", RoleTeacher.Collection())
	assert.Equal(t, RoleAdmin.Priority(), MaxRolePriority([]Role{RoleStudent, RoleAdmin, RoleTeacher}))
	assert.False(t, Role("janitor").Valid())
}

func TestNewUser_Validate(t *testing.T) {
	tests := []struct {
		name       string
		nu         NewUser
		wantFields []string
	}{
		{name: "valid", nu: NewUser{Name: " Ngugi ", Role: "Teacher"}},
		{name: "valid with password", nu: NewUser{Name: "Ngugi", Role: RoleTeacher, Password: "Str0ng!pass", PasswordConfirm: "Str0ng!pass"}},
		{name: "no name", nu: NewUser{Role: RoleTeacher}, wantFields: []string{"name"}},
		{name: "bad role", nu: NewUser{Name: "Ngugi", Role: "janitor"}, wantFields: []string{"role"}},
		{name: "bad email", nu: NewUser{Name: "Ngugi", Role: RoleTeacher, Email: "ngugi"}, wantFields: []string{"email"}},
		{name: "password mismatch", nu: NewUser{Name: "Ngugi", Role: RoleTeacher, Password: "Str0ng!pass", PasswordConfirm: "other"}, wantFields: []string{"password_confirm"}},
		{name: "short password", nu: NewUser{Name: "Ngugi", Role: RoleTeacher, Password: "S0!a", PasswordConfirm: "S0!a"}, wantFields: []string{"password"}},
		{name: "numeric password", nu: NewUser{Name: "Ngugi", Role: RoleTeacher, Password: "12345678", PasswordConfirm: "12345678"}, wantFields: []string{"password"}},
		{name: "simple password", nu: NewUser{Name: "Ngugi", Role: RoleTeacher, Password: "abcdefgh", PasswordConfirm: "abcdefgh"}, wantFields: []string{"password"}},
		{name: "password like name", nu: NewUser{Name: "Wangari Maathai", Role: RoleTeacher, Password: "Wangari!Maathai1", PasswordConfirm: "Wangari!Maathai1"}, wantFields: []string{"password"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.nu.Validate()
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			var vErr *core.ValidationError
			require.ErrorAs(t, err, &vErr)
			fields := make([]string, 0, len(vErr.Fields))
			for _, fe := range vErr.Fields {
				fields = append(fields, fe.Field)
			}
			assert.Equal(t, tt.wantFields, fields)
		})
	}
}

func TestService_Create(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, "nps", NewUser{Name: "Ngugi", Email: "NGUGI@nps.test ", Role: RoleTeacher, Password: "Str0ng!pass", PasswordConfirm: "Str0ng!pass"})
	require.NoError(t, err)
	assert.Equal(t, "X-T-0001", usr.Identifier)
	assert.Equal(t, "ngugi@nps.test", usr.Email)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("Str0ng!pass"))

	got, err := svc.Get(ctx, "nps", RoleTeacher, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, usr.Identifier, got.Identifier)
	assert.NoError(t, got.CheckPassword("Str0ng!pass"), "password hash is stored")

	got, err = svc.GetByIdentifier(ctx, "nps", "x-t-0001")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	_, err = svc.Get(ctx, "other", RoleTeacher, usr.ID)
	assert.ErrorIs(t, err, core.ErrNotFound, "records are scoped to their tenant")
}

func TestService_Create_errors(t *testing.T) {
	svc, alloc := setup(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "nps", NewUser{Name: "Ngugi", Role: "janitor"})
	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = svc.Create(ctx, "", NewUser{Name: "Ngugi", Role: RoleTeacher})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	alloc.err = core.Errorf("test", core.KindSequenceExhausted, "full")
	_, err = svc.Create(ctx, "nps", NewUser{Name: "Ngugi", Role: RoleTeacher})
	assert.ErrorIs(t, err, core.ErrSequenceExhausted)
}

func TestService_Query(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	for _, name := range []string{"Wanjiru", "Kamau", "Wambui"} {
		_, err := svc.Create(ctx, "nps", NewUser{Name: name, Role: RoleStudent})
		require.NoError(t, err)
	}
	kamau, err := svc.GetByIdentifier(ctx, "nps", "X-S-0002")
	require.NoError(t, err)
	kamau.SetActive(false)
	mdl, err := svc.Model(ctx, "nps", RoleStudent)
	require.NoError(t, err)
	require.NoError(t, mdl.Replace(ctx, kamau.ID, kamau))

	inactive := false
	tests := []struct {
		name   string
		filter QueryFilter
		want   []string
	}{
		{name: "all", want: []string{"X-S-0001", "X-S-0002", "X-S-0003"}},
		{name: "search", filter: QueryFilter{Search: " wa"}, want: []string{"X-S-0001", "X-S-0003"}},
		{name: "inactive", filter: QueryFilter{IsActive: &inactive}, want: []string{"X-S-0002"}},
		{name: "limit", filter: QueryFilter{Limit: 2}, want: []string{"X-S-0001", "X-S-0002"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := svc.Query(ctx, "nps", RoleStudent, tt.filter)
			require.NoError(t, err)
			got := make([]string, 0, len(users))
			for _, usr := range users {
				got = append(got, usr.Identifier)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_Delete(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, "nps", NewUser{Name: "Achieng", Role: RoleParent})
	require.NoError(t, err)

	n, err := svc.Delete(ctx, "nps", RoleParent, usr.ID, "nope")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = svc.GetByIdentifier(ctx, "nps", usr.Identifier)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.GetByIdentifier(ctx, "nps", "garbage")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
