package user

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/model"
	"github.com/trezcool/masomo/storage"
)

// Role is the kind of person a record describes. Each role lives in its own collection and has
// its own identifier sequence.
type Role string

// Roles
const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

type roleInfo struct {
	code       string
	collection string
	priority   int
}

var (
	AllRoles = []Role{RoleAdmin, RoleTeacher, RoleStudent, RoleParent}

	roleInfos = map[Role]roleInfo{
		// Admins: 30 - 21
		RoleAdmin: {code: "A", collection: "admins", priority: 21},
		// Teachers: 20 - 11
		RoleTeacher: {code: "T", collection: "teachers", priority: 11},
		// Parents & Students: 10 - 1
		RoleParent:  {code: "P", collection: "parents", priority: 2},
		RoleStudent: {code: "S", collection: "students", priority: 1},
	}
)

// ParseRole accepts a role name ("teacher") or code ("T"), in any case.
func ParseRole(s string) (Role, error) {
	s = core.CleanString(s, true /* lower */)
	if _, ok := roleInfos[Role(s)]; ok {
		return Role(s), nil
	}
	for role, info := range roleInfos {
		if strings.EqualFold(info.code, s) {
			return role, nil
		}
	}
	return "", core.Errorf("user.ParseRole", core.KindInvalidRole, "unknown role %q", s)
}

func (r Role) Valid() bool {
	_, ok := roleInfos[r]
	return ok
}

func (r Role) String() string { return string(r) }

// Code is the one-letter code of the role in sequential identifiers, eg. "T".
func (r Role) Code() string { return roleInfos[r].code }

// Collection is the name of the collection holding the role's records.
func (r Role) Collection() string { return roleInfos[r].collection }

func (r Role) Priority() int { return roleInfos[r].priority }

func MaxRolePriority(roles []Role) int {
	var max int
	for _, role := range roles {
		if role.Priority() > max {
			max = role.Priority()
		}
	}
	return max
}

// Schema is the model schema of the role's records.
func Schema(role Role) model.Schema {
	return model.Schema{
		Name:       "user." + string(role),
		Collection: role.Collection(),
		Indexes: []storage.Index{
			{Field: "identifier", Unique: true},
			{Field: "email"},
		},
	}
}

// User is a person record. Records of each role live in the role's collection of the tenant.
type User struct {
	ID           string    `json:"id" bson:"id"`
	Identifier   string    `json:"identifier,omitempty" bson:"identifier,omitempty"`
	Role         Role      `json:"role" bson:"role"`
	Name         string    `json:"name" bson:"name"`
	Email        string    `json:"email,omitempty" bson:"email,omitempty"`
	IsActive     bool      `json:"is_active" bson:"is_active"`
	PasswordHash []byte    `json:"password_hash,omitempty" bson:"password_hash,omitempty"`
	Placeholder  bool      `json:"placeholder,omitempty" bson:"placeholder,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) SetActive(active bool) {
	u.IsActive = active
}

func (u *User) IsAdmin() bool   { return u.Role == RoleAdmin }
func (u *User) IsTeacher() bool { return u.Role == RoleTeacher }
func (u *User) IsStudent() bool { return u.Role == RoleStudent }
func (u *User) IsParent() bool  { return u.Role == RoleParent }

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"omitempty,email"`
	Role            Role   `json:"role" validate:"required,role"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (nu *NewUser) Validate() error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = Role(core.CleanString(string(nu.Role), true /* lower */))

	if err := core.Validate.Struct(nu); err != nil {
		return core.TranslateValidationErrors(err)
	}
	return nil
}

type QueryFilter struct {
	Search   string `query:"search"` // prefix of the name
	IsActive *bool  `query:"is_active"`
	Limit    int    `query:"limit"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
