// Package tenant maps tenant keys to isolated storage namespaces and caches one connection
// per tenant.
package tenant

import (
	"strings"

	"github.com/trezcool/masomo/core"
)

// MaxKeyLen is the longest accepted tenant key.
const MaxKeyLen = 32

// Key is a normalized tenant key: trimmed, validated and lowercase.
// The zero Key is invalid.
type Key string

// Normalize is the single normalization function for tenant keys.
// "p", " P " and "P" all give the same Key.
func Normalize(raw string) (Key, error) {
	s := core.CleanString(raw, true /* lower */)
	if err := core.Validate.Var(s, "required,max=32,alphanum_"); err != nil {
		return "", core.Errorf("tenant.Normalize", core.KindInvalidArgument, "invalid tenant key %q", raw)
	}
	return Key(s), nil
}

// MustNormalize is like Normalize but panics on invalid keys. For constants and tests.
func MustNormalize(raw string) Key {
	key, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return key
}

func (k Key) String() string { return string(k) }

// Namespace returns the storage namespace name of the tenant, eg. "school_nps".
func (k Key) Namespace(prefix string) string {
	return strings.ToLower(prefix) + string(k)
}

// IDPrefix returns the tenant part of sequential identifiers, eg. "NPS".
func (k Key) IDPrefix() string {
	return strings.ToUpper(string(k))
}
