package tenant

import "github.com/trezcool/masomo/storage"

// Conn is the handle to one tenant's namespace. Conns are created and owned by a Registry;
// their identity (pointer) is stable for the life of the Registry.
type Conn struct {
	key Key
	db  storage.Database
}

// NewConn wraps db. Only storage drivers' tests and the Registry should need it.
func NewConn(key Key, db storage.Database) *Conn {
	return &Conn{key: key, db: db}
}

func (c *Conn) Tenant() Key                { return c.key }
func (c *Conn) Namespace() string          { return c.db.Name() }
func (c *Conn) Database() storage.Database { return c.db }
func (c *Conn) String() string             { return "tenant(" + string(c.key) + ")" }
