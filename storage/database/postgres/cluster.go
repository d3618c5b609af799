// Package pgdb stores tenant namespaces in PostgreSQL: one database per namespace, one
// (id, doc JSONB) table per collection.
package pgdb

import (
	"context"
	"embed"
	"io/fs"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var identRegex = regexp.MustCompile(`^\w+$`)

// postgres error codes
const (
	codeUniqueViolation   = "23505"
	codeDuplicateDatabase = "42P04"
	codeDuplicateTable    = "42P07"
	codeDuplicateObject   = "42710"
)

type Cluster struct {
	conf core.PostgresConfig

	mu     sync.Mutex
	admin  *sqlx.DB
	closed bool
}

var _ storage.Cluster = (*Cluster)(nil)

func NewCluster(conf core.PostgresConfig) *Cluster {
	return &Cluster{conf: conf}
}

func (c *Cluster) dsn(dbName string, admin bool) string {
	user := url.UserPassword(c.conf.User, c.conf.Password)
	if admin && c.conf.AdminUser != "" {
		user = url.UserPassword(c.conf.AdminUser, c.conf.AdminPassword)
	}

	sslMode := "require"
	if c.conf.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     c.conf.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(ctx context.Context, db *sqlx.DB) error {
	var err error
	maxAttempts := 10
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer := time.NewTimer(time.Duration(attempts) * 100 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errors.Wrapf(storage.ErrUnreachable, "ping timeout: %v", err)
}

// adminDB returns the connection used to create tenant databases.
// c.mu is not held while connecting: concurrent first callers race and the losers close theirs.
func (c *Cluster) adminDB(ctx context.Context) (*sqlx.DB, error) {
	c.mu.Lock()
	admin, closed := c.admin, c.closed
	c.mu.Unlock()
	if closed {
		return nil, storage.ErrClosed
	}
	if admin != nil {
		return admin, nil
	}

	db, err := sqlx.Open("postgres", c.dsn("postgres", true))
	if err != nil {
		return nil, errors.Wrap(err, "opening admin database")
	}
	if err = ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		_ = db.Close()
		return nil, storage.ErrClosed
	case c.admin != nil:
		_ = db.Close()
		return c.admin, nil
	}
	c.admin = db
	return db, nil
}

func createDB(ctx context.Context, admin *sqlx.DB, name string) error {
	var exists bool
	err := admin.QueryRowxContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if exists {
		return nil
	}

	// CREATE DATABASE takes no placeholders; name was checked against identRegex.
	if _, err = admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		if isCode(err, codeDuplicateDatabase) {
			return nil // created concurrently
		}
		return errors.Wrap(err, "creating database")
	}
	return nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "loading migrations")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db.DB, fsys)
	if err != nil {
		return errors.Wrap(err, "preparing migrations")
	}
	if _, err = provider.Up(ctx); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

func (c *Cluster) Open(ctx context.Context, name string) (storage.Database, error) {
	if !identRegex.MatchString(name) {
		return nil, errors.Errorf("invalid namespace %q", name)
	}
	admin, err := c.adminDB(ctx)
	if err != nil {
		return nil, err
	}
	if err = createDB(ctx, admin, name); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("postgres", c.dsn(name, false))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	if err = ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err = migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{name: name, db: db}, nil
}

func (c *Cluster) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.admin == nil {
		return nil
	}
	err := c.admin.Close()
	c.admin = nil
	return err
}

func isCode(err error, codes ...pq.ErrorCode) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	for _, code := range codes {
		if pqErr.Code == code {
			return true
		}
	}
	return false
}
