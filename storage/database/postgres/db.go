package pgdb

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type DB struct {
	name string
	db   *sqlx.DB
}

var _ storage.Database = (*DB)(nil)

func (db *DB) Name() string { return db.name }

func (db *DB) Collection(name string) storage.Collection {
	return &collection{db: db.db, name: name}
}

func (db *DB) EnsureCollection(ctx context.Context, name string, indexes ...storage.Index) error {
	if !identRegex.MatchString(name) {
		return errors.Errorf("invalid collection name %q", name)
	}
	tbl := pq.QuoteIdentifier(name)

	stmts := []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		seq        BIGSERIAL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, tbl)}
	for _, idx := range indexes {
		if !identRegex.MatchString(idx.Field) {
			return errors.Errorf("invalid index field %q", idx.Field)
		}
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s ((doc->>%s))",
			unique, pq.QuoteIdentifier(storage.IndexName(name, idx)), tbl, pq.QuoteLiteral(idx.Field)))
	}

	for _, stmt := range stmts {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			// IF NOT EXISTS is not race-free in postgres: a concurrent creator may win
			if isCode(err, codeUniqueViolation, codeDuplicateTable, codeDuplicateObject) {
				continue
			}
			return errors.Wrapf(err, "ensuring collection %s", name)
		}
	}
	return nil
}

func (db *DB) Counter(ctx context.Context, key string) (int64, bool, error) {
	q, args, err := psql.Select("value").From(storage.SequencesCollection).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return 0, false, err
	}
	var val int64
	if err = db.db.QueryRowxContext(ctx, q, args...).Scan(&val); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "reading counter %s", key)
	}
	return val, true, nil
}

// Increment runs as a single upsert, so concurrent callers never observe the same value.
func (db *DB) Increment(ctx context.Context, key string, floor int64) (int64, error) {
	q, args, err := psql.Insert(storage.SequencesCollection).
		Columns("key", "value").
		Values(key, sq.Expr("?::bigint + 1", floor)).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = GREATEST("+storage.SequencesCollection+".value, ?::bigint) + 1, updated_at = now() RETURNING value", floor).
		ToSql()
	if err != nil {
		return 0, err
	}
	var val int64
	if err = db.db.QueryRowxContext(ctx, q, args...).Scan(&val); err != nil {
		return 0, errors.Wrapf(err, "incrementing counter %s", key)
	}
	return val, nil
}

func (db *DB) Close(ctx context.Context) error {
	return db.db.Close()
}
