package pgdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/storage"
)

type collection struct {
	db   *sqlx.DB
	name string
}

var _ storage.Collection = (*collection)(nil)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (coll *collection) Name() string { return coll.name }

func (coll *collection) table() string { return pq.QuoteIdentifier(coll.name) }

// trapErr maps postgres errors to storage errors.
func (coll *collection) trapErr(err error, msg string) error {
	if isCode(err, codeUniqueViolation) {
		return errors.Wrap(storage.ErrDuplicate, msg)
	}
	return errors.Wrapf(err, "%s %s", msg, coll.name)
}

func (coll *collection) where(q sq.SelectBuilder, f storage.Filter) (sq.SelectBuilder, error) {
	for fld, val := range f.Eq {
		if !identRegex.MatchString(fld) {
			return q, errors.Errorf("invalid filter field %q", fld)
		}
		q = q.Where(sq.Expr("doc->>"+pq.QuoteLiteral(fld)+" = ?", fmt.Sprint(val)))
	}
	for fld, prefix := range f.Prefix {
		if !identRegex.MatchString(fld) {
			return q, errors.Errorf("invalid filter field %q", fld)
		}
		q = q.Where(sq.Expr("doc->>"+pq.QuoteLiteral(fld)+" ILIKE ?", likeEscaper.Replace(prefix)+"%"))
	}
	return q, nil
}

func (coll *collection) Insert(ctx context.Context, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	q, args, err := psql.Insert(coll.table()).Columns("id", "doc").Values(id, string(raw)).ToSql()
	if err != nil {
		return err
	}
	if _, err = coll.db.ExecContext(ctx, q, args...); err != nil {
		return coll.trapErr(err, "inserting into")
	}
	return nil
}

func (coll *collection) Get(ctx context.Context, id string, out interface{}) error {
	q, args, err := psql.Select("doc").From(coll.table()).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	var raw []byte
	if err = coll.db.QueryRowxContext(ctx, q, args...).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return coll.trapErr(err, "reading from")
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decoding document")
}

func (coll *collection) Find(ctx context.Context, f storage.Filter, out interface{}) error {
	q, err := coll.where(psql.Select("doc").From(coll.table()), f)
	if err != nil {
		return err
	}
	if len(f.Sort) > 0 {
		orderList := make([]string, 0, len(f.Sort))
		for _, ord := range f.Sort {
			if !identRegex.MatchString(ord.Field) {
				return errors.Errorf("invalid sort field %q", ord.Field)
			}
			orderList = append(orderList, storage.Ordering{
				Field:     "doc->>" + pq.QuoteLiteral(ord.Field),
				Ascending: ord.Ascending,
			}.String())
		}
		q = q.OrderBy(orderList...)
	}
	q = q.OrderBy("seq ASC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	rows, err := coll.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return coll.trapErr(err, "querying")
	}
	defer func() { _ = rows.Close() }()

	var buf bytes.Buffer
	buf.WriteByte('[')
	for n := 0; rows.Next(); n++ {
		var raw []byte
		if err = rows.Scan(&raw); err != nil {
			return coll.trapErr(err, "scanning")
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(raw)
	}
	if err = rows.Err(); err != nil {
		return coll.trapErr(err, "querying")
	}
	buf.WriteByte(']')
	return errors.Wrap(json.Unmarshal(buf.Bytes(), out), "decoding documents")
}

func (coll *collection) Count(ctx context.Context, f storage.Filter) (int64, error) {
	q, err := coll.where(psql.Select("COUNT(*)").From(coll.table()), f)
	if err != nil {
		return 0, err
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	var cnt int64
	if err = coll.db.QueryRowxContext(ctx, query, args...).Scan(&cnt); err != nil {
		return 0, coll.trapErr(err, "counting")
	}
	return cnt, nil
}

func (coll *collection) Replace(ctx context.Context, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	q, args, err := psql.Update(coll.table()).Set("doc", string(raw)).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := coll.db.ExecContext(ctx, q, args...)
	if err != nil {
		return coll.trapErr(err, "updating")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (coll *collection) Delete(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := psql.Delete(coll.table()).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := coll.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, coll.trapErr(err, "deleting from")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, coll.trapErr(err, "deleting from")
	}
	return n, nil
}
