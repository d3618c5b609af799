package inmemdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo/storage"
)

type (
	table struct {
		rows   map[string]*row
		unique map[string]struct{} // indexed fields
		seq    int64
	}

	row struct {
		id     string
		raw    json.RawMessage
		fields map[string]interface{}
		seq    int64 // insertion order
	}

	collection struct {
		db   *DB
		name string
	}
)

var _ storage.Collection = (*collection)(nil)

func newTable() *table {
	return &table{
		rows:   make(map[string]*row),
		unique: make(map[string]struct{}),
	}
}

func encode(id string, doc interface{}) (*row, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "document is not an object")
	}
	return &row{id: id, raw: raw, fields: fields}, nil
}

// checkUnique reports ErrDuplicate if r collides on an indexed field with a row other than itself.
// Rows missing the field do not collide (sparse index).
func (tbl *table) checkUnique(r *row) error {
	for fld := range tbl.unique {
		val, ok := r.fields[fld]
		if !ok || val == nil {
			continue
		}
		for _, other := range tbl.rows {
			if other.id == r.id {
				continue
			}
			if oval, ok := other.fields[fld]; ok && scalar(oval) == scalar(val) {
				return errors.Wrapf(storage.ErrDuplicate, "%s=%v", fld, val)
			}
		}
	}
	return nil
}

func (coll *collection) Name() string { return coll.name }

func (coll *collection) Insert(ctx context.Context, id string, doc interface{}) error {
	if err := coll.db.check(ctx); err != nil {
		return err
	}
	r, err := encode(id, doc)
	if err != nil {
		return err
	}

	ns := coll.db.ns
	ns.mu.Lock()
	defer ns.mu.Unlock()

	tbl := ns.table(coll.name)
	if _, ok := tbl.rows[id]; ok {
		return errors.Wrapf(storage.ErrDuplicate, "id %s", id)
	}
	if err := tbl.checkUnique(r); err != nil {
		return err
	}
	tbl.seq++
	r.seq = tbl.seq
	tbl.rows[id] = r
	return nil
}

func (coll *collection) Get(ctx context.Context, id string, out interface{}) error {
	if err := coll.db.check(ctx); err != nil {
		return err
	}
	ns := coll.db.ns
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	tbl, ok := ns.tables[coll.name]
	if !ok {
		return storage.ErrNotFound
	}
	r, ok := tbl.rows[id]
	if !ok {
		return storage.ErrNotFound
	}
	return errors.Wrap(json.Unmarshal(r.raw, out), "decoding document")
}

func (coll *collection) match(f storage.Filter) []*row {
	tbl, ok := coll.db.ns.tables[coll.name]
	if !ok {
		return nil
	}

	var rows []*row
	for _, r := range tbl.rows {
		if matches(r, f) {
			rows = append(rows, r)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		for _, ord := range f.Sort {
			vi, vj := scalar(rows[i].fields[ord.Field]), scalar(rows[j].fields[ord.Field])
			if vi == vj {
				continue
			}
			if ord.Ascending {
				return vi < vj
			}
			return vi > vj
		}
		return rows[i].seq < rows[j].seq
	})
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows
}

func (coll *collection) Find(ctx context.Context, f storage.Filter, out interface{}) error {
	if err := coll.db.check(ctx); err != nil {
		return err
	}
	ns := coll.db.ns
	ns.mu.RLock()
	rows := coll.match(f)

	// decode through a JSON array so out gets fresh copies
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r.raw)
	}
	buf.WriteByte(']')
	ns.mu.RUnlock()

	return errors.Wrap(json.Unmarshal(buf.Bytes(), out), "decoding documents")
}

func (coll *collection) Count(ctx context.Context, f storage.Filter) (int64, error) {
	if err := coll.db.check(ctx); err != nil {
		return 0, err
	}
	ns := coll.db.ns
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	f.Limit = 0
	return int64(len(coll.match(f))), nil
}

func (coll *collection) Replace(ctx context.Context, id string, doc interface{}) error {
	if err := coll.db.check(ctx); err != nil {
		return err
	}
	r, err := encode(id, doc)
	if err != nil {
		return err
	}

	ns := coll.db.ns
	ns.mu.Lock()
	defer ns.mu.Unlock()

	tbl, ok := ns.tables[coll.name]
	if !ok {
		return storage.ErrNotFound
	}
	orig, ok := tbl.rows[id]
	if !ok {
		return storage.ErrNotFound
	}
	if err := tbl.checkUnique(r); err != nil {
		return err
	}
	r.seq = orig.seq
	tbl.rows[id] = r
	return nil
}

func (coll *collection) Delete(ctx context.Context, ids ...string) (int64, error) {
	if err := coll.db.check(ctx); err != nil {
		return 0, err
	}
	ns := coll.db.ns
	ns.mu.Lock()
	defer ns.mu.Unlock()

	tbl, ok := ns.tables[coll.name]
	if !ok {
		return 0, nil
	}
	var cnt int64
	for _, id := range ids {
		if _, ok := tbl.rows[id]; ok {
			delete(tbl.rows, id)
			cnt++
		}
	}
	return cnt, nil
}

func matches(r *row, f storage.Filter) bool {
	for fld, want := range f.Eq {
		got, ok := r.fields[fld]
		if !ok || scalar(got) != scalar(want) {
			return false
		}
	}
	for fld, prefix := range f.Prefix {
		got, ok := r.fields[fld].(string)
		if !ok || !strings.HasPrefix(strings.ToLower(got), strings.ToLower(prefix)) {
			return false
		}
	}
	return true
}

// scalar renders decoded JSON values and Go filter values the same way (4 and 4.0 both give "4").
func scalar(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
