// Package dbtest provides an in-memory database.DB for unit tests.
//
// Queries are routed to canned result sets by substring match on the SQL
// text, so tests can stub catalog queries without a running server:
//
//	db := dbtest.New()
//	db.On("FROM pg_namespace", func(args []any) (*dbtest.Rows, error) {
//	    return dbtest.NewRows([]string{"nspname"}, []any{"public"}), nil
//	})
package dbtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/koustreak/pgextract/internal/database"
	"github.com/koustreak/pgextract/internal/errs"
)

// Responder produces the result set for one matched query.
type Responder func(args []any) (*Rows, error)

type route struct {
	match   string
	respond Responder
}

// Call records one query issued against the fake.
type Call struct {
	SQL  string
	Args []any
}

// DB is a database.DB whose results come from registered responders.
// It is safe for concurrent use.
type DB struct {
	mu      sync.Mutex
	routes  []route
	calls   []Call
	PingErr error
	closed  bool
}

var _ database.DB = (*DB)(nil)

// New returns an empty fake with no routes.
func New() *DB {
	return &DB{}
}

// On registers a responder for every query whose SQL contains match.
// Routes are tried in registration order.
func (d *DB) On(match string, respond Responder) *DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{match: match, respond: respond})
	return d
}

// Calls returns a copy of the queries issued so far.
func (d *DB) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallCount reports how many issued queries contained match.
func (d *DB) CallCount(match string) int {
	n := 0
	for _, c := range d.Calls() {
		if strings.Contains(c.SQL, match) {
			n++
		}
	}
	return n
}

// Closed reports whether Close has been called.
func (d *DB) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *DB) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "ping failed", err)
	}
	return d.PingErr
}

func (d *DB) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *DB) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "query failed", err)
	}

	d.mu.Lock()
	d.calls = append(d.calls, Call{SQL: sql, Args: args})
	var respond Responder
	for _, r := range d.routes {
		if strings.Contains(sql, r.match) {
			respond = r.respond
			break
		}
	}
	d.mu.Unlock()

	if respond == nil {
		return nil, errs.Newf(errs.ErrKindQueryFailed, "dbtest: no route for query: %s", firstLine(sql))
	}
	rows, err := respond(args)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = NewRows(nil)
	}
	return rows, nil
}

func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) (database.Row, error) {
	rows, err := d.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &row{rows: rows}, nil
}

// --- result sets ---

// Rows is a canned result set. Each value in Data is assigned to the
// matching Scan destination; nil assigns the zero value (or a nil pointer).
type Rows struct {
	Cols []string
	Data [][]any
	// IterErr is returned from Err once iteration is exhausted.
	IterErr error

	pos    int
	closed bool
}

var _ database.Rows = (*Rows)(nil)

// NewRows builds a result set with the given column names and rows.
func NewRows(cols []string, data ...[]any) *Rows {
	return &Rows{Cols: cols, Data: data}
}

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos == 0 || r.pos > len(r.Data) {
		return errs.New(errs.ErrKindQueryFailed, "dbtest: scan called without a current row")
	}
	values := r.Data[r.pos-1]
	if len(dest) != len(values) {
		return errs.Newf(errs.ErrKindQueryFailed, "dbtest: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		if err := assign(dest[i], v); err != nil {
			return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("dbtest: column %d", i), err)
		}
	}
	return nil
}

func (r *Rows) Columns() ([]string, error) { return r.Cols, nil }
func (r *Rows) Close()                     { r.closed = true }

func (r *Rows) Err() error {
	if r.pos >= len(r.Data) {
		return r.IterErr
	}
	return nil
}

type row struct {
	rows database.Rows
}

func (r *row) Scan(dest ...any) error {
	defer r.rows.Close()
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return errs.New(errs.ErrKindNotFound, "no rows in result set")
	}
	return r.rows.Scan(dest...)
}

// assign stores v into the pointer dest, allocating through one level of
// pointer indirection when dest is a **T and v is a T.
func assign(dest, v any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a non-nil pointer", dest)
	}
	target := dv.Elem()

	if v == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(target.Type()):
		target.Set(sv)
	case target.Kind() == reflect.Pointer && sv.Type().AssignableTo(target.Type().Elem()):
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(sv)
		target.Set(p)
	case target.Kind() == reflect.Pointer && sv.Type().ConvertibleTo(target.Type().Elem()):
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(sv.Convert(target.Type().Elem()))
		target.Set(p)
	case sv.Type().ConvertibleTo(target.Type()):
		target.Set(sv.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", v, target.Type())
	}
	return nil
}

func firstLine(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexByte(sql, '\n'); i >= 0 {
		return sql[:i]
	}
	return sql
}
