package extract

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pgextract/internal/canonical"
	"github.com/koustreak/pgextract/internal/database/dbtest"
	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/logger"
	"github.com/koustreak/pgextract/internal/schema"
)

type catalogType struct {
	schema, name, kind string
	enum               []string
	attrs              string
}

var testTypes = map[string]catalogType{
	"integer":            {schema: "pg_catalog", name: "int4", kind: "b"},
	"text":               {schema: "pg_catalog", name: "text", kind: "b"},
	"numeric":            {schema: "pg_catalog", name: "numeric", kind: "b"},
	"pg_catalog.int4":    {schema: "pg_catalog", name: "int4", kind: "b"},
	"pg_catalog.text":    {schema: "pg_catalog", name: "text", kind: "b"},
	`"public"."mood"`:    {schema: "public", name: "mood", kind: "e", enum: []string{"sad", "happy"}},
	`"public"."address"`: {schema: "public", name: "address", kind: "c", attrs: `[{"name":"street","ordinal":1,"type":"text"}]`},
}

func catalogResponder(types map[string]catalogType) dbtest.Responder {
	return func(args []any) (*dbtest.Rows, error) {
		rows := dbtest.NewRows(nil)
		for _, n := range args[0].([]string) {
			t, ok := types[n]
			if !ok {
				rows.Data = append(rows.Data, []any{n, nil, nil, nil, nil, nil, nil, nil, nil})
				continue
			}
			var enum, attrs any
			if t.enum != nil {
				enum = t.enum
			}
			if t.attrs != "" {
				attrs = []byte(t.attrs)
			}
			rows.Data = append(rows.Data, []any{n, t.schema, t.name, t.kind, enum, attrs, nil, nil, nil})
		}
		return rows, nil
	}
}

const usersViewDef = ` SELECT users.id,
    users.name
   FROM users;`

// fakeDB serves a catalog with schemas public and sales, where public
// holds a table, a view over it, an enum, a composite and a function.
func fakeDB(viewDef string, types map[string]catalogType) *dbtest.DB {
	return dbtest.New().
		On("<> 'information_schema'", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil, []any{"public"}, []any{"sales"}), nil
		}).
		On("pg_depend", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil,
				[]any{"public", "address", "composite", nil},
				[]any{"public", "mood", "enum", nil},
				[]any{"public", "users", "table", "app users"},
				[]any{"public", "v_users", "view", nil},
				[]any{"public", "total", "function", nil},
			), nil
		}).
		On("to_regtype", catalogResponder(types)).
		On("format_type(a.atttypid, a.atttypmod)", func(args []any) (*dbtest.Rows, error) {
			pk := args[1] == "users"
			return dbtest.NewRows(nil,
				[]any{"id", "integer", !pk, nil, int32(1), false, "NEVER", true, nil, nil, pk, nil},
				[]any{"name", "text", true, nil, int32(2), false, "NEVER", true, nil, nil, false, nil},
			), nil
		}).
		On("pg_get_indexdef", func([]any) (*dbtest.Rows, error) { return dbtest.NewRows(nil), nil }).
		On("pg_get_constraintdef", func([]any) (*dbtest.Rows, error) { return dbtest.NewRows(nil), nil }).
		On("relrowsecurity", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil, []any{false, false, nil}), nil
		}).
		On("pg_get_viewdef", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil, []any{viewDef, nil, false, false}), nil
		}).
		On("FROM pg_catalog.pg_proc p", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil, []any{
				"a integer", "sql", "SELECT a * 2", true, false, false, false,
				"i", "s", float64(100), nil, nil,
				[]string{}, []string{"a"}, []string{"integer"},
				int32(0), "numeric",
			}), nil
		})
}

func TestExtract(t *testing.T) {
	var total, progressed, ended int32
	opts := Options{
		ResolveViews:    true,
		Concurrency:     2,
		OnProgressStart: func(n int) { total = int32(n) },
		OnProgress:      func() { atomic.AddInt32(&progressed, 1) },
		OnProgressEnd:   func() { ended++ },
	}

	db := fakeDB(usersViewDef, testTypes)
	res, err := New(db, nil).Extract(context.Background(), opts)
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	assert.Equal(t, int32(5), total)
	assert.Equal(t, int32(5), progressed)
	assert.Equal(t, int32(1), ended)

	// One batch for all objects plus one for composite attributes.
	assert.Equal(t, 2, db.CallCount("to_regtype"))

	require.Contains(t, res.Schemas, "sales")
	assert.Empty(t, res.Schemas["sales"].Tables)
	assert.NotNil(t, res.Schemas["sales"].Tables)

	public := res.Schemas["public"]
	require.NotNil(t, public)

	users := public.Table("users")
	require.NotNil(t, users)
	assert.Equal(t, "app users", *users.Comment)
	require.IsType(t, &canonical.Base{}, users.Columns[0].Type)
	assert.Equal(t, "pg_catalog.int4", users.Columns[0].Type.Info().CanonicalName)

	view := public.View("v_users")
	require.NotNil(t, view)
	id := schema.FindColumn(view.Columns, "id")
	assert.Equal(t, &schema.Source{Schema: "public", Table: "users", Column: "id"}, id.Source)
	assert.True(t, id.IsPrimaryKey)
	assert.False(t, id.IsNullable)

	require.Len(t, public.Enums, 1)
	assert.Equal(t, []string{"sad", "happy"}, public.Enums[0].Values)

	require.Len(t, public.Composites, 1)
	attrs := public.Composites[0].Attributes
	require.Len(t, attrs, 1)
	assert.Equal(t, "street", attrs[0].Name)
	assert.Equal(t, "pg_catalog.text", attrs[0].Type.Info().CanonicalName)

	require.Len(t, public.Functions, 1)
	fn := public.Functions[0]
	assert.Equal(t, "pg_catalog.numeric", fn.ReturnType.Info().CanonicalName)
	assert.Equal(t, "pg_catalog.int4", fn.Parameters[0].Type.Info().CanonicalName)
	assert.Equal(t, "IMMUTABLE", fn.Volatility)
}

func TestExtract_WithoutResolve(t *testing.T) {
	res, err := New(fakeDB(usersViewDef, testTypes), nil).Extract(context.Background(), Options{})
	require.NoError(t, err)

	id := schema.FindColumn(res.Schemas["public"].View("v_users").Columns, "id")
	require.NotNil(t, id.Source)
	assert.False(t, id.IsPrimaryKey)
	assert.True(t, id.IsNullable)
}

func TestExtract_MissingSchema(t *testing.T) {
	_, err := New(fakeDB(usersViewDef, testTypes), nil).Extract(context.Background(), Options{
		Schemas: []string{"public", "nope", "gone"},
	})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "nope, gone")
}

func TestExtract_KindFilter(t *testing.T) {
	db := fakeDB(usersViewDef, testTypes)
	res, err := New(db, nil).Extract(context.Background(), Options{
		Schemas: []string{"public"},
		Kinds:   []schema.Kind{schema.KindTable},
	})
	require.NoError(t, err)

	public := res.Schemas["public"]
	assert.Len(t, public.Tables, 1)
	assert.Empty(t, public.Views)
	assert.Empty(t, public.Enums)
	assert.Zero(t, db.CallCount("pg_get_viewdef"))
	assert.NotContains(t, res.Schemas, "sales")
}

func TestExtract_ColumnAliasedView(t *testing.T) {
	tests := []struct {
		name    string
		viewDef string
	}{
		{"qualified", "SELECT u.x AS id, u.name FROM users u(x)"},
		{"star", "SELECT * FROM users u(id)"},
		{"swapped", "SELECT u.name AS id, u.id AS name FROM users u(name, id)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(fakeDB(tt.viewDef, testTypes), nil).Extract(context.Background(), Options{ResolveViews: true})
			require.NoError(t, err)

			cols := res.Schemas["public"].View("v_users").Columns
			id := schema.FindColumn(cols, "id")
			assert.Equal(t, &schema.Source{Schema: "public", Table: "users", Column: "id"}, id.Source)
			assert.True(t, id.IsPrimaryKey)
			name := schema.FindColumn(cols, "name")
			assert.Equal(t, &schema.Source{Schema: "public", Table: "users", Column: "name"}, name.Source)
		})
	}
}

func TestExtract_UnparsableViewIsNotFatal(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: "warn", Format: "json", Output: &buf})

	res, err := New(fakeDB("not a select at all", testTypes), log).Extract(context.Background(), Options{ResolveViews: true})
	require.NoError(t, err)

	for _, c := range res.Schemas["public"].View("v_users").Columns {
		assert.Nil(t, c.Source, c.Name)
	}
	assert.Contains(t, buf.String(), "view lineage unavailable")
	assert.Contains(t, buf.String(), `"view":"v_users"`)
}

func TestExtract_UnknownTypeFails(t *testing.T) {
	types := map[string]catalogType{}
	for k, v := range testTypes {
		if k != "numeric" {
			types[k] = v
		}
	}

	_, err := New(fakeDB(usersViewDef, types), nil).Extract(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errs.IsTypeResolution(err))
	assert.Contains(t, err.Error(), `"numeric"`)
}

func TestBuiltinTypes(t *testing.T) {
	db := dbtest.New().
		On("quote_ident", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil, []any{"pg_catalog.int4"}, []any{"pg_catalog.text"}), nil
		}).
		On("to_regtype", catalogResponder(testTypes))

	types, err := New(db, nil).BuiltinTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "pg_catalog.text", types[1].Info().CanonicalName)
}

func TestQualifiedRef(t *testing.T) {
	assert.Equal(t, `"public"."mood"`, qualifiedRef("public", "mood"))
	assert.Equal(t, `"My Schema"."a""b"`, qualifiedRef("My Schema", `a"b`))
}
