package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pgextract/internal/database/dbtest"
	"github.com/koustreak/pgextract/internal/errs"
)

func strPtr(s string) *string { return &s }

func TestListSchemas(t *testing.T) {
	db := dbtest.New().On("FROM pg_catalog.pg_namespace", func([]any) (*dbtest.Rows, error) {
		return dbtest.NewRows([]string{"nspname"}, []any{"public"}, []any{"sales"}), nil
	})

	names, err := NewPgIntrospector(db).ListSchemas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"public", "sales"}, names)
}

func TestListObjects_DedupesOverloadsAndSkipsUnknownKinds(t *testing.T) {
	db := dbtest.New().On("pg_depend", func(args []any) (*dbtest.Rows, error) {
		assert.Equal(t, []string{"public"}, args[0])
		return dbtest.NewRows([]string{"nspname", "name", "kind", "comment"},
			[]any{"public", "orders", "table", "all orders"},
			[]any{"public", "weird", nil, nil},
			[]any{"public", "total", "function", nil},
			[]any{"public", "total", "function", nil},
			[]any{"public", "v_orders", "view", nil},
		), nil
	})

	refs, err := NewPgIntrospector(db).ListObjects(context.Background(), []string{"public"})
	require.NoError(t, err)
	require.Len(t, refs, 3)

	assert.Equal(t, ObjectRef{Schema: "public", Name: "orders", Kind: KindTable, Comment: strPtr("all orders")}, refs[0])
	assert.Equal(t, KindFunction, refs[1].Kind)
	assert.Equal(t, KindView, refs[2].Kind)
}

func tableFake() *dbtest.DB {
	return dbtest.New().
		On("format_type(a.atttypid, a.atttypmod)", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil,
				[]any{"id", "integer", false, "nextval('orders_id_seq'::regclass)", int32(1), false, "NEVER", true, nil, nil, true, nil},
				[]any{"customer_id", "integer", true, nil, int32(2), false, "NEVER", true, nil, strPtr("buyer"), false,
					[]byte(`[{"schema_name":"public","table_name":"customers","column_name":"id","on_update":"NO ACTION","on_delete":"CASCADE","name":"orders_customer_fk"}]`)},
				[]any{"code", "character varying(12)", false, nil, int32(3), false, "NEVER", true, int32(12), nil, false, nil},
			), nil
		}).
		On("pg_get_indexdef", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil,
				[]any{"orders_pkey", true, true, []byte(`[{"name":"id","definition":"id"}]`)},
			), nil
		}).
		On("pg_get_constraintdef", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil, []any{"code_len", "CHECK ((length((code)::text) > 2))"}), nil
		}).
		On("relrowsecurity", func([]any) (*dbtest.Rows, error) {
			return dbtest.NewRows(nil, []any{true, false,
				[]byte(`[{"name":"own_rows","is_permissive":true,"roles_applied_to":["app"],"command_type":"SELECT","visibility_expression":"(owner = CURRENT_USER)"}]`)}), nil
		})
}

func TestInspectTable(t *testing.T) {
	ref := ObjectRef{Schema: "public", Name: "orders", Kind: KindTable}

	table, err := NewPgIntrospector(tableFake()).InspectTable(context.Background(), ref)
	require.NoError(t, err)

	require.Len(t, table.Columns, 3)
	id := table.Columns[0]
	assert.True(t, id.IsPrimaryKey)
	assert.False(t, id.IsNullable)
	assert.Equal(t, 1, id.OrdinalPosition)
	assert.Empty(t, id.References)
	require.NotNil(t, id.DefaultValue)

	customer := table.Columns[1]
	assert.Equal(t, "buyer", *customer.Comment)
	assert.Equal(t, []ColumnReference{{
		SchemaName: "public", TableName: "customers", ColumnName: "id",
		OnUpdate: "NO ACTION", OnDelete: "CASCADE", Name: "orders_customer_fk",
	}}, customer.References)

	code := table.Columns[2]
	assert.Equal(t, "character varying(12)", code.TypeRef)
	require.NotNil(t, code.MaxLength)
	assert.Equal(t, int32(12), *code.MaxLength)

	require.Len(t, table.Indices, 1)
	assert.True(t, table.Indices[0].IsPrimary)
	assert.Equal(t, "id", *table.Indices[0].Columns[0].Name)

	assert.Equal(t, []Check{{Name: "code_len", Clause: "length((code)::text) > 2"}}, table.Checks)

	assert.True(t, table.IsRowLevelSecurityEnabled)
	require.Len(t, table.SecurityPolicies, 1)
	assert.Equal(t, []string{"app"}, table.SecurityPolicies[0].RolesAppliedTo)
	assert.Nil(t, table.SecurityPolicies[0].ModifiabilityExpression)
}

func TestInspectView_Missing(t *testing.T) {
	db := dbtest.New().On("pg_get_viewdef", func([]any) (*dbtest.Rows, error) {
		return dbtest.NewRows(nil), nil
	})

	_, err := NewPgIntrospector(db).InspectView(context.Background(), ObjectRef{Schema: "public", Name: "gone"})
	assert.True(t, errs.IsNotFound(err))
}

func TestInspectFunctions(t *testing.T) {
	db := dbtest.New().On("FROM pg_catalog.pg_proc", func(args []any) (*dbtest.Rows, error) {
		assert.Equal(t, "f", args[2])
		return dbtest.NewRows(nil, []any{
			"since date, lim integer", "sql", "SELECT ...", true, false, false, true,
			"s", "s", float64(100), float64(1000), nil,
			[]string{"i", "i", "t", "t"},
			[]string{"since", "lim", "id", "total"},
			[]string{"date", "integer", "integer", "numeric"},
			int32(1), "record",
		}), nil
	})

	fns, err := NewPgIntrospector(db).InspectFunctions(context.Background(), ObjectRef{Schema: "public", Name: "recent_totals"})
	require.NoError(t, err)
	require.Len(t, fns, 1)

	fn := fns[0]
	assert.Equal(t, "STABLE", fn.Volatility)
	assert.Equal(t, "SAFE", fn.ParallelSafety)
	assert.Equal(t, []Parameter{
		{Name: "since", TypeRef: "date", Mode: ModeIn, OrdinalPosition: 1},
		{Name: "lim", TypeRef: "integer", Mode: ModeIn, HasDefault: true, OrdinalPosition: 2},
	}, fn.Parameters)
	require.Len(t, fn.ReturnsTable, 2)
	assert.Equal(t, "total", fn.ReturnsTable[1].Name)
	assert.Equal(t, ModeTable, fn.ReturnsTable[1].Mode)
	require.NotNil(t, fn.EstimatedRows)
	assert.Equal(t, float64(1000), *fn.EstimatedRows)
}

func TestRoutineParameters_UnnamedInputs(t *testing.T) {
	params, table := routineRow{argTypes: []string{"integer", "text"}}.parameters()

	assert.Nil(t, table)
	assert.Equal(t, "$1", params[0].Name)
	assert.Equal(t, "$2", params[1].Name)
	assert.Equal(t, ModeIn, params[1].Mode)
	assert.False(t, params[1].HasDefault)
}

func TestTrimCheckClause(t *testing.T) {
	tests := map[string]string{
		"CHECK ((price > 0))":                      "price > 0",
		"CHECK (VALUE ~ '^[a-z]+$'::text)":         "VALUE ~ '^[a-z]+$'::text",
		"CHECK ((a > 0) AND (b > 0))":              "(a > 0) AND (b > 0)",
		"CHECK ((qty > 0)) NOT VALID":              "qty > 0",
		"CHECK (((lower(x) = x) OR (x IS NULL)))": "(lower(x) = x) OR (x IS NULL)",
	}
	for in, want := range tests {
		assert.Equal(t, want, TrimCheckClause(in), in)
	}
}

func TestParseOptions(t *testing.T) {
	assert.Nil(t, ParseOptions(nil))
	assert.Equal(t, map[string]string{"schema_name": "remote", "table_name": "t=1"},
		ParseOptions([]string{"schema_name=remote", "table_name=t=1"}))
}
