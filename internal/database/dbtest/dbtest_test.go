package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pgextract/internal/errs"
)

func TestDB_RoutesBySubstring(t *testing.T) {
	db := New().
		On("FROM pg_namespace", func(args []any) (*Rows, error) {
			return NewRows([]string{"nspname"}, []any{"public"}, []any{"sales"}), nil
		})

	rows, err := db.Query(context.Background(), "SELECT nspname FROM pg_namespace WHERE $1", true)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		got = append(got, s)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{"public", "sales"}, got)
	assert.Equal(t, 1, db.CallCount("pg_namespace"))
	assert.Equal(t, []any{true}, db.Calls()[0].Args)
}

func TestDB_UnroutedQueryFails(t *testing.T) {
	_, err := New().Query(context.Background(), "SELECT 1")
	assert.True(t, errs.IsQueryFailed(err))
}

func TestRows_AssignsPointersAndNulls(t *testing.T) {
	rows := NewRows([]string{"a", "b", "c", "d"}, []any{"x", nil, int32(3), nil})
	require.True(t, rows.Next())

	var (
		a string
		b *string
		c *int32
		d []string
	)
	require.NoError(t, rows.Scan(&a, &b, &c, &d))

	assert.Equal(t, "x", a)
	assert.Nil(t, b)
	require.NotNil(t, c)
	assert.Equal(t, int32(3), *c)
	assert.Nil(t, d)
}

func TestQueryRow_NoRowsIsNotFound(t *testing.T) {
	db := New().On("pg_type", func([]any) (*Rows, error) { return NewRows([]string{"oid"}), nil })

	row, err := db.QueryRow(context.Background(), "SELECT oid FROM pg_type")
	require.NoError(t, err)

	var oid uint32
	assert.True(t, errs.IsNotFound(row.Scan(&oid)))
}
