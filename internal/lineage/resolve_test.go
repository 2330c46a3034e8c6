package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/schema"
)

func src(s, t, c string) *schema.Source {
	return &schema.Source{Schema: s, Table: t, Column: c}
}

func fixture() map[string]*schema.Schema {
	public := schema.New("public")
	public.Tables = []*schema.Table{{
		Schema: "public",
		Name:   "users",
		Columns: []schema.Column{
			{Name: "id", IsPrimaryKey: true},
			{Name: "name", IsNullable: true},
			{Name: "org_id", References: []schema.ColumnReference{{
				SchemaName: "crm", TableName: "orgs", ColumnName: "id", Name: "users_org_fk",
			}}},
		},
	}}
	public.Views = []*schema.View{
		{
			Schema: "public",
			Name:   "v_users",
			Columns: []schema.Column{
				{Name: "id", IsNullable: true, Source: src("public", "users", "id")},
				{Name: "name", Source: src("public", "users", "name")},
				{Name: "n", IsNullable: true},
			},
		},
		{
			Schema: "public",
			Name:   "v_active",
			Columns: []schema.Column{
				{Name: "id", IsNullable: true, Source: src("public", "v_users", "id")},
			},
		},
	}

	reporting := schema.New("reporting")
	reporting.MaterializedViews = []*schema.MaterializedView{{
		Schema: "reporting",
		Name:   "user_orgs",
		Columns: []schema.Column{
			{Name: "org_id", IsNullable: true, Source: src("public", "users", "org_id")},
		},
	}}

	return map[string]*schema.Schema{"public": public, "reporting": reporting}
}

func TestResolve(t *testing.T) {
	in := fixture()

	out, err := Resolve(in)
	require.NoError(t, err)

	users := out["public"].View("v_users")
	require.NotNil(t, users)

	id := schema.FindColumn(users.Columns, "id")
	assert.True(t, id.IsPrimaryKey)
	assert.False(t, id.IsNullable)
	assert.Empty(t, id.References)

	name := schema.FindColumn(users.Columns, "name")
	assert.True(t, name.IsNullable)

	n := schema.FindColumn(users.Columns, "n")
	assert.True(t, n.IsNullable)
	assert.False(t, n.IsPrimaryKey)
	assert.Nil(t, n.Source)

	orgs := schema.FindColumn(out["reporting"].MaterializedView("user_orgs").Columns, "org_id")
	assert.False(t, orgs.IsNullable)
	require.Len(t, orgs.References, 1)
	assert.Equal(t, "users_org_fk", orgs.References[0].Name)
}

func TestResolve_FollowsChains(t *testing.T) {
	out, err := Resolve(fixture())
	require.NoError(t, err)

	active := schema.FindColumn(out["public"].View("v_active").Columns, "id")
	assert.True(t, active.IsPrimaryKey)
	assert.False(t, active.IsNullable)
	assert.Equal(t, src("public", "v_users", "id"), active.Source)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	in := fixture()
	table := in["public"].Tables[0]
	view := in["public"].Views[0]

	out, err := Resolve(in)
	require.NoError(t, err)

	assert.True(t, view.Columns[0].IsNullable)
	assert.False(t, view.Columns[0].IsPrimaryKey)
	assert.NotSame(t, view, out["public"].Views[0])
	assert.Same(t, table, out["public"].Tables[0])
}

func TestResolve_Dangling(t *testing.T) {
	in := fixture()
	in["public"].Views[0].Columns[0].Source = src("public", "gone", "id")

	_, err := Resolve(in)
	require.Error(t, err)
	assert.True(t, errs.IsLineage(err))
	assert.Contains(t, err.Error(), "public.gone.id")
}

func TestResolve_DanglingColumn(t *testing.T) {
	in := fixture()
	in["reporting"].MaterializedViews[0].Columns[0].Source = src("public", "users", "missing")

	_, err := Resolve(in)
	assert.True(t, errs.IsLineage(err))
}

func TestResolve_Cycle(t *testing.T) {
	public := schema.New("public")
	public.Views = []*schema.View{
		{Schema: "public", Name: "a", Columns: []schema.Column{{Name: "x", Source: src("public", "b", "x")}}},
		{Schema: "public", Name: "b", Columns: []schema.Column{{Name: "x", Source: src("public", "a", "x")}}},
	}

	_, err := Resolve(map[string]*schema.Schema{"public": public})
	require.Error(t, err)
	assert.True(t, errs.IsLineageCycle(err))
	assert.False(t, errs.IsLineage(err))
	assert.Contains(t, err.Error(), "public.a.x -> public.b.x -> public.a.x")
}

func TestResolve_TablesBeforeViews(t *testing.T) {
	public := schema.New("public")
	public.Tables = []*schema.Table{{Schema: "public", Name: "dup", Columns: []schema.Column{{Name: "id", IsPrimaryKey: true}}}}
	public.Views = []*schema.View{
		{Schema: "public", Name: "dup", Columns: []schema.Column{{Name: "id", IsNullable: true}}},
		{Schema: "public", Name: "v", Columns: []schema.Column{{Name: "id", Source: src("public", "dup", "id")}}},
	}

	out, err := Resolve(map[string]*schema.Schema{"public": public})
	require.NoError(t, err)
	assert.True(t, out["public"].View("v").Columns[0].IsPrimaryKey)
}

func TestResolve_Empty(t *testing.T) {
	out, err := Resolve(map[string]*schema.Schema{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
