package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koustreak/pgextract/internal/database"
	"github.com/koustreak/pgextract/internal/errs"
)

// PgIntrospector implements Reader for PostgreSQL using pg_catalog.
type PgIntrospector struct {
	db database.DB
}

// NewPgIntrospector creates a new Postgres catalog introspector.
func NewPgIntrospector(db database.DB) *PgIntrospector {
	return &PgIntrospector{db: db}
}

// referentialActions maps pg_constraint.confupdtype / confdeltype codes.
var referentialActions = [][2]string{
	{"a", "NO ACTION"},
	{"r", "RESTRICT"},
	{"c", "CASCADE"},
	{"n", "SET NULL"},
	{"d", "SET DEFAULT"},
}

func actionCase(column string) string {
	var b strings.Builder
	b.WriteString("CASE " + column)
	for _, a := range referentialActions {
		fmt.Fprintf(&b, " WHEN '%s' THEN '%s'", a[0], a[1])
	}
	b.WriteString(" END")
	return b.String()
}

// --- discovery ---

// ListSchemas returns every schema that is not pg_* or information_schema.
func (p *PgIntrospector) ListSchemas(ctx context.Context) ([]string, error) {
	const q = `
		SELECT nspname
		FROM pg_catalog.pg_namespace
		WHERE nspname <> 'information_schema'
		  AND nspname NOT LIKE 'pg\_%'
		ORDER BY nspname`

	rows, err := p.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

const listObjectsSQL = `
	SELECT n.nspname,
	       t.typname,
	       CASE t.typtype
	           WHEN 'c' THEN CASE c.relkind
	               WHEN 'r' THEN 'table'
	               WHEN 'p' THEN 'table'
	               WHEN 'v' THEN 'view'
	               WHEN 'm' THEN 'materialized_view'
	               WHEN 'f' THEN 'foreign_table'
	               WHEN 'c' THEN 'composite'
	           END
	           WHEN 'd' THEN 'domain'
	           WHEN 'e' THEN 'enum'
	           WHEN 'r' THEN 'range'
	       END AS kind,
	       COALESCE(obj_description(c.oid, 'pg_class'), obj_description(t.oid, 'pg_type')) AS comment
	FROM pg_catalog.pg_type t
	JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
	LEFT JOIN pg_catalog.pg_class c ON c.oid = t.typrelid
	WHERE n.nspname = ANY($1)
	  AND t.typtype IN ('c', 'd', 'e', 'r')
	  AND (c.oid IS NULL OR (NOT c.relispartition AND c.relkind IN ('r', 'p', 'v', 'm', 'f', 'c')))
	  AND NOT EXISTS (
	      SELECT 1 FROM pg_catalog.pg_depend d
	      WHERE d.deptype = 'e'
	        AND ((d.classid = 'pg_catalog.pg_type'::regclass AND d.objid = t.oid)
	          OR (d.classid = 'pg_catalog.pg_class'::regclass AND d.objid = c.oid)))

	UNION ALL

	SELECT n.nspname,
	       p.proname,
	       CASE p.prokind WHEN 'f' THEN 'function' ELSE 'procedure' END,
	       obj_description(p.oid, 'pg_proc')
	FROM pg_catalog.pg_proc p
	JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
	JOIN pg_catalog.pg_language l  ON l.oid = p.prolang
	WHERE n.nspname = ANY($1)
	  AND p.prokind IN ('f', 'p')
	  AND l.lanname <> 'internal'
	  AND NOT EXISTS (
	      SELECT 1 FROM pg_catalog.pg_depend d
	      WHERE d.deptype = 'e'
	        AND d.classid = 'pg_catalog.pg_proc'::regclass
	        AND d.objid = p.oid)
	ORDER BY 1, 3, 2`

// ListObjects returns all extractable objects in schemas. Partitions,
// sequences, extension members and internal-language routines are skipped.
// Overloaded routines appear once.
func (p *PgIntrospector) ListObjects(ctx context.Context, schemas []string) ([]ObjectRef, error) {
	rows, err := p.db.Query(ctx, listObjectsSQL, schemas)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	seen := make(map[ObjectRef]bool)
	var refs []ObjectRef
	for rows.Next() {
		var (
			ref     ObjectRef
			kind    *string
			comment *string
		)
		if err := rows.Scan(&ref.Schema, &ref.Name, &kind, &comment); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		if kind == nil {
			continue
		}
		ref.Kind = Kind(*kind)

		key := ObjectRef{Schema: ref.Schema, Name: ref.Name, Kind: ref.Kind}
		if seen[key] {
			continue
		}
		seen[key] = true
		ref.Comment = comment
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// --- relation columns ---

var relationColumnsSQL = `
	SELECT a.attname,
	       format_type(a.atttypid, a.atttypmod),
	       NOT a.attnotnull,
	       pg_get_expr(ad.adbin, ad.adrelid),
	       a.attnum::int,
	       a.attidentity <> '',
	       CASE
	           WHEN a.attidentity = 'a' OR a.attgenerated = 's' THEN 'ALWAYS'
	           WHEN a.attidentity = 'd' THEN 'BY DEFAULT'
	           ELSE 'NEVER'
	       END,
	       COALESCE(ic.is_updatable = 'YES', false),
	       ic.character_maximum_length::int,
	       col_description(c.oid, a.attnum),
	       EXISTS (
	           SELECT 1 FROM pg_catalog.pg_index ix
	           WHERE ix.indrelid = c.oid AND ix.indisprimary AND a.attnum = ANY(ix.indkey)),
	       (SELECT jsonb_agg(jsonb_build_object(
	                   'schema_name', tn.nspname,
	                   'table_name',  tc.relname,
	                   'column_name', ta.attname,
	                   'on_update',   ` + actionCase("con.confupdtype") + `,
	                   'on_delete',   ` + actionCase("con.confdeltype") + `,
	                   'name',        con.conname)
	               ORDER BY con.conname)
	          FROM pg_catalog.pg_constraint con
	          CROSS JOIN LATERAL unnest(con.conkey, con.confkey) AS k(src, dst)
	          JOIN pg_catalog.pg_class tc      ON tc.oid = con.confrelid
	          JOIN pg_catalog.pg_namespace tn  ON tn.oid = tc.relnamespace
	          JOIN pg_catalog.pg_attribute ta  ON ta.attrelid = con.confrelid AND ta.attnum = k.dst
	         WHERE con.conrelid = c.oid
	           AND con.contype = 'f'
	           AND k.src = a.attnum
	           AND NOT tc.relispartition) AS refs
	FROM pg_catalog.pg_class c
	JOIN pg_catalog.pg_namespace n  ON n.oid = c.relnamespace
	JOIN pg_catalog.pg_attribute a  ON a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped
	LEFT JOIN pg_catalog.pg_attrdef ad ON ad.adrelid = c.oid AND ad.adnum = a.attnum
	LEFT JOIN information_schema.columns ic
	       ON ic.table_schema = n.nspname AND ic.table_name = c.relname AND ic.column_name = a.attname
	WHERE n.nspname = $1 AND c.relname = $2
	ORDER BY a.attnum`

// inspectColumns reads the columns of any relation kind. Types are left as
// raw references in Column.TypeRef.
func (p *PgIntrospector) inspectColumns(ctx context.Context, ref ObjectRef) ([]Column, error) {
	rows, err := p.db.Query(ctx, relationColumnsSQL, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("inspect columns of %s: %w", ref, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col     Column
			ordinal int32
			refs    []byte
		)
		if err := rows.Scan(
			&col.Name,
			&col.TypeRef,
			&col.IsNullable,
			&col.DefaultValue,
			&ordinal,
			&col.IsIdentity,
			&col.Generated,
			&col.IsUpdatable,
			&col.MaxLength,
			&col.Comment,
			&col.IsPrimaryKey,
			&refs,
		); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", ref, err)
		}
		col.OrdinalPosition = int(ordinal)
		col.References = []ColumnReference{}
		if len(refs) > 0 {
			if err := json.Unmarshal(refs, &col.References); err != nil {
				return nil, errs.Wrap(errs.ErrKindQueryFailed, "decode references of "+ref.String()+"."+col.Name, err)
			}
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "relation %s not found or has no columns", ref)
	}
	return cols, nil
}

// --- tables ---

// InspectTable returns columns, indices, checks and row level security
// settings for a table.
func (p *PgIntrospector) InspectTable(ctx context.Context, ref ObjectRef) (*Table, error) {
	cols, err := p.inspectColumns(ctx, ref)
	if err != nil {
		return nil, err
	}
	t := &Table{Schema: ref.Schema, Name: ref.Name, Comment: ref.Comment, Columns: cols}

	if t.Indices, err = p.inspectIndices(ctx, ref); err != nil {
		return nil, err
	}
	if t.Checks, err = p.inspectChecks(ctx, ref); err != nil {
		return nil, err
	}
	if err := p.inspectRowSecurity(ctx, ref, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PgIntrospector) inspectIndices(ctx context.Context, ref ObjectRef) ([]Index, error) {
	const q = `
		SELECT i.relname,
		       ix.indisprimary,
		       ix.indisunique,
		       (SELECT jsonb_agg(jsonb_build_object(
		                   'name',       a.attname,
		                   'definition', pg_get_indexdef(ix.indexrelid, k.ord::int, true))
		               ORDER BY k.ord)
		          FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		          LEFT JOIN pg_catalog.pg_attribute a
		                 ON a.attrelid = ix.indrelid AND a.attnum = k.attnum AND k.attnum > 0)
		FROM pg_catalog.pg_index ix
		JOIN pg_catalog.pg_class i     ON i.oid = ix.indexrelid
		JOIN pg_catalog.pg_class t     ON t.oid = ix.indrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY i.relname`

	rows, err := p.db.Query(ctx, q, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("inspect indices of %s: %w", ref, err)
	}
	defer rows.Close()

	indices := []Index{}
	for rows.Next() {
		var (
			idx  Index
			cols []byte
		)
		if err := rows.Scan(&idx.Name, &idx.IsPrimary, &idx.IsUnique, &cols); err != nil {
			return nil, fmt.Errorf("scan index of %s: %w", ref, err)
		}
		if len(cols) > 0 {
			if err := json.Unmarshal(cols, &idx.Columns); err != nil {
				return nil, errs.Wrap(errs.ErrKindQueryFailed, "decode index columns of "+idx.Name, err)
			}
		}
		indices = append(indices, idx)
	}
	return indices, rows.Err()
}

func (p *PgIntrospector) inspectChecks(ctx context.Context, ref ObjectRef) ([]Check, error) {
	const q = `
		SELECT con.conname, pg_get_constraintdef(con.oid)
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class c     ON c.oid = con.conrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND con.contype = 'c'
		ORDER BY con.conname`

	return p.fetchChecks(ctx, q, ref)
}

func (p *PgIntrospector) fetchChecks(ctx context.Context, q string, ref ObjectRef) ([]Check, error) {
	rows, err := p.db.Query(ctx, q, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("inspect checks of %s: %w", ref, err)
	}
	defer rows.Close()

	checks := []Check{}
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, fmt.Errorf("scan check of %s: %w", ref, err)
		}
		checks = append(checks, Check{Name: name, Clause: TrimCheckClause(def)})
	}
	return checks, rows.Err()
}

// TrimCheckClause turns "CHECK ((price > 0))" into "price > 0".
func TrimCheckClause(def string) string {
	clause := strings.TrimSpace(def)
	clause = strings.TrimPrefix(clause, "CHECK ")
	clause = strings.TrimSuffix(clause, " NOT VALID")
	for n := 0; n < 2 && enclosed(clause); n++ {
		clause = clause[1 : len(clause)-1]
	}
	return clause
}

// enclosed reports whether s is wrapped in one matching pair of parentheses.
func enclosed(s string) bool {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return false
	}
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}

func (p *PgIntrospector) inspectRowSecurity(ctx context.Context, ref ObjectRef, t *Table) error {
	const q = `
		SELECT c.relrowsecurity,
		       c.relforcerowsecurity,
		       (SELECT jsonb_agg(jsonb_build_object(
		                   'name',                     pol.policyname,
		                   'is_permissive',            pol.permissive = 'PERMISSIVE',
		                   'roles_applied_to',         pol.roles,
		                   'command_type',             pol.cmd,
		                   'visibility_expression',    pol.qual,
		                   'modifiability_expression', pol.with_check)
		               ORDER BY pol.policyname)
		          FROM pg_catalog.pg_policies pol
		         WHERE pol.schemaname = n.nspname AND pol.tablename = c.relname)
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`

	row, err := p.db.QueryRow(ctx, q, ref.Schema, ref.Name)
	if err != nil {
		return fmt.Errorf("inspect row security of %s: %w", ref, err)
	}
	var policies []byte
	if err := row.Scan(&t.IsRowLevelSecurityEnabled, &t.IsRowLevelSecurityEnforced, &policies); err != nil {
		return fmt.Errorf("inspect row security of %s: %w", ref, err)
	}
	t.SecurityPolicies = []SecurityPolicy{}
	if len(policies) > 0 {
		if err := json.Unmarshal(policies, &t.SecurityPolicies); err != nil {
			return errs.Wrap(errs.ErrKindQueryFailed, "decode policies of "+ref.String(), err)
		}
	}
	return nil
}

// --- views ---

// InspectView returns a view's definition, options and columns. Column
// sources are not set here; see viewdef.
func (p *PgIntrospector) InspectView(ctx context.Context, ref ObjectRef) (*View, error) {
	const q = `
		SELECT pg_get_viewdef(c.oid, true),
		       (SELECT option_value FROM pg_options_to_table(c.reloptions)
		         WHERE option_name = 'check_option'),
		       COALESCE((SELECT option_value::boolean FROM pg_options_to_table(c.reloptions)
		                  WHERE option_name = 'security_barrier'), false),
		       COALESCE((SELECT option_value::boolean FROM pg_options_to_table(c.reloptions)
		                  WHERE option_name = 'security_invoker'), false)
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind = 'v'`

	row, err := p.db.QueryRow(ctx, q, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("inspect view %s: %w", ref, err)
	}
	v := &View{Schema: ref.Schema, Name: ref.Name, Comment: ref.Comment}
	if err := row.Scan(&v.Definition, &v.Options.CheckOption, &v.Options.SecurityBarrier, &v.Options.SecurityInvoker); err != nil {
		return nil, fmt.Errorf("inspect view %s: %w", ref, err)
	}

	if v.Columns, err = p.inspectColumns(ctx, ref); err != nil {
		return nil, err
	}
	return v, nil
}

// InspectMaterializedView returns a materialized view's definition and columns.
func (p *PgIntrospector) InspectMaterializedView(ctx context.Context, ref ObjectRef) (*MaterializedView, error) {
	const q = `
		SELECT definition
		FROM pg_catalog.pg_matviews
		WHERE schemaname = $1 AND matviewname = $2`

	row, err := p.db.QueryRow(ctx, q, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("inspect materialized view %s: %w", ref, err)
	}
	mv := &MaterializedView{Schema: ref.Schema, Name: ref.Name, Comment: ref.Comment}
	if err := row.Scan(&mv.Definition); err != nil {
		return nil, fmt.Errorf("inspect materialized view %s: %w", ref, err)
	}

	if mv.Columns, err = p.inspectColumns(ctx, ref); err != nil {
		return nil, err
	}
	return mv, nil
}

// --- foreign tables ---

// InspectForeignTable returns columns plus the foreign server and options.
func (p *PgIntrospector) InspectForeignTable(ctx context.Context, ref ObjectRef) (*ForeignTable, error) {
	const q = `
		SELECT s.srvname, COALESCE(ft.ftoptions, '{}')
		FROM pg_catalog.pg_foreign_table ft
		JOIN pg_catalog.pg_class c          ON c.oid = ft.ftrelid
		JOIN pg_catalog.pg_namespace n      ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_foreign_server s ON s.oid = ft.ftserver
		WHERE n.nspname = $1 AND c.relname = $2`

	row, err := p.db.QueryRow(ctx, q, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("inspect foreign table %s: %w", ref, err)
	}
	ft := &ForeignTable{Schema: ref.Schema, Name: ref.Name, Comment: ref.Comment}
	var options []string
	if err := row.Scan(&ft.Server, &options); err != nil {
		return nil, fmt.Errorf("inspect foreign table %s: %w", ref, err)
	}
	ft.Options = ParseOptions(options)

	if ft.Columns, err = p.inspectColumns(ctx, ref); err != nil {
		return nil, err
	}
	return ft, nil
}

// ParseOptions turns a reloptions-style {"k=v"} array into a map.
func ParseOptions(options []string) map[string]string {
	if len(options) == 0 {
		return nil
	}
	m := make(map[string]string, len(options))
	for _, o := range options {
		k, v, _ := strings.Cut(o, "=")
		m[k] = v
	}
	return m
}

// --- domains ---

// InspectDomain returns a domain's constraints. Its type and base type are
// filled in by the caller from the canonical batch.
func (p *PgIntrospector) InspectDomain(ctx context.Context, ref ObjectRef) (*Domain, error) {
	const q = `
		SELECT t.typnotnull, t.typdefault
		FROM pg_catalog.pg_type t
		JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1 AND t.typname = $2 AND t.typtype = 'd'`

	row, err := p.db.QueryRow(ctx, q, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("inspect domain %s: %w", ref, err)
	}
	d := &Domain{Schema: ref.Schema, Name: ref.Name, Comment: ref.Comment}
	if err := row.Scan(&d.NotNull, &d.Default); err != nil {
		return nil, fmt.Errorf("inspect domain %s: %w", ref, err)
	}

	const checksQ = `
		SELECT con.conname, pg_get_constraintdef(con.oid)
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_type t      ON t.oid = con.contypid
		JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1 AND t.typname = $2 AND con.contype = 'c'
		ORDER BY con.conname`

	if d.Checks, err = p.fetchChecks(ctx, checksQ, ref); err != nil {
		return nil, err
	}
	return d, nil
}
