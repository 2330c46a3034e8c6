// Package viewdef derives per-column lineage from a view's stored SELECT.
package viewdef

import (
	"fmt"
	"slices"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/schema"
)

// Reference is the lineage of one output column. Source is nil when the
// projection is not a simple column reference.
type Reference struct {
	ViewColumn string         `json:"view_column"`
	Source     *schema.Source `json:"source,omitempty"`
}

// cteTable maps CTE names to their output references. A name present with a
// nil slice is visible but carries no lineage.
type cteTable map[string][]Reference

// ColumnLookup returns the column names of schema.relation in attribute
// order, or nil when the relation is unknown.
type ColumnLookup func(schema, relation string) []string

// Options tune ExtractWith.
type Options struct {
	// DefaultSchema qualifies unqualified relations.
	DefaultSchema string

	// Columns maps FROM column aliases back to real column names and
	// expands * over base relations. Without it, aliased columns get no
	// source and such a star yields nothing.
	Columns ColumnLookup

	// RequireExpandedStar fails with an invalid input error when a * could
	// not be expanded. Stored view definitions never contain one, but
	// hand-written statements do.
	RequireExpandedStar bool
}

// Extract parses sql and returns one Reference per output column in
// projection order. Unqualified relations resolve to defaultSchema.
func Extract(sql, defaultSchema string) ([]Reference, error) {
	return ExtractWith(sql, Options{DefaultSchema: defaultSchema})
}

// ExtractWith is Extract with catalog knowledge and strictness controls.
func ExtractWith(sql string, opts Options) ([]Reference, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindParse, "parsing view definition", err)
	}
	if len(tree.Stmts) == 0 {
		return nil, errs.New(errs.ErrKindParse, "view definition is empty")
	}

	stmt := tree.Stmts[0].GetStmt().GetSelectStmt()
	if stmt == nil {
		return nil, errs.Newf(errs.ErrKindParse, "%q does not parse as a SELECT statement", sql)
	}

	x := &extractor{opts: opts}
	refs := x.walk(toSelect(stmt), cteTable{})
	if opts.RequireExpandedStar && len(x.unexpanded) > 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"cannot expand * over %s without the catalog; list the columns explicitly",
			strings.Join(x.unexpanded, ", "))
	}
	if refs == nil {
		refs = []Reference{}
	}
	return refs, nil
}

type extractor struct {
	opts Options
	// unexpanded names the relations a star could not be expanded over.
	unexpanded []string
}

func (x *extractor) walk(node *selectNode, outer cteTable) []Reference {
	if node == nil {
		return nil
	}
	ctes := x.buildCTEs(node.with, node.recursive, outer)

	// Set operations take their lineage from the left branch only.
	if node.isSetOp() {
		return x.walk(node.left, ctes)
	}

	var refs []Reference
	for _, t := range node.targets {
		if t.expr.kind == exprStar {
			refs = append(refs, x.expandStar(t.expr.fields, node.from, ctes)...)
			continue
		}

		ref := Reference{ViewColumn: outputName(t)}
		if t.expr.kind == exprColumn {
			ref.Source = x.resolveColumn(t.expr.fields, node.from, ctes)
		}
		refs = append(refs, ref)
	}
	return refs
}

// buildCTEs extends outer with the members of a WITH clause. A member sees
// the outer CTEs and the members before it, or every member under
// RECURSIVE, all masked, so substitution is only ever one level deep. Any
// other name in a member body, its own included, is a base relation.
func (x *extractor) buildCTEs(with []cteNode, recursive bool, outer cteTable) cteTable {
	if len(with) == 0 {
		return outer
	}

	ctes := make(cteTable, len(outer)+len(with))
	for name, refs := range outer {
		ctes[name] = refs
	}
	for i, cte := range with {
		visible := with[:i]
		if recursive {
			visible = with
		}
		masked := make(cteTable, len(outer)+len(visible))
		for name := range outer {
			masked[name] = nil
		}
		for _, v := range visible {
			masked[v.name] = nil
		}

		refs := x.walk(cte.body, masked)
		for j, col := range cte.columns {
			if j < len(refs) {
				refs[j].ViewColumn = col
			}
		}
		ctes[cte.name] = refs
	}
	return ctes
}

func (x *extractor) resolveColumn(fields []string, from []rangeEntry, ctes cteTable) *schema.Source {
	if len(fields) == 0 {
		return nil
	}
	column := fields[len(fields)-1]

	entry, ok := x.findEntry(fields[:len(fields)-1], from)
	if !ok || entry.opaque() {
		return nil
	}

	if refs, isCTE := x.cte(entry, ctes); isCTE {
		if i := slices.Index(entry.columns, column); i >= 0 {
			if i < len(refs) && refs[i].Source != nil {
				src := *refs[i].Source
				return &src
			}
			return nil
		}
		for _, ref := range refs {
			if ref.ViewColumn == column && ref.Source != nil {
				src := *ref.Source
				return &src
			}
		}
		return nil
	}

	column, ok = x.baseColumn(entry, column)
	if !ok {
		return nil
	}
	return &schema.Source{Schema: x.schemaOf(entry), Table: entry.relation, Column: column}
}

// cte returns the references of the CTE an entry names, if it names one.
func (x *extractor) cte(e rangeEntry, ctes cteTable) ([]Reference, bool) {
	if e.schema != "" {
		return nil, false
	}
	refs, ok := ctes[e.relation]
	return refs, ok
}

// baseColumn undoes a FROM column alias. Aliases rename the relation's
// columns by position, so mapping one back needs the catalog column order.
// Columns past the alias list keep their names.
func (x *extractor) baseColumn(e rangeEntry, column string) (string, bool) {
	i := slices.Index(e.columns, column)
	if i < 0 {
		return column, true
	}
	cols := x.relationColumns(e)
	if i >= len(cols) {
		return "", false
	}
	return cols[i], true
}

func (x *extractor) relationColumns(e rangeEntry) []string {
	if x.opts.Columns == nil {
		return nil
	}
	return x.opts.Columns(x.schemaOf(e), e.relation)
}

// findEntry picks the FROM entry a column qualifier points at. An
// unqualified reference only resolves when FROM holds exactly one entry.
func (x *extractor) findEntry(qualifier []string, from []rangeEntry) (rangeEntry, bool) {
	switch len(qualifier) {
	case 0:
		if len(from) == 1 {
			return from[0], true
		}
	case 1:
		for _, e := range from {
			if e.name() == qualifier[0] {
				return e, true
			}
		}
	case 2:
		for _, e := range from {
			if e.relation == qualifier[1] && x.schemaOf(e) == qualifier[0] {
				return e, true
			}
		}
	}
	return rangeEntry{}, false
}

// expandStar expands * or t.*. CTEs expand to their references. Base
// relations expand through the column lookup; without one they yield
// nothing and are recorded as unexpanded, as are sub-selects.
func (x *extractor) expandStar(qualifier []string, from []rangeEntry, ctes cteTable) []Reference {
	var entries []rangeEntry
	if len(qualifier) == 0 {
		entries = from
	} else if e, ok := x.findEntry(qualifier, from); ok {
		entries = []rangeEntry{e}
	}

	var refs []Reference
	for _, e := range entries {
		if e.opaque() {
			x.unexpanded = append(x.unexpanded, "sub-select "+e.name())
			continue
		}

		if cteRefs, isCTE := x.cte(e, ctes); isCTE {
			for i, ref := range cteRefs {
				out := Reference{ViewColumn: aliasAt(e.columns, i, ref.ViewColumn)}
				if ref.Source != nil {
					src := *ref.Source
					out.Source = &src
				}
				refs = append(refs, out)
			}
			continue
		}

		cols := x.relationColumns(e)
		if cols == nil {
			x.unexpanded = append(x.unexpanded, x.schemaOf(e)+"."+e.relation)
			continue
		}
		for i, col := range cols {
			refs = append(refs, Reference{
				ViewColumn: aliasAt(e.columns, i, col),
				Source:     &schema.Source{Schema: x.schemaOf(e), Table: e.relation, Column: col},
			})
		}
	}
	return refs
}

func aliasAt(aliases []string, i int, name string) string {
	if i < len(aliases) {
		return aliases[i]
	}
	return name
}

func (x *extractor) schemaOf(e rangeEntry) string {
	if e.schema != "" {
		return e.schema
	}
	return x.opts.DefaultSchema
}

// outputName follows the server's naming of unaliased projections.
func outputName(t target) string {
	if t.alias != "" {
		return t.alias
	}
	return exprName(t.expr)
}

func exprName(e expr) string {
	switch e.kind {
	case exprColumn:
		if len(e.fields) > 0 {
			return e.fields[len(e.fields)-1]
		}
	case exprFunc:
		return e.name
	case exprCast:
		if e.inner != nil {
			return exprName(*e.inner)
		}
	}
	return "?column?"
}

// String renders the reference for log output.
func (r Reference) String() string {
	if r.Source == nil {
		return r.ViewColumn + " <- ?"
	}
	return fmt.Sprintf("%s <- %s", r.ViewColumn, r.Source)
}
