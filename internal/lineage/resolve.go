// Package lineage follows view column sources across an extracted snapshot
// and copies key and nullability metadata from the terminal columns.
package lineage

import (
	"maps"
	"slices"
	"strings"

	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/schema"
)

// Resolve returns a copy of schemas in which every view and materialized
// view column with a Source carries IsNullable, IsPrimaryKey and References
// from the column its lineage ends at. Tables and intermediate view columns
// are left as they are; the input map is not modified.
//
// A source that cannot be found fails the whole pass with ErrKindLineage.
// A chain that revisits a column fails with ErrKindLineageCycle.
func Resolve(schemas map[string]*schema.Schema) (map[string]*schema.Schema, error) {
	r := resolver{schemas: schemas}
	out := make(map[string]*schema.Schema, len(schemas))

	for _, name := range slices.Sorted(maps.Keys(schemas)) {
		s := schemas[name]
		if s == nil {
			continue
		}
		c := s.Clone()

		for i, v := range c.Views {
			cols, err := r.resolveColumns(v.Schema, v.Name, v.Columns)
			if err != nil {
				return nil, err
			}
			view := *v
			view.Columns = cols
			c.Views[i] = &view
		}

		for i, m := range c.MaterializedViews {
			cols, err := r.resolveColumns(m.Schema, m.Name, m.Columns)
			if err != nil {
				return nil, err
			}
			mv := *m
			mv.Columns = cols
			c.MaterializedViews[i] = &mv
		}

		out[name] = c
	}
	return out, nil
}

type resolver struct {
	schemas map[string]*schema.Schema
}

func (r resolver) resolveColumns(schemaName, relation string, cols []schema.Column) ([]schema.Column, error) {
	out := slices.Clone(cols)
	for i := range out {
		col := &out[i]
		if col.Source == nil {
			continue
		}

		origin := schema.Source{Schema: schemaName, Table: relation, Column: col.Name}
		term, err := r.terminal(origin, *col.Source)
		if err != nil {
			return nil, err
		}
		col.IsNullable = term.IsNullable
		col.IsPrimaryKey = term.IsPrimaryKey
		col.References = slices.Clone(term.References)
	}
	return out, nil
}

// terminal walks source pointers from src until it reaches a column with
// no further source.
func (r resolver) terminal(origin, src schema.Source) (*schema.Column, error) {
	visited := map[schema.Source]bool{origin: true}
	path := []string{origin.String()}

	for {
		path = append(path, src.String())
		if visited[src] {
			return nil, errs.Newf(errs.ErrKindLineageCycle, "lineage cycle: %s", strings.Join(path, " -> "))
		}
		visited[src] = true

		col := r.column(src)
		if col == nil {
			return nil, errs.Newf(errs.ErrKindLineage, "column %s referenced by %s does not exist", src, origin)
		}
		if col.Source == nil {
			return col, nil
		}
		src = *col.Source
	}
}

// column looks src up among tables, then views, then materialized views.
func (r resolver) column(src schema.Source) *schema.Column {
	s, ok := r.schemas[src.Schema]
	if !ok || s == nil {
		return nil
	}
	if t := s.Table(src.Table); t != nil {
		return schema.FindColumn(t.Columns, src.Column)
	}
	if v := s.View(src.Table); v != nil {
		return schema.FindColumn(v.Columns, src.Column)
	}
	if m := s.MaterializedView(src.Table); m != nil {
		return schema.FindColumn(m.Columns, src.Column)
	}
	return nil
}
