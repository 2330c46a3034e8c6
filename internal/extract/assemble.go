package extract

import (
	"github.com/koustreak/pgextract/internal/canonical"
	"github.com/koustreak/pgextract/internal/logger"
	"github.com/koustreak/pgextract/internal/schema"
	"github.com/koustreak/pgextract/internal/viewdef"
)

// --- type references ---

func (o inspected) visitTypeRefs(add func(string)) {
	columns := func(cols []schema.Column) {
		for _, c := range cols {
			add(c.TypeRef)
		}
	}
	params := func(ps []schema.Parameter) {
		for _, p := range ps {
			add(p.TypeRef)
		}
	}

	switch {
	case o.table != nil:
		columns(o.table.Columns)
	case o.view != nil:
		columns(o.view.Columns)
	case o.matView != nil:
		columns(o.matView.Columns)
	case o.foreign != nil:
		columns(o.foreign.Columns)
	case o.functions != nil:
		for _, fn := range o.functions {
			params(fn.Parameters)
			params(fn.ReturnsTable)
			add(fn.ReturnTypeRef)
		}
	case o.procedures != nil:
		for _, p := range o.procedures {
			params(p.Parameters)
		}
	}

	if ref := o.namedRef(); ref != "" {
		add(ref)
	}
}

// namedRef is the type reference of an object that is itself a type.
func (o inspected) namedRef() string {
	switch o.ref.Kind {
	case schema.KindComposite, schema.KindDomain, schema.KindEnum, schema.KindRange:
		return qualifiedRef(o.ref.Schema, o.ref.Name)
	}
	return ""
}

func (o inspected) namedType(b *typeBatch) canonical.Type {
	if ref := o.namedRef(); ref != "" {
		return b.get(ref)
	}
	return nil
}

func (o inspected) applyTypes(b *typeBatch) {
	columns := func(cols []schema.Column) {
		for i := range cols {
			cols[i].Type = b.get(cols[i].TypeRef)
		}
	}
	params := func(ps []schema.Parameter) {
		for i := range ps {
			ps[i].Type = b.get(ps[i].TypeRef)
		}
	}

	switch {
	case o.table != nil:
		columns(o.table.Columns)
	case o.view != nil:
		columns(o.view.Columns)
	case o.matView != nil:
		columns(o.matView.Columns)
	case o.foreign != nil:
		columns(o.foreign.Columns)
	case o.domain != nil:
		o.domain.Type = o.namedType(b)
		if d, ok := o.domain.Type.(*canonical.Domain); ok {
			o.domain.BaseType = d.BaseType
		}
	case o.functions != nil:
		for _, fn := range o.functions {
			params(fn.Parameters)
			params(fn.ReturnsTable)
			fn.ReturnType = b.get(fn.ReturnTypeRef)
		}
	case o.procedures != nil:
		for _, p := range o.procedures {
			params(p.Parameters)
		}
	}
}

// --- grouping ---

// assemble groups inspected objects by schema in discovery order and
// attaches view lineage.
func (e *Extractor) assemble(schemas []string, objects []inspected, types *typeBatch, attrs map[string][]canonical.Type, log *logger.Logger) map[string]*schema.Schema {
	out := make(map[string]*schema.Schema, len(schemas))
	for _, name := range schemas {
		out[name] = schema.New(name)
	}
	columns := relationColumns(objects)

	for _, obj := range objects {
		s, ok := out[obj.ref.Schema]
		if !ok {
			s = schema.New(obj.ref.Schema)
			out[obj.ref.Schema] = s
		}

		switch obj.ref.Kind {
		case schema.KindTable:
			s.Tables = append(s.Tables, obj.table)
		case schema.KindView:
			attachLineage(log, columns, obj.ref, obj.view.Definition, obj.view.Columns)
			s.Views = append(s.Views, obj.view)
		case schema.KindMaterializedView:
			attachLineage(log, columns, obj.ref, obj.matView.Definition, obj.matView.Columns)
			s.MaterializedViews = append(s.MaterializedViews, obj.matView)
		case schema.KindForeignTable:
			s.ForeignTables = append(s.ForeignTables, obj.foreign)
		case schema.KindDomain:
			s.Domains = append(s.Domains, obj.domain)
		case schema.KindComposite:
			s.Composites = append(s.Composites, buildComposite(obj.ref, obj.namedType(types), attrs[obj.namedRef()]))
		case schema.KindEnum:
			s.Enums = append(s.Enums, buildEnum(obj.ref, obj.namedType(types)))
		case schema.KindRange:
			s.Ranges = append(s.Ranges, buildRange(obj.ref, obj.namedType(types)))
		case schema.KindFunction:
			s.Functions = append(s.Functions, obj.functions...)
		case schema.KindProcedure:
			s.Procedures = append(s.Procedures, obj.procedures...)
		}
	}
	return out
}

// relationColumns looks up the column names of every extracted relation in
// attnum order.
func relationColumns(objects []inspected) viewdef.ColumnLookup {
	byName := make(map[string][]string)
	for _, obj := range objects {
		var cols []schema.Column
		switch {
		case obj.table != nil:
			cols = obj.table.Columns
		case obj.view != nil:
			cols = obj.view.Columns
		case obj.matView != nil:
			cols = obj.matView.Columns
		case obj.foreign != nil:
			cols = obj.foreign.Columns
		default:
			continue
		}
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
		}
		byName[qualifiedRef(obj.ref.Schema, obj.ref.Name)] = names
	}
	return func(schemaName, relation string) []string {
		return byName[qualifiedRef(schemaName, relation)]
	}
}

// attachLineage sets the immediate Source of each column from the view's
// definition. A definition that does not parse leaves every column without
// a source.
func attachLineage(log *logger.Logger, columns viewdef.ColumnLookup, ref schema.ObjectRef, definition string, cols []schema.Column) {
	refs, err := viewdef.ExtractWith(definition, viewdef.Options{
		DefaultSchema: ref.Schema,
		Columns:       columns,
	})
	if err != nil {
		log.WarnWith("view lineage unavailable", err, map[string]any{
			"schema": ref.Schema,
			"view":   ref.Name,
		})
		return
	}

	for _, r := range refs {
		if r.Source == nil {
			continue
		}
		if col := schema.FindColumn(cols, r.ViewColumn); col != nil && col.Source == nil {
			col.Source = r.Source
		}
	}
}

func buildComposite(ref schema.ObjectRef, t canonical.Type, attrTypes []canonical.Type) *schema.CompositeType {
	ct := &schema.CompositeType{
		Schema:     ref.Schema,
		Name:       ref.Name,
		Comment:    ref.Comment,
		Type:       t,
		Attributes: []schema.CompositeAttribute{},
	}
	if c, ok := t.(*canonical.Composite); ok {
		for i, a := range c.Attributes {
			attr := schema.CompositeAttribute{Name: a.Name, Ordinal: a.Ordinal, TypeRef: a.TypeRef}
			if i < len(attrTypes) {
				attr.Type = attrTypes[i]
			}
			ct.Attributes = append(ct.Attributes, attr)
		}
	}
	return ct
}

func buildEnum(ref schema.ObjectRef, t canonical.Type) *schema.Enum {
	e := &schema.Enum{Schema: ref.Schema, Name: ref.Name, Comment: ref.Comment, Type: t, Values: []string{}}
	if en, ok := t.(*canonical.Enum); ok && en.Values != nil {
		e.Values = en.Values
	}
	return e
}

func buildRange(ref schema.ObjectRef, t canonical.Type) *schema.Range {
	r := &schema.Range{Schema: ref.Schema, Name: ref.Name, Comment: ref.Comment, Type: t}
	if rt, ok := t.(*canonical.Range); ok {
		r.Subtype = rt.Subtype
	}
	return r
}
