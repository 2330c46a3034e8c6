package canonical

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koustreak/pgextract/internal/database"
	"github.com/koustreak/pgextract/internal/errs"
)

// resolveTypesSQL resolves every distinct element name in one round trip.
// Names the catalog does not know come back with a NULL typname.
const resolveTypesSQL = `
WITH RECURSIVE
input AS (
    SELECT i.name, i.ord, to_regtype(i.name) AS type_oid
    FROM unnest($1::text[]) WITH ORDINALITY AS i(name, ord)
),
domain_chain AS (
    SELECT t.oid AS origin, t.typbasetype AS base_oid, 1 AS depth
    FROM input i
    JOIN pg_type t ON t.oid = i.type_oid
    WHERE t.typtype = 'd'

    UNION ALL

    SELECT c.origin, t.typbasetype, c.depth + 1
    FROM domain_chain c
    JOIN pg_type t ON t.oid = c.base_oid
    WHERE t.typtype = 'd'
),
domain_base AS (
    SELECT DISTINCT ON (c.origin)
           c.origin,
           bn.nspname AS base_schema,
           bt.typname AS base_name
    FROM domain_chain c
    JOIN pg_type bt      ON bt.oid = c.base_oid
    JOIN pg_namespace bn ON bn.oid = bt.typnamespace
    ORDER BY c.origin, c.depth DESC
)
SELECT i.name,
       n.nspname,
       t.typname,
       t.typtype::text,
       (SELECT array_agg(e.enumlabel::text ORDER BY e.enumsortorder)
          FROM pg_enum e
         WHERE e.enumtypid = t.oid) AS enum_values,
       (SELECT jsonb_agg(jsonb_build_object(
                   'name',    a.attname,
                   'ordinal', a.attnum,
                   'type',    format_type(a.atttypid, a.atttypmod))
               ORDER BY a.attnum)
          FROM pg_attribute a
         WHERE t.typtype = 'c'
           AND a.attrelid = t.typrelid
           AND a.attnum > 0
           AND NOT a.attisdropped) AS attributes,
       sn.nspname || '.' || st.typname AS range_subtype,
       db.base_schema,
       db.base_name
FROM input i
LEFT JOIN pg_type t       ON t.oid = i.type_oid
LEFT JOIN pg_namespace n  ON n.oid = t.typnamespace
LEFT JOIN pg_range r      ON r.rngtypid = t.oid
LEFT JOIN pg_type st      ON st.oid = r.rngsubtype
LEFT JOIN pg_namespace sn ON sn.oid = st.typnamespace
LEFT JOIN domain_base db  ON db.origin = t.oid
ORDER BY i.ord`

// Canonicalizer resolves type references against the catalog.
// It holds no cache; every call is one round trip.
type Canonicalizer struct {
	db database.DB
}

// New returns a Canonicalizer reading from db.
func New(db database.DB) *Canonicalizer {
	return &Canonicalizer{db: db}
}

// catalogRow is one resolved element name.
type catalogRow struct {
	schema     string
	name       string
	kindCode   string
	enumValues []string
	attributes []Attribute
	subtype    string
	baseSchema string
	baseName   string
}

// Canonicalize resolves refs in a single catalog query and returns one Type
// per input, in input order. If any element name is unknown to the catalog
// the whole call fails with a type resolution error naming every offender.
//
// Composite attributes are returned unresolved; see ExpandAttributes.
func (c *Canonicalizer) Canonicalize(ctx context.Context, refs []string) ([]Type, error) {
	if len(refs) == 0 {
		return []Type{}, nil
	}

	parsed := make([]Reference, len(refs))
	var names []string
	seen := make(map[string]bool, len(refs))
	var empty []string
	for i, s := range refs {
		parsed[i] = ParseReference(s)
		el := parsed[i].Element
		if el == "" {
			empty = append(empty, s)
			continue
		}
		if !seen[el] {
			seen[el] = true
			names = append(names, el)
		}
	}
	if len(empty) > 0 {
		return nil, unresolvedError(empty)
	}

	rows, err := c.fetch(ctx, names)
	if err != nil {
		return nil, err
	}

	var unresolved []string
	for _, p := range parsed {
		if _, ok := rows[p.Element]; !ok {
			unresolved = append(unresolved, p.Original)
		}
	}
	if len(unresolved) > 0 {
		return nil, unresolvedError(unresolved)
	}

	out := make([]Type, len(parsed))
	for i, p := range parsed {
		out[i] = build(p, rows[p.Element])
	}
	return out, nil
}

// ExpandAttributes canonicalizes the attribute references of one composite.
// Callers expand nested composites one level per call.
func (c *Canonicalizer) ExpandAttributes(ctx context.Context, comp *Composite) ([]Type, error) {
	out, err := c.ExpandAll(ctx, []*Composite{comp})
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", comp.CanonicalName, err)
	}
	return out[0], nil
}

// ExpandAll canonicalizes the attribute references of every composite in
// one catalog round trip. out[i][j] is the type of comps[i].Attributes[j].
func (c *Canonicalizer) ExpandAll(ctx context.Context, comps []*Composite) ([][]Type, error) {
	var refs []string
	for _, comp := range comps {
		for _, a := range comp.Attributes {
			refs = append(refs, a.TypeRef)
		}
	}

	types, err := c.Canonicalize(ctx, refs)
	if err != nil {
		return nil, err
	}

	out := make([][]Type, len(comps))
	for i, comp := range comps {
		n := len(comp.Attributes)
		out[i], types = types[:n:n], types[n:]
	}
	return out, nil
}

func (c *Canonicalizer) fetch(ctx context.Context, names []string) (map[string]catalogRow, error) {
	rows, err := c.db.Query(ctx, resolveTypesSQL, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]catalogRow, len(names))
	for rows.Next() {
		var (
			input                         string
			schema, name, kind            *string
			enumValues                    []string
			attrs                         []byte
			subtype, baseSchema, baseName *string
		)
		if err := rows.Scan(&input, &schema, &name, &kind, &enumValues, &attrs, &subtype, &baseSchema, &baseName); err != nil {
			return nil, err
		}
		if name == nil {
			continue
		}

		row := catalogRow{
			schema:     deref(schema),
			name:       *name,
			kindCode:   deref(kind),
			enumValues: enumValues,
			subtype:    deref(subtype),
			baseSchema: deref(baseSchema),
			baseName:   deref(baseName),
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &row.attributes); err != nil {
				return nil, errs.Wrap(errs.ErrKindQueryFailed, "decode composite attributes of "+input, err)
			}
		}
		out[input] = row
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func build(p Reference, row catalogRow) Type {
	common := Common{
		CanonicalName: row.schema + "." + row.name,
		Schema:        row.schema,
		Name:          row.name,
		Dimensions:    p.Dimensions,
		OriginalType:  p.Original,
		Modifiers:     p.Modifiers,
	}

	switch kindFromCode(row.kindCode) {
	case KindBase:
		return &Base{common}
	case KindPseudo:
		return &Pseudo{common}
	case KindComposite:
		return &Composite{Common: common, Attributes: row.attributes}
	case KindEnum:
		return &Enum{Common: common, Values: row.enumValues}
	case KindRange:
		return &Range{Common: common, Subtype: row.subtype}
	case KindDomain:
		return &Domain{Common: common, BaseType: QualifiedName{
			CanonicalName: row.baseSchema + "." + row.baseName,
			Schema:        row.baseSchema,
			Name:          row.baseName,
		}}
	default:
		return &Unknown{common}
	}
}

func unresolvedError(refs []string) error {
	quoted := make([]string, len(refs))
	for i, r := range refs {
		quoted[i] = fmt.Sprintf("%q", r)
	}
	return errs.Newf(errs.ErrKindTypeResolution, "unknown type reference(s): %s", strings.Join(quoted, ", "))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
