package schema

import (
	"context"
	"fmt"
	"strconv"
)

var parameterModes = map[string]string{
	"i": ModeIn,
	"o": ModeOut,
	"b": ModeInOut,
	"v": ModeVariadic,
	"t": ModeTable,
}

var volatilities = map[string]string{
	"i": "IMMUTABLE",
	"s": "STABLE",
	"v": "VOLATILE",
}

var parallelSafeties = map[string]string{
	"s": "SAFE",
	"r": "RESTRICTED",
	"u": "UNSAFE",
}

const routinesSQL = `
	SELECT pg_get_function_identity_arguments(p.oid),
	       l.lanname,
	       p.prosrc,
	       p.proisstrict,
	       p.prosecdef,
	       p.proleakproof,
	       p.proretset,
	       p.provolatile::text,
	       p.proparallel::text,
	       p.procost::float8,
	       CASE WHEN p.proretset THEN p.prorows::float8 END,
	       obj_description(p.oid, 'pg_proc'),
	       COALESCE(p.proargmodes::text[], '{}'),
	       COALESCE(p.proargnames, '{}'),
	       ARRAY(SELECT format_type(a.typ, NULL)
	               FROM unnest(COALESCE(p.proallargtypes, p.proargtypes::oid[]))
	                    WITH ORDINALITY AS a(typ, ord)
	              ORDER BY a.ord),
	       p.pronargdefaults::int,
	       format_type(p.prorettype, NULL)
	FROM pg_catalog.pg_proc p
	JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
	JOIN pg_catalog.pg_language l  ON l.oid = p.prolang
	WHERE n.nspname = $1 AND p.proname = $2 AND p.prokind = $3
	ORDER BY p.oid`

// routineRow is one pg_proc row before it is split into function or
// procedure shape.
type routineRow struct {
	identityArgs   string
	language       string
	definition     string
	isStrict       bool
	isSecDefiner   bool
	isLeakProof    bool
	returnsSet     bool
	volatility     string
	parallel       string
	cost           float64
	rows           *float64
	comment        *string
	modes          []string
	names          []string
	argTypes       []string
	nDefaults      int32
	returnTypeName string
}

func (p *PgIntrospector) inspectRoutines(ctx context.Context, ref ObjectRef, prokind string) ([]routineRow, error) {
	rows, err := p.db.Query(ctx, routinesSQL, ref.Schema, ref.Name, prokind)
	if err != nil {
		return nil, fmt.Errorf("inspect routine %s: %w", ref, err)
	}
	defer rows.Close()

	var out []routineRow
	for rows.Next() {
		var r routineRow
		if err := rows.Scan(
			&r.identityArgs, &r.language, &r.definition,
			&r.isStrict, &r.isSecDefiner, &r.isLeakProof, &r.returnsSet,
			&r.volatility, &r.parallel, &r.cost, &r.rows, &r.comment,
			&r.modes, &r.names, &r.argTypes, &r.nDefaults, &r.returnTypeName,
		); err != nil {
			return nil, fmt.Errorf("scan routine %s: %w", ref, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// parameters splits the routine's arguments into call parameters and
// RETURNS TABLE columns. Defaults apply to the trailing input parameters.
func (r routineRow) parameters() (params, table []Parameter) {
	params = []Parameter{}

	inputs := 0
	for i := range r.argTypes {
		if mode := r.mode(i); mode == ModeIn || mode == ModeInOut || mode == ModeVariadic {
			inputs++
		}
	}
	firstDefault := inputs - int(r.nDefaults)

	input := 0
	for i, typ := range r.argTypes {
		param := Parameter{
			Name:            r.name(i),
			TypeRef:         typ,
			Mode:            r.mode(i),
			OrdinalPosition: i + 1,
		}
		switch param.Mode {
		case ModeTable:
			table = append(table, param)
			continue
		case ModeIn, ModeInOut, ModeVariadic:
			param.HasDefault = input >= firstDefault
			input++
		}
		params = append(params, param)
	}
	return params, table
}

func (r routineRow) mode(i int) string {
	if i < len(r.modes) {
		if m, ok := parameterModes[r.modes[i]]; ok {
			return m
		}
	}
	return ModeIn
}

func (r routineRow) name(i int) string {
	if i < len(r.names) && r.names[i] != "" {
		return r.names[i]
	}
	return "$" + strconv.Itoa(i+1)
}

// InspectFunctions returns every overload of a function. Parameter and
// return types are raw references.
func (p *PgIntrospector) InspectFunctions(ctx context.Context, ref ObjectRef) ([]*Function, error) {
	rows, err := p.inspectRoutines(ctx, ref, "f")
	if err != nil {
		return nil, err
	}

	fns := make([]*Function, 0, len(rows))
	for _, r := range rows {
		params, table := r.parameters()
		fns = append(fns, &Function{
			Schema:            ref.Schema,
			Name:              ref.Name,
			Comment:           r.comment,
			IdentityArguments: r.identityArgs,
			Parameters:        params,
			ReturnTypeRef:     r.returnTypeName,
			ReturnsTable:      table,
			Language:          r.language,
			Definition:        r.definition,
			IsStrict:          r.isStrict,
			IsSecurityDefiner: r.isSecDefiner,
			IsLeakProof:       r.isLeakProof,
			ReturnsSet:        r.returnsSet,
			Volatility:        volatilities[r.volatility],
			ParallelSafety:    parallelSafeties[r.parallel],
			EstimatedCost:     r.cost,
			EstimatedRows:     r.rows,
		})
	}
	return fns, nil
}

// InspectProcedures returns every overload of a procedure.
func (p *PgIntrospector) InspectProcedures(ctx context.Context, ref ObjectRef) ([]*Procedure, error) {
	rows, err := p.inspectRoutines(ctx, ref, "p")
	if err != nil {
		return nil, err
	}

	procs := make([]*Procedure, 0, len(rows))
	for _, r := range rows {
		params, _ := r.parameters()
		procs = append(procs, &Procedure{
			Schema:            ref.Schema,
			Name:              ref.Name,
			Comment:           r.comment,
			IdentityArguments: r.identityArgs,
			Parameters:        params,
			Language:          r.language,
			Definition:        r.definition,
			IsSecurityDefiner: r.isSecDefiner,
			IsLeakProof:       r.isLeakProof,
			ParallelSafety:    parallelSafeties[r.parallel],
			EstimatedCost:     r.cost,
		})
	}
	return procs, nil
}
