// Package schema models the objects extracted from a PostgreSQL catalog and
// reads them through PgIntrospector.
package schema

import "context"

// Reader is the interface for introspecting catalog objects one at a time.
// Column and parameter types are returned as raw references; resolving
// them to canonical types is the caller's job so it can be batched.
type Reader interface {
	// ListSchemas returns all non-system schema names.
	ListSchemas(ctx context.Context) ([]string, error)

	// ListObjects returns every extractable object in the given schemas.
	ListObjects(ctx context.Context, schemas []string) ([]ObjectRef, error)

	InspectTable(ctx context.Context, ref ObjectRef) (*Table, error)
	InspectView(ctx context.Context, ref ObjectRef) (*View, error)
	InspectMaterializedView(ctx context.Context, ref ObjectRef) (*MaterializedView, error)
	InspectForeignTable(ctx context.Context, ref ObjectRef) (*ForeignTable, error)
	InspectDomain(ctx context.Context, ref ObjectRef) (*Domain, error)

	// InspectFunctions returns every overload of the named function.
	InspectFunctions(ctx context.Context, ref ObjectRef) ([]*Function, error)

	// InspectProcedures returns every overload of the named procedure.
	InspectProcedures(ctx context.Context, ref ObjectRef) ([]*Procedure, error)
}

var _ Reader = (*PgIntrospector)(nil)
