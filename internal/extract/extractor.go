// Package extract runs a full catalog extraction: discovery, concurrent
// per-object inspection, batched type canonicalization, view lineage and
// optional cross-schema lineage resolution.
package extract

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/koustreak/pgextract/internal/canonical"
	"github.com/koustreak/pgextract/internal/database"
	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/lineage"
	"github.com/koustreak/pgextract/internal/logger"
	"github.com/koustreak/pgextract/internal/schema"
)

// Extractor reads a database catalog into a schema map.
type Extractor struct {
	db     database.DB
	reader schema.Reader
	canon  *canonical.Canonicalizer
	log    *logger.Logger
}

// New returns an Extractor over db. A nil log discards output.
func New(db database.DB, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{
		db:     db,
		reader: schema.NewPgIntrospector(db),
		canon:  canonical.New(db),
		log:    log,
	}
}

// Canonicalizer exposes the type canonicalizer bound to the same database.
func (e *Extractor) Canonicalizer() *canonical.Canonicalizer { return e.canon }

// inspected is the result of inspecting one object. Exactly one field other
// than ref is set, except for composites, enums and ranges, which are built
// from the canonical batch alone.
type inspected struct {
	ref        schema.ObjectRef
	table      *schema.Table
	view       *schema.View
	matView    *schema.MaterializedView
	foreign    *schema.ForeignTable
	domain     *schema.Domain
	functions  []*schema.Function
	procedures []*schema.Procedure
}

// Extract runs one extraction pass.
func (e *Extractor) Extract(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := e.log.With().Str("run_id", res.RunID).Logger()

	schemas, err := e.targetSchemas(ctx, opts.Schemas)
	if err != nil {
		return nil, err
	}
	log.InfoWith("extraction started", map[string]any{"schemas": schemas})

	refs, err := e.reader.ListObjects(ctx, schemas)
	if err != nil {
		return nil, err
	}
	refs = slices.DeleteFunc(refs, func(r schema.ObjectRef) bool { return !opts.wants(r.Kind) })

	objects, err := e.inspectAll(ctx, refs, opts)
	if err != nil {
		return nil, err
	}

	types, attrs, err := e.canonicalize(ctx, objects)
	if err != nil {
		return nil, err
	}

	out := e.assemble(schemas, objects, types, attrs, log)

	if opts.ResolveViews {
		if out, err = lineage.Resolve(out); err != nil {
			return nil, err
		}
	}

	res.Schemas = out
	res.FinishedAt = time.Now().UTC()
	log.InfoWith("extraction finished", map[string]any{
		"objects":     len(objects),
		"duration_ms": res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	})
	return res, nil
}

// targetSchemas validates the requested schemas against the catalog, or
// returns every non-system schema when none are requested.
func (e *Extractor) targetSchemas(ctx context.Context, requested []string) ([]string, error) {
	all, err := e.reader.ListSchemas(ctx)
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return all, nil
	}

	var missing []string
	for _, s := range requested {
		if !slices.Contains(all, s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "schemas not found: %s", strings.Join(missing, ", "))
	}
	return slices.Compact(slices.Sorted(slices.Values(requested))), nil
}

func (e *Extractor) inspectAll(ctx context.Context, refs []schema.ObjectRef, opts Options) ([]inspected, error) {
	if opts.OnProgressStart != nil {
		opts.OnProgressStart(len(refs))
	}
	if opts.OnProgressEnd != nil {
		defer opts.OnProgressEnd()
	}

	var progressMu sync.Mutex
	objects := make([]inspected, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())
	for i, ref := range refs {
		g.Go(func() error {
			obj, err := e.inspect(gctx, ref)
			if err != nil {
				return err
			}
			objects[i] = obj

			if opts.OnProgress != nil {
				progressMu.Lock()
				opts.OnProgress()
				progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}

func (e *Extractor) inspect(ctx context.Context, ref schema.ObjectRef) (inspected, error) {
	obj := inspected{ref: ref}
	var err error

	switch ref.Kind {
	case schema.KindTable:
		obj.table, err = e.reader.InspectTable(ctx, ref)
	case schema.KindView:
		obj.view, err = e.reader.InspectView(ctx, ref)
	case schema.KindMaterializedView:
		obj.matView, err = e.reader.InspectMaterializedView(ctx, ref)
	case schema.KindForeignTable:
		obj.foreign, err = e.reader.InspectForeignTable(ctx, ref)
	case schema.KindDomain:
		obj.domain, err = e.reader.InspectDomain(ctx, ref)
	case schema.KindFunction:
		obj.functions, err = e.reader.InspectFunctions(ctx, ref)
	case schema.KindProcedure:
		obj.procedures, err = e.reader.InspectProcedures(ctx, ref)
	case schema.KindComposite, schema.KindEnum, schema.KindRange:
	default:
		err = errs.Newf(errs.ErrKindInvalidInput, "unsupported object kind %q for %s", ref.Kind, ref)
	}
	return obj, err
}

// canonicalize resolves every type reference of every object in one batch
// and applies the result in place. Attribute types of the composites found
// are expanded in a second batch, one level deep, keyed by namedRef.
func (e *Extractor) canonicalize(ctx context.Context, objects []inspected) (types *typeBatch, attrs map[string][]canonical.Type, err error) {
	types = newTypeBatch()
	for _, obj := range objects {
		obj.visitTypeRefs(types.add)
	}
	if err := types.resolve(ctx, e.canon); err != nil {
		return nil, nil, fmt.Errorf("canonicalize types: %w", err)
	}

	var (
		comps []*canonical.Composite
		keys  []string
	)
	for i := range objects {
		objects[i].applyTypes(types)
		if c, ok := objects[i].namedType(types).(*canonical.Composite); ok {
			comps = append(comps, c)
			keys = append(keys, objects[i].namedRef())
		}
	}

	expanded, err := e.canon.ExpandAll(ctx, comps)
	if err != nil {
		return nil, nil, fmt.Errorf("canonicalize composite attributes: %w", err)
	}
	attrs = make(map[string][]canonical.Type, len(keys))
	for i, key := range keys {
		attrs[key] = expanded[i]
	}
	return types, attrs, nil
}

const builtinTypesSQL = `
	SELECT quote_ident(n.nspname) || '.' || quote_ident(t.typname)
	FROM pg_catalog.pg_type t
	JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
	WHERE n.nspname = 'pg_catalog'
	  AND t.typtype IN ('b', 'p', 'r', 'm')
	  AND t.typcategory <> 'A'
	  AND t.typrelid = 0
	ORDER BY t.typname`

// BuiltinTypes returns every non-array pg_catalog type, canonicalized.
func (e *Extractor) BuiltinTypes(ctx context.Context) ([]canonical.Type, error) {
	rows, err := e.db.Query(ctx, builtinTypesSQL)
	if err != nil {
		return nil, fmt.Errorf("list builtin types: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan builtin type: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return e.canon.Canonicalize(ctx, refs)
}
