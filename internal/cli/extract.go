package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koustreak/pgextract/internal/database/postgres"
	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/extract"
	"github.com/koustreak/pgextract/internal/schema"
)

// ExtractOptions holds options for the extract command.
type ExtractOptions struct {
	Schemas      []string
	Kinds        []string
	ResolveViews bool
	Concurrency  int
	Save         bool
	Out          string
	Progress     bool
}

func newExtractCmd(a *app) *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract schema metadata as JSON",
		Long: `Extract reads every requested schema and writes the result as JSON.

Without --schema every non-system schema is extracted. With --save the result
is also uploaded as a snapshot to the configured export bucket.`,
		Example: `  # Extract everything in the database
  pgextract extract --dsn postgres://localhost/shop

  # Extract two schemas, tables and views only, into a file
  pgextract extract -s public -s sales --kind table,view -o catalog.json

  # Resolve view column metadata and keep a snapshot
  pgextract extract --resolve-views --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runExtract(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Schemas, "schema", "s", nil, "Schema to extract (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "Object kinds to extract (default all)")
	cmd.Flags().BoolVar(&opts.ResolveViews, "resolve-views", false, "Copy key and nullability metadata onto view columns")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "Objects inspected at once")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Upload the result as a snapshot")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&opts.Progress, "progress", false, "Report progress on stderr")

	_ = cmd.RegisterFlagCompletionFunc("kind", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		kinds := make([]string, len(schema.AllKinds))
		for i, k := range schema.AllKinds {
			kinds[i] = string(k)
		}
		return kinds, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func (a *app) runExtract(cmd *cobra.Command, opts *ExtractOptions) error {
	ctx := cmd.Context()
	ex := &a.cfg.Extract

	if len(opts.Schemas) > 0 {
		ex.Schemas = opts.Schemas
	}
	if len(opts.Kinds) > 0 {
		ex.Kinds = make([]schema.Kind, len(opts.Kinds))
		for i, k := range opts.Kinds {
			ex.Kinds[i] = schema.Kind(k)
		}
	}
	if cmd.Flags().Changed("resolve-views") {
		ex.ResolveViews = opts.ResolveViews
	}
	if opts.Concurrency > 0 {
		ex.Concurrency = opts.Concurrency
	}
	if opts.Save && !a.cfg.Export.Enabled() {
		return errs.New(errs.ErrKindInvalidInput, "--save needs an export endpoint (export.endpoint or PGEXTRACT_MINIO_ENDPOINT)")
	}

	db, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if opts.Progress {
		stderr := cmd.ErrOrStderr()
		var total, done int
		ex.OnProgressStart = func(n int) { total = n }
		ex.OnProgress = func() {
			done++
			fmt.Fprintf(stderr, "\rinspected %d/%d objects", done, total)
		}
		ex.OnProgressEnd = func() { fmt.Fprintln(stderr) }
	}

	res, err := extract.New(db, a.log).Extract(ctx, *ex)
	if err != nil {
		return err
	}

	if opts.Save {
		if err := a.saveSnapshot(cmd, res); err != nil {
			return err
		}
	}

	w, closeOut, err := openOutput(cmd.OutOrStdout(), opts.Out)
	if err != nil {
		return err
	}
	if err := writeJSON(w, res); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func (a *app) saveSnapshot(cmd *cobra.Command, res *extract.Result) error {
	ctx := cmd.Context()

	database, err := postgres.DatabaseName(a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	snaps, closeStore, err := a.snapshots(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := snaps.Save(ctx, database, res.RunID, res.StartedAt, res)
	if err != nil {
		return err
	}
	a.log.InfoWith("snapshot saved", map[string]any{
		"key":    snap.Key,
		"run_id": snap.RunID,
		"size":   snap.Size,
	})
	return nil
}
