package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/koustreak/pgextract/internal/canonical"
	"github.com/koustreak/pgextract/internal/extract"
)

func newTypesCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "types [type...]",
		Short: "Canonicalize type references",
		Long: `Types resolves each type reference against the catalog and prints its
canonical form. Without arguments it lists every builtin pg_catalog type.`,
		Example: `  pgextract types integer 'character varying(255)' 'public.mood[]'
  pgextract types --output text`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			db, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			ex := extract.New(db, a.log)
			var types []canonical.Type
			if len(args) == 0 {
				types, err = ex.BuiltinTypes(cmd.Context())
			} else {
				types, err = ex.Canonicalizer().Canonicalize(cmd.Context(), args)
			}
			if err != nil {
				return err
			}

			if format == formatText {
				return typesText(cmd.OutOrStdout(), types)
			}
			return writeJSON(cmd.OutOrStdout(), types)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatJSON, "Output format (json|text)")
	return cmd
}

func typesText(w io.Writer, types []canonical.Type) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REFERENCE\tCANONICAL\tKIND\tDIMENSIONS")
	for _, t := range types {
		info := t.Info()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", info.OriginalType, info.CanonicalName, t.Kind(), info.Dimensions)
	}
	return tw.Flush()
}
