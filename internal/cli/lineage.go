package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/viewdef"
)

func newLineageCmd(_ *app) *cobra.Command {
	var (
		defaultSchema string
		format        string
	)

	cmd := &cobra.Command{
		Use:   "lineage [sql]",
		Short: "Show where each column of a view definition comes from",
		Long: `Lineage parses a SELECT statement and prints, for each output column, the
schema, table and column it is selected from. Columns computed by expressions
have no source. The statement is read from stdin when no argument is given.

No database connection is needed, so * over a table cannot be expanded and
is rejected. List the columns explicitly.`,
		Example: `  pgextract lineage "SELECT u.id, u.name FROM users u"
  pg_dump --schema-only shop | grep -A20 'CREATE VIEW' | pgextract lineage --schema sales`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			sql, err := readSQL(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			refs, err := viewdef.ExtractWith(sql, viewdef.Options{
				DefaultSchema:       defaultSchema,
				RequireExpandedStar: true,
			})
			if err != nil {
				return err
			}

			if format == formatText {
				for _, ref := range refs {
					fmt.Fprintln(cmd.OutOrStdout(), ref.String())
				}
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), refs)
		},
	}

	cmd.Flags().StringVar(&defaultSchema, "schema", "public", "Schema of unqualified relations")
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format (text|json)")
	return cmd
}

func readSQL(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, "read statement from stdin", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "no statement given")
	}
	return sql, nil
}
