package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koustreak/pgextract/internal/database/postgres"
	"github.com/koustreak/pgextract/internal/errs"
	"github.com/koustreak/pgextract/internal/filestore"
)

func newSnapshotsCmd(a *app) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List and fetch saved extraction snapshots",
	}
	cmd.PersistentFlags().StringVar(&database, "database", "", "Database whose snapshots to use (default from the DSN)")

	cmd.AddCommand(newSnapshotsListCmd(a, &database))
	cmd.AddCommand(newSnapshotsShowCmd(a, &database))
	return cmd
}

func newSnapshotsListCmd(a *app, database *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			snaps, closeStore, err := a.openSnapshots(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			list, err := snaps.List(cmd.Context(), a.snapshotDatabase(*database))
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			return snapshotsText(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format (text|json)")
	return cmd
}

func newSnapshotsShowCmd(a *app, database *string) *cobra.Command {
	var (
		url bool
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "show <key|latest>",
		Short: "Print a snapshot, or a download URL for it",
		Example: `  pgextract snapshots show latest
  pgextract snapshots show snapshots/shop/20260101T120000Z-0b7c....json --url`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			snaps, closeStore, err := a.openSnapshots(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			key := args[0]
			if key == "latest" {
				db := a.snapshotDatabase(*database)
				if db == "" {
					return errs.New(errs.ErrKindInvalidInput, "latest needs --database or a DSN")
				}
				snap, err := snaps.Latest(ctx, db)
				if err != nil {
					return err
				}
				key = snap.Key
			}

			if url {
				if ttl <= 0 {
					ttl = a.cfg.Export.PresignTTL
				}
				u, err := snaps.URL(ctx, key, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			}

			obj, err := snaps.Open(ctx, key)
			if err != nil {
				return err
			}
			defer obj.Close()
			if _, err := io.Copy(cmd.OutOrStdout(), obj); err != nil {
				return errs.Wrap(errs.ErrKindConnectionFailed, "read snapshot "+key, err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&url, "url", false, "Print a presigned download URL instead of the content")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Lifetime of the presigned URL (default export.presign_ttl)")
	return cmd
}

func (a *app) openSnapshots(cmd *cobra.Command) (*filestore.Snapshots, func(), error) {
	if !a.cfg.Export.Enabled() {
		return nil, nil, errs.New(errs.ErrKindInvalidInput, "snapshot export is not configured (export.endpoint or PGEXTRACT_MINIO_ENDPOINT)")
	}
	return a.snapshots(cmd.Context())
}

// snapshotDatabase prefers the flag, then the DSN's database. An empty
// result lists every database.
func (a *app) snapshotDatabase(flag string) string {
	if flag != "" {
		return flag
	}
	if a.cfg.Database.DSN == "" {
		return ""
	}
	name, err := postgres.DatabaseName(a.cfg.Database.DSN)
	if err != nil {
		a.log.WarnWith("cannot derive database from DSN", err, nil)
		return ""
	}
	return name
}

func snapshotsText(w io.Writer, snaps []filestore.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAKEN AT\tDATABASE\tRUN ID\tSIZE\tKEY")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.TakenAt.Format(time.RFC3339), s.Database, s.RunID, s.Size, s.Key)
	}
	return tw.Flush()
}
