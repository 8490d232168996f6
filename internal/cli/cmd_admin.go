package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/eunmann/chunkagg/pkg/humanfmt"
	"github.com/spf13/cobra"
)

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <dataset>",
		Short: "Print dataset metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := a.store.GetProjectMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), md)
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mds, err := a.store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROWS\tCHUNKS\tSOURCES\tUPDATED")
			for _, md := range mds {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					md.ID, md.Name, humanfmt.Count(int64(md.RowCount)), md.ChunkCount,
					len(md.Sources), md.UpdatedAt.Format(timeLayout))
			}
			return tw.Flush()
		},
	}
}

func (a *app) deleteCommand() *cobra.Command {
	var sourceID string
	cmd := &cobra.Command{
		Use:   "delete <dataset>",
		Short: "Delete a dataset, or only one of its sub-sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if sourceID != "" {
				n, err := a.store.DeleteAll(cmd.Context(), args[0], sourceID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted %d chunks of source %s\n", n, sourceID)
				return nil
			}
			if err := a.store.DeleteDataset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted dataset %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "delete only this sub-source")
	return cmd
}

func (a *app) purgeCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-cache",
		Short: "Remove expired cached query results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.store.Cache().PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", n)
			return nil
		},
	}
}
