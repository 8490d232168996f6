package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/eunmann/chunkagg/pkg/aggregate"
	"github.com/eunmann/chunkagg/pkg/chunkstore"
	"github.com/spf13/cobra"
)

func (a *app) pageCommand() *cobra.Command {
	var (
		page, pageSize int
		sourceID       string
	)
	cmd := &cobra.Command{
		Use:   "page <dataset>",
		Short: "Print one page of rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []chunkstore.Option
			if sourceID != "" {
				opts = append(opts, chunkstore.WithSource(sourceID, ""))
			}
			p, err := a.store.GetPage(cmd.Context(), args[0], page, pageSize, opts...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "zero-based page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "rows per page")
	cmd.Flags().StringVar(&sourceID, "source", "", "read a sub-source")
	return cmd
}

func (a *app) aggregateCommand() *cobra.Command {
	var (
		cfg     aggregate.Config
		measure string
		filters []string
		others  int
		percent bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "aggregate <dataset>",
		Short: "Group rows by a column and compute count, sum or avg",
		Long: `Group rows by --dimension and compute a measure per group.
Results are sorted by value, largest first, and cached until the dataset
is written again.`,
		Example: "  chunkagg aggregate sales --dimension region --measure sum --measure-col amount --filter promo=true",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if others > 0 && cfg.Limit > 0 {
				return errors.New("--limit and --others cannot be combined: --others needs every group to keep the total")
			}
			cfg.Measure = aggregate.Measure(strings.ToLower(measure))
			fs, err := parseFilters(filters)
			if err != nil {
				return err
			}
			cfg.Filters = fs

			res, err := a.engine.Aggregate(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			if others > 0 {
				res = aggregate.CollapseOthers(res, others)
			}
			if percent {
				res = aggregate.NormalizePercent(res)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return writeResult(cmd, res)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&cfg.Dimension, "dimension", "", "column to group by")
	fl.StringVar(&measure, "measure", string(aggregate.Count), "count, sum or avg")
	fl.StringVar(&cfg.MeasureColumn, "measure-col", "", "column summed or averaged")
	fl.StringVar(&cfg.Stack, "stack", "", "column to split each group by")
	fl.IntVar(&cfg.Limit, "limit", 0, "keep the first N groups (0 keeps all)")
	fl.StringVar(&cfg.SourceID, "source", "", "aggregate a sub-source")
	fl.StringArrayVar(&filters, "filter", nil, "column=value filter, repeatable")
	fl.IntVar(&others, "others", 0, "fold groups past the first N into \""+aggregate.Others+"\"")
	fl.BoolVar(&percent, "percent", false, "report values as percentages")
	fl.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) uniqueCommand() *cobra.Command {
	var (
		limit    int
		sourceID string
	)
	cmd := &cobra.Command{
		Use:   "unique <dataset> <column>",
		Short: "List distinct values of a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := a.engine.UniqueValues(cmd.Context(), args[0], args[1], limit, aggregate.InSource(sourceID))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, v := range vals {
				fmt.Fprintln(out, v)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", aggregate.DefaultUniqueLimit, "maximum values returned")
	cmd.Flags().StringVar(&sourceID, "source", "", "read a sub-source")
	return cmd
}

func (a *app) filterCommand() *cobra.Command {
	var (
		filters  []string
		limit    int
		sourceID string
	)
	cmd := &cobra.Command{
		Use:   "filter <dataset>",
		Short: "Print rows matching every --filter as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := parseFilters(filters)
			if err != nil {
				return err
			}
			rows, err := a.engine.FilteredData(cmd.Context(), args[0], fs, limit, aggregate.InSource(sourceID))
			if err != nil {
				return err
			}
			return writeJSONLines(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "column=value filter, repeatable")
	cmd.Flags().IntVar(&limit, "limit", aggregate.DefaultFilteredLimit, "maximum rows returned")
	cmd.Flags().StringVar(&sourceID, "source", "", "read a sub-source")
	return cmd
}

// parseFilters parses column=value pairs. The value may be empty or
// contain '='.
func parseFilters(specs []string) ([]aggregate.Filter, error) {
	out := make([]aggregate.Filter, 0, len(specs))
	for _, s := range specs {
		col, val, ok := strings.Cut(s, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid --filter %q: want column=value", s)
		}
		out = append(out, aggregate.Filter{Column: col, Value: val})
	}
	return out, nil
}

func writeResult(cmd *cobra.Command, res *aggregate.Result) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%s\t%s\n", e.Key, formatFloat(e.Value))
		for _, s := range e.Stacks {
			fmt.Fprintf(tw, "  %s\t%s\n", s.Key, formatFloat(s.Value))
		}
	}
	return tw.Flush()
}
