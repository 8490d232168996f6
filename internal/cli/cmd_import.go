package cli

import (
	"fmt"

	"github.com/eunmann/chunkagg/pkg/benchutil"
	"github.com/eunmann/chunkagg/pkg/ingest"
	"github.com/spf13/cobra"
)

type importFlags struct {
	sourceID   string
	sourceName string
	name       string
	batchSize  int
	appendRows bool
}

func (f *importFlags) register(cmd *cobra.Command, appendCmd bool) {
	cmd.Flags().StringVar(&f.sourceID, "source", "", "write to this sub-source instead of the primary rows")
	cmd.Flags().StringVar(&f.sourceName, "source-name", "", "display name of the sub-source")
	cmd.Flags().StringVar(&f.name, "name", "", "dataset display name")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "rows buffered per write (default: ten chunks)")
	if !appendCmd {
		cmd.Flags().BoolVar(&f.appendRows, "append", false, "append to the dataset instead of replacing it")
	}
}

func (f *importFlags) config(appendCmd bool) ingest.ImportConfig {
	return ingest.ImportConfig{
		BatchSize:  f.batchSize,
		Append:     appendCmd || f.appendRows,
		Name:       f.name,
		SourceID:   f.sourceID,
		SourceName: f.sourceName,
	}
}

// importCommand builds "import" or, with appendCmd, "append".
func (a *app) importCommand(appendCmd bool) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import <dataset> <path>",
		Short: "Load a CSV or Parquet file into a dataset",
		Long: `Load a CSV (optionally gzipped) or Parquet file into a dataset.
The path may be local or an s3://bucket/key URI. An empty dataset id ("-")
generates a new one. Without --append the dataset's rows are replaced.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := ingest.Open(ctx, args[1], a.cfg.S3())
			if err != nil {
				return err
			}
			defer r.Close()
			return a.runImport(cmd, datasetArg(args[0]), r, f.config(appendCmd))
		},
	}
	if appendCmd {
		cmd.Use = "append <dataset> <path>"
		cmd.Short = "Append a CSV or Parquet file to a dataset"
		cmd.Long = ""
	}
	f.register(cmd, appendCmd)
	return cmd
}

func (a *app) genCommand() *cobra.Command {
	var (
		f     importFlags
		rows  int
		shape string
		seed  int64
	)
	cmd := &cobra.Command{
		Use:   "gen <dataset>",
		Short: "Generate a synthetic sales dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rows < 0 {
				return fmt.Errorf("--rows must be non-negative, got %d", rows)
			}
			gcfg := benchutil.ConfigForShape(shape, rows)
			if seed != 0 {
				gcfg.Seed = seed
			}
			r := ingest.NewSliceReader(benchutil.NewGenerator(gcfg).Generate())
			return a.runImport(cmd, datasetArg(args[0]), r, f.config(false))
		},
	}
	f.register(cmd, false)
	cmd.Flags().IntVar(&rows, "rows", 10000, "number of rows")
	cmd.Flags().StringVar(&shape, "shape", "uniform", "data shape: uniform, skewed, high_cardinality or sparse")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (default: fixed benchmark seed)")
	return cmd
}

func (a *app) runImport(cmd *cobra.Command, datasetID string, r ingest.Reader, cfg ingest.ImportConfig) error {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = a.cfg.Import.BatchSize
	}
	res, err := ingest.Import(cmd.Context(), a.store, datasetID, r, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d rows\t%d batches\t%s\n",
		res.DatasetID, res.Rows, res.Batches, res.Elapsed.Round(timeRounding))
	return nil
}

// datasetArg maps "-" to an empty id, which Import replaces with a new one.
func datasetArg(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
