package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nikiz24/stattree/aggregation"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Merge a directory of snapshots following an aggregation spec",
	Example: `  statagg aggregate --spec spec.yaml --dir /var/stats
  statagg aggregate --spec spec.yaml --dir /var/stats --ignore '*.tmp' --max-age 10m --pretty`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		specFile, _ := cmd.Flags().GetString("spec")
		dir, _ := cmd.Flags().GetString("dir")
		ignore, _ := cmd.Flags().GetString("ignore")
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		pretty, _ := cmd.Flags().GetBool("pretty")

		raw, err := afero.ReadFile(fs, specFile)
		if err != nil {
			return fmt.Errorf("read spec: %w", err)
		}
		spec, err := aggregation.ParseSpec(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", specFile, err)
		}

		agg := aggregation.New(spec, aggregation.WithLogger(newLogger(cmd)))
		if err := agg.AddJSONDirectory(fs, dir, aggregation.InclusionTest{
			IgnorePattern: ignore,
			MaxAge:        maxAge,
		}); err != nil {
			return err
		}
		return writeTree(cmd, agg.Result(), pretty)
	},
}

func init() {
	aggregateCmd.Flags().String("spec", "", "YAML aggregation spec")
	aggregateCmd.Flags().String("dir", "", "Directory of JSON snapshots")
	aggregateCmd.Flags().String("ignore", "", "Glob of file names to skip")
	aggregateCmd.Flags().Duration("max-age", 0, "Skip snapshots older than this (0 keeps all)")
	_ = aggregateCmd.MarkFlagRequired("spec")
	_ = aggregateCmd.MarkFlagRequired("dir")
}
