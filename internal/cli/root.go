package cli

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nikiz24/stattree"
)

var version = "0.1.0"

// fs is the filesystem the commands read from.
var fs = afero.NewOsFs()

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "statagg",
	Short:   "Inspect and merge dumped stat snapshots",
	Version: version,
	Long: `statagg works with the JSON snapshots processes dump of their stat trees.
It can merge a directory of snapshots from many processes into one tree
following a YAML aggregation spec, or filter a single snapshot.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

// newLogger returns a development logger on stderr when verbose is set.
func newLogger(cmd *cobra.Command) *zap.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// writeTree prints t as JSON followed by a newline.
func writeTree(cmd *cobra.Command, t *stattree.Tree, pretty bool) error {
	out := cmd.OutOrStdout()
	if err := stattree.WriteJSON(out, t, pretty); err != nil {
		return err
	}
	if !pretty {
		_, err := fmt.Fprintln(out)
		return err
	}
	return nil
}

func init() {
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log skipped files and other details to stderr")
	RootCmd.PersistentFlags().Bool("pretty", false, "Indent the JSON output")

	RootCmd.AddCommand(aggregateCmd)
	RootCmd.AddCommand(queryCmd)
}
