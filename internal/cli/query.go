package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nikiz24/stattree"
)

var queryCmd = &cobra.Command{
	Use:   "query QUERY",
	Short: "Filter a snapshot down to the entries matching a query",
	Long: `Query keeps the entries of a snapshot named by the queried key, searching
every subtree. A query is a key alone ("errors") or a comparison such as
"count>5", "name=web1" or "up==true"; entries whose value fails the
comparison are dropped.`,
	Example: `  statagg query --file /var/stats/web1.json 'count>100' --pretty`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		pretty, _ := cmd.Flags().GetBool("pretty")

		f, err := fs.Open(file)
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()

		t, err := stattree.ParseJSON(f)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		filtered, err := stattree.Filter(t, args[0])
		if err != nil {
			return err
		}
		return writeTree(cmd, filtered, pretty)
	},
}

func init() {
	queryCmd.Flags().StringP("file", "f", "", "JSON snapshot to query")
	_ = queryCmd.MarkFlagRequired("file")
}
