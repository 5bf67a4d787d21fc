package cli

import (
	"github.com/spf13/cobra"
)

var findLimit int

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Search documents by meaning",
	Args:  cobra.ExactArgs(1),
	RunE:  runFind,
}

func init() {
	findCmd.Flags().IntVar(&findLimit, "limit", 10, "maximum number of results")
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.keeper.Find(cmd.Context(), args[0], findLimit)
	if err != nil {
		return err
	}
	return printJSON(items)
}
