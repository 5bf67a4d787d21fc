package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

var analyzeForce bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Decompose a document into parts",
	Long: `Decompose a document into ordered, individually retrievable parts.
Analysis is skipped when the content has not changed since the last run
unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var partsCmd = &cobra.Command{
	Use:   "parts <id> [num]",
	Short: "List a document's parts, or show one part",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runParts,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "re-analyze even if content is unchanged")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(partsCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	parts, err := a.keeper.Analyze(cmd.Context(), args[0], analyzeForce)
	if err != nil {
		return err
	}
	return printJSON(parts)
}

func runParts(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 2 {
		num, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		item, err := a.keeper.GetPart(cmd.Context(), args[0], num)
		if err != nil {
			return err
		}
		return printJSON(item)
	}

	items, err := a.keeper.ListParts(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(items)
}
