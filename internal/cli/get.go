package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Retrieve a document by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document, its parts, and its versions",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count documents in the collection",
	Args:  cobra.NoArgs,
	RunE:  runCount,
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(countCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.keeper.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(item)
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.keeper.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !removed {
		fmt.Println("nothing to delete")
		return nil
	}
	fmt.Println("deleted")
	return nil
}

func runCount(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.keeper.Count(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}
