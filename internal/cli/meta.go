package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/keepstack/keeper/pkg/keeper"
)

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Work with meta-docs (derived tag-query views)",
}

var metaResolveCmd = &cobra.Command{
	Use:   "resolve <anchor-id>",
	Short: "Resolve all registered meta-docs against an anchor document",
	Args:  cobra.ExactArgs(1),
	RunE:  runMetaResolve,
}

var metaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered meta-docs",
	Args:  cobra.NoArgs,
	RunE:  runMetaList,
}

var metaRegisterCmd = &cobra.Command{
	Use:   "register <definition.json>",
	Short: "Register a meta-doc from a JSON definition file",
	Args:  cobra.ExactArgs(1),
	RunE:  runMetaRegister,
}

func init() {
	metaCmd.AddCommand(metaResolveCmd)
	metaCmd.AddCommand(metaListCmd)
	metaCmd.AddCommand(metaRegisterCmd)
	rootCmd.AddCommand(metaCmd)
}

func runMetaResolve(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	resolved, err := a.keeper.ResolveMeta(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(resolved)
}

func runMetaList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	metaDocs, err := a.keeper.ListMetaDocs(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(metaDocs)
}

func runMetaRegister(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var md keeper.MetaDoc
	if err := json.Unmarshal(data, &md); err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.keeper.RegisterMetaDoc(cmd.Context(), md); err != nil {
		return err
	}
	return printJSON(md)
}
