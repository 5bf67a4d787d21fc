package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepstack/keeper/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if collection != "" {
		cfg.Store.Collection = collection
	}

	fmt.Printf("config:      %s\n", loader.GetConfigPath())
	fmt.Printf("collection:  %s\n", cfg.Store.Collection)
	fmt.Printf("documents:   %s\n", cfg.Store.DocumentPath)
	fmt.Printf("vectors:     %s\n", cfg.Store.VectorPath)
	fmt.Printf("embedding:   %s/%s\n", cfg.AI.Embedding.Provider, cfg.AI.Embedding.Model)
	if cfg.AI.LLM.Provider != "" {
		fmt.Printf("llm:         %s/%s\n", cfg.AI.LLM.Provider, cfg.AI.LLM.Model)
	}
	if cfg.Watch.Enabled {
		fmt.Printf("watch:       %s\n", cfg.Watch.Path)
	}
	if cfg.Janitor.Enabled {
		fmt.Printf("janitor:     %s\n", cfg.Janitor.Schedule)
	}
	return nil
}
