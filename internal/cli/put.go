package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepstack/keeper/pkg/keeper"
)

var (
	putContent string
	putURI     string
	putTags    []string
	putAnalyze bool
)

var putCmd = &cobra.Command{
	Use:   "put [id]",
	Short: "Store or update a document",
	Long: `Store or update a document from inline content or a URI.
Unchanged content merges tags without re-embedding; unchanged files are
skipped without being read at all.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPut,
}

func init() {
	putCmd.Flags().StringVar(&putContent, "content", "", "inline document content")
	putCmd.Flags().StringVar(&putURI, "uri", "", "document source URI (file://...)")
	putCmd.Flags().StringArrayVar(&putTags, "tag", nil, "tag as key=value (repeatable)")
	putCmd.Flags().BoolVar(&putAnalyze, "analyze", false, "analyze the document after storing")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	tags, err := parseTags(putTags)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	req := keeper.PutRequest{Content: putContent, URI: putURI, Tags: tags}
	if len(args) == 1 {
		req.ID = args[0]
	}

	item, err := a.keeper.Put(cmd.Context(), req)
	if err != nil && !errors.Is(err, keeper.ErrNotIndexed) {
		return err
	}
	if errors.Is(err, keeper.ErrNotIndexed) {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: stored but not semantically indexed")
	}

	if putAnalyze && item.Changed {
		if _, err := a.keeper.Analyze(cmd.Context(), item.ID, false); err != nil {
			return err
		}
	}

	return printJSON(item)
}
