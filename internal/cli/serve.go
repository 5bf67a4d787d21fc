package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keepstack/keeper/pkg/keeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background service",
	Long: `Run the directory watcher and maintenance janitor until interrupted.
Watched files are mirrored into the store and changed content is analyzed
in the background.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	zlog := a.log.GetZerolog()

	var watcher *keeper.Watcher
	if a.cfg.Watch.Enabled {
		watcher, err = keeper.NewWatcher(a.keeper, keeper.WatcherConfig{
			Root:               a.cfg.Watch.Path,
			StabilityThreshold: time.Duration(a.cfg.Watch.StabilityMs) * time.Millisecond,
			Queue:              a.queue,
			Logger:             zlog,
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
	}

	var janitor *keeper.Janitor
	if a.cfg.Janitor.Enabled {
		janitor, err = keeper.NewJanitor(a.keeper, a.queue, keeper.JanitorConfig{
			Schedule:     a.cfg.Janitor.Schedule,
			KeepVersions: a.cfg.Janitor.KeepVersions,
			Logger:       zlog,
		})
		if err != nil {
			return err
		}
		janitor.Start()
		defer janitor.Stop()
	}

	if watcher == nil && janitor == nil {
		return fmt.Errorf("nothing to serve: enable watch or janitor in the config")
	}

	fmt.Println("keeper serving, press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down")
	return nil
}
