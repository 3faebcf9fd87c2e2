package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tagserve/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Recompile tags as their sources change",
	Long: `Compile every tag matching the configured pattern, then recompile
files as they are created or modified and print the outcome. Compile errors
are reported and the previously registered tag is kept.

Examples:
  tagserve watch
  tagserve watch --tags "components/**/*.tag"`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	units, err := a.scan(ctx)
	for _, u := range units {
		fmt.Fprintf(out, "loaded %s (%s)\n", u.Name, u.FilePath)
	}
	if err != nil {
		fmt.Fprintf(out, "error %v\n", err)
	}

	reloader, err := watcher.NewReloader(a.registry, a.cfg.Tags.Pattern, a.logger,
		watcher.WithDebounce(a.cfg.Development.Debounce))
	if err != nil {
		return err
	}
	events := reloader.Subscribe()
	if err := reloader.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer reloader.Stop()

	fmt.Fprintf(out, "Watching %s\n", a.cfg.Tags.Pattern)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(out, e)
		}
	}
}

func printEvent(w io.Writer, e watcher.Event) {
	switch e.Type {
	case watcher.EventLoaded:
		fmt.Fprintf(w, "loaded %s (%s)\n", e.Name, e.Path)
	case watcher.EventError:
		fmt.Fprintf(w, "error %s: %v\n", e.Path, e.Err)
	}
}
