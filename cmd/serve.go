package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tagserve/internal/livereload"
	"github.com/conneroisu/tagserve/internal/server"
	"github.com/conneroisu/tagserve/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Compile all tags and start the HTTP server",
	Long: `Compile every tag matching the configured pattern, then serve the
routes of the route manifest. Any tag that fails to compile aborts startup.

With development.hot_reload enabled, changed tag files are recompiled in
place. With development.live_reload enabled, open pages reload when a tag
recompiles.

Examples:
  tagserve serve
  tagserve serve --port 3000 --no-live-reload
  TAGSERVE_SERVER_RENDER_TIMEOUT=2s tagserve serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("routes", "routes.yml", "Route manifest file")
	serveCmd.Flags().Bool("no-hot-reload", false, "Disable recompiling changed tags")
	serveCmd.Flags().Bool("no-live-reload", false, "Disable browser live reload")

	bindFlags(serveCmd.Flags(), map[string]string{
		"port":   "server.port",
		"host":   "server.host",
		"routes": "routes.file",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	cfg := a.cfg
	if noHot, _ := cmd.Flags().GetBool("no-hot-reload"); noHot {
		cfg.Development.HotReload = false
	}
	if noLive, _ := cmd.Flags().GetBool("no-live-reload"); noLive {
		cfg.Development.LiveReload = false
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	units, err := a.scan(ctx)
	if err != nil {
		return fmt.Errorf("loading tags: %w", err)
	}

	m, err := a.manifest(ctx)
	if err != nil {
		return err
	}

	header := cfg.Assets.HeaderMarkup
	opts := server.Options{
		Addr:      cfg.Server.Addr(),
		Fs:        a.fs,
		StaticDir: cfg.Assets.StaticDir,
		Manifest:  m,
		Logger:    a.logger,
	}

	hub, stopReload, err := startReload(ctx, a)
	if err != nil {
		return err
	}
	defer stopReload()
	if hub != nil {
		opts.LiveReload = hub
		header += livereload.Script(livereload.DefaultPath)
	}

	srv := server.New(a.pipeline(m.Reducer(), header), a.registry, opts)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(shutdownCtx, err, "Error during server shutdown")
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d tags and %d routes at http://%s\n",
		len(units), len(m.Routes), cfg.Server.Addr())

	return srv.Start(ctx)
}

// startReload starts hot and live reload as configured. The hub is nil when
// live reload is off. With hot reload off the hub still runs, it just never
// receives reload events.
func startReload(ctx context.Context, a *app) (*livereload.Hub, func(), error) {
	dev := a.cfg.Development
	stop := func() {}

	var events <-chan watcher.Event
	if dev.HotReload {
		reloader, err := watcher.NewReloader(a.registry, a.cfg.Tags.Pattern, a.logger,
			watcher.WithDebounce(dev.Debounce))
		if err != nil {
			return nil, stop, err
		}
		if err := reloader.Start(ctx); err != nil {
			return nil, stop, fmt.Errorf("starting hot reload: %w", err)
		}
		stop = func() {
			if err := reloader.Stop(); err != nil {
				a.logger.Warn(ctx, err, "Error stopping hot reload")
			}
		}
		if dev.LiveReload {
			events = reloader.Subscribe()
		}
	}

	if !dev.LiveReload {
		return nil, stop, nil
	}
	hub := livereload.NewHub(a.cfg.Server.AllowedOrigins, a.logger)
	go hub.Run(ctx, events)
	return hub, stop, nil
}
