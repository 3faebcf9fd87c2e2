package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conneroisu/tagserve/internal/compiler"
	"github.com/conneroisu/tagserve/internal/config"
	"github.com/conneroisu/tagserve/internal/fingerprint"
	"github.com/conneroisu/tagserve/internal/logging"
	"github.com/conneroisu/tagserve/internal/pipeline"
	"github.com/conneroisu/tagserve/internal/registry"
	"github.com/conneroisu/tagserve/internal/routes"
	"github.com/conneroisu/tagserve/internal/scanner"
	"github.com/conneroisu/tagserve/internal/store"
)

// appFs is the file system every command reads tags, assets and the route
// manifest from.
var appFs afero.Fs = afero.NewOsFs()

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	fs       afero.Fs
	logger   logging.Logger
	registry *registry.Registry
}

func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: logOut,
	})

	opts := compiler.Options{
		Dialect:        compiler.Dialect(cfg.Tags.Dialect),
		ResolveImports: cfg.Tags.ResolveImports,
	}

	return &app{
		cfg:      cfg,
		fs:       appFs,
		logger:   logger,
		registry: registry.New(compiler.New(), appFs, opts),
	}, nil
}

// loadApp reads configuration and builds the shared components.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, cmd.ErrOrStderr())
}

// scan compiles every tag matching the configured pattern. Units that
// loaded are returned even when others failed.
func (a *app) scan(ctx context.Context) ([]*registry.Unit, error) {
	s, err := scanner.New(a.registry, a.fs, a.cfg.Tags.Pattern, a.logger)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx)
}

// manifest loads the route manifest. A missing file yields an empty
// manifest.
func (a *app) manifest(ctx context.Context) (*routes.Manifest, error) {
	path := a.cfg.Routes.File
	ok, err := afero.Exists(a.fs, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.logger.Info(ctx, "No route manifest found", "path", path)
		return &routes.Manifest{}, nil
	}
	m, err := routes.Load(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	return m, nil
}

func (a *app) pipeline(reducer store.Reducer, header string) *pipeline.Pipeline {
	assets := a.cfg.Assets
	return pipeline.New(pipeline.Config{
		Reducer:      reducer,
		Enhancer:     store.ApplyMiddleware(store.Logging(a.logger)),
		StaticDir:    assets.StaticDir,
		Stylesheets:  assets.Stylesheets,
		Scripts:      assets.Scripts,
		HeaderMarkup: header,
		PathPrefix:   assets.PathPrefix,
		Timeout:      a.cfg.Server.RenderTimeout,
		Logger:       a.logger,
	}, a.registry, fingerprint.New(a.fs))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
