// Package pipeline renders a named tag into a complete HTML page.
//
// For every request the pipeline creates a fresh store, applies the
// request's actions in order while fingerprinting the page's assets in
// parallel, renders the tag against the resulting state snapshot and
// assembles the document: escaped title, head markup, cache-busted asset
// links, the rendered tag and a bootstrap script exposing the snapshot and
// the tag name to client code.
//
// Failures are reported as a *Failure naming the phase that failed. Only
// the public message of the underlying error reaches the client.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	tserrors "github.com/conneroisu/tagserve/internal/errors"
	"github.com/conneroisu/tagserve/internal/fingerprint"
	"github.com/conneroisu/tagserve/internal/logging"
	"github.com/conneroisu/tagserve/internal/registry"
	"github.com/conneroisu/tagserve/internal/renderer"
	"github.com/conneroisu/tagserve/internal/store"
)

// Config is the application-wide render configuration.
type Config struct {
	Reducer  store.Reducer
	Enhancer store.Enhancer
	// StaticDir is the directory asset paths are resolved against for
	// fingerprinting.
	StaticDir   string
	Stylesheets []string
	Scripts     []string
	// HeaderMarkup is trusted markup inserted into every page's <head>.
	HeaderMarkup string
	// PathPrefix is prepended to root-relative asset URLs.
	PathPrefix string
	// Timeout bounds each render. Zero means no limit.
	Timeout time.Duration
	Logger  logging.Logger
}

// Request is a single render request.
type Request struct {
	Unit    string
	Actions []store.Action
	Options Options
}

// Page is a successfully rendered document.
type Page struct {
	Status int
	Unit   string
	State  store.State
	HTML   []byte
}

// Pipeline renders pages.
type Pipeline struct {
	config   Config
	registry *registry.Registry
	cache    *fingerprint.Cache
	renderer *renderer.Renderer
	logger   logging.Logger
}

// New creates a pipeline reading units from reg and fingerprints from cache.
func New(cfg Config, reg *registry.Registry, cache *fingerprint.Cache) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if cache == nil {
		cache = fingerprint.New(nil)
	}
	return &Pipeline{
		config:   cfg,
		registry: reg,
		cache:    cache,
		renderer: renderer.New(reg.Get),
		logger:   logger.WithComponent("pipeline"),
	}
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Render runs the whole pipeline for req.
func (p *Pipeline) Render(ctx context.Context, req Request) (*Page, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	perf := logging.StartOperation(p.logger, "render")

	s, err := p.newStore(ctx)
	if err != nil {
		return nil, p.fail(ctx, perf, req, PhaseDispatch, err)
	}

	stylesheets := p.stylesheets(req.Options)
	scripts := p.scripts(req.Options)
	prefix := p.prefix(req.Options)

	sheetHashes := make([]string, len(stylesheets))
	scriptHashes := make([]string, len(scripts))

	var g errgroup.Group
	g.Go(func() error {
		return store.Apply(ctx, s, req.Actions)
	})
	for i, path := range stylesheets {
		g.Go(func() error {
			h, err := p.fingerprint(ctx, path)
			sheetHashes[i] = h
			return err
		})
	}
	for i, path := range scripts {
		g.Go(func() error {
			h, err := p.fingerprint(ctx, path)
			scriptHashes[i] = h
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, p.fail(ctx, perf, req, PhaseDispatch, err)
	}

	page, err := p.assemble(ctx, s.GetState(), req, documentAssets{
		stylesheets: assetURLs(prefix, stylesheets, sheetHashes),
		scripts:     assetURLs(prefix, scripts, scriptHashes),
	})
	if err != nil {
		return nil, p.fail(ctx, perf, req, PhaseRender, err)
	}

	perf.End(ctx, "tag", req.Unit, "status", page.Status, "bytes", len(page.HTML))
	return page, nil
}

// newStore creates the per-request store. The reducer runs once during
// creation, so a panic there is reported like a failed dispatch.
func (p *Pipeline) newStore(ctx context.Context) (s store.Store, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Store creation panicked",
				"stack", string(debug.Stack()))
			s = nil
			err = tserrors.NewInternalError(tserrors.ErrCodeInternal, "store creation panicked", fmt.Errorf("%v", r))
		}
	}()
	return store.New(p.config.Reducer, p.config.Enhancer)
}

type documentAssets struct {
	stylesheets []string
	scripts     []string
}

// assemble covers everything after the state is final. A panic in here is
// turned into an internal error.
func (p *Pipeline) assemble(ctx context.Context, state store.State, req Request, assets documentAssets) (page *Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Render panicked",
				"tag", req.Unit, "stack", string(debug.Stack()))
			page = nil
			err = tserrors.NewInternalError(tserrors.ErrCodeRenderPanic, "render panicked", fmt.Errorf("%v", r)).
				WithUnit(req.Unit)
		}
	}()

	unit, ok := p.registry.Get(req.Unit)
	if !ok {
		return nil, tserrors.NewUnknownUnitError(req.Unit)
	}

	status, err := req.Options.Status.Resolve(state, 200)
	if err != nil {
		return nil, fmt.Errorf("resolving status: %w", err)
	}
	if !ValidStatus(status) {
		return nil, fmt.Errorf("invalid status %d", status)
	}

	header, err := req.Options.Header.Resolve(state, "")
	if err != nil {
		return nil, fmt.Errorf("resolving header: %w", err)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	nameJSON, err := json.Marshal(unit.Name)
	if err != nil {
		return nil, fmt.Errorf("encoding tag name: %w", err)
	}

	doc := &document{
		title:       store.Title(state),
		header:      p.config.HeaderMarkup + header,
		stylesheets: assets.stylesheets,
		scripts:     assets.scripts,
		body:        p.renderer.Component(unit, state),
		stateJSON:   string(stateJSON),
		nameJSON:    string(nameJSON),
	}

	var buf bytes.Buffer
	if err := doc.Render(renderer.WithServerOnly(ctx), &buf); err != nil {
		return nil, err
	}

	return &Page{
		Status: status,
		Unit:   unit.Name,
		State:  state,
		HTML:   buf.Bytes(),
	}, nil
}

func (p *Pipeline) fail(ctx context.Context, perf *logging.PerfLogger, req Request, phase Phase, err error) error {
	perf.EndWithError(ctx, err, "tag", req.Unit, "phase", string(phase))
	return &Failure{Phase: phase, Err: err}
}

// fingerprint hashes the file behind a local asset URL. External URLs are
// not fingerprinted.
func (p *Pipeline) fingerprint(ctx context.Context, urlPath string) (string, error) {
	if isExternal(urlPath) {
		return "", nil
	}
	fsPath := filepath.Join(p.config.StaticDir, filepath.FromSlash(strings.TrimPrefix(urlPath, "/")))
	h, err := p.cache.Get(ctx, fsPath)
	if err != nil {
		return "", tserrors.NewAssetReadError(urlPath, err)
	}
	return h, nil
}

func (p *Pipeline) stylesheets(o Options) []string {
	if o.Stylesheets != nil {
		return o.Stylesheets
	}
	return p.config.Stylesheets
}

func (p *Pipeline) scripts(o Options) []string {
	if o.Scripts != nil {
		return o.Scripts
	}
	return p.config.Scripts
}

func (p *Pipeline) prefix(o Options) string {
	if o.PathPrefix != "" {
		return o.PathPrefix
	}
	return p.config.PathPrefix
}

func isExternal(path string) bool {
	return strings.HasPrefix(path, "//") || strings.Contains(path, "://") || strings.HasPrefix(path, "data:")
}

// AssetURL builds the URL of an asset: the prefix is applied to
// root-relative paths only and a non-empty fingerprint is appended as the
// h query parameter.
func AssetURL(prefix, path, hash string) string {
	u := path
	if strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "//") {
		u = strings.TrimSuffix(prefix, "/") + path
	}
	if hash != "" {
		u += "?h=" + hash
	}
	return u
}

func assetURLs(prefix string, paths, hashes []string) []string {
	urls := make([]string, len(paths))
	for i, path := range paths {
		urls[i] = AssetURL(prefix, path, hashes[i])
	}
	return urls
}
