package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tagserve/internal/compiler"
	tserrors "github.com/conneroisu/tagserve/internal/errors"
	"github.com/conneroisu/tagserve/internal/fingerprint"
	"github.com/conneroisu/tagserve/internal/registry"
	"github.com/conneroisu/tagserve/internal/store"
)

const (
	styleCSS = "body { color: red }"
	mainJS   = "console.log('hi')"
)

type fixture struct {
	fs       afero.Fs
	registry *registry.Registry
	cache    *fingerprint.Cache
}

func newFixture(t *testing.T, tags map[string]string) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "static/style.css", []byte(styleCSS), 0o644))
	require.NoError(t, afero.WriteFile(fs, "static/js/main.js", []byte(mainJS), 0o644))

	reg := registry.New(compiler.New(), fs, compiler.DefaultOptions())
	for path, src := range tags {
		require.NoError(t, afero.WriteFile(fs, path, []byte(src), 0o644))
		_, err := reg.Load(context.Background(), path)
		require.NoError(t, err)
	}
	return &fixture{fs: fs, registry: reg, cache: fingerprint.New(fs)}
}

func (f *fixture) pipeline(cfg Config) *Pipeline {
	if cfg.StaticDir == "" {
		cfg.StaticDir = "static"
	}
	return New(cfg, f.registry, f.cache)
}

func todoReducer() store.Reducer {
	return store.MergeReducer(map[string]interface{}{"title": "Todos & more"})
}

func TestRenderProducesDocument(t *testing.T) {
	f := newFixture(t, map[string]string{
		"tags/todo.tag": `<todo-list><h1>{{ .title }}</h1></todo-list>`,
	})
	p := f.pipeline(Config{
		Reducer:     todoReducer(),
		Stylesheets: []string{"/style.css"},
		Scripts:     []string{"/js/main.js"},
		PathPrefix:  "/app",
	})

	page, err := p.Render(context.Background(), Request{Unit: "todo-list"})
	require.NoError(t, err)

	expected := fmt.Sprintf(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <title>Todos &amp; more</title>
    <link rel="stylesheet" href="/app/style.css?h=%s">
  </head>
  <body>
    <todo-list><h1>Todos &amp; more</h1></todo-list>
    <script>
      window.state = {"title":"Todos \u0026 more"};
      window.tagName = "todo-list";
    </script>
    <script src="/app/js/main.js?h=%s"></script>
  </body>
</html>
`, fingerprint.Sum([]byte(styleCSS)), fingerprint.Sum([]byte(mainJS)))

	assert.Equal(t, expected, string(page.HTML))
	assert.Equal(t, 200, page.Status)
	assert.Equal(t, "todo-list", page.Unit)
	assert.Equal(t, 2, f.cache.Len())
}

func TestRenderAppliesActionsInOrder(t *testing.T) {
	f := newFixture(t, map[string]string{
		"x.tag": `<x-tag>{{ range .items }}{{ . }},{{ end }}</x-tag>`,
	})
	p := f.pipeline(Config{Reducer: store.MergeReducer(nil)})

	page, err := p.Render(context.Background(), Request{
		Unit: "x-tag",
		Actions: []store.Action{
			{Type: store.ActionAppend, Payload: map[string]interface{}{"key": "items", "value": "a"}},
			{Type: store.ActionAppend, Payload: map[string]interface{}{"key": "items", "value": "b"}},
			{Type: store.ActionAppend, Payload: map[string]interface{}{"key": "items", "value": "c"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, string(page.HTML), "<x-tag>a,b,c,</x-tag>")
	assert.Contains(t, string(page.HTML), `window.state = {"items":["a","b","c"]};`)
}

func TestRenderHeaderMarkupAndComputedOptions(t *testing.T) {
	f := newFixture(t, map[string]string{"x.tag": `<x-tag></x-tag>`})
	p := f.pipeline(Config{
		Reducer:      store.MergeReducer(map[string]interface{}{"code": 404, "extra": `<meta name="x">`}),
		HeaderMarkup: `<link rel="icon" href="/favicon.ico">`,
	})

	page, err := p.Render(context.Background(), Request{
		Unit: "x-tag",
		Options: NewOptions(
			WithStatus(Computed(func(s store.State) (int, error) {
				return s.(map[string]interface{})["code"].(int), nil
			})),
			WithHeader(Computed(func(s store.State) (string, error) {
				return s.(map[string]interface{})["extra"].(string), nil
			})),
		),
	})
	require.NoError(t, err)
	assert.Equal(t, 404, page.Status)
	assert.Contains(t, string(page.HTML), `<link rel="icon" href="/favicon.ico"><meta name="x">`)
}

func TestRenderPerResponseAssets(t *testing.T) {
	f := newFixture(t, map[string]string{"x.tag": `<x-tag></x-tag>`})
	p := f.pipeline(Config{Scripts: []string{"/js/main.js"}})

	page, err := p.Render(context.Background(), Request{
		Unit: "x-tag",
		Options: NewOptions(
			WithScripts(),
			WithStylesheets("style.css", "//cdn.example.com/x.css", "https://cdn.example.com/y.css"),
			WithPathPrefix("/ignored"),
		),
	})
	require.NoError(t, err)

	html := string(page.HTML)
	assert.NotContains(t, html, "main.js")
	assert.Contains(t, html, fmt.Sprintf(`href="style.css?h=%s"`, fingerprint.Sum([]byte(styleCSS))))
	assert.Contains(t, html, `href="//cdn.example.com/x.css"`)
	assert.Contains(t, html, `href="https://cdn.example.com/y.css"`)
}

func TestRenderNoTitle(t *testing.T) {
	f := newFixture(t, map[string]string{"x.tag": `<x-tag></x-tag>`})
	p := f.pipeline(Config{})

	page, err := p.Render(context.Background(), Request{Unit: "x-tag"})
	require.NoError(t, err)
	assert.Contains(t, string(page.HTML), "<title></title>")
	assert.Contains(t, string(page.HTML), "window.state = null;")
}

func TestValidStatus(t *testing.T) {
	for code, want := range map[int]bool{0: false, 99: false, 100: true, 200: true, 599: true, 999: true, 1000: false} {
		assert.Equal(t, want, ValidStatus(code), "status %d", code)
	}
}

func TestRenderFailures(t *testing.T) {
	failing := func(state store.State, a store.Action) (store.State, error) {
		if a.Type == "boom" {
			return nil, errors.New("secret database password leaked")
		}
		return map[string]interface{}{}, nil
	}

	testCases := []struct {
		name    string
		config  Config
		request Request
		phase   Phase
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "action failure",
			config:  Config{Reducer: failing},
			request: Request{Unit: "x-tag", Actions: []store.Action{{Type: "ok"}, {Type: "boom"}}},
			phase:   PhaseDispatch,
			body:    "Error while dispatching actions: action 1 (boom) failed",
			check:   func(t *testing.T, err error) { assert.True(t, tserrors.IsAction(err)) },
		},
		{
			name: "panicking reducer",
			config: Config{Reducer: func(state store.State, a store.Action) (store.State, error) {
				if a.Type == "boom" {
					var m map[string]interface{}
					_ = m["items"].([]interface{})
				}
				return map[string]interface{}{}, nil
			}},
			request: Request{Unit: "x-tag", Actions: []store.Action{{Type: "ok"}, {Type: "boom"}}},
			phase:   PhaseDispatch,
			body:    "Error while dispatching actions: action 1 (boom) failed",
			check:   func(t *testing.T, err error) { assert.True(t, tserrors.IsAction(err)) },
		},
		{
			name: "panicking effect",
			config: Config{
				Reducer: store.MergeReducer(nil),
				Enhancer: store.ApplyMiddleware(store.Effects(map[string]store.Effect{
					"load": func(context.Context, store.Action, store.API) error { panic("effect exploded") },
				})),
			},
			request: Request{Unit: "x-tag", Actions: []store.Action{{Type: "load"}}},
			phase:   PhaseDispatch,
			body:    "Error while dispatching actions: action 0 (load) failed",
			check:   func(t *testing.T, err error) { assert.True(t, tserrors.IsAction(err)) },
		},
		{
			name: "reducer panics on init",
			config: Config{Reducer: func(store.State, store.Action) (store.State, error) {
				panic("init exploded")
			}},
			request: Request{Unit: "x-tag"},
			phase:   PhaseDispatch,
			body:    "Error while dispatching actions: internal error",
		},
		{
			name:    "missing script",
			config:  Config{Scripts: []string{"/js/missing.js"}},
			request: Request{Unit: "x-tag"},
			phase:   PhaseDispatch,
			body:    "Error while dispatching actions: cannot read asset /js/missing.js",
			check:   func(t *testing.T, err error) { assert.True(t, tserrors.IsAssetRead(err)) },
		},
		{
			name:    "missing stylesheet",
			config:  Config{Stylesheets: []string{"/nope.css"}},
			request: Request{Unit: "x-tag"},
			phase:   PhaseDispatch,
			body:    "Error while dispatching actions: cannot read asset /nope.css",
			check:   func(t *testing.T, err error) { assert.True(t, tserrors.IsAssetRead(err)) },
		},
		{
			name:    "unknown tag",
			request: Request{Unit: "ghost-tag"},
			phase:   PhaseRender,
			body:    "Error while rendering: unknown tag ghost-tag",
			check:   func(t *testing.T, err error) { assert.True(t, tserrors.IsUnknownUnit(err)) },
		},
		{
			name: "panic while resolving status",
			request: Request{Unit: "x-tag", Options: NewOptions(WithStatus(Computed(func(store.State) (int, error) {
				panic("computed status exploded")
			})))},
			phase: PhaseRender,
			body:  "Error while rendering: internal error",
		},
		{
			name:    "invalid status",
			request: Request{Unit: "x-tag", Options: NewOptions(WithStatus(Literal(42)))},
			phase:   PhaseRender,
			body:    "Error while rendering: internal error",
		},
		{
			name:    "status above range",
			request: Request{Unit: "x-tag", Options: NewOptions(WithStatus(Literal(1000)))},
			phase:   PhaseRender,
			body:    "Error while rendering: internal error",
		},
		{
			name:    "unserializable state",
			config:  Config{Reducer: func(store.State, store.Action) (store.State, error) { return make(chan int), nil }},
			request: Request{Unit: "x-tag"},
			phase:   PhaseRender,
			body:    "Error while rendering: internal error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{"x.tag": `<x-tag></x-tag>`})
			p := f.pipeline(tc.config)

			page, err := p.Render(context.Background(), tc.request)
			require.Error(t, err)
			assert.Nil(t, page)

			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tc.phase, failure.Phase)
			if tc.check != nil {
				tc.check(t, err)
			}

			rec := httptest.NewRecorder()
			WriteError(rec, err)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Equal(t, tc.body, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "secret")
			assert.NotContains(t, rec.Body.String(), "static/")
		})
	}
}

func TestRenderTimeout(t *testing.T) {
	slow := store.Effects(map[string]store.Effect{
		"slow": func(ctx context.Context, a store.Action, api store.API) error {
			select {
			case <-time.After(time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	f := newFixture(t, map[string]string{"x.tag": `<x-tag></x-tag>`})
	p := f.pipeline(Config{
		Reducer:  store.MergeReducer(nil),
		Enhancer: store.ApplyMiddleware(slow),
		Timeout:  20 * time.Millisecond,
	})

	_, err := p.Render(context.Background(), Request{Unit: "x-tag", Actions: []store.Action{{Type: "slow"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, PhaseDispatch, failure.Phase)
}

func TestConcurrentRendersAreIsolated(t *testing.T) {
	f := newFixture(t, map[string]string{"x.tag": `<x-tag>{{ .who }}</x-tag>`})
	p := f.pipeline(Config{
		Reducer: store.MergeReducer(nil),
		Scripts: []string{"/js/main.js"},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			who := fmt.Sprintf("user-%d", i)
			page, err := p.Render(context.Background(), Request{
				Unit:    "x-tag",
				Actions: []store.Action{{Type: store.ActionSet, Payload: map[string]interface{}{"who": who}}},
			})
			if assert.NoError(t, err) {
				assert.Contains(t, string(page.HTML), "<x-tag>"+who+"</x-tag>")
				assert.Contains(t, string(page.HTML), fmt.Sprintf(`{"who":%q}`, who))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.cache.Len())
}

func TestTagWritesPage(t *testing.T) {
	f := newFixture(t, map[string]string{"x.tag": `<x-tag>{{ .title }}</x-tag>`})
	p := f.pipeline(Config{Reducer: todoReducer()})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	p.Tag(rec, req, "x-tag", nil, WithStatus(Literal(201)))

	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<x-tag>Todos &amp; more</x-tag>")
}

func TestTagWritesError(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(Config{})

	rec := httptest.NewRecorder()
	p.Tag(rec, httptest.NewRequest(http.MethodGet, "/", nil), "ghost-tag", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error while rendering: unknown tag ghost-tag", rec.Body.String())
}

func TestWriteErrorWithPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("disk on fire"))
	assert.Equal(t, "Error while rendering: internal error", rec.Body.String())
}

func TestAssetURL(t *testing.T) {
	testCases := []struct {
		prefix, path, hash, expected string
	}{
		{"", "/a.js", "h1", "/a.js?h=h1"},
		{"/app", "/a.js", "h1", "/app/a.js?h=h1"},
		{"/app/", "/a.js", "h1", "/app/a.js?h=h1"},
		{"/app", "a.js", "h1", "a.js?h=h1"},
		{"/app", "//cdn/a.js", "", "//cdn/a.js"},
		{"/app", "https://cdn/a.js", "", "https://cdn/a.js"},
	}

	for _, tc := range testCases {
		t.Run(tc.prefix+tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, AssetURL(tc.prefix, tc.path, tc.hash))
		})
	}
}

func TestValueResolve(t *testing.T) {
	var unset Value[int]
	assert.False(t, unset.IsSet())
	v, err := unset.Resolve(nil, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, v)

	v, err = Literal(418).Resolve(nil, 200)
	require.NoError(t, err)
	assert.Equal(t, 418, v)

	_, err = Computed(func(store.State) (int, error) { return 0, errors.New("nope") }).Resolve(nil, 200)
	assert.Error(t, err)

	assert.False(t, Computed[int](nil).IsSet())
}
