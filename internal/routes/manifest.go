// Package routes binds URLs to tags through a YAML manifest.
//
//	initial_state:
//	  title: Todos
//	routes:
//	  - path: /
//	    tag: todo-list
//	  - path: /todos/{id}
//	    tag: todo-detail
//	    status_key: status
//	    actions:
//	      - type: set
//	        payload: {id: "{id}"}
//
// Payload strings of the form "{name}" are replaced with the matching URL
// parameter when the route is served.
package routes

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/tagserve/internal/pipeline"
	"github.com/conneroisu/tagserve/internal/store"
)

// Manifest is the parsed route file.
type Manifest struct {
	InitialState map[string]interface{} `yaml:"initial_state" json:"initial_state,omitempty"`
	Routes       []Route                `yaml:"routes" json:"routes"`
}

// Route binds one method and path to a tag.
type Route struct {
	Path    string         `yaml:"path" json:"path"`
	Method  string         `yaml:"method,omitempty" json:"method,omitempty"`
	Tag     string         `yaml:"tag" json:"tag"`
	Actions []store.Action `yaml:"actions,omitempty" json:"actions,omitempty"`

	// Status is a literal status; StatusKey reads it from the final state
	// and takes precedence.
	Status    int    `yaml:"status,omitempty" json:"status,omitempty"`
	StatusKey string `yaml:"status_key,omitempty" json:"status_key,omitempty"`

	// Header is literal head markup; HeaderKey reads it from the final state
	// and takes precedence.
	Header    string `yaml:"header,omitempty" json:"header,omitempty"`
	HeaderKey string `yaml:"header_key,omitempty" json:"header_key,omitempty"`

	Stylesheets []string `yaml:"stylesheets,omitempty" json:"stylesheets,omitempty"`
	Scripts     []string `yaml:"scripts,omitempty" json:"scripts,omitempty"`
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Load reads and validates the manifest at path.
func Load(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading route manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing route manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every route and normalizes methods to upper case.
func (m *Manifest) Validate() error {
	seen := make(map[string]int)
	for i := range m.Routes {
		r := &m.Routes[i]
		if r.Method == "" {
			r.Method = http.MethodGet
		}
		r.Method = strings.ToUpper(r.Method)

		switch {
		case !strings.HasPrefix(r.Path, "/"):
			return fmt.Errorf("route %d: path %q must start with /", i, r.Path)
		case r.Tag == "":
			return fmt.Errorf("route %d (%s): tag is required", i, r.Path)
		case !allowedMethods[r.Method]:
			return fmt.Errorf("route %d (%s): unsupported method %s", i, r.Path, r.Method)
		case r.Status != 0 && !pipeline.ValidStatus(r.Status):
			return fmt.Errorf("route %d (%s): invalid status %d", i, r.Path, r.Status)
		}
		for j, a := range r.Actions {
			if a.Type == "" {
				return fmt.Errorf("route %d (%s): action %d has no type", i, r.Path, j)
			}
		}

		key := r.Method + " " + r.Path
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("route %d duplicates route %d (%s)", i, prev, key)
		}
		seen[key] = i
	}
	return nil
}

// Options returns the pipeline options for the route.
func (r Route) Options() []pipeline.Option {
	var opts []pipeline.Option

	switch {
	case r.StatusKey != "":
		fallback := r.Status
		key := r.StatusKey
		opts = append(opts, pipeline.WithStatus(pipeline.Computed(func(s store.State) (int, error) {
			return statusAt(s, key, fallback)
		})))
	case r.Status != 0:
		opts = append(opts, pipeline.WithStatus(pipeline.Literal(r.Status)))
	}

	switch {
	case r.HeaderKey != "":
		fallback := r.Header
		key := r.HeaderKey
		opts = append(opts, pipeline.WithHeader(pipeline.Computed(func(s store.State) (string, error) {
			v, ok := Lookup(s, key)
			if !ok || v == nil {
				return fallback, nil
			}
			str, ok := v.(string)
			if !ok {
				return "", fmt.Errorf("%s holds %T, not markup", key, v)
			}
			return str, nil
		})))
	case r.Header != "":
		opts = append(opts, pipeline.WithHeader(pipeline.Literal(r.Header)))
	}

	if r.Stylesheets != nil {
		opts = append(opts, pipeline.WithStylesheets(r.Stylesheets...))
	}
	if r.Scripts != nil {
		opts = append(opts, pipeline.WithScripts(r.Scripts...))
	}
	return opts
}

// ActionsFor returns the route's actions with URL parameters substituted.
func (r Route) ActionsFor(req *http.Request) []store.Action {
	if len(r.Actions) == 0 {
		return nil
	}
	params := func(name string) (string, bool) {
		rctx := chi.RouteContext(req.Context())
		if rctx == nil {
			return "", false
		}
		for i, k := range rctx.URLParams.Keys {
			if k == name {
				return rctx.URLParams.Values[i], true
			}
		}
		return "", false
	}

	actions := make([]store.Action, len(r.Actions))
	for i, a := range r.Actions {
		actions[i] = store.Action{Type: a.Type}
		if a.Payload != nil {
			actions[i].Payload = substitute(a.Payload, params).(map[string]interface{})
		}
	}
	return actions
}

func substitute(v interface{}, params func(string) (string, bool)) interface{} {
	switch val := v.(type) {
	case string:
		if len(val) > 2 && strings.HasPrefix(val, "{") && strings.HasSuffix(val, "}") {
			if p, ok := params(val[1 : len(val)-1]); ok {
				return p
			}
		}
		return val
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = substitute(item, params)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = substitute(item, params)
		}
		return out
	default:
		return val
	}
}

// Lookup reads a dotted key such as "page.status" from a map state.
func Lookup(state store.State, key string) (interface{}, bool) {
	current := state
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func statusAt(state store.State, key string, fallback int) (int, error) {
	v, ok := Lookup(state, key)
	if !ok || v == nil {
		if fallback == 0 {
			fallback = http.StatusOK
		}
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("%s holds %T, not a status", key, v)
	}
}

// Mount registers every route of m on router.
func Mount(router chi.Router, p *pipeline.Pipeline, m *Manifest) {
	for _, route := range m.Routes {
		opts := route.Options()
		router.Method(route.Method, route.Path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p.Tag(w, req, route.Tag, route.ActionsFor(req), opts...)
		}))
	}
}

// Reducer returns the merge reducer seeded with the manifest's initial state.
func (m *Manifest) Reducer() store.Reducer {
	return store.MergeReducer(m.InitialState)
}
