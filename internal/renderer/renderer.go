// Package renderer turns a compiled tag and a state snapshot into markup.
//
// Components are returned as templ.Component values so they compose with
// the document assembly in the pipeline. Rendering is synchronous and
// writes the root element followed by the executed body:
//
//	<todo-list class="todos">…</todo-list>
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/tagserve/internal/compiler"
	"github.com/conneroisu/tagserve/internal/registry"
	"github.com/conneroisu/tagserve/internal/store"
)

// MaxMountDepth bounds nested mounts so a cycle of tags mounting each
// other fails instead of recursing forever.
const MaxMountDepth = 16

// Lookup resolves a tag name to its current unit.
type Lookup func(name string) (*registry.Unit, bool)

type serverOnlyKey struct{}

// WithServerOnly marks ctx as a server-only render. Tag bodies see it
// through the isServer function.
func WithServerOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, serverOnlyKey{}, true)
}

// IsServerOnly reports whether ctx was marked by WithServerOnly.
func IsServerOnly(ctx context.Context) bool {
	v, _ := ctx.Value(serverOnlyKey{}).(bool)
	return v
}

// Renderer renders units.
type Renderer struct {
	lookup Lookup
}

// New creates a renderer resolving mounted tags through lookup. A nil
// lookup makes every mount fail.
func New(lookup Lookup) *Renderer {
	if lookup == nil {
		lookup = func(string) (*registry.Unit, bool) { return nil, false }
	}
	return &Renderer{lookup: lookup}
}

// Component returns a component rendering unit against state.
func (r *Renderer) Component(unit *registry.Unit, state store.State) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return r.render(ctx, w, unit, state, 0)
	})
}

// RenderString renders unit against state in server-only mode.
func (r *Renderer) RenderString(ctx context.Context, unit *registry.Unit, state store.State) (string, error) {
	var buf bytes.Buffer
	if err := r.Component(unit, state).Render(WithServerOnly(ctx), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Renderer) render(ctx context.Context, w io.Writer, unit *registry.Unit, state store.State, depth int) error {
	if unit == nil || unit.Compiled == nil {
		return fmt.Errorf("nothing to render")
	}

	t, err := unit.Compiled.Instance(r.funcs(ctx, unit, state, depth))
	if err != nil {
		return fmt.Errorf("preparing %s: %w", unit.Name, err)
	}

	if _, err := io.WriteString(w, openTag(unit.Compiled)); err != nil {
		return err
	}
	if err := t.Execute(w, state); err != nil {
		return fmt.Errorf("rendering %s: %w", unit.Name, err)
	}
	_, err = io.WriteString(w, "</"+unit.Name+">")
	return err
}

func (r *Renderer) funcs(ctx context.Context, unit *registry.Unit, state store.State, depth int) template.FuncMap {
	funcs := template.FuncMap{
		compiler.FuncIsServer: func() bool { return IsServerOnly(ctx) },
		compiler.FuncJSON:     compiler.JSON,
	}
	if unit.Compiled.Options.ResolveImports {
		funcs[compiler.FuncMount] = func(name string) (template.HTML, error) {
			if depth+1 >= MaxMountDepth {
				return "", fmt.Errorf("mount %s: nesting deeper than %d", name, MaxMountDepth)
			}
			child, ok := r.lookup(name)
			if !ok {
				return "", fmt.Errorf("mount: unknown tag %s", name)
			}
			var buf bytes.Buffer
			if err := r.render(ctx, &buf, child, state, depth+1); err != nil {
				return "", err
			}
			return template.HTML(buf.String()), nil //nolint:gosec // output of html/template
		}
	}
	return funcs
}

func openTag(c *compiler.Compiled) string {
	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(c.Name)
	for _, a := range c.Attrs {
		sb.WriteString(" ")
		if a.Namespace != "" {
			sb.WriteString(a.Namespace)
			sb.WriteString(":")
		}
		sb.WriteString(a.Key)
		sb.WriteString(`="`)
		sb.WriteString(templ.EscapeString(a.Val))
		sb.WriteString(`"`)
	}
	sb.WriteString(">")
	return sb.String()
}
