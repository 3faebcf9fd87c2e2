package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/conneroisu/tagserve/internal/compiler"
	tserrors "github.com/conneroisu/tagserve/internal/errors"
)

// FuzzRegistryLoad feeds arbitrary tag sources through compile and register.
func FuzzRegistryLoad(f *testing.F) {
	f.Add(`<todo-list><h1>{{ .title }}</h1></todo-list>`)
	f.Add(`<!-- c --><x-y a="1"/>`)
	f.Add(`<x-y>{{ .a </x-y>`)
	f.Add(`<x-y></x-z>`)
	f.Add(`text <x-y></x-y>`)
	f.Add(`<x-y></x-y><z-w></z-w>`)
	f.Add("<script>alert('xss')</script>")
	f.Add("\x00\x00\x00")
	f.Add(`<a-b>` + strings.Repeat("{{ if .a }}", 50) + `</a-b>`)

	f.Fuzz(func(t *testing.T, source string) {
		if len(source) > 50000 {
			t.Skip("source too large")
		}

		fs := afero.NewMemMapFs()
		if err := afero.WriteFile(fs, "tags/fuzz.tag", []byte(source), 0o644); err != nil {
			t.Fatal(err)
		}
		reg := New(compiler.New(), fs, compiler.DefaultOptions())

		unit, err := reg.Load(context.Background(), "tags/fuzz.tag")
		if err != nil {
			if !tserrors.IsCompile(err) {
				t.Errorf("load failed with a non-compile error: %v", err)
			}
			if reg.Count() != 0 {
				t.Errorf("failed load changed the registry")
			}
			return
		}

		if unit.Name == "" {
			t.Errorf("registered unit has no name")
		}
		got, ok := reg.Get(unit.Name)
		if !ok || got != unit {
			t.Errorf("registered unit %q not found", unit.Name)
		}

		// Reloading the same file replaces, never duplicates.
		if _, err := reg.Load(context.Background(), "./tags/fuzz.tag"); err != nil {
			t.Errorf("reload of the same file failed: %v", err)
		}
		if reg.Count() != 1 {
			t.Errorf("expected one unit, got %d", reg.Count())
		}
	})
}
