// Package registry holds the process-wide mapping from tag name to compiled
// unit.
//
// The registry compiles tag source files, guards tag names against being
// claimed by two different files, and serves lookups to the render
// pipeline. The hot-reload watcher is its only writer after startup;
// renders only read. A unit is replaced by a single map write under the
// write lock, so a lookup observes either the old unit or the new one.
//
// Entries are never removed. A tag whose file was deleted stays registered
// until the process restarts.
package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/tagserve/internal/compiler"
	tserrors "github.com/conneroisu/tagserve/internal/errors"
	"github.com/conneroisu/tagserve/internal/fingerprint"
)

// Unit is a compiled, renderable tag. Units are immutable; recompiling a
// file produces a new Unit that replaces the old one.
type Unit struct {
	Name       string
	FilePath   string
	Compiled   *compiler.Compiled
	SourceHash string
	CompiledAt time.Time
}

// Registry maps tag names to units.
type Registry struct {
	compiler compiler.Compiler
	options  compiler.Options
	fs       afero.Fs
	units    map[string]*Unit
	mutex    sync.RWMutex
}

// New creates an empty registry that compiles with c and reads sources
// through fs.
func New(c compiler.Compiler, fs afero.Fs, opts compiler.Options) *Registry {
	if c == nil {
		c = compiler.New()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Registry{
		compiler: c,
		options:  opts,
		fs:       fs,
		units:    make(map[string]*Unit),
	}
}

// Compile reads and compiles the tag source at path. The registry is not
// modified.
func (r *Registry) Compile(ctx context.Context, path string) (*Unit, error) {
	path = filepath.Clean(path)

	if err := ctx.Err(); err != nil {
		return nil, tserrors.NewSourceReadError(path, err)
	}

	source, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, tserrors.NewSourceReadError(path, err)
	}

	compiled, err := r.compiler.Compile(source, r.options)
	if err != nil {
		ce := tserrors.NewCompileError(path, err)
		var se *compiler.SyntaxError
		if errors.As(err, &se) {
			ce = ce.WithLocation(path, se.Line, 0)
		}
		return nil, ce
	}

	return &Unit{
		Name:       compiled.Name,
		FilePath:   path,
		Compiled:   compiled,
		SourceHash: fingerprint.Sum(source),
		CompiledAt: time.Now(),
	}, nil
}

// Register inserts unit, replacing a previous unit of the same name from
// the same file. A name already owned by a different file is rejected with
// a duplicate name error and the registry is left unchanged.
func (r *Registry) Register(unit *Unit) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, ok := r.units[unit.Name]; ok && existing.FilePath != unit.FilePath {
		return tserrors.NewDuplicateNameError(unit.Name, existing.FilePath, unit.FilePath)
	}

	r.units[unit.Name] = unit
	return nil
}

// Load compiles path and registers the result.
func (r *Registry) Load(ctx context.Context, path string) (*Unit, error) {
	unit, err := r.Compile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := r.Register(unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// Get retrieves a unit by name.
func (r *Registry) Get(name string) (*Unit, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	unit, ok := r.units[name]
	return unit, ok
}

// All returns every registered unit sorted by name.
func (r *Registry) All() []*Unit {
	r.mutex.RLock()
	units := make([]*Unit, 0, len(r.units))
	for _, u := range r.units {
		units = append(units, u)
	}
	r.mutex.RUnlock()

	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units
}

// Count returns the number of registered units
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.units)
}
