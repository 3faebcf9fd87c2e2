// Package scanner performs the startup scan that compiles every tag source
// matching the configured pattern into the registry.
//
// The pattern is a plain path or a doublestar glob such as
// "tags/**/*.tag". The non-glob prefix is walked and every regular file
// whose relative path matches is loaded, in lexical order so duplicate name
// errors are reported deterministically.
package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/conneroisu/tagserve/internal/logging"
	"github.com/conneroisu/tagserve/internal/registry"
)

// Pattern is a tag source glob split into the directory to walk and the
// pattern relative to it.
type Pattern struct {
	Base    string
	Pattern string
}

// ParsePattern splits a path or glob. A pattern without meta characters
// selects exactly that file.
func ParsePattern(pattern string) (Pattern, error) {
	slashed := filepath.ToSlash(filepath.Clean(pattern))
	if !doublestar.ValidatePattern(slashed) {
		return Pattern{}, doublestar.ErrBadPattern
	}
	base, rel := doublestar.SplitPattern(slashed)
	return Pattern{Base: filepath.FromSlash(base), Pattern: rel}, nil
}

// Match reports whether path (as produced by walking Base) is selected.
func (p Pattern) Match(path string) bool {
	rel, err := filepath.Rel(p.Base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	ok, err := doublestar.Match(p.Pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

// Scanner loads tag sources into a registry.
type Scanner struct {
	registry *registry.Registry
	fs       afero.Fs
	pattern  Pattern
	logger   logging.Logger
}

// New creates a scanner for pattern.
func New(reg *registry.Registry, fs afero.Fs, pattern string, logger logging.Logger) (*Scanner, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scanner{
		registry: reg,
		fs:       fs,
		pattern:  p,
		logger:   logger.WithComponent("scanner"),
	}, nil
}

// Pattern returns the parsed pattern.
func (s *Scanner) Pattern() Pattern {
	return s.pattern
}

// Files lists the source files matching the pattern in lexical order.
func (s *Scanner) Files() ([]string, error) {
	var files []string
	err := afero.Walk(s.fs, s.pattern.Base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != s.pattern.Base && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.pattern.Match(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Scan loads every matching file. Every failure is collected; a non-nil
// error means at least one file did not make it into the registry and the
// caller should treat startup as failed.
func (s *Scanner) Scan(ctx context.Context) ([]*registry.Unit, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	var (
		units []*registry.Unit
		errs  []error
	)
	for _, file := range files {
		unit, err := s.registry.Load(ctx, file)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to load tag", "path", file)
			errs = append(errs, err)
			continue
		}
		s.logger.Debug(ctx, "Loaded tag", "tag", unit.Name, "path", file)
		units = append(units, unit)
	}

	s.logger.Info(ctx, "Scan complete", "loaded", len(units), "failed", len(errs))
	return units, errors.Join(errs...)
}
