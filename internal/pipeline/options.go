package pipeline

import (
	"github.com/conneroisu/tagserve/internal/store"
)

// Value is either a literal or a function of the final state snapshot.
// The zero Value is unset and resolves to the caller's fallback.
type Value[T any] struct {
	set     bool
	literal T
	compute func(store.State) (T, error)
}

// Literal returns a Value that always resolves to v.
func Literal[T any](v T) Value[T] {
	return Value[T]{set: true, literal: v}
}

// Computed returns a Value resolved by calling fn with the state snapshot.
func Computed[T any](fn func(state store.State) (T, error)) Value[T] {
	if fn == nil {
		return Value[T]{}
	}
	return Value[T]{set: true, compute: fn}
}

// IsSet reports whether v was given a literal or a function.
func (v Value[T]) IsSet() bool {
	return v.set
}

// Resolve evaluates v against state.
func (v Value[T]) Resolve(state store.State, fallback T) (T, error) {
	switch {
	case !v.set:
		return fallback, nil
	case v.compute != nil:
		return v.compute(state)
	default:
		return v.literal, nil
	}
}

// Options customizes a single response.
type Options struct {
	// Header is extra markup placed in <head> after the configured header
	// markup.
	Header Value[string]
	// Status defaults to 200.
	Status Value[int]
	// Stylesheets and Scripts replace the configured asset lists when non-nil.
	Stylesheets []string
	Scripts     []string
	// PathPrefix replaces the configured prefix when non-empty.
	PathPrefix string
}

// Option configures Options.
type Option func(*Options)

// ValidStatus reports whether code is a status net/http will write.
func ValidStatus(code int) bool {
	return code >= 100 && code <= 999
}

// WithStatus sets the response status.
func WithStatus(v Value[int]) Option {
	return func(o *Options) { o.Status = v }
}

// WithHeader sets the extra head markup.
func WithHeader(v Value[string]) Option {
	return func(o *Options) { o.Header = v }
}

// WithStylesheets replaces the stylesheet list. Calling it with no paths
// renders a page without stylesheets.
func WithStylesheets(paths ...string) Option {
	return func(o *Options) { o.Stylesheets = append([]string{}, paths...) }
}

// WithScripts replaces the script list.
func WithScripts(paths ...string) Option {
	return func(o *Options) { o.Scripts = append([]string{}, paths...) }
}

// WithPathPrefix sets the URL prefix for root-relative asset paths.
func WithPathPrefix(prefix string) Option {
	return func(o *Options) { o.PathPrefix = prefix }
}

// NewOptions applies opts to empty Options.
func NewOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
