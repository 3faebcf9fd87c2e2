package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/tagserve/internal/logging"
	"github.com/conneroisu/tagserve/internal/registry"
	"github.com/conneroisu/tagserve/internal/scanner"
)

// ReloadEventType is the outcome of a reload attempt.
type ReloadEventType string

const (
	EventLoaded ReloadEventType = "loaded"
	EventError  ReloadEventType = "error"
)

// Event reports the result of recompiling one changed file.
type Event struct {
	Type      ReloadEventType
	Name      string
	Path      string
	Err       error
	Timestamp time.Time
}

// DefaultDebounce is used when no debounce delay is configured.
const DefaultDebounce = 300 * time.Millisecond

const subscriberBuffer = 16

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithDebounce sets how long the reloader waits for writes to settle.
func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// Reloader recompiles changed tag sources into the registry.
//
// Created and modified files matching the pattern are loaded. Deleted and
// renamed files are ignored, so their tags stay registered. A file that
// fails to compile, or whose tag name is owned by another file, leaves the
// previously registered unit in place and is reported as an error event.
type Reloader struct {
	registry *registry.Registry
	pattern  scanner.Pattern
	debounce time.Duration
	logger   logging.Logger

	watcher *FileWatcher
	cancel  context.CancelFunc

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewReloader creates a reloader for files matching pattern.
func NewReloader(reg *registry.Registry, pattern string, logger logging.Logger, opts ...ReloaderOption) (*Reloader, error) {
	p, err := scanner.ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	r := &Reloader{
		registry:    reg,
		pattern:     p,
		debounce:    DefaultDebounce,
		logger:      logger.WithComponent("reloader"),
		subscribers: make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start begins watching the pattern's base directory.
func (r *Reloader) Start(ctx context.Context) error {
	fw, err := NewFileWatcher(r.debounce, r.logger)
	if err != nil {
		return err
	}
	fw.AddFilter(NoHiddenFilter)
	fw.AddFilter(NoBackupFilter)
	fw.AddFilter(r.pattern.Match)
	fw.AddHandler(func(events []ChangeEvent) error {
		return r.handle(ctx, events)
	})

	if err := fw.AddRecursive(r.pattern.Base); err != nil {
		_ = fw.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.watcher = fw
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Info(ctx, "Watching tag sources", "base", r.pattern.Base, "pattern", r.pattern.Pattern)
	return fw.Start(ctx)
}

// Stop stops watching and closes every subscription.
func (r *Reloader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.cancel != nil {
		r.cancel()
	}
	for ch := range r.subscribers {
		close(ch)
		delete(r.subscribers, ch)
	}
	if r.watcher != nil {
		return r.watcher.Stop()
	}
	return nil
}

// Subscribe returns a channel receiving reload events. Events are dropped
// for a subscriber whose buffer is full.
func (r *Reloader) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		close(ch)
		return ch
	}
	r.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (r *Reloader) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sub := range r.subscribers {
		if sub == ch {
			close(sub)
			delete(r.subscribers, sub)
			return
		}
	}
}

// handle reloads a debounced batch. Failures are reported as events, not
// returned, so the watcher does not log them twice.
func (r *Reloader) handle(ctx context.Context, events []ChangeEvent) error {
	for _, event := range events {
		switch event.Type {
		case EventTypeCreated, EventTypeModified:
		default:
			r.logger.Debug(ctx, "Ignoring file event", "path", event.Path, "event", event.Type.String())
			continue
		}

		_ = r.Reload(ctx, event.Path)
	}
	return nil
}

// Reload recompiles path and publishes the outcome.
func (r *Reloader) Reload(ctx context.Context, path string) error {
	unit, err := r.registry.Load(ctx, path)
	if err != nil {
		r.logger.Error(ctx, err, "Reload failed, keeping previous version", "path", path)
		r.emit(Event{Type: EventError, Path: path, Err: err, Timestamp: time.Now()})
		return err
	}

	r.logger.Info(ctx, "Reloaded tag", "tag", unit.Name, "path", unit.FilePath)
	r.emit(Event{Type: EventLoaded, Name: unit.Name, Path: unit.FilePath, Timestamp: time.Now()})
	return nil
}

func (r *Reloader) emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	for ch := range r.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
