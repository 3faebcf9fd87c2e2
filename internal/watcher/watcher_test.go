package watcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tagserve/internal/logging"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFileWatcherAddFilterAndHandler(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(NoHiddenFilter)
	watcher.AddFilter(NoBackupFilter)
	assert.Len(t, watcher.filters, 2)

	assert.True(t, watcher.accept("tags/home.tag"))
	assert.False(t, watcher.accept("tags/.home.tag.swp"))
	assert.False(t, watcher.accept("tags/home.tag~"))

	watcher.AddHandler(func([]ChangeEvent) error { return nil })
	assert.Len(t, watcher.handlers, 1)
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NoError(t, watcher.AddPath(t.TempDir()))
	assert.Error(t, watcher.AddPath("/non/existent/path"))
	assert.Error(t, watcher.AddPath(""))
}

func TestAddRecursiveSkipsHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o755))

	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, watcher.AddRecursive(root))

	list := watcher.WatchList()
	assert.Contains(t, list, root)
	assert.Contains(t, list, filepath.Join(root, "a"))
	assert.Contains(t, list, filepath.Join(root, "a", "b"))
	assert.NotContains(t, list, filepath.Join(root, ".git"))
}

func TestFileWatcherDeliversChanges(t *testing.T) {
	dir := t.TempDir()

	watcher, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	var (
		mu     sync.Mutex
		events []ChangeEvent
	)
	watcher.AddHandler(func(batch []ChangeEvent) error {
		mu.Lock()
		events = append(events, batch...)
		mu.Unlock()
		return nil
	})
	require.NoError(t, watcher.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	path := filepath.Join(dir, "home.tag")
	require.NoError(t, os.WriteFile(path, []byte("<home-page></home-page>"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e.Path == path {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()

	watcher, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	seen := make(chan string, 16)
	watcher.AddHandler(func(batch []ChangeEvent) error {
		for _, e := range batch {
			seen <- e.Path
		}
		return nil
	})
	require.NoError(t, watcher.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	sub := filepath.Join(dir, "parts")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool {
		for _, w := range watcher.WatchList() {
			if w == sub {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	path := filepath.Join(sub, "nav.tag")
	require.NoError(t, os.WriteFile(path, []byte("<nav-bar></nav-bar>"), 0o644))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case p := <-seen:
			if p == path {
				return
			}
		case <-timeout:
			t.Fatal("no event for file in new directory")
		}
	}
}

func TestFileWatcherStopIsIdempotent(t *testing.T) {
	watcher, err := NewFileWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)

	assert.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}

func TestNoHiddenFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"tags/home.tag", true},
		{"./tags/home.tag", true},
		{"../tags/home.tag", true},
		{"tags/.git/config", false},
		{".hidden/home.tag", false},
		{"tags/.home.tag.swp", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, NoHiddenFilter(tc.path))
		})
	}
}

func TestDebouncer(t *testing.T) {
	d := newDebouncer(30*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.start(ctx)

	now := time.Now()
	for _, e := range []ChangeEvent{
		{Type: EventTypeCreated, Path: "b.tag", ModTime: now},
		{Type: EventTypeModified, Path: "a.tag", ModTime: now},
		{Type: EventTypeModified, Path: "b.tag", ModTime: now},
	} {
		d.events <- e
	}

	select {
	case batch := <-d.output:
		require.Len(t, batch, 2)
		assert.Equal(t, "a.tag", batch[0].Path)
		assert.Equal(t, "b.tag", batch[1].Path)
		assert.Equal(t, EventTypeModified, batch[1].Type, "last event per path wins")
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func TestDebouncerFlushEmpty(t *testing.T) {
	d := newDebouncer(time.Millisecond, nil)
	d.flush()

	select {
	case <-d.output:
		t.Fatal("empty flush must not emit")
	default:
	}
}

func TestDebouncerLogsDroppedBatch(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelWarn, Format: "json", Output: &logs})
	d := newDebouncer(time.Hour, logger)

	for i := 0; i < cap(d.output); i++ {
		d.output <- nil
	}

	d.pending = append(d.pending, ChangeEvent{Type: EventTypeModified, Path: "tags/home.tag"})
	d.flush()

	assert.Contains(t, logs.String(), "Dropping debounced batch")
	assert.Contains(t, logs.String(), "tags/home.tag")
	assert.Empty(t, d.pending)
}
