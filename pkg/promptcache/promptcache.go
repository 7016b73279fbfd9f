// Package promptcache implements the system-prompt cache: the prompt
// text is loaded from a filesystem path and kept cached until the file's
// modification time changes. An fsnotify watcher (grounded on
// nico-hyperjump-sagasu's internal/watcher lifecycle pattern) invalidates
// the cache proactively; the mtime check on read remains the source of
// truth regardless of whether the watcher is running.
package promptcache

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Cache serves the system prompt text, re-reading the file only when its
// mtime has changed since the last successful read.
type Cache struct {
	path       string
	defaultVal string

	mu      sync.Mutex
	loaded  bool
	content string
	modTime time.Time

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// New builds a Cache for path, falling back to defaultVal whenever path is
// absent or unreadable.
func New(path, defaultVal string) *Cache {
	return &Cache{path: path, defaultVal: defaultVal}
}

// Get returns the current prompt text, re-reading the file if its mtime
// changed since the last read. Concurrent callers serialize on a single
// mutex, including the re-verification stat.
func (c *Cache) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		if !c.loaded {
			c.content = c.defaultVal
			c.loaded = true
		}
		return c.content
	}

	if c.loaded && info.ModTime().Equal(c.modTime) {
		return c.content
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !c.loaded {
			c.content = c.defaultVal
			c.loaded = true
		}
		return c.content
	}

	// Re-verify: if the file changed between the stat and the read, read
	// it once more so content and modTime describe the same version.
	if again, err := os.Stat(c.path); err == nil && !again.ModTime().Equal(info.ModTime()) {
		if fresh, err := os.ReadFile(c.path); err == nil {
			data, info = fresh, again
		}
	}

	c.content = string(data)
	c.modTime = info.ModTime()
	c.loaded = true
	return c.content
}

// WatchForChanges starts a background fsnotify watcher on the prompt
// file's parent directory so a rapid edit is noticed without waiting for
// the next Get() call to stat the file. It is purely an optimization: if
// the watcher fails to start (e.g. the directory does not exist yet), Get
// still falls back correctly on every call. Call the returned stop func
// (or cancel ctx) to shut the watcher down.
func (c *Cache) WatchForChanges(ctx context.Context, logger *slog.Logger) (stop func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if logger != nil {
			logger.Warn("promptcache: fsnotify unavailable, falling back to stat-on-read", "error", err)
		}
		return func() {}
	}
	dir := dirOf(c.path)
	if err := watcher.Add(dir); err != nil {
		if logger != nil {
			logger.Warn("promptcache: could not watch directory", "dir", dir, "error", err)
		}
		_ = watcher.Close()
		return func() {}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c.watcher = watcher
	c.cancel = cancel

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == c.path {
					c.invalidate()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return cancel
}

func (c *Cache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
