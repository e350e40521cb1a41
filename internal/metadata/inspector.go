package metadata

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Inspector runs ffprobe and caches the results. Cache entries are keyed by
// path and guarded by the file's modification time; an fsnotify watcher
// evicts entries eagerly when a file is rewritten or removed.
type Inspector struct {
	ffprobePath string
	logger      hclog.Logger

	mu      sync.RWMutex
	cache   map[string]*cacheEntry
	watcher *fsnotify.Watcher
	done    chan struct{}
}

type cacheEntry struct {
	modTime time.Time
	info    *MediaInfo
}

// NewInspector creates an inspector. Close must be called to stop the
// filesystem watcher.
func NewInspector(ffprobePath string, logger hclog.Logger) (*Inspector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ins := &Inspector{
		ffprobePath: ffprobePath,
		logger:      logger.Named("metadata"),
		cache:       make(map[string]*cacheEntry),
		watcher:     watcher,
		done:        make(chan struct{}),
	}
	go ins.watchLoop()
	return ins, nil
}

// Close stops the watcher and drops the cache.
func (i *Inspector) Close() error {
	close(i.done)
	return i.watcher.Close()
}

// Probe returns the track layout of a media file, from cache when the file
// has not changed since the last probe.
func (i *Inspector) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	i.mu.RLock()
	entry, ok := i.cache[path]
	i.mu.RUnlock()
	if ok && entry.modTime.Equal(st.ModTime()) {
		return entry.info, nil
	}

	out, err := runFFprobe(ctx, i.ffprobePath, path)
	if err != nil {
		return nil, err
	}
	info := out.toMediaInfo()

	i.mu.Lock()
	i.cache[path] = &cacheEntry{modTime: st.ModTime(), info: info}
	i.mu.Unlock()

	// Best effort: a failed watch just means we fall back to the mtime
	// check on the next probe.
	if err := i.watcher.Add(path); err != nil {
		i.logger.Debug("failed to watch probed file", "path", path, "error", err)
	}

	return info, nil
}

// Evict drops one path from the cache.
func (i *Inspector) Evict(path string) {
	i.mu.Lock()
	delete(i.cache, path)
	i.mu.Unlock()
}

// CacheSize reports the number of cached probe results.
func (i *Inspector) CacheSize() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.cache)
}

func (i *Inspector) watchLoop() {
	for {
		select {
		case <-i.done:
			return
		case event, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				i.logger.Debug("evicting probe cache entry", "path", event.Name, "op", event.Op.String())
				i.Evict(event.Name)
			}
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			i.logger.Warn("file watcher error", "error", err)
		}
	}
}
