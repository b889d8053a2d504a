// Package reload detects changes to the files a configuration build reads.
package reload

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kfrey-idm/emod-api-sub000/internal/config"
)

// stamp identifies one version of a file.
type stamp struct {
	modTime time.Time
	size    int64
}

func stampOf(path string) (stamp, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return stamp{}, false
	}
	return stamp{modTime: info.ModTime(), size: info.Size()}, true
}

// Watcher remembers the stamps of a build's source files and reports which
// of them changed.
type Watcher struct {
	mu       sync.Mutex
	snapshot map[string]stamp
}

// NewWatcher snapshots the source files of cfg plus any extra paths, such as
// the default configurations named by override documents.
func NewWatcher(cfg *config.Config, extra ...string) (*Watcher, error) {
	w := &Watcher{}
	if err := w.Update(cfg, extra...); err != nil {
		return nil, err
	}
	return w, nil
}

// Update replaces the snapshot. Files that do not exist yet are not tracked
// until a later Update finds them.
func (w *Watcher) Update(cfg *config.Config, extra ...string) error {
	if w == nil {
		return nil
	}
	tracked := config.SourceFiles(cfg)
	for _, path := range extra {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		tracked = append(tracked, path)
	}
	next := make(map[string]stamp, len(tracked))
	for _, path := range uniquePaths(tracked) {
		if s, ok := stampOf(path); ok {
			next[path] = s
		}
	}
	w.mu.Lock()
	w.snapshot = next
	w.mu.Unlock()
	return nil
}

// Files lists the tracked paths in lexical order.
func (w *Watcher) Files() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.snapshot))
	for path := range w.snapshot {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// Check reports, in lexical order, the tracked files whose modification time
// or size differs from the snapshot, including files that were removed.
func (w *Watcher) Check() ([]string, error) {
	if w == nil {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0)
	for path, before := range w.snapshot {
		now, ok := stampOf(path)
		if !ok || !now.modTime.Equal(before.modTime) || now.size != before.size {
			changed = append(changed, path)
		}
	}
	slices.Sort(changed)
	return changed, nil
}

// uniquePaths drops blank and repeated entries, keeping first occurrences.
func uniquePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if strings.TrimSpace(path) == "" || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}
