// Package profiles maintains a live catalog of instrument test profiles in a
// configured folder. Only files in the catalog may be opened through the
// bridge; requests never reach the filesystem with a caller-supplied path.
package profiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a profile is not in the catalog.
	ErrNotFound = errors.New("profiles: profile not found")

	// ErrInvalidName is returned for names containing path separators or
	// traversal components.
	ErrInvalidName = errors.New("profiles: invalid profile name")
)

// Profile describes one test profile file.
type Profile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Catalog watches the profile folder and serves its current contents.
type Catalog struct {
	dir    string
	exts   map[string]bool
	logger zerolog.Logger

	mu    sync.RWMutex
	files map[string]Profile

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New scans dir and starts watching it for changes. Extensions are matched
// case-insensitively.
func New(dir string, extensions []string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		dir:    dir,
		exts:   make(map[string]bool, len(extensions)),
		logger: logger.With().Str("component", "profiles").Logger(),
		files:  make(map[string]Profile),
		done:   make(chan struct{}),
	}
	for _, ext := range extensions {
		c.exts[strings.ToLower(ext)] = true
	}

	if err := c.rescan(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("profiles: creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("profiles: watching %s: %w", dir, err)
	}
	c.watcher = watcher

	go c.watch()

	return c, nil
}

// List returns the catalog contents sorted by name.
func (c *Catalog) List() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Profile, 0, len(c.files))
	for _, p := range c.files {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve validates a profile name and returns the absolute path to hand to
// the instrument. Names with path separators or traversal components are
// rejected before the catalog is consulted.
func (c *Catalog) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.files[name]; ok {
		return filepath.Join(c.dir, name), nil
	}

	// allow extension-less names if exactly one configured extension matches
	if filepath.Ext(name) == "" {
		var match string
		for candidate := range c.files {
			if strings.TrimSuffix(candidate, filepath.Ext(candidate)) == name {
				if match != "" {
					return "", fmt.Errorf("%w: %s is ambiguous", ErrNotFound, name)
				}
				match = candidate
			}
		}
		if match != "" {
			return filepath.Join(c.dir, match), nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Close stops the watcher.
func (c *Catalog) Close() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func (c *Catalog) rescan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("profiles: reading %s: %w", c.dir, err)
	}

	files := make(map[string]Profile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if len(c.exts) > 0 && !c.exts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files[entry.Name()] = Profile{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		}
	}

	c.mu.Lock()
	c.files = files
	c.mu.Unlock()
	return nil
}

// watch refreshes the catalog when the folder changes. A full rescan per
// event keeps the bookkeeping simple; profile folders are small.
func (c *Catalog) watch() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := c.rescan(); err != nil {
					c.logger.Warn().Err(err).Msg("profile rescan failed")
				}
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Err(err).Msg("profile watcher error")
		}
	}
}
