package agent

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

var ignoredDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"dist":         {},
}

// maxCollectedFileSize keeps binary artefacts and bundles out of task output.
const maxCollectedFileSize = 1 << 20

// changeCollector records files created or written under root while an agent runs.
type changeCollector struct {
	root    string
	watcher *fsnotify.Watcher
	log     *zerolog.Logger

	mu      sync.Mutex
	changed map[string]struct{}
	done    chan struct{}
}

func newChangeCollector(root string, logger *zerolog.Logger) (*changeCollector, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	c := &changeCollector{
		root:    root,
		watcher: w,
		log:     logger,
		changed: map[string]struct{}{},
		done:    make(chan struct{}),
	}
	if err := c.addTree(root, false); err != nil {
		_ = w.Close()
		return nil, err
	}
	go c.loop()
	return c, nil
}

// addTree watches dir and its subdirectories. For directories created during the run, record
// also marks files already inside them, since they may predate the watch.
func (c *changeCollector) addTree(dir string, record bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if record {
				c.mu.Lock()
				c.changed[path] = struct{}{}
				c.mu.Unlock()
			}
			return nil
		}
		if _, skip := ignoredDirs[d.Name()]; skip && path != dir {
			return filepath.SkipDir
		}
		return c.watcher.Add(path)
	})
}

func (c *changeCollector) loop() {
	defer close(c.done)
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if _, skip := ignoredDirs[info.Name()]; !skip {
					if err := c.addTree(ev.Name, true); err != nil {
						c.log.Debug().Err(err).Str("dir", ev.Name).Msg("watch new directory")
					}
				}
				continue
			}
			c.mu.Lock()
			c.changed[ev.Name] = struct{}{}
			c.mu.Unlock()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

// stop waits settle for trailing events, closes the watcher and returns changed files keyed by
// slash-separated path relative to root.
func (c *changeCollector) stop(settle time.Duration) map[string]string {
	if settle > 0 {
		time.Sleep(settle)
	}
	_ = c.watcher.Close()
	<-c.done

	c.mu.Lock()
	paths := make([]string, 0, len(c.changed))
	for p := range c.changed {
		paths = append(paths, p)
	}
	c.mu.Unlock()
	sort.Strings(paths)

	out := make(map[string]string, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() || info.Size() > maxCollectedFileSize {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			continue
		}
		out[filepath.ToSlash(rel)] = string(b)
	}
	return out
}
