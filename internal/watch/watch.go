// Package watch monitors a source tree for animation, settings and
// configuration changes using fsnotify, so watch mode can recompile only
// what changed.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/skeleton"
)

// debounce is how long a file must stay quiet before its change is emitted.
const debounce = 100 * time.Millisecond

// configExts are the config-folder files that affect compilation. Index
// files written into the same folder are not among them.
var configExts = map[string]bool{".toml": true, ".json": true, ".xml": true}

// ChangeKind describes the type of file change detected.
type ChangeKind int

const (
	ChangeSource   ChangeKind = iota // Animation source written or created
	ChangeSettings                   // Settings file written, created or removed
	ChangeConfig                     // Skeleton, preset or table file changed
	ChangeRemoved                    // Animation source deleted
)

// String returns a short label for logs.
func (k ChangeKind) String() string {
	switch k {
	case ChangeSource:
		return "source"
	case ChangeSettings:
		return "settings"
	case ChangeConfig:
		return "config"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one debounced file change.
type Change struct {
	Kind   ChangeKind
	File   string // changed file
	Source string // animation source affected, empty for config changes
}

// Watcher monitors a source root recursively. Directories created after
// Start are watched as they appear.
type Watcher struct {
	Root      string
	ConfigDir string
	Changes   <-chan Change // Read-only external channel

	changes  chan Change // Internal write channel
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for root. Files under configDir count as
// configuration.
func NewWatcher(root, configDir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ch := make(chan Change, 64)
	return &Watcher{
		Root:      root,
		ConfigDir: configDir,
		Changes:   ch,
		changes:   ch,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		watcher:   fw,
	}, nil
}

// Start adds every directory under the root and begins watching.
func (w *Watcher) Start() error {
	if err := w.addTree(w.Root); err != nil {
		w.watcher.Close()
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and the Changes channel. Changes nobody read are
// dropped. Stop may be called more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.watcher.Close()
		<-w.done // Wait for loop to exit
		close(w.changes)
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(p)
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				// Drain pending on close.
				for file := range pending {
					if !w.emit(file) {
						return
					}
				}
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Ignore errors; the directory may already be gone.
					_ = w.addTree(event.Name)
					continue
				}
			}
			if _, ok := w.classify(event.Name); !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = time.Now()
			}

		case now := <-ticker.C:
			for file, t := range pending {
				if now.Sub(t) >= debounce {
					if !w.emit(file) {
						return
					}
					delete(pending, file)
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Ignore watch errors; they're non-fatal.
		}
	}
}

// classify maps a path to the change it represents.
func (w *Watcher) classify(name string) (Change, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".tmp-") {
		return Change{}, false
	}
	ext := strings.ToLower(filepath.Ext(base))
	switch {
	case ext == animpath.SourceExt:
		return Change{Kind: ChangeSource, File: name, Source: name}, true
	case ext == animpath.SettingsExt:
		return Change{Kind: ChangeSettings, File: name, Source: animpath.ReplaceExt(name, animpath.SourceExt)}, true
	case ext == ".chr" || ext == skeleton.ParamsExt || (configExts[ext] && w.inConfigDir(name)):
		return Change{Kind: ChangeConfig, File: name}, true
	}
	return Change{}, false
}

func (w *Watcher) inConfigDir(name string) bool {
	if w.ConfigDir == "" {
		return false
	}
	rel, err := filepath.Rel(w.ConfigDir, name)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// emit sends the change for file. It reports false once Stop was called.
func (w *Watcher) emit(file string) bool {
	c, ok := w.classify(file)
	if !ok {
		return true
	}
	if c.Kind == ChangeSource {
		if _, err := os.Stat(file); err != nil {
			c.Kind = ChangeRemoved
		}
	}
	select {
	case w.changes <- c:
		return true
	case <-w.stop:
		return false
	}
}
