// Package watch recompiles a single Lumen source file whenever it
// changes on disk, for `lumen watch`. Adapted from pkg/index/watcher.go's
// fsnotify + debounce shape, trimmed to the one-file case: Lumen has no
// project-wide index to keep warm, just a Program to rebuild.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lumen/pkg/lumen/compiler"
)

// Watcher recompiles path on every write event, debounced by
// debounce, and reports each recompilation (success or CompileError)
// through OnRecompile.
type Watcher struct {
	path     string
	opts     compiler.Options
	debounce time.Duration
	log      arbor.ILogger

	fs     *fsnotify.Watcher
	stopCh chan struct{}
	mu     sync.Mutex

	OnRecompile func(prog *compiler.Program, err error)
}

// New builds a Watcher for path. debounce of 0 defaults to 200ms,
// matching the teacher's own debounce default order of magnitude
// (pkg/index's Config.DebounceMs defaults to 500ms for a whole
// project; a single file recompiles fast enough to debounce tighter).
func New(path string, opts compiler.Options, debounce time.Duration, log arbor.ILogger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		path:     path,
		opts:     opts,
		debounce: debounce,
		log:      log,
		fs:       fs,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start watches the file's parent directory (fsnotify does not watch
// individual files reliably across editors' save-via-rename behavior)
// and recompiles on every event naming path itself.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", dir, err)
	}
	go w.loop()
	return nil
}

func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.recompile)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn().Err(err).Msg("watch: fsnotify error")
			}
		}
	}
}

func (w *Watcher) recompile() {
	w.mu.Lock()
	defer w.mu.Unlock()

	prog, err := compiler.CompileFile(w.path, w.opts)
	if w.log != nil {
		if err != nil {
			w.log.Warn().Str("path", w.path).Err(err).Msg("watch: recompile failed")
		} else {
			w.log.Info().Str("path", w.path).Msg("watch: recompiled")
		}
	}
	if w.OnRecompile != nil {
		w.OnRecompile(prog, err)
	}
}
