package config

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"deskpilot/internal/automation"
)

const debounceInterval = 500 * time.Millisecond

// Holder is the live view of the config, safe for concurrent readers. The
// watcher swaps it on file changes so long-lived components can pick up
// shortcut edits without a restart.
type Holder struct {
	mu  sync.RWMutex
	cfg Config
}

func NewHolder(cfg Config) *Holder {
	return &Holder{cfg: cfg}
}

func (h *Holder) Current() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *Holder) Set(cfg Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// Shortcuts satisfies the session guard's chord-table hook.
func (h *Holder) Shortcuts() automation.Shortcuts {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.Shortcuts
}

// Watcher reloads the config file into a Holder when it changes on disk.
type Watcher struct {
	store  *Store
	holder *Holder

	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	closeOnce sync.Once
}

// Watch starts watching the store's directory. The directory, not the file,
// is watched: atomic saves replace the file by rename, which would sever a
// watch on the file itself.
func Watch(store *Store, holder *Holder) (*Watcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsW.Add(store.dir); err != nil {
		fsW.Close()
		return nil, err
	}

	w := &Watcher{
		store:     store,
		holder:    holder,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.cancel)
		w.fsWatcher.Close()
	})
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	var timer *time.Timer

	for {
		select {
		case <-w.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.store.LoadOrInit()
	if err != nil {
		log.Printf("config reload failed, keeping previous: %v", err)
		return
	}
	w.holder.Set(ApplyEnv(cfg))
	log.Printf("config reloaded from %s", w.store.Path())
}
