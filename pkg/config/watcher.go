package config

import (
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a subset of the configuration when the config file
// changes on disk. Only log_level and presence.ttl_seconds are applied
// live; everything else requires a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	mu      sync.RWMutex
	current *Config
	onApply func(*Config)
	done    chan struct{}
}

// NewWatcher starts watching the config file's directory. onApply is
// invoked with the freshly loaded config after a successful reload.
func NewWatcher(path string, initial *Config, onApply func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors replace files on save
	// and the inode-level watch would be lost.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		current: initial,
		onApply: onApply,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently applied configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Config] watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	fresh, err := LoadConfigFromFile(w.path)
	if err != nil {
		log.Printf("[Config] reload failed, keeping previous config: %v", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	// Only the hot-reloadable fields are taken from the new file.
	next := *prev
	next.LogLevel = fresh.LogLevel
	next.Presence.TTLSeconds = fresh.Presence.TTLSeconds
	w.current = &next
	w.mu.Unlock()

	if prev.LogLevel != next.LogLevel {
		log.Printf("[Config] log_level changed: %s -> %s", prev.LogLevel, next.LogLevel)
	}
	if prev.Presence.TTLSeconds != next.Presence.TTLSeconds {
		log.Printf("[Config] presence ttl changed: %ds -> %ds", prev.Presence.TTLSeconds, next.Presence.TTLSeconds)
	}
	if w.onApply != nil {
		w.onApply(&next)
	}
}
