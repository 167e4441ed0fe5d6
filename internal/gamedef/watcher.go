package gamedef

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a game bundle directory for changes and calls a callback
// when the model or config document is modified. It uses polling (not
// fsnotify) to keep dependencies minimal. A bundle that no longer compiles is
// reported and skipped; the previous documents stay current.
type Watcher struct {
	dir      string
	interval time.Duration
	onChange func(model *Model, cfg *Config)

	mu       sync.Mutex
	model    *Model
	config   *Config
	done     chan struct{}
	stopOnce sync.Once

	// last known bundle state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a bundle watcher for the game directory at dir. It loads
// the initial bundle immediately and starts polling in a background goroutine.
func NewWatcher(dir string, onChange func(model *Model, cfg *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		dir:      dir,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	model, cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("gamedef: watcher initial load: %w", err)
	}
	w.model = model
	w.config = cfg
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid bundle documents.
func (w *Watcher) Current() (*Model, *Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model, w.config
}

// Stop stops the bundle watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the bundle periodically.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check re-reads the bundle and, if it has changed and still compiles, calls
// onChange and updates the current documents.
func (w *Watcher) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	mtime, err := w.latestMtime()
	if err != nil {
		slog.Warn("bundle watcher: cannot stat bundle", "dir", w.dir, "err", err)
		return
	}

	w.mu.Lock()
	last := w.lastMtime
	w.mu.Unlock()

	if mtime.Equal(last) {
		return
	}

	model, cfg, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("bundle watcher: failed to load bundle", "dir", w.dir, "err", err)
		return
	}

	w.mu.Lock()

	if hash == w.lastHash {
		// Files were touched but content is identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}

	w.model = model
	w.config = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("bundle watcher: game bundle reloaded", "dir", w.dir)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(model, cfg)
	}
}

// loadAndHash reads the bundle documents, parses them, and verifies they
// still compile. It returns the raw documents alongside a joint SHA-256 hash
// and the latest modification time. A bundle that does not compile returns an
// error; the caller keeps the old documents.
func (w *Watcher) loadAndHash() (*Model, *Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	modelPath, err := firstExisting(w.dir, "model.json", "model.yaml", "model.yml")
	if err != nil {
		return nil, nil, zeroHash, time.Time{}, err
	}
	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, nil, zeroHash, time.Time{}, err
	}

	var configData []byte
	if configPath, err := firstExisting(w.dir, "config.json", "config.yaml", "config.yml"); err == nil {
		if configData, err = os.ReadFile(configPath); err != nil {
			return nil, nil, zeroHash, time.Time{}, err
		}
	}

	h := sha256.New()
	h.Write(modelData)
	h.Write([]byte{0})
	h.Write(configData)
	var hash [sha256.Size]byte
	h.Sum(hash[:0])

	model, err := LoadModelFromReader(bytes.NewReader(modelData))
	if err != nil {
		return nil, nil, zeroHash, time.Time{}, err
	}
	cfg := &Config{}
	if len(configData) > 0 {
		if cfg, err = LoadConfigFromReader(bytes.NewReader(configData)); err != nil {
			return nil, nil, zeroHash, time.Time{}, err
		}
	}
	if _, err := Compile(model, cfg); err != nil {
		return nil, nil, zeroHash, time.Time{}, err
	}

	mtime, err := w.latestMtime()
	if err != nil {
		return nil, nil, zeroHash, time.Time{}, err
	}
	return model, cfg, hash, mtime, nil
}

// latestMtime returns the newest modification time across the bundle files.
func (w *Watcher) latestMtime() (time.Time, error) {
	var latest time.Time
	for _, names := range [][]string{
		{"model.json", "model.yaml", "model.yml"},
		{"config.json", "config.yaml", "config.yml"},
	} {
		path, err := firstExisting(w.dir, names...)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	if latest.IsZero() {
		return time.Time{}, fmt.Errorf("no bundle files in %q", w.dir)
	}
	return latest, nil
}
