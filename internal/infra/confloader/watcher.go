package confloader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// DefaultCoalesceInterval is the minimum gap between two change notifications.
const DefaultCoalesceInterval = 500 * time.Millisecond

// Watcher watches configuration files and directories for changes.
// Bursts of filesystem events are coalesced: callbacks run at most once per
// interval and receive every path changed since the previous run.
type Watcher struct {
	watcher   *fsnotify.Watcher
	callbacks []func([]string)
	mu        sync.RWMutex
	done      chan struct{}
	logger    logger.Logger
	limiter   *rate.Limiter

	pendingMu sync.Mutex
	pending   map[string]struct{}
	kick      chan struct{}
	stopOnce  sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithCoalesceInterval sets the minimum gap between notifications.
func WithCoalesceInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watcher := &Watcher{
		watcher: w,
		done:    make(chan struct{}),
		logger:  logger.Discard(),
		limiter: rate.NewLimiter(rate.Every(DefaultCoalesceInterval), 1),
		pending: make(map[string]struct{}),
		kick:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(watcher)
	}

	return watcher, nil
}

// Watch adds a file to watch. The parent directory is watched so that
// editor-style renames are seen.
func (w *Watcher) Watch(path string) error {
	dir := filepath.Dir(path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch directory",
			"path", dir,
			"error", err,
		)
		return err
	}
	w.logger.Debug("watching directory for changes",
		"path", dir,
		"file", filepath.Base(path),
	)
	return nil
}

// WatchDir adds a directory and all of its subdirectories. A missing
// directory is skipped.
func (w *Watcher) WatchDir(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		w.logger.Debug("directory not present, not watching", "path", root)
		return nil
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Error("failed to watch directory",
				"path", path,
				"error", err,
			)
			return err
		}
		return nil
	})
}

// OnChange registers a callback to be called with the changed paths.
func (w *Watcher) OnChange(callback func(paths []string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start starts watching for changes.
// This function blocks until Stop() is called.
func (w *Watcher) Start() {
	w.logger.Info("configuration watcher started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.dispatch(ctx)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Debug("watcher events channel closed")
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug("configuration file changed",
					"file", event.Name,
					"op", event.Op.String(),
				)
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = w.WatchDir(event.Name)
					}
				}
				w.enqueue(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Debug("watcher errors channel closed")
				return
			}
			w.logger.Error("configuration watcher error",
				"error", err,
			)
		case <-w.done:
			w.logger.Debug("watcher received stop signal")
			return
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		if err = w.watcher.Close(); err != nil {
			w.logger.Error("failed to close watcher",
				"error", err,
			)
			return
		}
		w.logger.Info("configuration watcher stopped")
	})
	return err
}

func (w *Watcher) enqueue(path string) {
	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// dispatch waits for the limiter, then delivers everything queued so far.
func (w *Watcher) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		w.pendingMu.Lock()
		paths := make([]string, 0, len(w.pending))
		for p := range w.pending {
			paths = append(paths, p)
		}
		w.pending = make(map[string]struct{})
		w.pendingMu.Unlock()

		if len(paths) == 0 {
			continue
		}
		sort.Strings(paths)
		w.notifyCallbacks(paths)
	}
}

// notifyCallbacks calls all registered callbacks.
func (w *Watcher) notifyCallbacks(paths []string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, cb := range w.callbacks {
		cb(paths)
	}
}
