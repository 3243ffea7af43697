package watermark

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a FileStore whenever its backing file is changed from
// outside the process, e.g. an operator removing a table's entry to force a
// rescan. The store's own atomic replacements also trigger a reload, which
// is harmless.
type Watcher struct {
	store   *FileStore
	watcher *fsnotify.Watcher
	logger  *log.Logger

	// OnReload, if set, is called after every successful reload.
	OnReload func()

	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for store. Call Start to begin watching.
func NewWatcher(store *FileStore, logger *log.Logger) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watermark] ", log.LstdFlags)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		store:   store,
		watcher: w,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start watches the directory holding the store's file. The directory is
// watched rather than the file so that atomic renames are observed.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if err := w.store.Reload(); err != nil {
				w.logger.Printf("Error reloading %s: %v", w.store.Path(), err)
				continue
			}
			w.logger.Printf("Reloaded watermarks after %s", event.Op)
			if w.OnReload != nil {
				w.OnReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}

// relevant filters for create/write/remove/rename of the store file itself;
// temp files and chmod events are ignored.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.store.Path() {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
