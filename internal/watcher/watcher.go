// Package watcher emits change events for a single tracked design file.
//
// The watcher registers the file's parent directory with fsnotify and filters
// events down to the exact tracked path, because editors that save through a
// temp-file-and-rename dance produce Create or Rename on the final path
// rather than a plain Write. Raw notifications are debounced: an event is
// emitted only once the file has been quiet for the configured interval, so
// a multi-hundred-megabyte save that arrives as dozens of writes becomes one
// event.
//
// Events carry no payload. Consumers decide what a change means; the watcher
// only reports that the tracked file settled after being touched.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op classifies a tracked-file event.
type Op int

const (
	// OpModified means the file's content changed and then settled.
	OpModified Op = iota
	// OpRemoved means the file disappeared from its directory.
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpModified:
		return "modified"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event reports a settled change to the tracked file.
type Event struct {
	Path    string
	Op      Op
	Size    int64
	ModTime time.Time
}

// Watcher monitors one tracked file for changes.
type Watcher struct {
	path     string
	dir      string
	debounce time.Duration

	fsw *fsnotify.Watcher

	// lastTouch is the time of the most recent raw notification; zero when
	// no change is pending.
	mu        sync.RWMutex
	lastTouch time.Time

	eventCh chan Event
	errCh   chan error

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for the file at path. The file's directory must
// exist; the file itself may appear later.
func New(path string, debounce time.Duration) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	return &Watcher{
		path:     absPath,
		dir:      filepath.Dir(absPath),
		debounce: debounce,
		fsw:      fsw,
		eventCh:  make(chan Event, 16),
		errCh:    make(chan error, 4),
		stop:     make(chan struct{}),
	}, nil
}

// Path returns the absolute tracked file path.
func (w *Watcher) Path() string {
	return w.path
}

// Events returns the channel of settled change events.
func (w *Watcher) Events() <-chan Event {
	return w.eventCh
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errCh
}

// Start begins watching. The parent directory is registered rather than the
// file so rename-style saves keep being observed after the inode changes.
func (w *Watcher) Start() error {
	if _, err := os.Stat(w.dir); err != nil {
		return fmt.Errorf("stat watch directory: %w", err)
	}
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", w.dir, err)
	}

	w.wg.Add(2)
	go w.rawLoop()
	go w.settleLoop()

	return nil
}

// Stop shuts the watcher down and closes its channels.
func (w *Watcher) Stop() error {
	close(w.stop)
	w.wg.Wait()
	err := w.fsw.Close()
	close(w.eventCh)
	close(w.errCh)
	return err
}

// rawLoop consumes raw fsnotify events and records activity on the exact
// tracked path.
func (w *Watcher) rawLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}

			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// The file may be mid-replace; only report removal if it
				// is really gone.
				if _, err := os.Stat(w.path); err == nil {
					w.touch()
					continue
				}
				w.clearPending()
				w.emit(Event{Path: w.path, Op: OpRemoved, ModTime: time.Now()})

			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				w.touch()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errCh <- err:
			default:
			}
		}
	}
}

// settleLoop emits one modified event per burst of raw notifications, once
// the file has been quiet for the debounce interval.
func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	tick := w.debounce / 4
	if tick < 25*time.Millisecond {
		tick = 25 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case t := <-ticker.C:
			w.checkSettled(t)
		}
	}
}

// checkSettled stats the file outside the lock, then re-checks that no new
// notification arrived during the stat before emitting, so a save that is
// still in progress settles again from scratch.
func (w *Watcher) checkSettled(now time.Time) {
	w.mu.RLock()
	pending := w.lastTouch
	w.mu.RUnlock()

	if pending.IsZero() || now.Sub(pending) < w.debounce {
		return
	}

	info, err := os.Stat(w.path)
	if err != nil {
		// Removal is reported by the event loop; a transient stat failure
		// just tries again on the next tick.
		return
	}

	w.mu.Lock()
	if w.lastTouch != pending {
		w.mu.Unlock()
		return
	}
	w.lastTouch = time.Time{}
	w.mu.Unlock()

	w.emit(Event{
		Path:    w.path,
		Op:      OpModified,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	})
}

func (w *Watcher) touch() {
	w.mu.Lock()
	w.lastTouch = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) clearPending() {
	w.mu.Lock()
	w.lastTouch = time.Time{}
	w.mu.Unlock()
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.eventCh <- ev:
	default:
		// Consumer is behind; dropping is safe, the flag it would set is
		// already sticky after the first delivered event.
	}
}
