package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// InboxSuffix is the suffix of files the inbox accepts.
const InboxSuffix = ".json.gz"

// EventOp is what happened to an inbox file.
type EventOp int

const (
	OpCreate EventOp = iota // file appeared
	OpModify                // file was written to
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	default:
		return "unknown"
	}
}

// InboxEvent reports a snapshot file that appeared or changed in the inbox.
type InboxEvent struct {
	Path string
	Op   EventOp
}

// InboxWatcher watches one directory for compressed snapshot files.
type InboxWatcher struct {
	watcher *fsnotify.Watcher
	events  chan InboxEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewInboxWatcher allocates the fsnotify handle. Nothing is watched until
// Start.
func NewInboxWatcher() (*InboxWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to open inbox watcher: %w", err)
	}
	return &InboxWatcher{
		watcher: fsw,
		events:  make(chan InboxEvent, 64),
		errors:  make(chan error, 8),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (iw *InboxWatcher) Start(dir string) error {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	if iw.running {
		return fmt.Errorf("inbox watcher already started on %s", iw.dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve inbox %s: %w", dir, err)
	}
	if err := iw.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", dir, err)
	}
	iw.dir = abs

	iw.running = true
	iw.wg.Add(1)
	go iw.processEvents()

	return nil
}

// Stop stops watching and blocks until the event loop has exited.
// Stopping a watcher that never started only releases the fsnotify handle.
func (iw *InboxWatcher) Stop() error {
	iw.mu.Lock()
	if !iw.running {
		iw.mu.Unlock()
		return iw.watcher.Close()
	}
	iw.running = false
	iw.mu.Unlock()

	close(iw.done)

	if err := iw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close inbox watcher: %w", err)
	}

	iw.wg.Wait()

	close(iw.events)
	close(iw.errors)

	return nil
}

// Events delivers inbox changes. It is closed by Stop.
func (iw *InboxWatcher) Events() <-chan InboxEvent {
	return iw.events
}

// Errors delivers fsnotify failures. It is closed by Stop.
func (iw *InboxWatcher) Errors() <-chan error {
	return iw.errors
}

// Dir returns the absolute path being watched.
func (iw *InboxWatcher) Dir() string {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	return iw.dir
}

func (iw *InboxWatcher) processEvents() {
	defer iw.wg.Done()

	for {
		select {
		case <-iw.done:
			return

		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}

			if inboxEvent, ok := iw.convertEvent(event); ok {
				select {
				case iw.events <- inboxEvent:
				case <-iw.done:
					return
				}
			}

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case iw.errors <- err:
			case <-iw.done:
				return
			}
		}
	}
}

// convertEvent keeps creates and writes of snapshot files directly inside
// the inbox. Removes and renames are dropped: a moved-in file shows up as a
// create under its new name.
func (iw *InboxWatcher) convertEvent(event fsnotify.Event) (InboxEvent, bool) {
	if !IsInboxFile(event.Name) {
		return InboxEvent{}, false
	}

	absPath, err := filepath.Abs(event.Name)
	if err != nil || filepath.Dir(absPath) != iw.dir {
		return InboxEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	default:
		return InboxEvent{}, false
	}

	return InboxEvent{Path: absPath, Op: op}, true
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (iw *InboxWatcher) IsRunning() bool {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	return iw.running
}

// IsInboxFile reports whether name looks like a compressed snapshot.
// Hidden files are skipped so temp files written next to the target are
// not picked up half-written.
func IsInboxFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, InboxSuffix) && !strings.HasPrefix(base, ".")
}
