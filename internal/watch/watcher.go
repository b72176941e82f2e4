// Package watch raises events for image files that appear in watched
// directories.
package watch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"solveeverylight/internal/fsutil"
)

// DefaultSettle is how long a file must stay unchanged before it is reported.
const DefaultSettle = 750 * time.Millisecond

// FileEvent represents a finished image file.
type FileEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified"
	Time      time.Time `json:"time"`
}

// FileSystemWatcher monitors directories for new FITS and XISF files.
type FileSystemWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan FileEvent
	watchDirs []string
	settle    time.Duration
	log       *slog.Logger
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
	ops     map[string]string
}

// NewFileSystemWatcher creates a watcher for watchPaths. A settle of zero
// uses DefaultSettle.
func NewFileSystemWatcher(watchPaths []string, settle time.Duration, logger *slog.Logger) (*FileSystemWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FileSystemWatcher{
		watcher:   watcher,
		Events:    make(chan FileEvent, 100),
		watchDirs: watchPaths,
		settle:    settle,
		log:       logger,
		done:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
		ops:       make(map[string]string),
	}, nil
}

// Start begins monitoring the configured directories
func (fsw *FileSystemWatcher) Start() error {
	for _, dir := range fsw.watchDirs {
		if err := fsw.watcher.Add(dir); err != nil {
			return err
		}
		fsw.log.Info("watching directory", "dir", dir)
	}

	fsw.wg.Add(1)
	go fsw.processEvents()
	return nil
}

// Stop stops the watcher and closes Events.
func (fsw *FileSystemWatcher) Stop() error {
	var err error
	fsw.stopOnce.Do(func() {
		close(fsw.done)
		err = fsw.watcher.Close()
		fsw.wg.Wait()

		fsw.mu.Lock()
		for p, t := range fsw.pending {
			t.Stop()
			delete(fsw.pending, p)
		}
		close(fsw.Events)
		fsw.mu.Unlock()
	})
	return err
}

func (fsw *FileSystemWatcher) processEvents() {
	defer fsw.wg.Done()
	for {
		select {
		case event, ok := <-fsw.watcher.Events:
			if !ok {
				return
			}

			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			default:
				continue
			}

			if !IsImageFile(event.Name) {
				continue
			}
			fsw.touch(event.Name, operation)

		case err, ok := <-fsw.watcher.Errors:
			if !ok {
				return
			}
			fsw.log.Error("filesystem watcher error", "error", err)

		case <-fsw.done:
			return
		}
	}
}

// touch (re)arms the settle timer for path. The first operation seen wins so
// a new file is reported as created even after several writes.
func (fsw *FileSystemWatcher) touch(path, operation string) {
	fsw.mu.Lock()
	defer fsw.mu.Unlock()
	if _, ok := fsw.ops[path]; !ok {
		fsw.ops[path] = operation
	}
	if t, ok := fsw.pending[path]; ok {
		t.Reset(fsw.settle)
		return
	}
	fsw.pending[path] = time.AfterFunc(fsw.settle, func() { fsw.emit(path) })
}

func (fsw *FileSystemWatcher) emit(path string) {
	fsw.mu.Lock()
	defer fsw.mu.Unlock()
	op := fsw.ops[path]
	delete(fsw.ops, path)
	delete(fsw.pending, path)

	// Stop closes Events under mu after closing done
	select {
	case <-fsw.done:
		return
	default:
	}

	select {
	case fsw.Events <- FileEvent{Path: path, Operation: op, Time: time.Now()}:
	default:
		fsw.log.Warn("event buffer full, dropping event", "path", path)
	}
}

// IsImageFile reports whether path has a FITS or XISF extension.
func IsImageFile(path string) bool {
	return fsutil.IsImageFile(path)
}
