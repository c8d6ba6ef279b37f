// 配置文件变更监听器实现。
//
// 基于 fsnotify 文件系统事件触发，轮询兜底，防抖后回调。
package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher watches configuration files for changes. It subscribes
// to OS change notifications on each file's parent directory, filtered
// to the watched files, with a modification-time polling fallback for
// filesystems that do not deliver events. Events are debounced before
// dispatch so a partially-written file is not read mid-write.
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         map[string]struct{} // 绝对路径
	debounceDelay time.Duration
	pollInterval  time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent
	wg        sync.WaitGroup

	// 系统通知
	fsw *fsnotify.Watcher

	// 回调
	callbacks []func(event FileEvent)

	// 轮询兜底的最后修改时间
	lastModTimes map[string]time.Time

	logger *zap.Logger
}

// FileEvent represents a file change event.
type FileEvent struct {
	// Path 发生变更的文件路径
	Path string `json:"path"`

	// Op 操作类型
	Op FileOp `json:"op"`

	// Timestamp 事件发生时间
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types.
type FileOp int

const (
	// FileOpCreate 文件被创建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件被修改
	FileOpWrite
	// FileOpRemove 文件被删除或移走
	FileOpRemove
)

// String returns the string representation of FileOp.
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher.
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay applied before change
// events are dispatched.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval sets the fallback polling interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.pollInterval = d
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher over paths. Paths are
// resolved to absolute form; a path that does not exist yet is watched
// for creation.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		paths:         make(map[string]struct{}, len(paths)),
		debounceDelay: 100 * time.Millisecond,
		pollInterval:  time.Second,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 100),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		w.paths[abs] = struct{}{}

		if _, err := os.Stat(abs); err != nil {
			if os.IsNotExist(err) {
				w.logger.Warn("config file does not exist, will watch for creation",
					zap.String("path", abs))
			} else {
				return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
			}
		}
	}

	return w, nil
}

// OnChange registers a callback for debounced file change events.
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching. The watcher stops when ctx is cancelled or
// Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	// 初始化轮询基线
	for path := range w.paths {
		if info, err := os.Stat(path); err == nil {
			w.lastModTimes[path] = info.ModTime()
		}
	}

	// 订阅父目录的系统通知，按文件名过滤
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling only", zap.Error(err))
	} else {
		dirs := make(map[string]struct{})
		for path := range w.paths {
			dirs[filepath.Dir(path)] = struct{}{}
		}
		for dir := range dirs {
			if err := fsw.Add(dir); err != nil {
				w.logger.Warn("failed to watch directory, polling covers it",
					zap.String("dir", dir), zap.Error(err))
			}
		}
		w.fsw = fsw
	}

	w.running = true

	if w.fsw != nil {
		w.wg.Add(1)
		go w.notifyLoop(ctx)
	}
	w.wg.Add(2)
	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("file watcher started",
		zap.Int("paths", len(w.paths)),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher deterministically: it signals every
// background loop and waits (bounded) for them to exit.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.stopChan)
	w.running = false
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw != nil {
		if err := fsw.Close(); err != nil {
			w.logger.Warn("failed to close fsnotify watcher", zap.Error(err))
		}
	}

	// 有界等待，超时则放弃（循环已收到停止信号，随后自行退出）
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		w.logger.Warn("timed out waiting for watcher goroutines to exit")
	}

	w.logger.Info("file watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is running.
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Paths returns the list of watched paths.
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	return paths
}

// notifyLoop translates fsnotify events on the parent directories into
// FileEvents for the watched files only.
func (w *FileWatcher) notifyLoop(ctx context.Context) {
	defer w.wg.Done()

	w.mu.RLock()
	fsw := w.fsw
	w.mu.RUnlock()
	if fsw == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.mu.RLock()
			_, watched := w.paths[abs]
			w.mu.RUnlock()
			if !watched {
				continue
			}

			var op FileOp
			switch {
			case event.Has(fsnotify.Create):
				op = FileOpCreate
			case event.Has(fsnotify.Write):
				op = FileOpWrite
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				op = FileOpRemove
			default:
				continue
			}

			// 更新轮询基线，避免同一次修改被轮询重复上报
			w.mu.Lock()
			if info, err := os.Stat(abs); err == nil {
				w.lastModTimes[abs] = info.ModTime()
			} else {
				delete(w.lastModTimes, abs)
			}
			w.mu.Unlock()

			w.emit(FileEvent{Path: abs, Op: op, Timestamp: time.Now()})
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

// pollLoop polls modification times as a fallback for filesystems
// without change notification.
func (w *FileWatcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFiles()
		}
	}
}

// checkFiles compares modification times against the recorded baseline.
func (w *FileWatcher) checkFiles() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				if _, existed := w.lastModTimes[path]; existed {
					delete(w.lastModTimes, path)
					w.emit(FileEvent{Path: path, Op: FileOpRemove, Timestamp: time.Now()})
				}
			}
			continue
		}

		lastMod, existed := w.lastModTimes[path]
		switch {
		case !existed:
			w.lastModTimes[path] = info.ModTime()
			w.emit(FileEvent{Path: path, Op: FileOpCreate, Timestamp: time.Now()})
		case info.ModTime().After(lastMod):
			w.lastModTimes[path] = info.ModTime()
			w.emit(FileEvent{Path: path, Op: FileOpWrite, Timestamp: time.Now()})
		}
	}
}

// emit queues an event without blocking the detection path.
func (w *FileWatcher) emit(event FileEvent) {
	select {
	case w.eventChan <- event:
	default:
		w.logger.Warn("watcher event channel full, dropping event",
			zap.String("path", event.Path), zap.String("op", event.Op.String()))
	}
}

// dispatchLoop debounces events and fans them out to callbacks.
// Events for the same path inside one debounce window coalesce into the
// latest one.
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	defer w.wg.Done()

	var (
		pending = make(map[string]FileEvent)
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event := <-w.eventChan:
			pending[event.Path] = event
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			timerC = timer.C
		case <-timerC:
			timerC = nil

			w.mu.RLock()
			callbacks := make([]func(FileEvent), len(w.callbacks))
			copy(callbacks, w.callbacks)
			w.mu.RUnlock()

			for path, evt := range pending {
				w.logger.Debug("dispatching file event",
					zap.String("path", path),
					zap.String("op", evt.Op.String()))
				for _, cb := range callbacks {
					cb(evt)
				}
			}
			pending = make(map[string]FileEvent)
		}
	}
}
