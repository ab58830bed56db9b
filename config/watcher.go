// 配置文件变更监听器实现。
//
// 轮询文件修改时间，变更经防抖后触发回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BaSui01/aicore/llm/catalog"
	"go.uber.org/zap"
)

// FileWatcher watches a configuration file for changes
type FileWatcher struct {
	mu sync.RWMutex

	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration

	running  bool
	stopChan chan struct{}

	callbacks []func(event FileEvent)
	logger    *zap.Logger

	// 轮询状态，仅由 loop 协程访问
	lastMod time.Time
	exists  bool
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
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

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.pollInterval = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is empty")
	}
	w := &FileWatcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
		w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", path))
	}
	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod, w.exists = info.ModTime(), true
	}

	go w.loop(ctx)

	w.logger.Info("file watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the file watcher
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	close(w.stopChan)
	w.running = false

	w.logger.Info("file watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// loop 轮询并防抖：连续变更只在静默 debounceDelay 后派发最后一次
func (w *FileWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		pending FileEvent
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			evt, changed := w.check()
			if !changed {
				continue
			}
			pending = evt
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			fire = timer.C
		case <-fire:
			fire = nil
			w.dispatch(pending)
		}
	}
}

func (w *FileWatcher) check() (FileEvent, bool) {
	now := time.Now()
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.exists {
			w.exists = false
			return FileEvent{Path: w.path, Op: FileOpRemove, Timestamp: now}, true
		}
		return FileEvent{}, false
	}
	if !w.exists {
		w.exists, w.lastMod = true, info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpCreate, Timestamp: now}, true
	}
	if info.ModTime().After(w.lastMod) {
		w.lastMod = info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpWrite, Timestamp: now}, true
	}
	return FileEvent{}, false
}

func (w *FileWatcher) dispatch(evt FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	w.logger.Debug("dispatching file event",
		zap.String("path", evt.Path),
		zap.String("op", evt.Op.String()))
	for _, cb := range callbacks {
		cb(evt)
	}
}

// WatchModels 监听配置文件，变更后重新加载并校验，把模型目录交给 apply
// （通常是 catalog.Replace）。加载或校验失败时保留旧目录。
func (l *Loader) WatchModels(ctx context.Context, apply func([]catalog.ModelDescriptor) error, opts ...WatcherOption) (*FileWatcher, error) {
	if l.configPath == "" {
		return nil, fmt.Errorf("loader has no config path to watch")
	}
	w, err := NewFileWatcher(l.configPath, opts...)
	if err != nil {
		return nil, err
	}

	w.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			w.logger.Warn("config file removed, keeping current model catalog", zap.String("path", evt.Path))
			return
		}
		cfg, err := l.Load()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			w.logger.Warn("config reload failed", zap.Error(err))
			return
		}
		models, err := cfg.CatalogModels()
		if err == nil {
			err = apply(models)
		}
		if err != nil {
			w.logger.Warn("model catalog reload rejected", zap.Error(err))
			return
		}
		w.logger.Info("model catalog reloaded", zap.Int("models", len(models)))
	})

	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
