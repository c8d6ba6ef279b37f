// 平面 key=value 文件配置源。
//
// 支持后台监听与差异化变更通知：检测到文件修改后防抖重载，
// 对比新旧快照并把分类事件投递给感兴趣的监听器。
package provider

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FlatFileProvider serves configuration from a flat key=value text
// file and live-reloads it when the file changes on disk.
//
// File format: one key=value (or key: value) pair per line, # and !
// comment lines ignored, UTF-8. A detected modification (or an
// explicit Refresh) snapshots the held map, re-parses the file, swaps
// the map atomically, then classifies every key in the symmetric union
// of old and new key sets as Added, Modified or Deleted and delivers
// each event to listeners whose InterestedIn(key) returns true.
// I/O or parse failures during reload keep the previous in-memory
// state intact.
type FlatFileProvider struct {
	mu sync.RWMutex

	name     string
	priority int
	path     string

	values    map[string]string
	listeners []ChangeListener
	closed    bool

	watcher *FileWatcher
	cancel  context.CancelFunc

	debounceDelay time.Duration
	logger        *zap.Logger
}

// FlatFileOption configures a FlatFileProvider.
type FlatFileOption func(*FlatFileProvider)

// WithFlatFileDebounce sets the delay between a filesystem
// notification and the reload, so a partially-written file is not read.
func WithFlatFileDebounce(d time.Duration) FlatFileOption {
	return func(p *FlatFileProvider) {
		p.debounceDelay = d
	}
}

// WithFlatFileLogger sets the logger.
func WithFlatFileLogger(logger *zap.Logger) FlatFileOption {
	return func(p *FlatFileProvider) {
		p.logger = logger
	}
}

// NewFlatFileProvider loads path and starts a single background
// watcher bound to the file's parent directory, filtered to
// modification events on that file only. A missing file is not an
// error: the provider reports Available()==false and picks the file up
// on creation.
func NewFlatFileProvider(name string, priority int, path string, opts ...FlatFileOption) (*FlatFileProvider, error) {
	p := &FlatFileProvider{
		name:          name,
		priority:      priority,
		path:          path,
		values:        make(map[string]string),
		debounceDelay: 200 * time.Millisecond,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if values, err := parseFlatFile(path); err == nil {
		p.values = values
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	watcher, err := NewFileWatcher(
		[]string{path},
		WithDebounceDelay(p.debounceDelay),
		WithWatcherLogger(p.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	watcher.OnChange(p.handleFileChange)

	ctx, cancel := context.WithCancel(context.Background())
	if err := watcher.Start(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}
	p.watcher = watcher
	p.cancel = cancel

	return p, nil
}

func (p *FlatFileProvider) Name() string           { return p.name }
func (p *FlatFileProvider) Priority() int          { return p.priority }
func (p *FlatFileProvider) SourceType() SourceType { return SourceFlatFile }

// GetString returns the value for key.
func (p *FlatFileProvider) GetString(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// GetObject decodes the value for key as a JSON document.
func (p *FlatFileProvider) GetObject(key string, out any) (bool, error) {
	v, ok := p.GetString(key)
	if !ok {
		return false, nil
	}
	return true, DecodeObject(key, v, out)
}

// GetProperties returns all entries whose key starts with prefix.
func (p *FlatFileProvider) GetProperties(prefix string) map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]string)
	for k, v := range p.values {
		if strings.HasPrefix(k, prefix) {
			result[k] = v
		}
	}
	return result
}

// Keys returns every key, sorted.
func (p *FlatFileProvider) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the keys starting with prefix, sorted.
func (p *FlatFileProvider) KeysWithPrefix(prefix string) []string {
	props := p.GetProperties(prefix)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContainsKey reports whether key resolves to a value.
func (p *FlatFileProvider) ContainsKey(key string) bool {
	_, ok := p.GetString(key)
	return ok
}

// Refresh reloads the file synchronously, emitting classified change
// events for every key that differs from the held snapshot.
func (p *FlatFileProvider) Refresh() error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrProviderClosed
	}
	return p.reload()
}

// AddListener subscribes l to this provider's change stream.
func (p *FlatFileProvider) AddListener(l ChangeListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// RemoveListener unsubscribes l (identity comparison).
func (p *FlatFileProvider) RemoveListener(l ChangeListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.listeners {
		if SameListener(existing, l) {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

// Available reports whether the backing file exists.
func (p *FlatFileProvider) Available() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// Close stops the background watcher deterministically and clears the
// listener list. Idempotent.
func (p *FlatFileProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.listeners = nil
	watcher := p.watcher
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		return watcher.Stop()
	}
	return nil
}

// handleFileChange reacts to a debounced watcher event.
func (p *FlatFileProvider) handleFileChange(event FileEvent) {
	p.logger.Info("config file changed",
		zap.String("provider", p.name),
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	if err := p.reload(); err != nil {
		p.logger.Error("failed to reload config file, keeping previous state",
			zap.String("provider", p.name), zap.Error(err))
	}
}

// reload re-parses the file, swaps the held map under the write lock
// and delivers the diff between old and new to interested listeners.
// The cache-coherence contract relies on the swap happening before any
// event is dispatched: a listener that re-queries observes new values.
func (p *FlatFileProvider) reload() error {
	newValues, err := parseFlatFile(p.path)
	if err != nil {
		// 旧状态保持不变，绝不发布部分/损坏的状态
		return fmt.Errorf("failed to parse %s: %w", p.path, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProviderClosed
	}
	oldValues := p.values
	p.values = newValues
	listeners := make([]ChangeListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	events := DiffMaps(p.name, oldValues, newValues)
	if len(events) == 0 {
		return nil
	}

	p.logger.Info("config file reloaded",
		zap.String("provider", p.name),
		zap.Int("changes", len(events)))

	// 锁外投递，仅通知感兴趣的监听器，逐个隔离异常
	for _, ev := range events {
		for _, l := range listeners {
			if l.InterestedIn(ev.Key) {
				Dispatch(p.logger, l, ev)
			}
		}
	}

	return nil
}

// parseFlatFile parses a conventional key=value properties file.
func parseFlatFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		// 第一个 '=' 或 ':' 之前是键，其后是值
		sep := strings.IndexAny(line, "=:")
		if sep < 0 {
			continue
		}
		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if key == "" {
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return values, nil
}
