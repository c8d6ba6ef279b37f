// 配置管理器实现。
//
// 按优先级遍历配置源解析查询，缓存命中结果，并把配置源的
// 变更事件在失效缓存后转发给全局与按键注册的监听器。
package manager

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/configflow/internal/metrics"
	"github.com/BaSui01/configflow/provider"
)

// --- 错误定义 ---

var (
	// ErrManagerClosed 管理器已关闭，所有调用失败
	ErrManagerClosed = errors.New("config manager is closed")

	// ErrDuplicateProvider 配置源名称重复
	ErrDuplicateProvider = errors.New("provider with the same name is already registered")

	// ErrProviderNotFound 配置源不存在
	ErrProviderNotFound = errors.New("provider not found")
)

// --- 管理器类型定义 ---

// Manager aggregates heterogeneous configuration providers into one
// prioritized view. Lookups walk providers sorted ascending by
// priority (lower resolves first) and return the first match; resolved
// values are cached together with their source attribution, and every
// provider-originated change event invalidates the affected cache
// entry before being forwarded to listeners.
//
// A manager is Open until Close is called, after which it is
// permanently unusable: every call fails with ErrManagerClosed.
type Manager struct {
	mu sync.RWMutex

	// 配置源，按优先级升序稳定排序（同优先级按注册顺序）
	providers []provider.Provider

	// 解析缓存与来源归属缓存
	cache        map[string]string
	sourceCache  map[string]string
	cacheEnabled bool

	// 监听器
	listeners    []provider.ChangeListener
	keyListeners map[string][]provider.ChangeListener

	// 统计
	queries atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64

	closed bool

	// 并发未命中合并
	group singleflight.Group

	metricsNamespace string
	collector        *metrics.Collector
	logger           *zap.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithCacheDisabled turns off the resolved-value cache; every lookup
// walks the providers.
func WithCacheDisabled() Option {
	return func(m *Manager) {
		m.cacheEnabled = false
	}
}

// WithMetrics enables a prometheus collector under the given
// namespace, recording queries, reloads and dispatched events.
func WithMetrics(namespace string) Option {
	return func(m *Manager) {
		m.metricsNamespace = namespace
	}
}

// New creates an empty manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		cache:        make(map[string]string),
		sourceCache:  make(map[string]string),
		cacheEnabled: true,
		keyListeners: make(map[string][]provider.ChangeListener),
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metricsNamespace != "" {
		m.collector = metrics.NewCollector(m.metricsNamespace, m.logger)
	}

	return m
}

// --- 配置源注册 ---

// forwardingListener 把某个配置源的事件转发给管理器
type forwardingListener struct {
	m *Manager
}

func (f *forwardingListener) OnConfigChange(event provider.ChangeEvent) {
	f.m.handleProviderEvent(event)
}

func (f *forwardingListener) InterestedIn(string) bool { return true }

// RegisterProvider registers p, rejecting duplicate names. The
// provider list is re-sorted ascending by priority (stable: equal
// priorities keep registration order) and the whole cache is
// invalidated, since a newly inserted high-priority provider may
// shadow previously cached answers.
func (m *Manager) RegisterProvider(p provider.Provider) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	for _, existing := range m.providers {
		if existing.Name() == p.Name() {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
		}
	}

	m.providers = append(m.providers, p)
	sort.SliceStable(m.providers, func(i, j int) bool {
		return m.providers[i].Priority() < m.providers[j].Priority()
	})

	m.invalidateAllLocked()
	count := len(m.providers)
	m.mu.Unlock()

	// 订阅该配置源的变更流
	p.AddListener(&forwardingListener{m: m})

	if !p.Available() {
		m.logger.Warn("registered provider is currently unavailable",
			zap.String("provider", p.Name()),
			zap.String("source_type", p.SourceType().String()))
	}

	if m.collector != nil {
		m.collector.SetProviderCount(count)
	}

	m.logger.Info("provider registered",
		zap.String("provider", p.Name()),
		zap.Int("priority", p.Priority()),
		zap.String("source_type", p.SourceType().String()))

	return nil
}

// UnregisterProvider removes and closes the named provider and
// invalidates the cache.
func (m *Manager) UnregisterProvider(name string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	idx := -1
	for i, p := range m.providers {
		if p.Name() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	removed := m.providers[idx]
	m.providers = append(m.providers[:idx], m.providers[idx+1:]...)
	m.invalidateAllLocked()
	count := len(m.providers)
	m.mu.Unlock()

	if err := removed.Close(); err != nil {
		m.logger.Error("failed to close unregistered provider",
			zap.String("provider", name), zap.Error(err))
	}

	if m.collector != nil {
		m.collector.SetProviderCount(count)
	}

	m.logger.Info("provider unregistered", zap.String("provider", name))
	return nil
}

// --- 查询解析 ---

type resolution struct {
	value  string
	source string
	found  bool
}

// GetString resolves key: cache first, then providers in priority
// order, skipping any that are unavailable or do not contain the key.
// Absence is reported as found==false, never as an error.
func (m *Manager) GetString(key string) (value string, found bool, err error) {
	start := time.Now()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return "", false, ErrManagerClosed
	}
	if m.cacheEnabled {
		if v, ok := m.cache[key]; ok {
			m.mu.RUnlock()
			m.queries.Add(1)
			m.hits.Add(1)
			if m.collector != nil {
				m.collector.RecordQuery("hit", time.Since(start))
			}
			return v, true, nil
		}
	}
	m.mu.RUnlock()

	m.queries.Add(1)
	m.misses.Add(1)

	// 并发未命中合并：同一键的并发解析只遍历一次
	res, err, _ := m.group.Do(key, func() (any, error) {
		return m.resolve(key), nil
	})
	if err != nil {
		return "", false, err
	}

	if m.collector != nil {
		m.collector.RecordQuery("miss", time.Since(start))
	}

	r := res.(resolution)
	return r.value, r.found, nil
}

// resolve walks providers in priority order and caches the first hit
// together with its source attribution.
func (m *Manager) resolve(key string) resolution {
	m.mu.RLock()
	providers := make([]provider.Provider, len(m.providers))
	copy(providers, m.providers)
	m.mu.RUnlock()

	for _, p := range providers {
		if !p.Available() {
			continue
		}
		v, ok := p.GetString(key)
		if !ok {
			continue
		}

		m.mu.Lock()
		if !m.closed && m.cacheEnabled {
			m.cache[key] = v
			m.sourceCache[key] = p.Name()
			if m.collector != nil {
				m.collector.SetCacheEntries(len(m.cache))
			}
		}
		m.mu.Unlock()

		return resolution{value: v, source: p.Name(), found: true}
	}

	return resolution{}
}

// GetStringDefault resolves key, returning def when absent.
func (m *Manager) GetStringDefault(key, def string) (string, error) {
	v, found, err := m.GetString(key)
	if err != nil {
		return "", err
	}
	if !found {
		return def, nil
	}
	return v, nil
}

// GetInt resolves key and parses it as an int. A malformed value is an
// error (*provider.FormatError), never silently coerced.
func (m *Manager) GetInt(key string) (int, bool, error) {
	v, found, err := m.GetString(key)
	if err != nil || !found {
		return 0, found, err
	}
	i, err := provider.ParseInt(key, v)
	return i, true, err
}

// GetIntDefault resolves key as an int, returning def when absent. A
// malformed present value still surfaces as an error.
func (m *Manager) GetIntDefault(key string, def int) (int, error) {
	i, found, err := m.GetInt(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	return i, nil
}

// GetInt64 resolves key as an int64.
func (m *Manager) GetInt64(key string) (int64, bool, error) {
	v, found, err := m.GetString(key)
	if err != nil || !found {
		return 0, found, err
	}
	i, err := provider.ParseInt64(key, v)
	return i, true, err
}

// GetInt64Default resolves key as an int64, returning def when absent.
func (m *Manager) GetInt64Default(key string, def int64) (int64, error) {
	i, found, err := m.GetInt64(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	return i, nil
}

// GetFloat64 resolves key as a float64.
func (m *Manager) GetFloat64(key string) (float64, bool, error) {
	v, found, err := m.GetString(key)
	if err != nil || !found {
		return 0, found, err
	}
	f, err := provider.ParseFloat64(key, v)
	return f, true, err
}

// GetFloat64Default resolves key as a float64, returning def when absent.
func (m *Manager) GetFloat64Default(key string, def float64) (float64, error) {
	f, found, err := m.GetFloat64(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	return f, nil
}

// GetBool resolves key as a bool.
func (m *Manager) GetBool(key string) (bool, bool, error) {
	v, found, err := m.GetString(key)
	if err != nil || !found {
		return false, found, err
	}
	b, err := provider.ParseBool(key, v)
	return b, true, err
}

// GetBoolDefault resolves key as a bool, returning def when absent.
func (m *Manager) GetBoolDefault(key string, def bool) (bool, error) {
	b, found, err := m.GetBool(key)
	if err != nil {
		return false, err
	}
	if !found {
		return def, nil
	}
	return b, nil
}

// GetObject resolves key by delegating deserialization to each
// provider's GetObject in priority order. Results are never cached:
// object identity and mutability make caching unsafe without a copy
// contract.
func (m *Manager) GetObject(key string, out any) (bool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return false, ErrManagerClosed
	}
	providers := make([]provider.Provider, len(m.providers))
	copy(providers, m.providers)
	m.mu.RUnlock()

	for _, p := range providers {
		if !p.Available() {
			continue
		}
		found, err := p.GetObject(key, out)
		if found {
			return true, err
		}
	}
	return false, nil
}

// GetProperties merges all providers' entries matching prefix with the
// lowest-priority provider applied first, so higher-priority providers
// win on key collision.
func (m *Manager) GetProperties(prefix string) (map[string]string, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrManagerClosed
	}
	providers := make([]provider.Provider, len(m.providers))
	copy(providers, m.providers)
	m.mu.RUnlock()

	result := make(map[string]string)
	// 从数值最大（最弱）向最小（最强）依次覆盖
	for i := len(providers) - 1; i >= 0; i-- {
		p := providers[i]
		if !p.Available() {
			continue
		}
		for k, v := range p.GetProperties(prefix) {
			result[k] = v
		}
	}
	return result, nil
}

// Keys returns the sorted union of every provider's keys.
func (m *Manager) Keys() ([]string, error) {
	return m.KeysWithPrefix("")
}

// KeysWithPrefix returns the sorted union of keys starting with prefix.
func (m *Manager) KeysWithPrefix(prefix string) ([]string, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrManagerClosed
	}
	providers := make([]provider.Provider, len(m.providers))
	copy(providers, m.providers)
	m.mu.RUnlock()

	union := make(map[string]struct{})
	for _, p := range providers {
		if !p.Available() {
			continue
		}
		for _, k := range p.KeysWithPrefix(prefix) {
			union[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(union))
	for k := range union {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ContainsKey reports whether any available provider resolves key.
func (m *Manager) ContainsKey(key string) (bool, error) {
	_, found, err := m.GetString(key)
	return found, err
}

// --- 重载 ---

// Refresh forces the named provider to reload, then invalidates the
// cache. Synchronous: it blocks for the duration of the provider's I/O.
func (m *Manager) Refresh(name string) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	var target provider.Provider
	for _, p := range m.providers {
		if p.Name() == name {
			target = p
			break
		}
	}
	m.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	err := target.Refresh()
	m.recordReload(name, err)
	if err != nil {
		return fmt.Errorf("failed to refresh provider %s: %w", name, err)
	}

	m.mu.Lock()
	m.invalidateAllLocked()
	m.mu.Unlock()
	return nil
}

// RefreshAll forces every provider to reload. Individual failures are
// logged and do not abort the remaining refreshes.
func (m *Manager) RefreshAll() error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	providers := make([]provider.Provider, len(m.providers))
	copy(providers, m.providers)
	m.mu.RUnlock()

	for _, p := range providers {
		err := p.Refresh()
		m.recordReload(p.Name(), err)
		if err != nil {
			m.logger.Error("provider refresh failed",
				zap.String("provider", p.Name()), zap.Error(err))
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.invalidateAllLocked()
	m.mu.Unlock()
	return nil
}

func (m *Manager) recordReload(name string, err error) {
	if m.collector == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.collector.RecordReload(name, status)
}

// --- 监听器 ---

// AddListener registers a global listener, notified for every
// forwarded event whose key it is interested in, in registration order.
func (m *Manager) AddListener(l provider.ChangeListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	m.listeners = append(m.listeners, l)
	return nil
}

// RemoveListener removes a global listener (identity comparison).
func (m *Manager) RemoveListener(l provider.ChangeListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	for i, existing := range m.listeners {
		if provider.SameListener(existing, l) {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return nil
		}
	}
	return nil
}

// AddKeyListener registers a listener notified only for events on key.
func (m *Manager) AddKeyListener(key string, l provider.ChangeListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	m.keyListeners[key] = append(m.keyListeners[key], l)
	return nil
}

// RemoveKeyListener removes a per-key listener.
func (m *Manager) RemoveKeyListener(key string, l provider.ChangeListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	list := m.keyListeners[key]
	for i, existing := range list {
		if provider.SameListener(existing, l) {
			m.keyListeners[key] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// handleProviderEvent forwards a provider-originated change event.
// The key's cache entries are invalidated before any listener runs, so
// a listener that re-queries the manager observes the new value, never
// a stale cached one.
func (m *Manager) handleProviderEvent(event provider.ChangeEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.cache, event.Key)
	delete(m.sourceCache, event.Key)
	globals := make([]provider.ChangeListener, len(m.listeners))
	copy(globals, m.listeners)
	keyed := make([]provider.ChangeListener, len(m.keyListeners[event.Key]))
	copy(keyed, m.keyListeners[event.Key])
	if m.collector != nil {
		m.collector.SetCacheEntries(len(m.cache))
	}
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.RecordEvent(event.Source, string(event.Type))
	}

	m.logger.Debug("forwarding config change",
		zap.String("key", event.Key),
		zap.String("type", string(event.Type)),
		zap.String("source", event.Source))

	// 全局监听器按注册顺序，之后是按键监听器；逐个隔离异常
	for _, l := range globals {
		if l.InterestedIn(event.Key) {
			provider.Dispatch(m.logger, l, event)
		}
	}
	for _, l := range keyed {
		provider.Dispatch(m.logger, l, event)
	}
}

// --- 来源归属 ---

// ConfigSource returns the name of the provider the current value of
// key is attributed to. With caching disabled it performs a live
// lookup.
func (m *Manager) ConfigSource(key string) (string, bool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return "", false, ErrManagerClosed
	}
	if m.cacheEnabled {
		if src, ok := m.sourceCache[key]; ok {
			m.mu.RUnlock()
			return src, true, nil
		}
	}
	m.mu.RUnlock()

	r := m.resolve(key)
	return r.source, r.found, nil
}

// --- 生命周期 ---

// Close closes every registered provider exactly once (watchers
// stopped, listener lists cleared), clears all caches and listener
// registries and flips the manager to its terminal Closed state.
// Idempotent: a second call is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	providers := m.providers
	m.providers = nil
	m.cache = make(map[string]string)
	m.sourceCache = make(map[string]string)
	m.listeners = nil
	m.keyListeners = make(map[string][]provider.ChangeListener)
	m.mu.Unlock()

	for _, p := range providers {
		if err := p.Close(); err != nil {
			m.logger.Error("failed to close provider",
				zap.String("provider", p.Name()), zap.Error(err))
		}
	}

	if m.collector != nil {
		m.collector.SetProviderCount(0)
		m.collector.SetCacheEntries(0)
	}

	m.logger.Info("config manager closed", zap.Int("providers_closed", len(providers)))
	return nil
}

// IsClosed reports whether Close has been called.
func (m *Manager) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// invalidateAllLocked clears both caches. Caller holds the write lock.
func (m *Manager) invalidateAllLocked() {
	m.cache = make(map[string]string)
	m.sourceCache = make(map[string]string)
	if m.collector != nil {
		m.collector.SetCacheEntries(0)
	}
}
