package manager

import "github.com/BaSui01/configflow/provider"

// ProviderStats 单个配置源的快照信息
type ProviderStats struct {
	// Name 配置源名称
	Name string `json:"name"`

	// Priority 解析优先级，数值越小越先解析
	Priority int `json:"priority"`

	// SourceType 配置源类型
	SourceType string `json:"source_type"`

	// KeyCount 当前持有的键数量
	KeyCount int `json:"key_count"`

	// Available 后备存储当前是否可达
	Available bool `json:"available"`
}

// Stats is a point-in-time, read-only projection of the manager's
// state: provider inventory plus query and cache counters. It is never
// mutated after the snapshot is taken.
type Stats struct {
	// ProviderCount 已注册配置源数量
	ProviderCount int `json:"provider_count"`

	// Providers 按解析顺序排列的配置源信息
	Providers []ProviderStats `json:"providers"`

	// Queries 查询总数
	Queries uint64 `json:"queries"`

	// Hits 缓存命中数
	Hits uint64 `json:"hits"`

	// Misses 缓存未命中数
	Misses uint64 `json:"misses"`

	// CacheEnabled 缓存是否启用
	CacheEnabled bool `json:"cache_enabled"`

	// CacheSize 当前缓存条目数
	CacheSize int `json:"cache_size"`
}

// Stats returns a snapshot of the manager's providers and counters.
func (m *Manager) Stats() (Stats, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return Stats{}, ErrManagerClosed
	}
	providers := make([]provider.Provider, len(m.providers))
	copy(providers, m.providers)
	cacheSize := len(m.cache)
	cacheEnabled := m.cacheEnabled
	m.mu.RUnlock()

	stats := Stats{
		ProviderCount: len(providers),
		Providers:     make([]ProviderStats, 0, len(providers)),
		Queries:       m.queries.Load(),
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		CacheEnabled:  cacheEnabled,
		CacheSize:     cacheSize,
	}

	for _, p := range providers {
		stats.Providers = append(stats.Providers, ProviderStats{
			Name:       p.Name(),
			Priority:   p.Priority(),
			SourceType: p.SourceType().String(),
			KeyCount:   len(p.Keys()),
			Available:  p.Available(),
		})
	}

	return stats, nil
}
