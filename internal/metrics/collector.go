package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 配置指标收集器
// =============================================================================

// Collector 配置子系统指标收集器
type Collector struct {
	// 查询指标
	queriesTotal    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec

	// 重载指标
	reloadsTotal *prometheus.CounterVec

	// 事件指标
	eventsDispatched *prometheus.CounterVec

	// 状态指标
	providers    prometheus.Gauge
	cacheEntries prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 查询指标
	c.queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_queries_total",
			Help:      "Total number of configuration lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	c.resolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "config_resolve_duration_seconds",
			Help:      "Configuration resolution duration in seconds",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		},
		[]string{"result"},
	)

	// 重载指标
	c.reloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of provider refreshes",
		},
		[]string{"provider", "status"}, // status: success, error
	)

	// 事件指标
	c.eventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_events_dispatched_total",
			Help:      "Total number of change events dispatched to listeners",
		},
		[]string{"provider", "type"}, // type: added, modified, deleted
	)

	// 状态指标
	c.providers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_providers",
			Help:      "Number of registered configuration providers",
		},
	)

	c.cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_cache_entries",
			Help:      "Number of resolved values currently cached",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 指标记录
// =============================================================================

// RecordQuery 记录一次配置查询
func (c *Collector) RecordQuery(result string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(result).Inc()
	c.resolveDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordReload 记录一次配置源重载
func (c *Collector) RecordReload(provider, status string) {
	c.reloadsTotal.WithLabelValues(provider, status).Inc()
}

// RecordEvent 记录一次变更事件分发
func (c *Collector) RecordEvent(provider, changeType string) {
	c.eventsDispatched.WithLabelValues(provider, changeType).Inc()
}

// SetProviderCount 更新已注册配置源数量
func (c *Collector) SetProviderCount(n int) {
	c.providers.Set(float64(n))
}

// SetCacheEntries 更新缓存条目数量
func (c *Collector) SetCacheEntries(n int) {
	c.cacheEntries.Set(float64(n))
}
