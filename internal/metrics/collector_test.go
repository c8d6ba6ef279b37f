package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// promauto 注册到默认 registry，每个测试用唯一命名空间避免重复注册
var namespaceCounter atomic.Uint64

func nextTestNamespace() string {
	return fmt.Sprintf("cfgtest%d", namespaceCounter.Add(1))
}

func TestCollector_RecordQuery(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordQuery("hit", 5*time.Microsecond)
	c.RecordQuery("hit", 5*time.Microsecond)
	c.RecordQuery("miss", 2*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.queriesTotal.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.queriesTotal.WithLabelValues("miss")))
}

func TestCollector_RecordReload(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordReload("file", "success")
	c.RecordReload("file", "success")
	c.RecordReload("file", "error")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.reloadsTotal.WithLabelValues("file", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.reloadsTotal.WithLabelValues("file", "error")))
}

func TestCollector_RecordEvent(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordEvent("file", "added")
	c.RecordEvent("file", "modified")
	c.RecordEvent("file", "modified")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.eventsDispatched.WithLabelValues("file", "added")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.eventsDispatched.WithLabelValues("file", "modified")))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.SetProviderCount(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.providers))

	c.SetCacheEntries(17)
	assert.Equal(t, float64(17), testutil.ToFloat64(c.cacheEntries))

	c.SetProviderCount(0)
	c.SetCacheEntries(0)
	assert.Zero(t, testutil.ToFloat64(c.providers))
	assert.Zero(t, testutil.ToFloat64(c.cacheEntries))
}

func TestCollector_DistinctNamespacesCoexist(t *testing.T) {
	a := NewCollector(nextTestNamespace(), zap.NewNop())

	// 同进程内第二个命名空间可以注册
	require.NotPanics(t, func() {
		b := NewCollector(nextTestNamespace(), zap.NewNop())
		b.RecordQuery("hit", time.Microsecond)
	})

	a.RecordQuery("miss", time.Microsecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(a.queriesTotal.WithLabelValues("miss")))
}
