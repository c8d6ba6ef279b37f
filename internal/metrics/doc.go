/*
包 metrics 提供配置子系统的 Prometheus 指标采集能力。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
便于同一进程内多个管理器实例并存。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标。

# 主要能力

  - 查询指标：查询总数与解析耗时，按 hit/miss 分组。
  - 重载指标：配置源重载计数，按 provider/status 分组。
  - 事件指标：变更事件分发计数，按 provider 与
    added/modified/deleted 分类分组。
  - 状态指标：已注册配置源数量与缓存条目数 Gauge。
*/
package metrics
