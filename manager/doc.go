// Package manager 将多个异构配置源聚合为一个按优先级合并的视图。
//
// 管理器负责配置源注册与排序、带失效的解析缓存、变更事件的
// 聚合与分发，以及类型化访问和统计信息。
package manager
