// Package provider 定义 ConfigFlow 的配置源契约与内置实现。
//
// 包含统一的只读键值访问接口 Provider、进程属性/环境变量/
// 平面文件/层级文档四种内置配置源，以及配置变更事件模型。
// 平面文件源支持后台监听与差异化变更通知。
package provider
