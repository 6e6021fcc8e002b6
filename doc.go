// Package feedkit 是一个实时内容发现引擎工具包（Feed Discovery Kit）。
//
// 设计要点：
// - 领域接口定义在 core，基础设施层（vector / embedding / store / cache）实现
// - 个性化是 best-effort：向量服务不可用时退化为时效排序，请求永不因此失败
// - 缓存贯穿全链路：embedding、检索结果、偏好向量、行为画像共享同一 core.Store
// - 失效与行为追踪是旁路：错误只记日志，绝不影响主请求
package feedkit

import "github.com/rushteam/feedkit/engine"

// 轻量 facade：便于用户直接 import "feedkit" 使用核心入口。
type Engine = engine.Engine
type FeedOptions = engine.FeedOptions
type FeedResult = engine.FeedResult
