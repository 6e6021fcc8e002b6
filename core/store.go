package core

import "context"

// Store 是共享缓存存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 遵循依赖倒置原则：领域层定义接口，基础设施层实现接口
//
// 使用场景：
//   - embedding 结果缓存（按内容哈希）
//   - 向量检索结果缓存（按参数哈希，短 TTL）
//   - 偏好向量 / 行为画像缓存（中等 TTL）
//   - 缓存失效引擎的 pattern 失效目标
//
// 实现：
//   - store.RedisStore 实现此接口（生产环境）
//   - store.MemoryStore 实现此接口（测试 / 原型）
type Store interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// Get 读取单个 key 的值；key 不存在返回 ErrStoreNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入单个 key-value，ttl 单位秒，0 表示不过期
	Set(ctx context.Context, key string, value []byte, ttl ...int) error

	// Delete 删除单个 key
	Delete(ctx context.Context, key string) error

	// BatchGet 批量读取（减少网络往返，缺失的 key 不出现在结果中）
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// BatchSet 批量写入
	BatchSet(ctx context.Context, kvs map[string][]byte, ttl ...int) error

	// InvalidatePattern 按 glob pattern 批量失效（如 "feed:user:123:*"）
	// 返回被删除的 key 数量。漏删可容忍（最终一致），失败不得破坏存储本身。
	InvalidatePattern(ctx context.Context, pattern string) (int, error)

	// Close 关闭连接/释放资源
	Close() error
}

// Store 错误定义（使用统一的 DomainError）
var (
	// ErrStoreNotFound 表示 key 不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")
)

// IsStoreNotFound 检查错误是否为 key 不存在
func IsStoreNotFound(err error) bool {
	domainErr := GetDomainError(err)
	return domainErr != nil && domainErr.Module == ModuleStore && domainErr.Code == ErrorCodeNotFound
}
