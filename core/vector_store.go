package core

import "context"

// VectorSearcher 是向量检索的领域接口（召回场景专用）。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（vector）实现
//   - 遵循依赖倒置原则：领域层定义接口，基础设施层实现接口
//
// 注意：
//   - 此接口只包含检索方法，专注于召回场景
//   - 需要完整的写入/集合管理操作请使用 core.VectorStore
type VectorSearcher interface {
	// Search 单向量搜索，返回按相似度降序的至多 limit 个近邻
	Search(ctx context.Context, req *VectorSearchRequest) (*VectorSearchResult, error)

	// BatchSearch 批量向量搜索：输入 N 个向量，返回 N 个结果列表（与输入同序）。
	// 子批失败只影响该子批（对应位置为空列表），其余子批照常执行。
	BatchSearch(ctx context.Context, req *VectorBatchSearchRequest) ([]*VectorSearchResult, error)

	// Close 关闭连接
	Close() error
}

// VectorStore 是完整的向量数据库服务接口。
//
// 嵌入 VectorSearcher（召回场景接口），并补充写入与集合生命周期管理。
// 外部索引与权威关系存储之间是最终一致：索引永远追随关系存储，反之不成立。
type VectorStore interface {
	VectorSearcher

	// Upsert 写入/覆盖单条向量记录
	Upsert(ctx context.Context, record *VectorRecord) error

	// BatchUpsert 批量写入：按固定批大小切分，受并发上限约束
	BatchUpsert(ctx context.Context, records []*VectorRecord) error

	// Delete 按 ID 删除向量记录
	Delete(ctx context.Context, ids []string) error

	// Fetch 按 ID 批量读取已存储的向量记录：按固定批大小切分、受并发上限约束，
	// 缺失的 ID 不出现在结果中。子批失败只丢该子批（与 BatchSearch 一致）；
	// 全部子批失败返回 ErrVectorUnavailable（索引整体不可用，调用方走降级路径）。
	Fetch(ctx context.Context, ids []string, withVector bool) ([]*VectorRecord, error)

	// Scroll 无游标批量读取（元数据查询 / 兼容性辅助）
	Scroll(ctx context.Context, req *VectorScrollRequest) ([]*VectorRecord, error)

	// Recommend 以已有记录为例检索相似记录（recommend-by-example）
	Recommend(ctx context.Context, req *VectorRecommendRequest) (*VectorSearchResult, error)

	// EnsureCollection 幂等地创建集合：存在即跳过，绝不修改已有集合参数
	EnsureCollection(ctx context.Context, cfg *CollectionConfig) error
}

// CollectionConfig 是集合的创建参数。
type CollectionConfig struct {
	Name      string
	Dimension int
	Distance  string // Cosine / Euclid / Dot

	// HNSW 索引调优
	HNSWM           int  // 图出度
	HNSWEfConstruct int  // 建图候选队列宽度
	OnDisk          bool // 磁盘驻留（大集合省内存）
	Quantization    bool // 标量量化
}

// PointPayload 是向量记录携带的元数据。
// 已知字段显式建模，未知字段走 Extra 扩展表（保持前向兼容，不丢类型安全）。
type PointPayload struct {
	ContentID   string `json:"content_id"`
	AuthorID    string `json:"author_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"` // unix 秒
	Provider    string `json:"provider,omitempty"`   // embedding 提供方（溯源）
	Model       string `json:"model,omitempty"`
	Dimension   int    `json:"dimension,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// VectorRecord 是一条向量记录：(id, vector, payload)。
// ID 是调用方分配的字符串；落到外部索引时被确定性哈希为 uint64，
// 原始 ID 始终冗余在 payload 中以便无损映射回来。
type VectorRecord struct {
	ID      string
	Vector  []float64
	Payload PointPayload
}

// VectorFilter 是服务端过滤条件（等值匹配的合取）。
type VectorFilter struct {
	Must map[string]any // 字段等值匹配，全部满足
}

// VectorSearchRequest 向量搜索请求
type VectorSearchRequest struct {
	Vector []float64
	Limit  int
	Filter *VectorFilter

	// HNSWEf 检索时动态候选队列宽度；0 表示按 Limit 自动调整
	HNSWEf int
}

// VectorBatchSearchRequest 批量向量搜索请求
type VectorBatchSearchRequest struct {
	Vectors [][]float64
	Limit   int
	Filter  *VectorFilter
}

// VectorSearchHit 单个检索结果项
type VectorSearchHit struct {
	ID      string // 原始字符串 ID（从 payload 还原）
	Score   float64
	Payload PointPayload
	Vector  []float64 // 仅在请求 with_vector 时返回
}

// VectorSearchResult 检索结果（按相似度降序）
type VectorSearchResult struct {
	Hits []VectorSearchHit
}

// VectorScrollRequest 无游标批量读取请求
type VectorScrollRequest struct {
	Limit      int
	Filter     *VectorFilter
	WithVector bool
}

// VectorRecommendRequest 以例查询请求
type VectorRecommendRequest struct {
	PositiveIDs []string // 正例记录 ID
	Limit       int
	Filter      *VectorFilter
}

// Vector 错误定义
var (
	// ErrVectorUnavailable 表示向量服务重试耗尽后仍不可用；调用方应走降级路径
	ErrVectorUnavailable = NewDomainError(ModuleVector, ErrorCodeUnavailable, "vector: service unavailable")
)
