package core

import (
	"context"
	"time"
)

// ContentStore 是关系存储协作方的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由外部数据层实现（本仓库只消费，不定义 schema）
//   - 统一候选 / 排除集 / 关注关系的数据访问，避免接口爆炸
//
// 使用场景：
//   - 候选召回：近期可见非草稿内容
//   - 排除集构建：已看 / 已收藏 / 已点赞
//   - 偏好向量：用户近期收藏与点赞的内容
//   - 可见性过滤：关注关系检查
type ContentStore interface {
	// RecentCandidates 返回 since 之后创建、可见、非草稿、且不在 exclude 中的候选，
	// 最多 limit 条（调用方通常超额拉取 2-3 倍以吸收后续过滤）
	RecentCandidates(ctx context.Context, since time.Time, exclude map[string]struct{}, limit int) ([]*ContentItem, error)

	// SeenContentIDs / SavedContentIDs / LikedContentIDs 返回用户的排除集来源
	SeenContentIDs(ctx context.Context, userID string) ([]string, error)
	SavedContentIDs(ctx context.Context, userID string) ([]string, error)
	LikedContentIDs(ctx context.Context, userID string) ([]string, error)

	// EngagedContentIDs 返回用户最近收藏/点赞的内容 ID（按时间倒序，最多 limit 条），
	// 用于计算偏好向量质心
	EngagedContentIDs(ctx context.Context, userID string, limit int) ([]string, error)

	// IsFollowing 返回 userID 是否关注 authorID（私密内容可见性判定）
	IsFollowing(ctx context.Context, userID, authorID string) (bool, error)
}
