package core

import "time"

// ContentItem 是推荐链路中的统一候选承载结构：请求级瞬态对象，
// 从关系存储 + 向量检索拼装而成，本引擎不持久化它。
// Embedding 可能为空（检索失败或尚未生成），此时该候选不参与相似度打分。
type ContentItem struct {
	ID        string
	AuthorID  string
	Content   string
	Hashtags  []string
	CreatedAt time.Time
	UpdatedAt time.Time

	// 互动计数（来自关系存储的反范式字段）
	SaveCount    int
	LikeCount    int
	CommentCount int
	ShareCount   int

	IsPrivate   bool
	ContentType string // text / image / video / mixed

	// Embedding 是候选附带的向量，可能为空
	Embedding []float64

	// Score 是最终融合分数；Breakdown 保留各分量，便于 explain / 观测
	Score     float64
	Breakdown ScoreBreakdown
}

// ScoreBreakdown 是打分各分量的拆解。
type ScoreBreakdown struct {
	Similarity float64 // 与偏好向量的余弦相似度分量
	Recency    float64 // 时效分量（指数衰减）
	Engagement float64 // 互动热度分量（对数压缩）
}

// NewContentItem 创建一个新的候选。
func NewContentItem(id string) *ContentItem {
	return &ContentItem{ID: id}
}

// HasEmbedding 返回候选是否携带可用向量。
func (it *ContentItem) HasEmbedding() bool {
	return len(it.Embedding) > 0
}

// EmbeddingInput 拼接打 embedding 的输入文本（正文 + 话题标签）。
func (it *ContentItem) EmbeddingInput() string {
	s := it.Content
	for _, tag := range it.Hashtags {
		s += " #" + tag
	}
	return s
}
