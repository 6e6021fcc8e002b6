package core

import "time"

// BehaviorProfile 是用户行为画像的核心抽象。
//
// 一句话定义：行为画像 = 推荐链路的"兴趣信号 + 节奏信号 + 社交信号"
//
// 设计要点：
//  维度            作用
//  内容类型偏好    候选类型加权 / 多样性控制
//  话题偏好        语义召回之外的兴趣补充
//  互动节奏        时段 / 时长调权
//  社交关系        可见性过滤 / 信任信号
//  多样性偏好      重排阶段的同类型连续上限
//
// 生命周期：首次读取时懒创建；缓冲事件刷入时增量更新；
// 带 TTL 缓存，显式清理或自然过期失效——本引擎从不硬删除。
type BehaviorProfile struct {
	UserID string

	// ContentTypeAffinity 内容类型偏好，key: text/image/video，value: 0-1
	ContentTypeAffinity map[string]float64

	// TopicAffinity 话题偏好，key: topic，value: 0-1
	TopicAffinity map[string]float64

	// Engagement 互动节奏摘要
	Engagement EngagementPattern

	// Social 社交关系摘要
	Social SocialPattern

	// RecentWeights 近期交互的时间衰减计数，key: contentID
	RecentWeights map[string]float64

	// DiversityPreference 多样性偏好 0-1：触达类型/话题越杂，值越高
	DiversityPreference float64

	TotalInteractions int64
	UpdatedAt         time.Time
}

// EngagementPattern 是互动节奏摘要。
type EngagementPattern struct {
	AvgViewDuration  time.Duration
	PreferredHours   []int   // 0-23，按交互量排序
	AvgSessionLength int     // 单会话平均交互数（按 SessionID 聚合）
	Velocity         float64 // 交互速率（次/天，时间衰减加权）
}

// SocialPattern 是社交关系摘要：用户交互过的作者（去重，有界）。
// 关注关系的权威数据在关系存储（ContentStore.IsFollowing），不在画像中冗余。
type SocialPattern struct {
	InteractedUsers []string
}

// NewBehaviorProfile 创建一个新的行为画像。
func NewBehaviorProfile(userID string) *BehaviorProfile {
	return &BehaviorProfile{
		UserID:              userID,
		ContentTypeAffinity: make(map[string]float64),
		TopicAffinity:       make(map[string]float64),
		RecentWeights:       make(map[string]float64),
		UpdatedAt:           time.Now(),
	}
}

// BehaviorInsight 是从画像派生的定性洞察（只读，advisory）。
type BehaviorInsight struct {
	Kind           string  // content_type_dominance / engagement_duration / social_density
	Description    string
	Confidence     float64 // 0-1
	Recommendation string
}
