package core

import "time"

// InteractionKind 是交互行为类型。
type InteractionKind string

const (
	InteractionView    InteractionKind = "view"
	InteractionSave    InteractionKind = "save"
	InteractionLike    InteractionKind = "like"
	InteractionShare   InteractionKind = "share"
	InteractionComment InteractionKind = "comment"
	InteractionCreate  InteractionKind = "create"
)

// InteractionWeight 返回行为类型的固定权重，用于兴趣度指数平滑。
// save / create 是最强的显式信号，view 最弱。
func InteractionWeight(kind InteractionKind) float64 {
	switch kind {
	case InteractionSave, InteractionCreate:
		return 1.0
	case InteractionShare:
		return 0.9
	case InteractionComment:
		return 0.8
	case InteractionLike:
		return 0.6
	case InteractionView:
		return 0.2
	default:
		return 0.1
	}
}

// InteractionEvent 是不可变的交互事件（append-only）。
// 写入后不再修改；先进入内存缓冲，缓冲满或定时器触发时批量刷入画像。
type InteractionEvent struct {
	UserID    string
	ContentID string
	Kind      InteractionKind

	// AuthorID 是被交互内容的作者（可选），用于画像的社交摘要
	AuthorID string

	// Duration 是观看/停留时长（可选，view 事件常带）
	Duration time.Duration

	Timestamp time.Time

	// SessionID 是会话标识（可选，uuid）
	SessionID string

	// ContentType / Topics 是事件携带的内容上下文，画像更新时使用
	ContentType string
	Topics      []string

	// Metadata 是附加上下文（可选）
	Metadata map[string]string
}
