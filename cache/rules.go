package cache

import (
	"net/http"
	"strings"
	"time"
)

// DefaultRules 返回内置失效规则集。
// 高频低紧急事件（单个点赞/浏览）走批量策略；内容增删走立即+级联。
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "content-write",
			Condition: `event.type == "content_update" && event.action in ["create", "update", "delete"]`,
			Pattern:   "vector:search:*",
			Cascade:   []string{"feed:pref:{userId}"},
			Priority:  100,
			Strategy:  StrategyImmediate,
			Monitor:   true,
		},
		{
			Name:      "user-save",
			Condition: `event.type == "user_action" && event.action == "save"`,
			Pattern:   "feed:saved:{userId}",
			Cascade:   []string{"feed:pref:{userId}"},
			Priority:  90,
			Strategy:  StrategyImmediate,
		},
		{
			Name:      "user-like",
			Condition: `event.type == "user_action" && event.action == "like"`,
			Pattern:   "feed:liked:{userId}",
			Priority:  50,
			Strategy:  StrategyBatched,
		},
		{
			Name:      "user-view",
			Condition: `event.type == "user_action" && event.action == "view"`,
			Pattern:   "feed:seen:{userId}",
			Priority:  10,
			Strategy:  StrategyBatched,
		},
		{
			Name:      "system-flush",
			Condition: `event.type == "system_event" && event.action == "flush"`,
			Pattern:   "feed:*",
			Priority:  100,
			Strategy:  StrategyImmediate,
			Monitor:   true,
		},
	}
}

// ClassifyHTTP 把一次成功（2xx）的写请求按 method/path 归类为语义事件。
// 非写操作或无法归类返回 nil。
func ClassifyHTTP(method, path, userID string) *Event {
	if method == http.MethodGet || method == http.MethodHead {
		return nil
	}
	ev := &Event{UserID: userID, Timestamp: time.Now()}

	// 交互子资源（/posts/{id}/likes 等）优先于内容本体匹配
	switch {
	case strings.Contains(path, "/likes"):
		ev.Type = EventUserAction
		ev.Action = "like"
	case strings.Contains(path, "/saves"):
		ev.Type = EventUserAction
		ev.Action = "save"
	case strings.Contains(path, "/views"):
		ev.Type = EventUserAction
		ev.Action = "view"
	case strings.Contains(path, "/posts"):
		ev.Type = EventContentUpdate
		ev.ContentType = "post"
	case strings.Contains(path, "/users"):
		ev.Type = EventUserAction
		ev.Action = "update"
	default:
		ev.Type = EventSystemEvent
	}

	if ev.Type == EventContentUpdate {
		switch method {
		case http.MethodPost:
			ev.Action = "create"
		case http.MethodPut, http.MethodPatch:
			ev.Action = "update"
		case http.MethodDelete:
			ev.Action = "delete"
		}
	}
	return ev
}

// ClassifyOperation 把结构化查询接口的操作名归类为语义事件
// （如 "createPost" / "likePost" / "savePost"）。
func ClassifyOperation(op, userID, contentID string) *Event {
	ev := &Event{UserID: userID, ContentID: contentID, Timestamp: time.Now()}
	lower := strings.ToLower(op)

	switch {
	case strings.Contains(lower, "post") || strings.Contains(lower, "content"):
		ev.Type = EventContentUpdate
		ev.ContentType = "post"
		switch {
		case strings.HasPrefix(lower, "create"):
			ev.Action = "create"
		case strings.HasPrefix(lower, "update"):
			ev.Action = "update"
		case strings.HasPrefix(lower, "delete"):
			ev.Action = "delete"
		case strings.HasPrefix(lower, "like"):
			ev.Type = EventUserAction
			ev.Action = "like"
		case strings.HasPrefix(lower, "save"):
			ev.Type = EventUserAction
			ev.Action = "save"
		}
	case strings.HasPrefix(lower, "like"):
		ev.Type = EventUserAction
		ev.Action = "like"
	case strings.HasPrefix(lower, "save"):
		ev.Type = EventUserAction
		ev.Action = "save"
	case strings.HasPrefix(lower, "view"):
		ev.Type = EventUserAction
		ev.Action = "view"
	default:
		ev.Type = EventSystemEvent
		ev.Action = lower
	}
	return ev
}
