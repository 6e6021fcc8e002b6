package behavior

import (
	"context"
	"sort"

	"github.com/rushteam/feedkit/core"
)

// 重排权重：外部分数主导，行为分补充
const (
	externalWeight = 0.7
	behaviorWeight = 0.3
)

// diversityThreshold 超过该多样性偏好时启用同类型连续上限。
const diversityThreshold = 0.6

// maxConsecutiveSameType 多样性过滤下同一内容类型的最大连续条数。
const maxConsecutiveSameType = 2

// PersonalizedRerank 以行为画像对外部打分结果重排：
// 融合分 = 0.7×外部分 + 0.3×行为分；用户多样性偏好高时，
// 追加同类型连续上限的多样性过滤。
func (t *Tracker) PersonalizedRerank(ctx context.Context, userID string, items []*core.ContentItem) []*core.ContentItem {
	if len(items) == 0 {
		return items
	}
	p := t.Profile(ctx, userID)

	out := make([]*core.ContentItem, len(items))
	copy(out, items)
	for _, it := range out {
		it.Score = externalWeight*it.Score + behaviorWeight*behaviorScore(p, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	if p.DiversityPreference > diversityThreshold {
		out = capConsecutive(out, maxConsecutiveSameType)
	}
	return out
}

// behaviorScore 行为分：内容类型偏好 + 话题偏好均值。
func behaviorScore(p *core.BehaviorProfile, it *core.ContentItem) float64 {
	score := p.ContentTypeAffinity[it.ContentType]
	if len(it.Hashtags) > 0 {
		var sum float64
		for _, tag := range it.Hashtags {
			sum += p.TopicAffinity[tag]
		}
		score = (score + sum/float64(len(it.Hashtags))) / 2
	}
	if score > 1 {
		score = 1
	}
	return score
}

// capConsecutive 限制同一内容类型的连续条数：超限的条目后移（不丢弃）。
func capConsecutive(items []*core.ContentItem, maxRun int) []*core.ContentItem {
	out := make([]*core.ContentItem, 0, len(items))
	deferred := make([]*core.ContentItem, 0)

	run := 0
	lastType := ""
	for _, it := range items {
		if it.ContentType == lastType {
			run++
		} else {
			run = 1
			lastType = it.ContentType
		}
		if run > maxRun {
			deferred = append(deferred, it)
			run = maxRun
			continue
		}
		out = append(out, it)
	}
	return append(out, deferred...)
}
