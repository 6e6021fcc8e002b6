package behavior

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/feedkit/core"
)

// Insights 从画像派生零或多个定性洞察（只读，advisory），
// 带置信度与可操作建议；从不修改画像。
func (t *Tracker) Insights(ctx context.Context, userID string) []core.BehaviorInsight {
	p := t.Profile(ctx, userID)
	if p.TotalInteractions == 0 {
		return nil
	}

	var insights []core.BehaviorInsight

	// 内容类型主导
	if kind, affinity := dominantType(p); affinity > 0.5 {
		insights = append(insights, core.BehaviorInsight{
			Kind:           "content_type_dominance",
			Description:    fmt.Sprintf("user strongly prefers %s content (affinity %.2f)", kind, affinity),
			Confidence:     confidence(p, affinity),
			Recommendation: "weight " + kind + " candidates higher in discovery",
		})
	}

	// 观看时长两端
	if p.Engagement.AvgViewDuration > 0 {
		switch {
		case p.Engagement.AvgViewDuration < 5*time.Second:
			insights = append(insights, core.BehaviorInsight{
				Kind:           "engagement_duration",
				Description:    "very short average view duration, user skims the feed",
				Confidence:     confidence(p, 0.7),
				Recommendation: "prefer concise content, demote long-form",
			})
		case p.Engagement.AvgViewDuration > 2*time.Minute:
			insights = append(insights, core.BehaviorInsight{
				Kind:           "engagement_duration",
				Description:    "long average view duration, user engages deeply",
				Confidence:     confidence(p, 0.7),
				Recommendation: "long-form content is a good fit",
			})
		}
	}

	// 社交密度
	if n := len(p.Social.InteractedUsers); n > 20 {
		insights = append(insights, core.BehaviorInsight{
			Kind:           "social_density",
			Description:    fmt.Sprintf("user interacts with a wide circle (%d authors)", n),
			Confidence:     confidence(p, 0.6),
			Recommendation: "social-graph candidates deserve extra weight",
		})
	}

	return insights
}

func dominantType(p *core.BehaviorProfile) (string, float64) {
	var kind string
	var best float64
	for k, v := range p.ContentTypeAffinity {
		if v > best {
			kind, best = k, v
		}
	}
	return kind, best
}

// confidence 置信度随交互量增长，上限由信号强度给定。
func confidence(p *core.BehaviorProfile, ceiling float64) float64 {
	c := float64(p.TotalInteractions) / 100
	if c > 1 {
		c = 1
	}
	return c * ceiling
}
