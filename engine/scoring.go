package engine

import (
	"math"
	"time"

	"github.com/rushteam/feedkit/core"
)

// Weights 是最终融合分数的固定权重（相似度占主导）。
type Weights struct {
	Similarity float64
	Recency    float64
	Engagement float64
}

// DefaultWeights 相似度 0.5，时效与热度瓜分剩余。
func DefaultWeights() Weights {
	return Weights{Similarity: 0.5, Recency: 0.3, Engagement: 0.2}
}

// CosineSimilarity 计算两个向量的余弦相似度，范围 [-1, 1]。
// 维度不一致或零向量返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Centroid 计算向量集的按维算术平均（质心）。空集或维度不一致返回 nil。
func Centroid(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil
	}
	out := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			out[i] += x
		}
	}
	n := float64(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

// recencyScore 时效分：24 小时半衰期的指数衰减；
// 超过一周/一月的内容落入重折扣分档。
func recencyScore(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	switch {
	case age > 30*24*time.Hour:
		return 0.001
	case age > 7*24*time.Hour:
		return 0.005
	default:
		return math.Exp2(-age.Hours() / 24)
	}
}

// engagementScore 热度分：save+comment 的对数压缩，save 加权更重。
func engagementScore(it *core.ContentItem) float64 {
	raw := float64(it.SaveCount)*2 + float64(it.CommentCount)
	score := math.Log1p(raw) / math.Log1p(1000)
	if score > 1 {
		return 1
	}
	return score
}

// scoreItem 计算候选的融合分数并写回 Breakdown。
// 无向量的候选相似度分量为 0（保留但不参与语义打分）。
func scoreItem(it *core.ContentItem, preference []float64, w Weights, now time.Time) {
	sim := 0.0
	if it.HasEmbedding() && len(preference) > 0 {
		sim = CosineSimilarity(it.Embedding, preference)
		if sim < 0 {
			sim = 0
		}
	}
	rec := recencyScore(it.CreatedAt, now)
	eng := engagementScore(it)

	score := w.Similarity*sim + w.Recency*rec + w.Engagement*eng
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	it.Score = score
	it.Breakdown = core.ScoreBreakdown{Similarity: sim, Recency: rec, Engagement: eng}
}
