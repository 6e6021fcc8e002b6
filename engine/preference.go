package engine

import (
	"context"
	"encoding/json"
)

// preferenceCap 参与质心计算的最多互动内容条数。
const preferenceCap = 100

// preferenceVector 返回用户的偏好向量：最近收藏/点赞内容 embedding 的质心。
// 中等 TTL 缓存；无互动信号返回 nil（调用方走降级路径）。
func (e *Engine) preferenceVector(ctx context.Context, userID string, m *FeedMetrics) ([]float64, error) {
	cacheKey := "feed:pref:" + userID
	if e.cache != nil {
		if data, err := e.cache.Get(ctx, cacheKey); err == nil {
			var vec []float64
			if json.Unmarshal(data, &vec) == nil && len(vec) > 0 {
				m.CacheHits++
				if e.collector != nil {
					e.collector.CacheHits.WithLabelValues("preference").Inc()
				}
				return vec, nil
			}
		} else if e.collector != nil {
			e.collector.CacheMisses.WithLabelValues("preference").Inc()
		}
	}

	ids, err := e.content.EngagedContentIDs(ctx, userID, preferenceCap)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil // 新用户，无信号
	}

	records, err := e.vectors.Fetch(ctx, ids, true)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float64, 0, len(records))
	for _, r := range records {
		if len(r.Vector) > 0 {
			vectors = append(vectors, r.Vector)
		}
	}
	centroid := Centroid(vectors)
	if centroid == nil {
		return nil, nil
	}

	if e.cache != nil {
		if data, err := json.Marshal(centroid); err == nil {
			if err := e.cache.Set(ctx, cacheKey, data, e.preferenceTTL); err != nil {
				e.logger.Debug().Err(err).Msg("preference cache write failed")
			}
		}
	}
	return centroid, nil
}
