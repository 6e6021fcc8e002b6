package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedkit/core"
	"github.com/rushteam/feedkit/pkg/metrics"
)

// Engine 是内容发现引擎：候选召回 → 排除过滤 → 可见性过滤 →
// 向量补全 → 偏好打分 → 截断返回。
//
// 可用性约束：个性化是 best-effort。偏好信号缺失、向量服务超时、
// 打分过程中的任何异常，都退化为纯时效排序（fallback），绝不让请求失败——
// 除非关系存储协作方本身不可用。
type Engine struct {
	content  core.ContentStore
	vectors  core.VectorStore
	embedder core.Embedder // 可选：候选缺向量时现场生成
	cache    core.Store    // 可选：排除集 / 偏好向量缓存

	logger    zerolog.Logger
	collector *metrics.Collector
	weights   Weights

	candidateWindow time.Duration // 候选时间窗
	overfetch       int           // 超额拉取倍数
	exclusionTTL    int           // 排除集缓存 TTL（秒）
	preferenceTTL   int           // 偏好向量缓存 TTL（秒）
}

// New 创建发现引擎。content 与 vectors 必传，其余通过 Option 注入。
func New(content core.ContentStore, vectors core.VectorStore, opts ...Option) *Engine {
	e := &Engine{
		content:         content,
		vectors:         vectors,
		logger:          zerolog.Nop(),
		weights:         DefaultWeights(),
		candidateWindow: 7 * 24 * time.Hour,
		overfetch:       3,
		exclusionTTL:    300,
		preferenceTTL:   1800,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type Option func(*Engine)

// WithEmbedder 注入 embedding 服务（候选缺向量时现场生成）。
func WithEmbedder(embedder core.Embedder) Option {
	return func(e *Engine) { e.embedder = embedder }
}

// WithCache 注入共享缓存。
func WithCache(store core.Store) Option {
	return func(e *Engine) { e.cache = store }
}

// WithLogger 注入日志。
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCollector 注入指标采集器。
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithWeights 覆盖打分权重。
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithCandidateWindow 设置候选时间窗。
func WithCandidateWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.candidateWindow = d
		}
	}
}

// FeedOptions 是单次发现请求的可选参数。
type FeedOptions struct {
	// ContentTypes 限定候选内容类型（空表示不限）
	ContentTypes []string
}

// FeedMetrics 是单次请求的引擎指标。
type FeedMetrics struct {
	RequestID           string        `json:"request_id"`
	CandidatesProcessed int           `json:"candidates_processed"`
	EmbeddingsRetrieved int           `json:"embeddings_retrieved"`
	CacheHits           int           `json:"cache_hits"`
	Elapsed             time.Duration `json:"elapsed"`
	MeanScore           float64       `json:"mean_score"`
	Mode                string        `json:"mode"`     // personalized / fallback
	Degraded            bool          `json:"degraded"` // 因上游故障而降级
}

// FeedResult 是一次发现请求的结果。
type FeedResult struct {
	Items   []*core.ContentItem
	Metrics FeedMetrics
}

const (
	ModePersonalized = "personalized"
	ModeFallback     = "fallback"
)

// GenerateDiscoveryFeed 生成去重、隐私过滤、有界的个性化发现列表。
func (e *Engine) GenerateDiscoveryFeed(ctx context.Context, userID string, limit int, opts *FeedOptions) (*FeedResult, error) {
	if limit <= 0 {
		limit = 20
	}
	started := time.Now()
	m := FeedMetrics{RequestID: uuid.NewString(), Mode: ModePersonalized}

	// 1. 排除集：已看 ∪ 已收藏 ∪ 已点赞，三路并发
	exclusion, err := e.exclusionSet(ctx, userID, &m)
	if err != nil {
		// 排除集是关系存储数据；失败则整个请求失败（见可用性约束）
		return nil, err
	}

	// 2. 候选超额拉取
	since := started.Add(-e.candidateWindow)
	candidates, err := e.content.RecentCandidates(ctx, since, exclusion, limit*e.overfetch)
	if err != nil {
		return nil, err
	}

	// 3. 可见性过滤：私密内容只对作者本人或其关注者可见
	candidates = e.filterVisibility(ctx, userID, candidates)
	if opts != nil && len(opts.ContentTypes) > 0 {
		candidates = filterContentTypes(candidates, opts.ContentTypes)
	}
	m.CandidatesProcessed = len(candidates)

	// 4-7. 个性化打分；任何异常降级为时效排序
	items, degraded := e.rankPersonalized(ctx, userID, candidates, limit, &m)
	if items == nil {
		items = rankByRecency(candidates, limit)
		m.Mode = ModeFallback
		m.Degraded = degraded
	}

	m.Elapsed = time.Since(started)
	m.MeanScore = meanScore(items)
	if e.collector != nil {
		e.collector.ObserveFeed(m.Mode, m.Elapsed)
	}
	e.logger.Debug().
		Str("request_id", m.RequestID).
		Str("user_id", userID).
		Str("mode", m.Mode).
		Int("candidates", m.CandidatesProcessed).
		Dur("elapsed", m.Elapsed).
		Msg("discovery feed generated")

	return &FeedResult{Items: items, Metrics: m}, nil
}

// rankPersonalized 执行向量补全与偏好打分。
// 返回 nil 表示应走 fallback；第二个返回值标记是否因上游故障降级。
func (e *Engine) rankPersonalized(ctx context.Context, userID string, candidates []*core.ContentItem, limit int, m *FeedMetrics) (items []*core.ContentItem, degraded bool) {
	// 打分异常不允许外溢：个性化 best-effort，可用性不妥协
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Any("panic", r).Msg("personalized ranking panicked, falling back")
			items, degraded = nil, true
		}
	}()

	if len(candidates) == 0 {
		return nil, false
	}

	// 4. 批量补全候选向量；失败的候选保留但不参与相似度打分
	if err := e.attachEmbeddings(ctx, candidates, m); err != nil {
		if core.IsUnavailable(err) {
			if e.collector != nil {
				e.collector.UpstreamErrors.WithLabelValues("vector").Inc()
			}
			return nil, true
		}
		return nil, false
	}

	// 5. 偏好向量（质心）
	preference, err := e.preferenceVector(ctx, userID, m)
	if err != nil {
		if core.IsUnavailable(err) {
			return nil, true
		}
		return nil, false
	}

	// 6. 无信号或候选全部无向量 → fallback
	if len(preference) == 0 || !anyEmbedded(candidates) {
		return nil, false
	}

	// 7. 打分、排序、截断
	now := time.Now()
	for _, it := range candidates {
		scoreItem(it, preference, e.weights, now)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, false
}

// attachEmbeddings 从向量存储批量取回候选向量。
func (e *Engine) attachEmbeddings(ctx context.Context, candidates []*core.ContentItem, m *FeedMetrics) error {
	missing := make([]string, 0, len(candidates))
	index := make(map[string]*core.ContentItem, len(candidates))
	for _, it := range candidates {
		if !it.HasEmbedding() {
			missing = append(missing, it.ID)
			index[it.ID] = it
		}
	}
	if len(missing) == 0 {
		return nil
	}

	records, err := e.vectors.Fetch(ctx, missing, true)
	if err != nil {
		return err
	}
	for _, r := range records {
		if it, ok := index[r.ID]; ok && len(r.Vector) > 0 {
			it.Embedding = r.Vector
			m.EmbeddingsRetrieved++
		}
	}

	// 索引里也没有的候选才现场生成（有界，控制提供方开销）
	if e.embedder != nil {
		generated := 0
		for _, it := range candidates {
			if it.HasEmbedding() || generated >= onTheFlyCap {
				continue
			}
			result, err := e.embedder.GenerateTextEmbedding(ctx, it.EmbeddingInput())
			if err != nil {
				continue // 单个失败不影响整体
			}
			it.Embedding = result.Vector
			m.EmbeddingsRetrieved++
			generated++
		}
	}
	return nil
}

// onTheFlyCap 单次请求内现场生成 embedding 的上限。
const onTheFlyCap = 10

// exclusionSet 并发构建排除集，每路先查缓存。
func (e *Engine) exclusionSet(ctx context.Context, userID string, m *FeedMetrics) (map[string]struct{}, error) {
	type fetch struct {
		domain string
		fn     func(context.Context, string) ([]string, error)
	}
	fetches := []fetch{
		{"seen", e.content.SeenContentIDs},
		{"saved", e.content.SavedContentIDs},
		{"liked", e.content.LikedContentIDs},
	}

	results := make([][]string, len(fetches))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, f := range fetches {
		i, f := i, f
		eg.Go(func() error {
			ids, err := e.cachedIDSet(egCtx, f.domain, userID, f.fn, m)
			if err != nil {
				return err
			}
			results[i] = ids
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	exclusion := make(map[string]struct{})
	for _, ids := range results {
		for _, id := range ids {
			exclusion[id] = struct{}{}
		}
	}
	return exclusion, nil
}

func (e *Engine) cachedIDSet(ctx context.Context, domain, userID string, fn func(context.Context, string) ([]string, error), m *FeedMetrics) ([]string, error) {
	key := "feed:" + domain + ":" + userID
	if e.cache != nil {
		if data, err := e.cache.Get(ctx, key); err == nil {
			var ids []string
			if json.Unmarshal(data, &ids) == nil {
				m.CacheHits++
				return ids, nil
			}
		}
	}
	ids, err := fn(ctx, userID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		if data, err := json.Marshal(ids); err == nil {
			if err := e.cache.Set(ctx, key, data, e.exclusionTTL); err != nil {
				e.logger.Debug().Err(err).Str("key", key).Msg("exclusion cache write failed")
			}
		}
	}
	return ids, nil
}

// filterVisibility 过滤私密内容：仅作者本人或其关注者可见。
// 关注检查按作者去重，失败视为不可见（保守）。
func (e *Engine) filterVisibility(ctx context.Context, userID string, candidates []*core.ContentItem) []*core.ContentItem {
	out := make([]*core.ContentItem, 0, len(candidates))
	followCache := make(map[string]bool)
	for _, it := range candidates {
		if it == nil {
			continue
		}
		if !it.IsPrivate || it.AuthorID == userID {
			out = append(out, it)
			continue
		}
		follows, checked := followCache[it.AuthorID]
		if !checked {
			var err error
			follows, err = e.content.IsFollowing(ctx, userID, it.AuthorID)
			if err != nil {
				follows = false
			}
			followCache[it.AuthorID] = follows
		}
		if follows {
			out = append(out, it)
		}
	}
	return out
}

// SimilarContent 以已有内容为例检索相似内容（recommend-by-example）。
func (e *Engine) SimilarContent(ctx context.Context, contentID string, limit int) ([]*core.ContentItem, error) {
	result, err := e.vectors.Recommend(ctx, &core.VectorRecommendRequest{
		PositiveIDs: []string{contentID},
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	items := make([]*core.ContentItem, 0, len(result.Hits))
	for _, h := range result.Hits {
		if h.ID == contentID {
			continue
		}
		it := core.NewContentItem(h.ID)
		it.AuthorID = h.Payload.AuthorID
		it.ContentType = h.Payload.ContentType
		it.Score = h.Score
		items = append(items, it)
	}
	return items, nil
}

// ---------- fallback 与小工具 ----------

// rankByRecency 纯时效排序：个性化信号缺失时的降级路径，
// 只要存在候选就必须返回非空结果。
func rankByRecency(candidates []*core.ContentItem, limit int) []*core.ContentItem {
	out := make([]*core.ContentItem, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	now := time.Now()
	for _, it := range out {
		it.Breakdown = core.ScoreBreakdown{Recency: recencyScore(it.CreatedAt, now)}
		it.Score = it.Breakdown.Recency
	}
	return out
}

func filterContentTypes(candidates []*core.ContentItem, types []string) []*core.ContentItem {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	out := make([]*core.ContentItem, 0, len(candidates))
	for _, it := range candidates {
		if _, ok := allowed[it.ContentType]; ok {
			out = append(out, it)
		}
	}
	return out
}

func anyEmbedded(candidates []*core.ContentItem) bool {
	for _, it := range candidates {
		if it.HasEmbedding() {
			return true
		}
	}
	return false
}

func meanScore(items []*core.ContentItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Score
	}
	return sum / float64(len(items))
}
