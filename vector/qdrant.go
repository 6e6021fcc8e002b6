package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedkit/core"
	"github.com/rushteam/feedkit/pkg/metrics"
	"github.com/rushteam/feedkit/pkg/retry"
)

// QdrantService 是 Qdrant 向量数据库的 core.VectorStore 实现（HTTP/JSON 协议）。
//
// 工程特征：
//   - 批量操作固定子批大小 + 并发上限，限制单请求负载与对上游的压力
//   - 检索结果短 TTL 缓存（共享 core.Store），任何写入/删除整体失效
//   - 统一重试包装 + 熔断器，重试耗尽返回 core.ErrVectorUnavailable
//   - 字符串 ID 经 xxhash64 映射为数值 point id，原始 ID 冗余在 payload
type QdrantService struct {
	collection string
	transport  *transport
	cache      core.Store
	logger     zerolog.Logger
	collector  *metrics.Collector

	searchCacheTTL int // 秒
	searchBatch    int // 批量检索子批大小
	upsertBatch    int // 批量写入子批大小
	maxConcurrent  int // 同时在途子批上限
}

// NewQdrantService 创建一个新的 Qdrant 服务实例。
func NewQdrantService(baseURL, collection string, opts ...QdrantOption) *QdrantService {
	s := &QdrantService{
		collection:     collection,
		logger:         zerolog.Nop(),
		searchCacheTTL: 300,
		searchBatch:    10,
		upsertBatch:    100,
		maxConcurrent:  3,
	}

	var (
		apiKey  string
		timeout = 30 * time.Second
		policy  = retry.Policy{MaxAttempts: 3}
	)
	cfg := &qdrantConfig{apiKey: &apiKey, timeout: &timeout, policy: &policy, service: s}
	for _, opt := range opts {
		opt(cfg)
	}

	s.transport = newTransport(baseURL, apiKey, timeout, policy, s.logger)
	return s
}

type qdrantConfig struct {
	apiKey  *string
	timeout *time.Duration
	policy  *retry.Policy
	service *QdrantService
}

type QdrantOption func(*qdrantConfig)

// WithAPIKey 设置 api-key 请求头。
func WithAPIKey(key string) QdrantOption {
	return func(c *qdrantConfig) { *c.apiKey = key }
}

// WithTimeout 设置单请求超时。
func WithTimeout(timeout time.Duration) QdrantOption {
	return func(c *qdrantConfig) { *c.timeout = timeout }
}

// WithRetryPolicy 设置重试策略。
func WithRetryPolicy(p retry.Policy) QdrantOption {
	return func(c *qdrantConfig) { *c.policy = p }
}

// WithSearchCache 启用检索结果缓存；ttl 单位秒。
func WithSearchCache(store core.Store, ttl int) QdrantOption {
	return func(c *qdrantConfig) {
		c.service.cache = store
		if ttl > 0 {
			c.service.searchCacheTTL = ttl
		}
	}
}

// WithLogger 注入日志。
func WithLogger(logger zerolog.Logger) QdrantOption {
	return func(c *qdrantConfig) { c.service.logger = logger }
}

// WithCollector 注入指标采集器。
func WithCollector(collector *metrics.Collector) QdrantOption {
	return func(c *qdrantConfig) { c.service.collector = collector }
}

// WithBatchSizes 设置检索/写入子批大小。
func WithBatchSizes(search, upsert int) QdrantOption {
	return func(c *qdrantConfig) {
		if search > 0 {
			c.service.searchBatch = search
		}
		if upsert > 0 {
			c.service.upsertBatch = upsert
		}
	}
}

// WithMaxConcurrent 设置同时在途子批上限。
func WithMaxConcurrent(n int) QdrantOption {
	return func(c *qdrantConfig) {
		if n > 0 {
			c.service.maxConcurrent = n
		}
	}
}

// ---------- 集合生命周期 ----------

// EnsureCollection 幂等创建集合：先查存在性，缺席才创建，绝不修改已有集合参数。
func (s *QdrantService) EnsureCollection(ctx context.Context, cfg *core.CollectionConfig) error {
	if cfg.Name == "" {
		return core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "vector: collection name is required")
	}
	if cfg.Dimension <= 0 {
		return core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "vector: dimension must be greater than 0")
	}

	err := s.transport.do(ctx, http.MethodGet, "/collections/"+cfg.Name, nil, nil)
	if err == nil {
		return nil // 已存在
	}
	if se, ok := err.(*statusError); !ok || se.Status != http.StatusNotFound {
		return fmt.Errorf("check collection: %w", err)
	}

	distance := cfg.Distance
	if distance == "" {
		distance = "Cosine"
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     cfg.Dimension,
			"distance": distance,
			"on_disk":  cfg.OnDisk,
		},
	}
	hnsw := map[string]any{}
	if cfg.HNSWM > 0 {
		hnsw["m"] = cfg.HNSWM
	}
	if cfg.HNSWEfConstruct > 0 {
		hnsw["ef_construct"] = cfg.HNSWEfConstruct
	}
	if len(hnsw) > 0 {
		body["hnsw_config"] = hnsw
	}
	if cfg.Quantization {
		body["quantization_config"] = map[string]any{
			"scalar": map[string]any{"type": "int8"},
		}
	}

	if err := s.transport.do(ctx, http.MethodPut, "/collections/"+cfg.Name, body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	s.logger.Info().Str("collection", cfg.Name).Int("dimension", cfg.Dimension).Msg("collection created")
	return nil
}

// ---------- 检索 ----------

// qdrantHit 是 Qdrant 检索命中的 wire 结构。
type qdrantHit struct {
	ID      uint64            `json:"id"`
	Score   float64           `json:"score"`
	Payload core.PointPayload `json:"payload"`
	Vector  []float64         `json:"vector,omitempty"`
}

func (s *QdrantService) Search(ctx context.Context, req *core.VectorSearchRequest) (*core.VectorSearchResult, error) {
	if len(req.Vector) == 0 {
		return nil, core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "vector: query vector is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	cacheKey := s.searchCacheKey(req)
	if cached := s.cachedResult(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	body := s.searchBody(req.Vector, limit, req.Filter, req.HNSWEf)
	var resp struct {
		Result []qdrantHit `json:"result"`
	}
	if err := s.transport.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", body, &resp); err != nil {
		return nil, err
	}

	result := hitsToResult(resp.Result)
	s.cacheResult(ctx, cacheKey, result)
	return result, nil
}

// BatchSearch 把向量集切分为固定大小的子批并发检索，按输入顺序返回结果列表。
// 子批失败只清空该子批对应位置的结果（partial results），其余子批照常执行。
func (s *QdrantService) BatchSearch(ctx context.Context, req *core.VectorBatchSearchRequest) ([]*core.VectorSearchResult, error) {
	if len(req.Vectors) == 0 {
		return nil, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	results := make([]*core.VectorSearchResult, len(req.Vectors))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.maxConcurrent)

	for start := 0; start < len(req.Vectors); start += s.searchBatch {
		end := start + s.searchBatch
		if end > len(req.Vectors) {
			end = len(req.Vectors)
		}
		offset, chunk := start, req.Vectors[start:end]

		eg.Go(func() error {
			searches := make([]map[string]any, len(chunk))
			for i, v := range chunk {
				searches[i] = s.searchBody(v, limit, req.Filter, 0)
			}
			var resp struct {
				Result [][]qdrantHit `json:"result"`
			}
			err := s.transport.do(egCtx, http.MethodPost, "/collections/"+s.collection+"/points/search/batch",
				map[string]any{"searches": searches}, &resp)
			if err != nil {
				// 子批失败：对应位置留空，不中断其他子批
				s.logger.Warn().Err(err).Int("offset", offset).Int("size", len(chunk)).Msg("batch search sub-batch failed")
				if s.collector != nil {
					s.collector.BatchSubFailures.Inc()
				}
				for i := range chunk {
					results[offset+i] = &core.VectorSearchResult{}
				}
				return nil
			}
			for i := range chunk {
				if i < len(resp.Result) {
					results[offset+i] = hitsToResult(resp.Result[i])
				} else {
					results[offset+i] = &core.VectorSearchResult{}
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *QdrantService) searchBody(vector []float64, limit int, filter *core.VectorFilter, hnswEf int) map[string]any {
	if hnswEf <= 0 {
		// 动态候选队列宽度随 limit 放大，平衡召回率与延迟
		hnswEf = limit * 4
		if hnswEf < 64 {
			hnswEf = 64
		}
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
		"params":       map[string]any{"hnsw_ef": hnswEf},
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	return body
}

func buildFilter(filter *core.VectorFilter) map[string]any {
	if filter == nil || len(filter.Must) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter.Must))
	for k, v := range filter.Must {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

func hitsToResult(hits []qdrantHit) *core.VectorSearchResult {
	result := &core.VectorSearchResult{Hits: make([]core.VectorSearchHit, 0, len(hits))}
	for _, h := range hits {
		id := h.Payload.ContentID
		if id == "" {
			id = fmt.Sprintf("%d", h.ID)
		}
		result.Hits = append(result.Hits, core.VectorSearchHit{
			ID:      id,
			Score:   h.Score,
			Payload: h.Payload,
			Vector:  h.Vector,
		})
	}
	return result
}

// ---------- 写入 ----------

type qdrantPoint struct {
	ID      uint64            `json:"id"`
	Vector  []float64         `json:"vector"`
	Payload core.PointPayload `json:"payload"`
}

func (s *QdrantService) Upsert(ctx context.Context, record *core.VectorRecord) error {
	return s.BatchUpsert(ctx, []*core.VectorRecord{record})
}

// BatchUpsert 按固定批大小切分写入，受并发上限约束；完成后整体失效检索缓存。
func (s *QdrantService) BatchUpsert(ctx context.Context, records []*core.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r.ID == "" {
			return core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "vector: record id is required")
		}
		if len(r.Vector) == 0 {
			return core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "vector: record vector is required")
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.maxConcurrent)

	for start := 0; start < len(records); start += s.upsertBatch {
		end := start + s.upsertBatch
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		eg.Go(func() error {
			points := make([]qdrantPoint, len(chunk))
			for i, r := range chunk {
				payload := r.Payload
				payload.ContentID = r.ID // 原始 ID 必须随 payload 存储
				points[i] = qdrantPoint{ID: pointID(r.ID), Vector: r.Vector, Payload: payload}
			}
			err := s.transport.do(egCtx, http.MethodPut, "/collections/"+s.collection+"/points",
				map[string]any{"points": points}, nil)
			if err != nil {
				return fmt.Errorf("upsert points: %w", err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	s.invalidateSearchCache(ctx)
	return nil
}

func (s *QdrantService) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]uint64, len(ids))
	for i, id := range ids {
		points[i] = pointID(id)
	}
	err := s.transport.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete",
		map[string]any{"points": points}, nil)
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	s.invalidateSearchCache(ctx)
	return nil
}

// ---------- 批量读取 / 以例查询 ----------

// Fetch 按 ID 批量读取记录：子批大小复用写入批大小，并发受上限约束。
// 子批失败只丢该子批的记录，其余照常返回（partial results）；
// 全部子批失败说明索引整体不可用，返回 ErrVectorUnavailable 供调用方降级。
func (s *QdrantService) Fetch(ctx context.Context, ids []string, withVector bool) ([]*core.VectorRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	chunks := (len(ids) + s.upsertBatch - 1) / s.upsertBatch
	parts := make([][]*core.VectorRecord, chunks)
	var failed int32

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.maxConcurrent)

	for idx := 0; idx < chunks; idx++ {
		start := idx * s.upsertBatch
		end := start + s.upsertBatch
		if end > len(ids) {
			end = len(ids)
		}
		slot, chunk := idx, ids[start:end]

		eg.Go(func() error {
			points := make([]uint64, len(chunk))
			for i, id := range chunk {
				points[i] = pointID(id)
			}
			var resp struct {
				Result []qdrantHit `json:"result"`
			}
			err := s.transport.do(egCtx, http.MethodPost, "/collections/"+s.collection+"/points",
				map[string]any{"ids": points, "with_payload": true, "with_vector": withVector}, &resp)
			if err != nil {
				s.logger.Warn().Err(err).Int("size", len(chunk)).Msg("fetch sub-batch failed")
				if s.collector != nil {
					s.collector.BatchSubFailures.Inc()
				}
				atomic.AddInt32(&failed, 1)
				return nil
			}
			records := make([]*core.VectorRecord, 0, len(resp.Result))
			for _, p := range resp.Result {
				id := p.Payload.ContentID
				if id == "" {
					id = fmt.Sprintf("%d", p.ID)
				}
				records = append(records, &core.VectorRecord{ID: id, Vector: p.Vector, Payload: p.Payload})
			}
			parts[slot] = records
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if int(atomic.LoadInt32(&failed)) == chunks {
		return nil, core.ErrVectorUnavailable
	}

	out := make([]*core.VectorRecord, 0, len(ids))
	for _, part := range parts {
		out = append(out, part...)
	}
	return out, nil
}

func (s *QdrantService) Scroll(ctx context.Context, req *core.VectorScrollRequest) ([]*core.VectorRecord, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  req.WithVector,
	}
	if f := buildFilter(req.Filter); f != nil {
		body["filter"] = f
	}

	var resp struct {
		Result struct {
			Points []qdrantHit `json:"points"`
		} `json:"result"`
	}
	if err := s.transport.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/scroll", body, &resp); err != nil {
		return nil, err
	}

	records := make([]*core.VectorRecord, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		id := p.Payload.ContentID
		if id == "" {
			id = fmt.Sprintf("%d", p.ID)
		}
		records = append(records, &core.VectorRecord{ID: id, Vector: p.Vector, Payload: p.Payload})
	}
	return records, nil
}

func (s *QdrantService) Recommend(ctx context.Context, req *core.VectorRecommendRequest) (*core.VectorSearchResult, error) {
	if len(req.PositiveIDs) == 0 {
		return nil, core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "vector: positive ids are required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	positive := make([]uint64, len(req.PositiveIDs))
	for i, id := range req.PositiveIDs {
		positive[i] = pointID(id)
	}
	body := map[string]any{
		"positive":     positive,
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(req.Filter); f != nil {
		body["filter"] = f
	}

	var resp struct {
		Result []qdrantHit `json:"result"`
	}
	if err := s.transport.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/recommend", body, &resp); err != nil {
		return nil, err
	}
	return hitsToResult(resp.Result), nil
}

// ---------- 兼容性辅助 ----------

// SearchPosts 以查询向量检索帖子并还原成领域候选（兼容旧调用方）。
func (s *QdrantService) SearchPosts(ctx context.Context, vector []float64, limit int) ([]*core.ContentItem, error) {
	result, err := s.Search(ctx, &core.VectorSearchRequest{Vector: vector, Limit: limit})
	if err != nil {
		return nil, err
	}
	items := make([]*core.ContentItem, 0, len(result.Hits))
	for _, h := range result.Hits {
		it := core.NewContentItem(h.ID)
		it.AuthorID = h.Payload.AuthorID
		it.ContentType = h.Payload.ContentType
		it.IsPrivate = h.Payload.IsPrivate
		if h.Payload.CreatedAt > 0 {
			it.CreatedAt = time.Unix(h.Payload.CreatedAt, 0)
		}
		it.Embedding = h.Vector
		it.Score = h.Score
		items = append(items, it)
	}
	return items, nil
}

// SearchByMetadata 纯元数据查询（不带查询向量），基于 Scroll 实现。
func (s *QdrantService) SearchByMetadata(ctx context.Context, must map[string]any, limit int) ([]*core.VectorRecord, error) {
	return s.Scroll(ctx, &core.VectorScrollRequest{
		Limit:  limit,
		Filter: &core.VectorFilter{Must: must},
	})
}

func (s *QdrantService) Close() error { return nil }

// ---------- 检索缓存 ----------

func (s *QdrantService) searchCacheKey(req *core.VectorSearchRequest) string {
	raw, _ := json.Marshal(req)
	return fmt.Sprintf("vector:search:%s:%x", s.collection, xxhash.Sum64(raw))
}

func (s *QdrantService) cachedResult(ctx context.Context, key string) *core.VectorSearchResult {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if s.collector != nil {
			s.collector.CacheMisses.WithLabelValues("search").Inc()
		}
		return nil
	}
	var result core.VectorSearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	if s.collector != nil {
		s.collector.CacheHits.WithLabelValues("search").Inc()
	}
	return &result
}

func (s *QdrantService) cacheResult(ctx context.Context, key string, result *core.VectorSearchResult) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.searchCacheTTL); err != nil {
		s.logger.Debug().Err(err).Msg("search cache write failed")
	}
}

// invalidateSearchCache 任何写入/删除后整体失效本集合的检索缓存。
// 失效失败只记日志（最终一致可容忍），不影响写入结果。
func (s *QdrantService) invalidateSearchCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.InvalidatePattern(ctx, "vector:search:"+s.collection+":*"); err != nil {
		s.logger.Warn().Err(err).Msg("search cache invalidation failed")
	}
}

// 确保 QdrantService 实现了 core.VectorStore 接口
var _ core.VectorStore = (*QdrantService)(nil)
