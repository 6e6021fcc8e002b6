package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedkit/core"
	"github.com/rushteam/feedkit/pkg/metrics"
	"github.com/rushteam/feedkit/pkg/retry"
)

// Service 是外部 embedding 提供方的 core.Embedder 实现（HTTPS/JSON，Bearer 认证）。
//
// 约束（数据完整性优先）：
//   - 返回向量长度必须严格等于配置维度；不一致立即报 DIMENSION_MISMATCH，
//     绝不截断或补零
//   - 结果按 provider:model:dim:sha256(content) 缓存；命中时不发起网络请求，
//     避免重复的提供方开销——其他组件不得绕过此缓存
//   - 提供方失败固定间隔重试（每次都是完整重发，不是断点续传）
type Service struct {
	endpoint  string
	token     string
	provider  string
	model     string
	dimension int

	cache     core.Store
	client    *http.Client
	policy    retry.Policy
	logger    zerolog.Logger
	collector *metrics.Collector

	// 按内容类型区分的缓存 TTL（秒）
	textTTL       int
	imageTTL      int
	multimodalTTL int
}

// NewService 创建 embedding 服务。
func NewService(endpoint, token, provider, model string, dimension int, opts ...Option) *Service {
	s := &Service{
		endpoint:      endpoint,
		token:         token,
		provider:      provider,
		model:         model,
		dimension:     dimension,
		client:        &http.Client{Timeout: 30 * time.Second},
		policy:        retry.Policy{MaxAttempts: 3, InitialInterval: time.Second, Fixed: true},
		logger:        zerolog.Nop(),
		textTTL:       86400,
		imageTTL:      7 * 86400,
		multimodalTTL: 86400,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Service)

// WithCache 注入共享缓存。
func WithCache(store core.Store) Option {
	return func(s *Service) { s.cache = store }
}

// WithHTTPClient 替换 HTTP 客户端（测试注入 httptest 用）。
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.client = client }
}

// WithRetryPolicy 设置重试策略。
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger 注入日志。
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCollector 注入指标采集器。
func WithCollector(c *metrics.Collector) Option {
	return func(s *Service) { s.collector = c }
}

// WithContentTTL 设置各内容类型的缓存 TTL（秒，<=0 保持默认）。
func WithContentTTL(text, image, multimodal int) Option {
	return func(s *Service) {
		if text > 0 {
			s.textTTL = text
		}
		if image > 0 {
			s.imageTTL = image
		}
		if multimodal > 0 {
			s.multimodalTTL = multimodal
		}
	}
}

func (s *Service) Provider() string { return s.provider }
func (s *Service) Dimensions() int  { return s.dimension }

// ---------- 生成 ----------

func (s *Service) GenerateTextEmbedding(ctx context.Context, text string) (*core.EmbeddingResult, error) {
	if text == "" {
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeInvalidInput, "embedding: text is required")
	}
	return s.generate(ctx, s.cacheKey("text", text), text, s.textTTL)
}

func (s *Service) GenerateImageEmbedding(ctx context.Context, imageData string) (*core.EmbeddingResult, error) {
	if imageData == "" {
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeInvalidInput, "embedding: image data is required")
	}
	input := []core.MultimodalPart{{Type: "image", Image: imageData}}
	return s.generate(ctx, s.cacheKey("image", imageData), input, s.imageTTL)
}

func (s *Service) GenerateMultimodalEmbedding(ctx context.Context, parts []core.MultimodalPart) (*core.EmbeddingResult, error) {
	if len(parts) == 0 {
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeInvalidInput, "embedding: parts are required")
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("marshal parts: %w", err)
	}
	return s.generate(ctx, s.cacheKey("multi", string(raw)), parts, s.multimodalTTL)
}

// generate 是三条生成路径的公共骨架：查缓存 → 调提供方 → 校验维度 → 写缓存。
func (s *Service) generate(ctx context.Context, cacheKey string, input any, ttl int) (*core.EmbeddingResult, error) {
	if cached := s.cachedVector(ctx, cacheKey); cached != nil {
		return s.result(cached), nil
	}

	vector, err := s.callProvider(ctx, input)
	if err != nil {
		return nil, err
	}

	// 维度校验是数据完整性不变量：不一致单次操作致命，绝不静默修正
	if len(vector) != s.dimension {
		s.logger.Error().Int("got", len(vector)).Int("want", s.dimension).Msg("embedding dimension mismatch")
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("embedding: provider returned %d dimensions, expected %d", len(vector), s.dimension))
	}

	s.cacheVector(ctx, cacheKey, vector, ttl)
	return s.result(vector), nil
}

func (s *Service) result(vector []float64) *core.EmbeddingResult {
	return &core.EmbeddingResult{
		Vector:     vector,
		Dimensions: s.dimension,
		Provider:   s.provider,
		Model:      s.model,
	}
}

// callProvider 调用 POST /embeddings（Bearer 认证），失败按固定间隔重试。
func (s *Service) callProvider(ctx context.Context, input any) ([]float64, error) {
	body, err := json.Marshal(map[string]any{
		"input": input,
		"model": s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var vector []float64
	err = s.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.token)

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			err := fmt.Errorf("embedding provider: status=%d body=%s", resp.StatusCode, string(data))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}

		var result struct {
			Data []struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
			} `json:"data"`
			Model string `json:"model"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if len(result.Data) == 0 {
			return fmt.Errorf("embedding provider: empty data")
		}
		vector = result.Data[0].Embedding
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("embedding generation failed after retries")
		if s.collector != nil {
			s.collector.UpstreamErrors.WithLabelValues("embedding").Inc()
		}
		if domainErr := core.GetDomainError(err); domainErr != nil {
			return nil, domainErr
		}
		return nil, core.ErrEmbeddingUnavailable
	}
	return vector, nil
}

// ---------- 帖子级辅助 ----------

// GeneratePostEmbedding 把正文与话题标签拼接成一条输入打 embedding，
// 返回向量及落库用的元数据 payload。
func (s *Service) GeneratePostEmbedding(ctx context.Context, id, content string, hashtags []string, authorID string, isPrivate bool) (*core.VectorRecord, error) {
	it := &core.ContentItem{ID: id, Content: content, Hashtags: hashtags}
	result, err := s.GenerateTextEmbedding(ctx, it.EmbeddingInput())
	if err != nil {
		return nil, err
	}
	return &core.VectorRecord{
		ID:     id,
		Vector: result.Vector,
		Payload: core.PointPayload{
			ContentID: id,
			AuthorID:  authorID,
			IsPrivate: isPrivate,
			CreatedAt: time.Now().Unix(),
			Provider:  result.Provider,
			Model:     result.Model,
			Dimension: result.Dimensions,
		},
	}, nil
}

// StoreEmbedding 委托向量存储写入，payload 带 provider/model/dimension 供溯源。
func (s *Service) StoreEmbedding(ctx context.Context, store core.VectorStore, record *core.VectorRecord) error {
	if record.Payload.Provider == "" {
		record.Payload.Provider = s.provider
	}
	if record.Payload.Model == "" {
		record.Payload.Model = s.model
	}
	if record.Payload.Dimension == 0 {
		record.Payload.Dimension = s.dimension
	}
	return store.Upsert(ctx, record)
}

// SearchSimilar 透传到向量检索（本服务配置的集合维度）。
func (s *Service) SearchSimilar(ctx context.Context, searcher core.VectorSearcher, vector []float64, limit int) (*core.VectorSearchResult, error) {
	return searcher.Search(ctx, &core.VectorSearchRequest{Vector: vector, Limit: limit})
}

// ---------- 缓存 ----------

func (s *Service) cacheKey(kind, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("embedding:%s:%s:%d:%s:%x", s.provider, s.model, s.dimension, kind, sum)
}

func (s *Service) cachedVector(ctx context.Context, key string) []float64 {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if s.collector != nil {
			s.collector.CacheMisses.WithLabelValues("embedding").Inc()
		}
		return nil
	}
	var vector []float64
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil
	}
	if s.collector != nil {
		s.collector.CacheHits.WithLabelValues("embedding").Inc()
	}
	return vector
}

func (s *Service) cacheVector(ctx context.Context, key string, vector []float64, ttl int) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.Debug().Err(err).Msg("embedding cache write failed")
	}
}

// 确保 Service 实现了 core.Embedder 接口
var _ core.Embedder = (*Service)(nil)
