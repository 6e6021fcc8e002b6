package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/feedkit/cache"
)

// Config 是 feedkit 的顶层配置，从 YAML 加载。
// 缺省值在 Default 中给出；Load 后未显式设置的字段保持缺省。
type Config struct {
	Redis        RedisConfig        `yaml:"redis"`
	Vector       VectorConfig       `yaml:"vector"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Engine       EngineConfig       `yaml:"engine"`
	Behavior     BehaviorConfig     `yaml:"behavior"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type VectorConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Collection     string `yaml:"collection"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SearchCacheTTL int    `yaml:"search_cache_ttl"` // 秒
	SearchBatch    int    `yaml:"search_batch"`
	UpsertBatch    int    `yaml:"upsert_batch"`
	MaxConcurrent  int    `yaml:"max_concurrent"`

	Dimension       int    `yaml:"dimension"`
	Distance        string `yaml:"distance"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEfConstruct int    `yaml:"hnsw_ef_construct"`
	OnDisk          bool   `yaml:"on_disk"`
	Quantization    bool   `yaml:"quantization"`
}

type EmbeddingConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Token         string `yaml:"token"`
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	Dimension     int    `yaml:"dimension"`
	TextTTL       int    `yaml:"text_ttl"`       // 秒
	ImageTTL      int    `yaml:"image_ttl"`      // 秒
	MultimodalTTL int    `yaml:"multimodal_ttl"` // 秒
}

type EngineConfig struct {
	SimilarityWeight     float64 `yaml:"similarity_weight"`
	RecencyWeight        float64 `yaml:"recency_weight"`
	EngagementWeight     float64 `yaml:"engagement_weight"`
	CandidateWindowHours int     `yaml:"candidate_window_hours"`
	Overfetch            int     `yaml:"overfetch"`
	ExclusionTTL         int     `yaml:"exclusion_ttl"`  // 秒
	PreferenceTTL        int     `yaml:"preference_ttl"` // 秒
}

type BehaviorConfig struct {
	BufferCapacity       int `yaml:"buffer_capacity"`
	FlushIntervalSeconds int `yaml:"flush_interval_seconds"`
	ProfileTTL           int `yaml:"profile_ttl"` // 秒
}

type InvalidationConfig struct {
	BatchWindowSeconds int          `yaml:"batch_window_seconds"`
	Rules              []cache.Rule `yaml:"rules"` // 空则使用 cache.DefaultRules
}

// Default 返回缺省配置。
func Default() *Config {
	return &Config{
		Redis: RedisConfig{Addr: "localhost:6379"},
		Vector: VectorConfig{
			Collection:      "posts",
			TimeoutSeconds:  30,
			SearchCacheTTL:  300,
			SearchBatch:     10,
			UpsertBatch:     100,
			MaxConcurrent:   3,
			Dimension:       1024,
			Distance:        "Cosine",
			HNSWM:           16,
			HNSWEfConstruct: 128,
		},
		Embedding: EmbeddingConfig{
			Provider:      "voyage",
			Model:         "voyage-multimodal-3",
			Dimension:     1024,
			TextTTL:       86400,
			ImageTTL:      7 * 86400,
			MultimodalTTL: 86400,
		},
		Engine: EngineConfig{
			SimilarityWeight:     0.5,
			RecencyWeight:        0.3,
			EngagementWeight:     0.2,
			CandidateWindowHours: 168,
			Overfetch:            3,
			ExclusionTTL:         300,
			PreferenceTTL:        1800,
		},
		Behavior: BehaviorConfig{
			BufferCapacity:       100,
			FlushIntervalSeconds: 30,
			ProfileTTL:           1800,
		},
		Invalidation: InvalidationConfig{
			BatchWindowSeconds: 5,
		},
	}
}

// Load 从 YAML 文件加载配置，未设置的字段保持缺省。
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 做最小一致性检查。
func (c *Config) Validate() error {
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("config: vector.dimension must be greater than 0")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding.dimension must be greater than 0")
	}
	if c.Vector.Dimension != c.Embedding.Dimension {
		return fmt.Errorf("config: vector.dimension (%d) must match embedding.dimension (%d)",
			c.Vector.Dimension, c.Embedding.Dimension)
	}
	w := c.Engine.SimilarityWeight + c.Engine.RecencyWeight + c.Engine.EngagementWeight
	if w <= 0 {
		return fmt.Errorf("config: engine weights must sum to a positive value")
	}
	return nil
}
