package core

import "context"

// Embedder 是 embedding 生成服务的领域接口。
//
// 约束：
//   - 相同（provider, model, dimension, content）的两次调用必须返回完全一致的向量，
//     且第二次不得发起网络请求（缓存正确性）
//   - 返回向量长度必须严格等于配置维度；不一致是数据完整性错误，
//     绝不截断或补零
type Embedder interface {
	// GenerateTextEmbedding 文本 embedding
	GenerateTextEmbedding(ctx context.Context, text string) (*EmbeddingResult, error)

	// GenerateImageEmbedding 图像 embedding（imageData 为原始字节或 base64/URL）
	GenerateImageEmbedding(ctx context.Context, imageData string) (*EmbeddingResult, error)

	// GenerateMultimodalEmbedding 多模态 embedding
	GenerateMultimodalEmbedding(ctx context.Context, parts []MultimodalPart) (*EmbeddingResult, error)

	// Provider 返回提供方标识；Dimensions 返回配置维度
	Provider() string
	Dimensions() int
}

// MultimodalPart 是多模态输入的一个分片。
type MultimodalPart struct {
	Type  string `json:"type"` // text / image
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// EmbeddingResult 是一次 embedding 生成的结果。
// 向量一经产出不可变；内容变化时整体重新生成并替换。
type EmbeddingResult struct {
	Vector     []float64
	Dimensions int
	Provider   string
	Model      string
}

// Embedding 错误定义
var (
	// ErrEmbeddingUnavailable 表示 embedding 提供方重试耗尽后仍不可用
	ErrEmbeddingUnavailable = NewDomainError(ModuleEmbedding, ErrorCodeUnavailable, "embedding: provider unavailable")
)
