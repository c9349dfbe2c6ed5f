package rag

import "context"

// ScoredChunk 相似度检索的单条命中
type ScoredChunk struct {
	ChunkID string
	Score   float32
}

// VectorIndex 向量索引接口
// 检索严格限定在给定仓库范围内，结果按分数降序、同分按 chunk ID 升序排列
type VectorIndex interface {
	EnsureCollection(ctx context.Context, repositoryID string) error
	UpsertChunks(ctx context.Context, repositoryID string, chunks []*Chunk, vectors [][]float32) error
	DeleteByFile(ctx context.Context, repositoryID, filePath string) error
	DeleteRepository(ctx context.Context, repositoryID string) error
	Search(ctx context.Context, repositoryID string, vector []float32, limit int) ([]*ScoredChunk, error)
}

// EmbeddingClient 外部向量化模型客户端接口
// 返回的向量与输入文本顺序一一对应
type EmbeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// CompletionUsage 生成调用的 token 统计
type CompletionUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionClient 外部生成模型客户端接口
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, *CompletionUsage, error)
	Model() string
}
