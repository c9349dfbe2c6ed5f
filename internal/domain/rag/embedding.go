package rag

// CachedEmbedding 内容寻址的向量缓存条目
// 以片段文本哈希为键，相同文本跨文件、跨 chunk 共享同一向量，计算后不可变
type CachedEmbedding struct {
	ContentHash string
	Vector      []float32
	Model       string
	CreatedAt   int64
}

// EmbeddingCacheStore Embedding 缓存存储接口
// 调用外部模型前先查缓存，算完立即回写，保证崩溃重启后不重复计算
type EmbeddingCacheStore interface {
	GetEmbeddings(contentHashes []string) (map[string][]float32, error)
	SaveEmbeddings(embeddings []*CachedEmbedding) error
	CountEmbeddings() (int, error)
}
