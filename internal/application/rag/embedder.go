package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// Embedder 缓存感知的向量化服务
// 以片段内容哈希为键先查缓存，只有未命中的文本才发给外部模型；
// 新算出的向量在返回前回写缓存，崩溃重启后不重复计算
type Embedder struct {
	client domainRAG.EmbeddingClient
	cache  domainRAG.EmbeddingCacheStore
	logger *slog.Logger
}

// NewEmbedder 创建向量化服务
func NewEmbedder(client domainRAG.EmbeddingClient, cache domainRAG.EmbeddingCacheStore) *Embedder {
	return &Embedder{
		client: client,
		cache:  cache,
		logger: log.NewModuleLogger("rag", "embedder"),
	}
}

// EmbedChunks 批量向量化 chunk，返回向量与输入顺序一一对应
// 相同内容哈希的 chunk 跨文件共享一次外部调用
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []*domainRAG.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	// 去重后的待查哈希集合
	hashes := make([]string, 0, len(chunks))
	seen := make(map[string]bool, len(chunks))
	for _, chunk := range chunks {
		if !seen[chunk.ContentHash] {
			seen[chunk.ContentHash] = true
			hashes = append(hashes, chunk.ContentHash)
		}
	}

	cached, err := e.cache.GetEmbeddings(hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding cache: %w", err)
	}

	// 收集未命中的文本，同一哈希只发一次
	var missHashes []string
	var missTexts []string
	requested := make(map[string]bool, len(hashes))
	for _, chunk := range chunks {
		if _, ok := cached[chunk.ContentHash]; ok {
			continue
		}
		if requested[chunk.ContentHash] {
			continue
		}
		requested[chunk.ContentHash] = true
		missHashes = append(missHashes, chunk.ContentHash)
		missTexts = append(missTexts, chunk.Text)
	}

	if len(missTexts) > 0 {
		vectors, err := e.client.EmbedTexts(ctx, missTexts)
		if err != nil {
			return nil, err
		}

		now := time.Now().Unix()
		entries := make([]*domainRAG.CachedEmbedding, len(missHashes))
		for i, hash := range missHashes {
			cached[hash] = vectors[i]
			entries[i] = &domainRAG.CachedEmbedding{
				ContentHash: hash,
				Vector:      vectors[i],
				Model:       e.client.Model(),
				CreatedAt:   now,
			}
		}

		// 先回写缓存再返回，重启后不重算
		if err := e.cache.SaveEmbeddings(entries); err != nil {
			return nil, fmt.Errorf("failed to save embedding cache: %w", err)
		}

		e.logger.Debug("Embedded cache misses",
			"total_chunks", len(chunks),
			"cache_hits", len(hashes)-len(missHashes),
			"api_calls", len(missTexts),
		)
	}

	result := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		result[i] = cached[chunk.ContentHash]
	}

	return result, nil
}

// EmbedQuery 向量化查询文本
// 问题不做内容寻址缓存，但沿用同一批量/重试契约
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("invalid embedding result")
	}

	return vectors[0], nil
}
