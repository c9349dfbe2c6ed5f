package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// 确保 QdrantIndex 实现了 domainRAG.VectorIndex 接口
var _ domainRAG.VectorIndex = (*QdrantIndex)(nil)

// QdrantIndex Qdrant 向量索引适配器
// 每个仓库一个集合，检索天然隔离，跨仓库泄漏在结构上不可能
type QdrantIndex struct {
	client     *qdrant.Client
	vectorSize uint64
	logger     *slog.Logger
}

// NewQdrantIndex 创建 Qdrant 索引适配器
// vectorSize 是 Embedding 模型的输出维度，建集合时使用
func NewQdrantIndex(host string, port int, vectorSize uint64) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		vectorSize: vectorSize,
		logger:     log.NewModuleLogger("vector", "qdrant_index"),
	}, nil
}

// Close 关闭客户端连接
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// CollectionName 仓库对应的集合名
// UUID 中的连字符替换为下划线
func CollectionName(repositoryID string) string {
	return "repo_" + strings.ReplaceAll(repositoryID, "-", "_")
}

// EnsureCollection 确保仓库的集合存在
func (q *QdrantIndex) EnsureCollection(ctx context.Context, repositoryID string) error {
	name := CollectionName(repositoryID)

	existing, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to list collections: %v", domainRAG.ErrIndexUnavailable, err)
	}

	for _, c := range existing {
		if c == name {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create collection %s: %v", domainRAG.ErrIndexUnavailable, name, err)
	}

	q.logger.Info("Collection created",
		"collection", name,
		"vector_size", q.vectorSize,
	)

	return nil
}

// UpsertChunks 写入或覆盖 chunk 向量
// chunks 与 vectors 按下标一一对应
func (q *QdrantIndex) UpsertChunks(ctx context.Context, repositoryID string, chunks []*domainRAG.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk count %d does not match vector count %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"chunk_id":   chunk.ID,
				"file_path":  chunk.FilePath,
				"symbol":     chunk.Symbol,
				"kind":       chunk.Kind,
				"start_line": int64(chunk.StartLine),
				"end_line":   int64(chunk.EndLine),
			}),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionName(repositoryID),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upsert points: %v", domainRAG.ErrIndexUnavailable, err)
	}

	return nil
}

// DeleteByFile 删除指定文件的所有向量点
// 与文件记录的替换在同一逻辑步骤内由编排器调用
func (q *QdrantIndex) DeleteByFile(ctx context.Context, repositoryID, filePath string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName(repositoryID),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("file_path", filePath),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete points for %s: %v", domainRAG.ErrIndexUnavailable, filePath, err)
	}

	return nil
}

// DeleteRepository 删除仓库的整个集合
func (q *QdrantIndex) DeleteRepository(ctx context.Context, repositoryID string) error {
	err := q.client.DeleteCollection(ctx, CollectionName(repositoryID))
	if err != nil {
		return fmt.Errorf("%w: failed to delete collection: %v", domainRAG.ErrIndexUnavailable, err)
	}

	return nil
}

// Search 相似度检索
// 只查给定仓库的集合；结果按分数降序，同分按 chunk ID 升序
func (q *QdrantIndex) Search(ctx context.Context, repositoryID string, vector []float32, limit int) ([]*domainRAG.ScoredChunk, error) {
	if limit <= 0 {
		limit = 5
	}

	queryLimit := uint64(limit)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName(repositoryID),
		Query:          qdrant.NewQuery(vector...),
		Limit:          &queryLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query collection: %v", domainRAG.ErrIndexUnavailable, err)
	}

	results := make([]*domainRAG.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		chunkID := pointChunkID(hit)
		if chunkID == "" {
			continue
		}
		results = append(results, &domainRAG.ScoredChunk{
			ChunkID: chunkID,
			Score:   hit.GetScore(),
		})
	}

	SortScoredChunks(results)

	return results, nil
}

// SortScoredChunks 对检索结果做确定性排序
// 分数降序，同分按 chunk ID 升序
func SortScoredChunks(results []*domainRAG.ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// pointChunkID 从命中点提取 chunk ID
// 优先读 payload，回退到点 ID 本身
func pointChunkID(hit *qdrant.ScoredPoint) string {
	if payload := hit.GetPayload(); payload != nil {
		if val, ok := payload["chunk_id"]; ok {
			if s := val.GetStringValue(); s != "" {
				return s
			}
		}
	}
	if id := hit.GetId(); id != nil {
		return id.GetUuid()
	}
	return ""
}
