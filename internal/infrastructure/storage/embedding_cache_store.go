package storage

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// 确保 EmbeddingCacheStoreImpl 实现了 domainRAG.EmbeddingCacheStore 接口
var _ domainRAG.EmbeddingCacheStore = (*EmbeddingCacheStoreImpl)(nil)

// EmbeddingCacheStoreImpl 内容寻址的向量缓存实现
// 向量以小端 float32 序列存为 BLOB
type EmbeddingCacheStoreImpl struct {
	db *sql.DB
}

// NewEmbeddingCacheStore 创建向量缓存实例
func NewEmbeddingCacheStore(db *sql.DB) domainRAG.EmbeddingCacheStore {
	return &EmbeddingCacheStoreImpl{db: db}
}

// GetEmbeddings 批量查询缓存
// 返回命中条目的 hash -> vector 映射，未命中的键不出现在结果中
func (r *EmbeddingCacheStoreImpl) GetEmbeddings(contentHashes []string) (map[string][]float32, error) {
	result := make(map[string][]float32, len(contentHashes))
	if len(contentHashes) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(contentHashes))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(
		`SELECT content_hash, vector FROM embedding_cache WHERE content_hash IN (%s)`,
		placeholders,
	)

	args := make([]any, len(contentHashes))
	for i, h := range contentHashes {
		args[i] = h
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, err
		}

		vector, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cached vector for %s: %w", hash, err)
		}
		result[hash] = vector
	}

	return result, rows.Err()
}

// SaveEmbeddings 批量写入缓存
// 同一哈希重复写入是幂等的
func (r *EmbeddingCacheStoreImpl) SaveEmbeddings(embeddings []*domainRAG.CachedEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO embedding_cache (content_hash, vector, model, created_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, emb := range embeddings {
		_, err := stmt.Exec(emb.ContentHash, encodeVector(emb.Vector), emb.Model, emb.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountEmbeddings 缓存条目数
func (r *EmbeddingCacheStoreImpl) CountEmbeddings() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM embedding_cache`).Scan(&count)
	return count, err
}

// encodeVector 将向量编码为小端 float32 BLOB
func encodeVector(vector []float32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(vector)*4))
	for _, v := range vector {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

// decodeVector 从 BLOB 解码向量
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(blob))
	}

	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}
