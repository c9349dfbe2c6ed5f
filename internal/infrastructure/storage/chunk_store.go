package storage

import (
	"database/sql"
	"fmt"
	"strings"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// 确保 ChunkStoreImpl 实现了 domainRAG.ChunkStore 接口
var _ domainRAG.ChunkStore = (*ChunkStoreImpl)(nil)

// ChunkStoreImpl chunk 元数据存储实现
type ChunkStoreImpl struct {
	db *sql.DB
}

// NewChunkStore 创建 chunk 元数据存储实例
func NewChunkStore(db *sql.DB) domainRAG.ChunkStore {
	return &ChunkStoreImpl{db: db}
}

// SaveChunks 批量保存 chunk
func (r *ChunkStoreImpl) SaveChunks(chunks []*domainRAG.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO chunks (
			id, repository_id, file_path, symbol, kind,
			ordinal, start_line, end_line, text, content_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		_, err := stmt.Exec(
			chunk.ID,
			chunk.RepositoryID,
			chunk.FilePath,
			chunk.Symbol,
			chunk.Kind,
			chunk.Ordinal,
			chunk.StartLine,
			chunk.EndLine,
			chunk.Text,
			chunk.ContentHash,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetChunk 获取单个 chunk
func (r *ChunkStoreImpl) GetChunk(id string) (*domainRAG.Chunk, error) {
	query := `
		SELECT id, repository_id, file_path, symbol, kind,
		       ordinal, start_line, end_line, text, content_hash
		FROM chunks
		WHERE id = ?`

	var chunk domainRAG.Chunk
	err := r.db.QueryRow(query, id).Scan(
		&chunk.ID,
		&chunk.RepositoryID,
		&chunk.FilePath,
		&chunk.Symbol,
		&chunk.Kind,
		&chunk.Ordinal,
		&chunk.StartLine,
		&chunk.EndLine,
		&chunk.Text,
		&chunk.ContentHash,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &chunk, nil
}

// GetChunks 批量获取 chunk
// 返回结果不保证与输入顺序一致，缺失的 ID 静默跳过
func (r *ChunkStoreImpl) GetChunks(ids []string) ([]*domainRAG.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT id, repository_id, file_path, symbol, kind,
		       ordinal, start_line, end_line, text, content_hash
		FROM chunks
		WHERE id IN (%s)`, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

// ListChunksByFile 列出文件的所有 chunk
func (r *ChunkStoreImpl) ListChunksByFile(repositoryID, path string) ([]*domainRAG.Chunk, error) {
	query := `
		SELECT id, repository_id, file_path, symbol, kind,
		       ordinal, start_line, end_line, text, content_hash
		FROM chunks
		WHERE repository_id = ? AND file_path = ?
		ORDER BY ordinal ASC`

	rows, err := r.db.Query(query, repositoryID, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

// DeleteChunksByFile 删除文件的所有 chunk
func (r *ChunkStoreImpl) DeleteChunksByFile(repositoryID, path string) error {
	query := `DELETE FROM chunks WHERE repository_id = ? AND file_path = ?`
	_, err := r.db.Exec(query, repositoryID, path)
	return err
}

// DeleteChunksByRepository 删除仓库的所有 chunk
func (r *ChunkStoreImpl) DeleteChunksByRepository(repositoryID string) error {
	query := `DELETE FROM chunks WHERE repository_id = ?`
	_, err := r.db.Exec(query, repositoryID)
	return err
}

// scanChunks 扫描多行 chunk 结果
func scanChunks(rows *sql.Rows) ([]*domainRAG.Chunk, error) {
	var results []*domainRAG.Chunk
	for rows.Next() {
		var chunk domainRAG.Chunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.RepositoryID,
			&chunk.FilePath,
			&chunk.Symbol,
			&chunk.Kind,
			&chunk.Ordinal,
			&chunk.StartLine,
			&chunk.EndLine,
			&chunk.Text,
			&chunk.ContentHash,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, &chunk)
	}

	return results, rows.Err()
}
