package storage

import (
	"database/sql"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// 确保 FileStoreImpl 实现了 domainRAG.FileStore 接口
var _ domainRAG.FileStore = (*FileStoreImpl)(nil)

// FileStoreImpl 源文件元数据存储实现
type FileStoreImpl struct {
	db *sql.DB
}

// NewFileStore 创建源文件元数据存储实例
func NewFileStore(db *sql.DB) domainRAG.FileStore {
	return &FileStoreImpl{db: db}
}

// SaveFile 保存文件记录
// 内容哈希变化时整行替换，旧 chunk 由调用方先行失效
func (r *FileStoreImpl) SaveFile(file *domainRAG.SourceFile) error {
	query := `
		INSERT OR REPLACE INTO source_files (
			repository_id, path, content_hash, language,
			chunk_count, status, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(
		query,
		file.RepositoryID,
		file.Path,
		file.ContentHash,
		file.Language,
		file.ChunkCount,
		file.Status,
		file.IndexedAt,
	)

	return err
}

// GetFile 获取文件记录
func (r *FileStoreImpl) GetFile(repositoryID, path string) (*domainRAG.SourceFile, error) {
	query := `
		SELECT repository_id, path, content_hash, language,
		       chunk_count, status, indexed_at
		FROM source_files
		WHERE repository_id = ? AND path = ?`

	var file domainRAG.SourceFile
	err := r.db.QueryRow(query, repositoryID, path).Scan(
		&file.RepositoryID,
		&file.Path,
		&file.ContentHash,
		&file.Language,
		&file.ChunkCount,
		&file.Status,
		&file.IndexedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &file, nil
}

// ListFiles 列出仓库的所有文件记录
func (r *FileStoreImpl) ListFiles(repositoryID string) ([]*domainRAG.SourceFile, error) {
	query := `
		SELECT repository_id, path, content_hash, language,
		       chunk_count, status, indexed_at
		FROM source_files
		WHERE repository_id = ?
		ORDER BY path ASC`

	rows, err := r.db.Query(query, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domainRAG.SourceFile
	for rows.Next() {
		var file domainRAG.SourceFile
		err := rows.Scan(
			&file.RepositoryID,
			&file.Path,
			&file.ContentHash,
			&file.Language,
			&file.ChunkCount,
			&file.Status,
			&file.IndexedAt,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, &file)
	}

	return results, rows.Err()
}

// DeleteFile 删除文件记录
func (r *FileStoreImpl) DeleteFile(repositoryID, path string) error {
	query := `DELETE FROM source_files WHERE repository_id = ? AND path = ?`
	_, err := r.db.Exec(query, repositoryID, path)
	return err
}

// DeleteFilesByRepository 删除仓库的所有文件记录
func (r *FileStoreImpl) DeleteFilesByRepository(repositoryID string) error {
	query := `DELETE FROM source_files WHERE repository_id = ?`
	_, err := r.db.Exec(query, repositoryID)
	return err
}
