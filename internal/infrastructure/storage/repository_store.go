package storage

import (
	"database/sql"
	"time"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// 确保 RepositoryStoreImpl 实现了 domainRAG.RepositoryStore 接口
var _ domainRAG.RepositoryStore = (*RepositoryStoreImpl)(nil)

// RepositoryStoreImpl 仓库元数据存储实现
type RepositoryStoreImpl struct {
	db *sql.DB
}

// NewRepositoryStore 创建仓库元数据存储实例
func NewRepositoryStore(db *sql.DB) domainRAG.RepositoryStore {
	return &RepositoryStoreImpl{db: db}
}

// SaveRepository 保存仓库
func (r *RepositoryStoreImpl) SaveRepository(repo *domainRAG.Repository) error {
	query := `
		INSERT OR REPLACE INTO repositories (
			id, name, url, local_path, status, phase, last_revision,
			file_count, chunk_count, last_error, deleted,
			created_at, updated_at, last_indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(
		query,
		repo.ID,
		repo.Name,
		repo.URL,
		repo.LocalPath,
		repo.Status,
		repo.Phase,
		repo.LastRevision,
		repo.FileCount,
		repo.ChunkCount,
		repo.LastError,
		boolToInt(repo.Deleted),
		repo.CreatedAt,
		repo.UpdatedAt,
		repo.LastIndexedAt,
	)

	return err
}

// GetRepository 获取仓库（不包含已软删除的）
func (r *RepositoryStoreImpl) GetRepository(id string) (*domainRAG.Repository, error) {
	query := `
		SELECT id, name, url, local_path, status, phase, last_revision,
		       file_count, chunk_count, last_error, deleted,
		       created_at, updated_at, last_indexed_at
		FROM repositories
		WHERE id = ? AND deleted = 0`

	return r.scanRepository(r.db.QueryRow(query, id))
}

// ListRepositories 列出所有仓库
func (r *RepositoryStoreImpl) ListRepositories() ([]*domainRAG.Repository, error) {
	query := `
		SELECT id, name, url, local_path, status, phase, last_revision,
		       file_count, chunk_count, last_error, deleted,
		       created_at, updated_at, last_indexed_at
		FROM repositories
		WHERE deleted = 0
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domainRAG.Repository
	for rows.Next() {
		repo, err := r.scanRepositoryRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, repo)
	}

	return results, rows.Err()
}

// UpdateStatus 更新仓库状态与当前阶段
func (r *RepositoryStoreImpl) UpdateStatus(id, status, phase string) error {
	query := `UPDATE repositories SET status = ?, phase = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, status, phase, time.Now().Unix(), id)
	return err
}

// UpdateIndexResult 记录一次索引作业的最终结果
func (r *RepositoryStoreImpl) UpdateIndexResult(id, status, revision string, fileCount, chunkCount int, lastError string) error {
	now := time.Now().Unix()
	query := `
		UPDATE repositories
		SET status = ?, phase = '', last_revision = ?, file_count = ?,
		    chunk_count = ?, last_error = ?, updated_at = ?, last_indexed_at = ?
		WHERE id = ?`

	_, err := r.db.Exec(query, status, revision, fileCount, chunkCount, lastError, now, now, id)
	return err
}

// SoftDeleteRepository 软删除仓库
// 仓库可能仍被在途作业引用，只打标记不删行
func (r *RepositoryStoreImpl) SoftDeleteRepository(id string) error {
	query := `UPDATE repositories SET deleted = 1, updated_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, time.Now().Unix(), id)
	return err
}

// scanRepository 从单行查询扫描仓库
func (r *RepositoryStoreImpl) scanRepository(row *sql.Row) (*domainRAG.Repository, error) {
	var repo domainRAG.Repository
	var deleted int

	err := row.Scan(
		&repo.ID,
		&repo.Name,
		&repo.URL,
		&repo.LocalPath,
		&repo.Status,
		&repo.Phase,
		&repo.LastRevision,
		&repo.FileCount,
		&repo.ChunkCount,
		&repo.LastError,
		&deleted,
		&repo.CreatedAt,
		&repo.UpdatedAt,
		&repo.LastIndexedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	repo.Deleted = deleted != 0
	return &repo, nil
}

// scanRepositoryRow 从多行查询扫描仓库
func (r *RepositoryStoreImpl) scanRepositoryRow(rows *sql.Rows) (*domainRAG.Repository, error) {
	var repo domainRAG.Repository
	var deleted int

	err := rows.Scan(
		&repo.ID,
		&repo.Name,
		&repo.URL,
		&repo.LocalPath,
		&repo.Status,
		&repo.Phase,
		&repo.LastRevision,
		&repo.FileCount,
		&repo.ChunkCount,
		&repo.LastError,
		&deleted,
		&repo.CreatedAt,
		&repo.UpdatedAt,
		&repo.LastIndexedAt,
	)
	if err != nil {
		return nil, err
	}

	repo.Deleted = deleted != 0
	return &repo, nil
}

// boolToInt SQLite 没有布尔类型
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
