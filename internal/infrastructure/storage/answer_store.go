package storage

import (
	"database/sql"
	"encoding/json"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// 确保 AnswerStoreImpl 实现了 domainRAG.AnswerStore 接口
var _ domainRAG.AnswerStore = (*AnswerStoreImpl)(nil)

// AnswerStoreImpl 回答存储实现
// 引用列表以 JSON 字符串存储
type AnswerStoreImpl struct {
	db *sql.DB
}

// NewAnswerStore 创建回答存储实例
func NewAnswerStore(db *sql.DB) domainRAG.AnswerStore {
	return &AnswerStoreImpl{db: db}
}

// SaveAnswer 保存回答
func (r *AnswerStoreImpl) SaveAnswer(answer *domainRAG.Answer) error {
	citations, err := json.Marshal(answer.Citations)
	if err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO answers (
			id, repository_id, question, text, citations,
			model, prompt_tokens, output_tokens, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(
		query,
		answer.ID,
		answer.RepositoryID,
		answer.Question,
		answer.Text,
		string(citations),
		answer.Model,
		answer.PromptTokens,
		answer.OutputTokens,
		answer.CreatedAt,
	)

	return err
}

// GetAnswer 获取回答
func (r *AnswerStoreImpl) GetAnswer(id string) (*domainRAG.Answer, error) {
	query := `
		SELECT id, repository_id, question, text, citations,
		       model, prompt_tokens, output_tokens, created_at
		FROM answers
		WHERE id = ?`

	var answer domainRAG.Answer
	var citations string

	err := r.db.QueryRow(query, id).Scan(
		&answer.ID,
		&answer.RepositoryID,
		&answer.Question,
		&answer.Text,
		&citations,
		&answer.Model,
		&answer.PromptTokens,
		&answer.OutputTokens,
		&answer.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(citations), &answer.Citations); err != nil {
		return nil, err
	}

	return &answer, nil
}

// ListAnswersByRepository 按时间倒序列出仓库的回答
func (r *AnswerStoreImpl) ListAnswersByRepository(repositoryID string, limit int) ([]*domainRAG.Answer, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, repository_id, question, text, citations,
		       model, prompt_tokens, output_tokens, created_at
		FROM answers
		WHERE repository_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := r.db.Query(query, repositoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domainRAG.Answer
	for rows.Next() {
		var answer domainRAG.Answer
		var citations string

		err := rows.Scan(
			&answer.ID,
			&answer.RepositoryID,
			&answer.Question,
			&answer.Text,
			&citations,
			&answer.Model,
			&answer.PromptTokens,
			&answer.OutputTokens,
			&answer.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(citations), &answer.Citations); err != nil {
			return nil, err
		}
		results = append(results, &answer)
	}

	return results, rows.Err()
}
