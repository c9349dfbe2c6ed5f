package task

import (
	"context"
	"encoding/json"
	"fmt"

	appRAG "github.com/ragit/backend/internal/application/rag"
	domainTask "github.com/ragit/backend/internal/domain/task"
)

// Handler 作业处理器接口
// 返回的字符串作为结果 JSON 记录在作业行上
type Handler interface {
	Handle(ctx context.Context, job *domainTask.Job) (string, error)
}

// IndexHandler 索引作业处理器
type IndexHandler struct {
	indexer *appRAG.Indexer
}

// NewIndexHandler 创建索引作业处理器
func NewIndexHandler(indexer *appRAG.Indexer) *IndexHandler {
	return &IndexHandler{indexer: indexer}
}

// Handle 执行索引作业，结果为索引运行报告
func (h *IndexHandler) Handle(ctx context.Context, job *domainTask.Job) (string, error) {
	var payload domainTask.IndexPayload
	if err := job.DecodePayload(&payload); err != nil {
		return "", fmt.Errorf("failed to decode index payload: %w", err)
	}

	report, err := h.indexer.IndexRepository(ctx, payload.RepositoryID)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to encode index report: %w", err)
	}

	return string(data), nil
}

// AnswerHandler 回答作业处理器
type AnswerHandler struct {
	answers *appRAG.AnswerService
}

// NewAnswerHandler 创建回答作业处理器
func NewAnswerHandler(answers *appRAG.AnswerService) *AnswerHandler {
	return &AnswerHandler{answers: answers}
}

// answerResult 回答作业的结果摘要
type answerResult struct {
	AnswerID  string `json:"answer_id"`
	Citations int    `json:"citations"`
}

// Handle 执行回答作业，结果为回答 ID 与引用数
func (h *AnswerHandler) Handle(ctx context.Context, job *domainTask.Job) (string, error) {
	var payload domainTask.AnswerPayload
	if err := job.DecodePayload(&payload); err != nil {
		return "", fmt.Errorf("failed to decode answer payload: %w", err)
	}

	answer, err := h.answers.Answer(ctx, payload.RepositoryID, payload.Question, payload.TopK)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(answerResult{
		AnswerID:  answer.ID,
		Citations: len(answer.Citations),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode answer result: %w", err)
	}

	return string(data), nil
}
