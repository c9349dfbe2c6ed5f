package task

import (
	"fmt"
	"log/slog"

	domainTask "github.com/ragit/backend/internal/domain/task"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// Service 作业提交服务
// 负责将索引/回答请求写入持久化队列，并在提交阶段合并重复的索引请求
type Service struct {
	queue  domainTask.Queue
	logger *slog.Logger
}

// NewService 创建作业提交服务
func NewService(queue domainTask.Queue) *Service {
	return &Service{
		queue:  queue,
		logger: log.NewModuleLogger("task", "service"),
	}
}

// SubmitIndex 提交一个索引作业
// 同仓库已有排队或执行中的索引作业时不再入队，返回 coalesced=true
func (s *Service) SubmitIndex(repositoryID string) (*domainTask.Job, bool, error) {
	pending, err := s.queue.PendingForRepository(repositoryID, domainTask.JobTypeIndex)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check pending jobs: %w", err)
	}
	if pending > 0 {
		s.logger.Debug("Index job coalesced with pending job", "repository_id", repositoryID)
		return nil, true, nil
	}

	job, err := domainTask.NewJob(domainTask.JobTypeIndex, repositoryID, domainTask.IndexPayload{
		RepositoryID: repositoryID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to build index job: %w", err)
	}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, false, fmt.Errorf("failed to enqueue index job: %w", err)
	}

	s.logger.Info("Index job submitted", "job_id", job.ID, "repository_id", repositoryID)

	return job, false, nil
}

// SubmitAnswer 提交一个回答作业
func (s *Service) SubmitAnswer(repositoryID, question string, topK int) (*domainTask.Job, error) {
	job, err := domainTask.NewJob(domainTask.JobTypeAnswer, repositoryID, domainTask.AnswerPayload{
		RepositoryID: repositoryID,
		Question:     question,
		TopK:         topK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build answer job: %w", err)
	}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, fmt.Errorf("failed to enqueue answer job: %w", err)
	}

	s.logger.Info("Answer job submitted", "job_id", job.ID, "repository_id", repositoryID)

	return job, nil
}

// CancelJob 取消一个尚未终态的作业
func (s *Service) CancelJob(jobID string) error {
	return s.queue.Cancel(jobID)
}

// GetJob 查询作业状态
func (s *Service) GetJob(jobID string) (*domainTask.Job, error) {
	return s.queue.GetJob(jobID)
}
