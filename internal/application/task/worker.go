package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	domainTask "github.com/ragit/backend/internal/domain/task"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// 重试退避参数
const (
	retryBaseDelay = 15 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

// Pool 固定大小的作业工作池
// 索引与回答作业共享同一队列，无优先级通道；启动时把崩溃残留的
// running 作业放回队列，配合索引编排器的按文件提交实现断点续跑
type Pool struct {
	queue        domainTask.Queue
	handlers     map[string]Handler
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewPool 创建工作池
func NewPool(queue domainTask.Queue, concurrency int, pollInterval time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 2
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	return &Pool{
		queue:        queue,
		handlers:     make(map[string]Handler),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       log.NewModuleLogger("task", "pool"),
	}
}

// Register 注册作业类型对应的处理器
func (p *Pool) Register(jobType string, handler Handler) {
	p.handlers[jobType] = handler
}

// Run 启动工作池并阻塞运行，直到 ctx 取消且所有工作协程退出
func (p *Pool) Run(ctx context.Context) error {
	reset, err := p.queue.ResetStale()
	if err != nil {
		return fmt.Errorf("failed to reset stale jobs: %w", err)
	}
	if reset > 0 {
		p.logger.Info("Requeued stale jobs from previous run", "count", reset)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		worker := i
		g.Go(func() error {
			return p.workerLoop(ctx, worker)
		})
	}

	p.logger.Info("Worker pool started", "concurrency", p.concurrency)

	return g.Wait()
}

// workerLoop 单个工作协程的取活循环
func (p *Pool) workerLoop(ctx context.Context, worker int) error {
	for {
		jobs, err := p.queue.Dequeue(1)
		if err != nil {
			p.logger.Error("Failed to dequeue job", "worker", worker, "error", err)
		}

		if len(jobs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.process(ctx, worker, jobs[0])

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// process 执行单个作业并落盘结果
func (p *Pool) process(ctx context.Context, worker int, job *domainTask.Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		p.logger.Error("No handler for job type", "worker", worker, "job_id", job.ID, "type", job.Type)
		if err := p.queue.Fail(job.ID, "no handler registered for job type "+job.Type, 0); err != nil {
			p.logger.Error("Failed to record job failure", "job_id", job.ID, "error", err)
		}
		return
	}

	p.logger.Info("Job started", "worker", worker, "job_id", job.ID, "type", job.Type, "repository_id", job.RepositoryID, "attempt", job.Attempts)

	result, err := handler.Handle(ctx, job)
	if err == nil {
		if err := p.queue.Complete(job.ID, result); err != nil {
			p.logger.Error("Failed to record job completion", "job_id", job.ID, "error", err)
		}
		p.logger.Info("Job completed", "worker", worker, "job_id", job.ID, "type", job.Type)
		return
	}

	// 仓库锁冲突说明同仓库作业正在执行，合并而非重试
	if errors.Is(err, domainRAG.ErrRepositoryLocked) {
		if err := p.queue.Complete(job.ID, `{"coalesced":true}`); err != nil {
			p.logger.Error("Failed to record coalesced job", "job_id", job.ID, "error", err)
		}
		p.logger.Info("Job coalesced with running job", "worker", worker, "job_id", job.ID, "repository_id", job.RepositoryID)
		return
	}

	// 进程停机时作业未完成，留在 running 状态由下次启动的 ResetStale 放回队列
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.logger.Info("Job interrupted by shutdown", "worker", worker, "job_id", job.ID)
		return
	}

	retryAt := time.Now().Add(backoffDelay(job.Attempts)).Unix()
	if err := p.queue.Fail(job.ID, err.Error(), retryAt); err != nil {
		p.logger.Error("Failed to record job failure", "job_id", job.ID, "error", err)
	}
	p.logger.Error("Job failed", "worker", worker, "job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "error", err)
}

// backoffDelay 按已执行次数计算指数退避间隔
func backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := retryBaseDelay << (attempts - 1)
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}

	return delay
}
