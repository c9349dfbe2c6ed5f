package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	domainTask "github.com/ragit/backend/internal/domain/task"
)

// memQueue 内存任务队列，语义与 SQLite 实现一致
type memQueue struct {
	mu   sync.Mutex
	jobs map[string]*domainTask.Job
}

var _ domainTask.Queue = (*memQueue)(nil)

func newMemQueue() *memQueue {
	return &memQueue{jobs: make(map[string]*domainTask.Job)}
}

func (q *memQueue) Enqueue(job *domainTask.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := *job
	q.jobs[job.ID] = &copied
	return nil
}

func (q *memQueue) Dequeue(limit int) ([]*domainTask.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().Unix()
	var out []*domainTask.Job
	for _, job := range q.jobs {
		if len(out) >= limit {
			break
		}
		if job.Status == domainTask.JobStatusQueued && job.NextRetryAt <= now {
			job.Status = domainTask.JobStatusRunning
			job.Attempts++
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (q *memQueue) Complete(jobID string, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		job.Status = domainTask.JobStatusCompleted
		job.Result = result
	}
	return nil
}

func (q *memQueue) Fail(jobID string, errMsg string, retryAt int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		if job.CanRetry() {
			job.Status = domainTask.JobStatusQueued
		} else {
			job.Status = domainTask.JobStatusFailed
		}
		job.LastError = errMsg
		job.NextRetryAt = retryAt
	}
	return nil
}

func (q *memQueue) Cancel(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		if job.Status == domainTask.JobStatusQueued || job.Status == domainTask.JobStatusRunning {
			job.Status = domainTask.JobStatusCancelled
		}
	}
	return nil
}

func (q *memQueue) GetJob(jobID string) (*domainTask.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (q *memQueue) PendingForRepository(repositoryID, jobType string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, job := range q.jobs {
		if job.RepositoryID == repositoryID && job.Type == jobType &&
			(job.Status == domainTask.JobStatusQueued || job.Status == domainTask.JobStatusRunning) {
			count++
		}
	}
	return count, nil
}

func (q *memQueue) ResetStale() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, job := range q.jobs {
		if job.Status == domainTask.JobStatusRunning {
			job.Status = domainTask.JobStatusQueued
			count++
		}
	}
	return count, nil
}

// funcHandler 用函数实现 Handler
type funcHandler func(ctx context.Context, job *domainTask.Job) (string, error)

func (f funcHandler) Handle(ctx context.Context, job *domainTask.Job) (string, error) {
	return f(ctx, job)
}

// waitForStatus 轮询等待作业进入期望状态
func waitForStatus(t *testing.T, queue domainTask.Queue, jobID, want string) *domainTask.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := queue.GetJob(jobID)
		require.NoError(t, err)
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

// runPool 在后台运行工作池，返回停止函数
func runPool(t *testing.T, pool *Pool) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("worker pool did not shut down")
		}
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	queue := newMemQueue()
	pool := NewPool(queue, 2, 10*time.Millisecond)
	pool.Register(domainTask.JobTypeIndex, funcHandler(func(ctx context.Context, job *domainTask.Job) (string, error) {
		return `{"files_indexed":1}`, nil
	}))

	job, err := domainTask.NewJob(domainTask.JobTypeIndex, "repo-1", domainTask.IndexPayload{RepositoryID: "repo-1"})
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(job))

	stop := runPool(t, pool)
	defer stop()

	got := waitForStatus(t, queue, job.ID, domainTask.JobStatusCompleted)
	assert.Contains(t, got.Result, "files_indexed")
}

func TestPool_LockConflictCoalesces(t *testing.T) {
	queue := newMemQueue()
	pool := NewPool(queue, 1, 10*time.Millisecond)
	pool.Register(domainTask.JobTypeIndex, funcHandler(func(ctx context.Context, job *domainTask.Job) (string, error) {
		return "", domainRAG.ErrRepositoryLocked
	}))

	job, err := domainTask.NewJob(domainTask.JobTypeIndex, "repo-1", domainTask.IndexPayload{})
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(job))

	stop := runPool(t, pool)
	defer stop()

	// 锁冲突合并为完成，不占用重试余量
	got := waitForStatus(t, queue, job.ID, domainTask.JobStatusCompleted)
	assert.Contains(t, got.Result, "coalesced")
	assert.Equal(t, 1, got.Attempts)
}

func TestPool_FailureRetriesWithBackoff(t *testing.T) {
	queue := newMemQueue()
	pool := NewPool(queue, 1, 10*time.Millisecond)
	pool.Register(domainTask.JobTypeIndex, funcHandler(func(ctx context.Context, job *domainTask.Job) (string, error) {
		return "", errors.New("transient failure")
	}))

	job, err := domainTask.NewJob(domainTask.JobTypeIndex, "repo-1", domainTask.IndexPayload{})
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(job))

	stop := runPool(t, pool)
	defer stop()

	// 提交时也是 queued 状态，以 LastError 出现为失败处理完成的标志
	var got *domainTask.Job
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err = queue.GetJob(job.ID)
		require.NoError(t, err)
		if got != nil && got.LastError != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.NotNil(t, got)
	assert.Equal(t, "transient failure", got.LastError)
	assert.Equal(t, domainTask.JobStatusQueued, got.Status)
	assert.Greater(t, got.NextRetryAt, time.Now().Unix(), "重试时间按退避后移")
}

func TestPool_UnknownJobType(t *testing.T) {
	queue := newMemQueue()
	pool := NewPool(queue, 1, 10*time.Millisecond)

	job, err := domainTask.NewJob("mystery", "repo-1", domainTask.IndexPayload{})
	require.NoError(t, err)
	// 耗尽重试余量，处理器缺失直接进入终态
	job.MaxAttempts = 1
	require.NoError(t, queue.Enqueue(job))

	stop := runPool(t, pool)
	defer stop()

	got := waitForStatus(t, queue, job.ID, domainTask.JobStatusFailed)
	assert.Contains(t, got.LastError, "no handler")
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, retryBaseDelay, backoffDelay(1))
	assert.Equal(t, 2*retryBaseDelay, backoffDelay(2))
	assert.Equal(t, 4*retryBaseDelay, backoffDelay(3))
	assert.Equal(t, retryMaxDelay, backoffDelay(60), "溢出退避按上限截断")
}

func TestService_SubmitIndexCoalesces(t *testing.T) {
	queue := newMemQueue()
	service := NewService(queue)

	job, coalesced, err := service.SubmitIndex("repo-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.False(t, coalesced)

	// 同仓库已有排队作业时不再入队
	dup, coalesced, err := service.SubmitIndex("repo-1")
	require.NoError(t, err)
	assert.Nil(t, dup)
	assert.True(t, coalesced)

	// 其他仓库不受影响
	other, coalesced, err := service.SubmitIndex("repo-2")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.False(t, coalesced)
}

func TestService_SubmitAnswer(t *testing.T) {
	queue := newMemQueue()
	service := NewService(queue)

	job, err := service.SubmitAnswer("repo-1", "how does auth work?", 3)
	require.NoError(t, err)
	require.NotNil(t, job)

	var payload domainTask.AnswerPayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, "how does auth work?", payload.Question)
	assert.Equal(t, 3, payload.TopK)
}
