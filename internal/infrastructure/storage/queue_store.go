package storage

import (
	"database/sql"
	"time"

	domainTask "github.com/ragit/backend/internal/domain/task"
)

// 确保 QueueStoreImpl 实现了 domainTask.Queue 接口
var _ domainTask.Queue = (*QueueStoreImpl)(nil)

// QueueStoreImpl SQLite 持久化任务队列实现
type QueueStoreImpl struct {
	db *sql.DB
}

// NewQueueStore 创建任务队列实例
func NewQueueStore(db *sql.DB) domainTask.Queue {
	return &QueueStoreImpl{db: db}
}

// Enqueue 提交作业
func (r *QueueStoreImpl) Enqueue(job *domainTask.Job) error {
	query := `
		INSERT INTO task_queue (
			id, type, repository_id, payload, status, attempts,
			max_attempts, next_retry_at, result, last_error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(
		query,
		job.ID,
		job.Type,
		job.RepositoryID,
		job.Payload,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.NextRetryAt,
		job.Result,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)

	return err
}

// Dequeue 取出待执行作业并置为 running（租约）
// 候选由 SELECT 找出，认领由带 status 条件的 UPDATE 完成；
// 并发 worker 对同一作业只有一个 UPDATE 能生效，落选方跳过该作业
func (r *QueueStoreImpl) Dequeue(limit int) ([]*domainTask.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	now := time.Now().Unix()
	query := `
		SELECT id, type, repository_id, payload, status, attempts,
		       max_attempts, next_retry_at, result, last_error,
		       created_at, updated_at
		FROM task_queue
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := r.db.Query(query, domainTask.JobStatusQueued, now, limit)
	if err != nil {
		return nil, err
	}

	jobs, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	claimed := make([]*domainTask.Job, 0, len(jobs))
	for _, job := range jobs {
		res, err := r.db.Exec(
			`UPDATE task_queue SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ? AND status = ?`,
			domainTask.JobStatusRunning, now, job.ID, domainTask.JobStatusQueued,
		)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// 已被其他 worker 认领
			continue
		}
		job.Status = domainTask.JobStatusRunning
		job.Attempts++
		claimed = append(claimed, job)
	}

	return claimed, nil
}

// Complete 标记作业成功并记录结果
func (r *QueueStoreImpl) Complete(jobID string, result string) error {
	query := `
		UPDATE task_queue
		SET status = ?, result = ?, last_error = '', updated_at = ?
		WHERE id = ?`

	_, err := r.db.Exec(query, domainTask.JobStatusCompleted, result, time.Now().Unix(), jobID)
	return err
}

// Fail 记录一次失败
// 还有重试余量时按 retryAt 重新排队，否则进入终态 failed
func (r *QueueStoreImpl) Fail(jobID string, errMsg string, retryAt int64) error {
	job, err := r.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return sql.ErrNoRows
	}

	status := domainTask.JobStatusFailed
	if job.CanRetry() {
		status = domainTask.JobStatusQueued
	}

	query := `
		UPDATE task_queue
		SET status = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ?`

	_, err = r.db.Exec(query, status, errMsg, retryAt, time.Now().Unix(), jobID)
	return err
}

// Cancel 取消作业
// 只对尚未进入终态的作业生效
func (r *QueueStoreImpl) Cancel(jobID string) error {
	query := `
		UPDATE task_queue
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`

	_, err := r.db.Exec(
		query,
		domainTask.JobStatusCancelled,
		time.Now().Unix(),
		jobID,
		domainTask.JobStatusQueued,
		domainTask.JobStatusRunning,
	)
	return err
}

// GetJob 获取作业
func (r *QueueStoreImpl) GetJob(jobID string) (*domainTask.Job, error) {
	query := `
		SELECT id, type, repository_id, payload, status, attempts,
		       max_attempts, next_retry_at, result, last_error,
		       created_at, updated_at
		FROM task_queue
		WHERE id = ?`

	rows, err := r.db.Query(query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// PendingForRepository 指定仓库处于 queued/running 的同类作业数
func (r *QueueStoreImpl) PendingForRepository(repositoryID, jobType string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM task_queue
		WHERE repository_id = ? AND type = ? AND status IN (?, ?)`

	var count int
	err := r.db.QueryRow(
		query,
		repositoryID,
		jobType,
		domainTask.JobStatusQueued,
		domainTask.JobStatusRunning,
	).Scan(&count)

	return count, err
}

// ResetStale 将崩溃残留的 running 作业放回队列
// 在 worker 进程启动时调用一次
func (r *QueueStoreImpl) ResetStale() (int, error) {
	query := `
		UPDATE task_queue
		SET status = ?, updated_at = ?
		WHERE status = ?`

	result, err := r.db.Exec(query, domainTask.JobStatusQueued, time.Now().Unix(), domainTask.JobStatusRunning)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}

// scanJobs 扫描多行作业结果
func scanJobs(rows *sql.Rows) ([]*domainTask.Job, error) {
	var results []*domainTask.Job
	for rows.Next() {
		var job domainTask.Job
		err := rows.Scan(
			&job.ID,
			&job.Type,
			&job.RepositoryID,
			&job.Payload,
			&job.Status,
			&job.Attempts,
			&job.MaxAttempts,
			&job.NextRetryAt,
			&job.Result,
			&job.LastError,
			&job.CreatedAt,
			&job.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, &job)
	}

	return results, rows.Err()
}
