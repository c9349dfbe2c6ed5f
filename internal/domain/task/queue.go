package task

// Queue 持久化任务队列接口
// Dequeue 将取出的作业置为 running（租约语义），崩溃残留的 running
// 作业由 ResetStale 在进程启动时放回队列
type Queue interface {
	Enqueue(job *Job) error
	Dequeue(limit int) ([]*Job, error)
	Complete(jobID string, result string) error
	// Fail 记录一次失败；作业还有重试余量时按退避时间重新排队，
	// 否则进入终态 failed
	Fail(jobID string, errMsg string, retryAt int64) error
	Cancel(jobID string) error
	GetJob(jobID string) (*Job, error)
	// PendingForRepository 返回指定仓库处于 queued/running 的同类作业数，
	// 用于合并重复的索引请求
	PendingForRepository(repositoryID, jobType string) (int, error)
	ResetStale() (int, error)
}
