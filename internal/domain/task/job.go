package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job 队列中的一个异步作业
// 索引作业与回答作业共用同一队列与同一工作池，公平调度
type Job struct {
	ID           string // UUID
	Type         string // index/answer
	RepositoryID string
	Payload      string // JSON 编码的作业参数
	Status       string // queued/running/completed/failed/cancelled
	Attempts     int    // 已执行次数
	MaxAttempts  int    // 重试上限
	NextRetryAt  int64  // 下次可执行时间（退避调度）
	Result       string // JSON 编码的执行结果
	LastError    string
	CreatedAt    int64
	UpdatedAt    int64
}

// 作业类型常量
const (
	JobTypeIndex  = "index"
	JobTypeAnswer = "answer"
)

// 作业状态常量
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// IndexPayload 索引作业参数
type IndexPayload struct {
	RepositoryID string `json:"repository_id"`
}

// AnswerPayload 回答作业参数
type AnswerPayload struct {
	RepositoryID string `json:"repository_id"`
	Question     string `json:"question"`
	TopK         int    `json:"top_k,omitempty"`
	MessageID    string `json:"message_id,omitempty"` // 发起请求的外部消息实体
}

// NewJob 创建一个待执行作业
func NewJob(jobType, repositoryID string, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	return &Job{
		ID:           uuid.New().String(),
		Type:         jobType,
		RepositoryID: repositoryID,
		Payload:      string(data),
		Status:       JobStatusQueued,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// DecodePayload 解码作业参数
func (j *Job) DecodePayload(v any) error {
	return json.Unmarshal([]byte(j.Payload), v)
}

// CanRetry 是否还有重试余量
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}
