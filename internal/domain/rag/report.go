package rag

// IndexReport 一次索引作业的运行报告
// 单文件失败累积在 Failures 中，不导致整个作业失败
type IndexReport struct {
	RepositoryID  string        `json:"repository_id"`
	FilesScanned  int           `json:"files_scanned"`
	FilesIndexed  int           `json:"files_indexed"`
	FilesSkipped  int           `json:"files_skipped"`
	FilesDeleted  int           `json:"files_deleted"`
	ChunksIndexed int           `json:"chunks_indexed"`
	Failures      []FileFailure `json:"failures,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	StartedAt     int64         `json:"started_at"`
	FinishedAt    int64         `json:"finished_at"`
}

// FileFailure 单个文件的索引失败记录
type FileFailure struct {
	Path  string `json:"path"`
	Phase string `json:"phase"`
	Error string `json:"error"`
}

// AddFailure 记录一个文件级失败
func (r *IndexReport) AddFailure(path, phase string, err error) {
	r.Failures = append(r.Failures, FileFailure{
		Path:  path,
		Phase: phase,
		Error: err.Error(),
	})
}

// HasFailures 是否存在文件级失败
func (r *IndexReport) HasFailures() bool {
	return len(r.Failures) > 0
}
