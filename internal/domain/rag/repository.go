package rag

// Repository 代码仓库模型
// 一个仓库对应本地文件系统上的一个工作树，索引后对应一个向量集合
type Repository struct {
	ID            string // UUID
	Name          string // 仓库名称
	URL           string // 远程地址（可为空，本地仓库）
	LocalPath     string // 本地工作树路径
	Status        string // pending/indexing/ready/failed
	Phase         string // 当前索引阶段（仅 Status=indexing 时有意义）
	LastRevision  string // 最后一次索引的修订标识
	FileCount     int    // 已索引文件数
	ChunkCount    int    // 已索引 chunk 数
	LastError     string // 最后一次索引失败的错误信息
	Deleted       bool   // 软删除标记
	CreatedAt     int64
	UpdatedAt     int64
	LastIndexedAt int64
}

// 仓库索引状态常量
const (
	RepoStatusPending  = "pending"
	RepoStatusIndexing = "indexing"
	RepoStatusReady    = "ready"
	RepoStatusFailed   = "failed"
)

// 索引阶段常量，与索引作业的状态机一致
const (
	PhaseQueued    = "queued"
	PhaseScanning  = "scanning"
	PhaseParsing   = "parsing"
	PhaseEmbedding = "embedding"
	PhaseUpserting = "upserting"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// RepositoryStore 仓库元数据存储接口
type RepositoryStore interface {
	SaveRepository(repo *Repository) error
	GetRepository(id string) (*Repository, error)
	ListRepositories() ([]*Repository, error)
	UpdateStatus(id, status, phase string) error
	UpdateIndexResult(id, status, revision string, fileCount, chunkCount int, lastError string) error
	SoftDeleteRepository(id string) error
}
