package rag

// Answer 问答结果模型
// 由检索编排器生成，归属发起请求的消息实体
type Answer struct {
	ID           string // UUID
	RepositoryID string
	Question     string
	Text         string // 生成的回答文本
	Citations    []Citation // 按相关度排序的引用列表
	Model        string // 生成使用的模型
	PromptTokens int
	OutputTokens int
	CreatedAt    int64
}

// Citation 回答引用的代码片段来源
type Citation struct {
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	Symbol    string  `json:"symbol,omitempty"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
}

// AnswerStore 回答持久化接口
type AnswerStore interface {
	SaveAnswer(answer *Answer) error
	GetAnswer(id string) (*Answer, error)
	ListAnswersByRepository(repositoryID string, limit int) ([]*Answer, error)
}
