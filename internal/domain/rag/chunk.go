package rag

import (
	"fmt"

	"github.com/google/uuid"
)

// SourceFile 源文件模型
// 内容哈希变化时旧记录被整体替换，不做原地修改
type SourceFile struct {
	RepositoryID string // 所属仓库 ID
	Path         string // 仓库内相对路径（与 RepositoryID 共同构成主键）
	ContentHash  string // 文件内容 SHA-256
	Language     string // 语言标签，如 "python"、"go"
	ChunkCount   int    // 该文件产生的 chunk 数量
	Status       string // indexed/failed
	IndexedAt    int64  // 最后索引时间
}

// 文件索引状态常量
const (
	FileStatusIndexed = "indexed"
	FileStatusFailed  = "failed"
)

// NeedsReindex 判断文件是否需要重新索引
func (f *SourceFile) NeedsReindex(newHash string) bool {
	return f.ContentHash != newHash
}

// Chunk 代码片段模型
// 是检索的最小单位，对应向量集合中的一个点
type Chunk struct {
	ID           string // 确定性 UUID，同时作为向量点 ID
	RepositoryID string
	FilePath     string // 仓库内相对路径
	Symbol       string // 函数/类名，窗口分块时为空
	Kind         string // function/class/block/window
	Ordinal      int    // 在文件内的序号
	StartLine    int    // 起始行（1-based，含）
	EndLine      int    // 结束行（含）
	Text         string // 原始片段文本
	ContentHash  string // 片段文本 SHA-256，Embedding 缓存的键
}

// chunk 类型常量
const (
	ChunkKindFunction = "function"
	ChunkKindClass    = "class"
	ChunkKindBlock    = "block"
	ChunkKindWindow   = "window"
)

// chunkNamespace chunk ID 的 UUIDv5 命名空间
// 固定值保证同一 chunk 在任何进程中生成相同 ID
var chunkNamespace = uuid.MustParse("8f3c1d6a-54b2-4c58-9e1f-2a7d90c4e6b3")

// NewChunkID 生成确定性 chunk ID
// 由仓库 ID、文件路径、符号名和行号范围推导，内容不变时重新解析得到相同 ID
func NewChunkID(repositoryID, filePath, symbol string, ordinal int) string {
	name := fmt.Sprintf("%s|%s|%s|%d", repositoryID, filePath, symbol, ordinal)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// FileStore 源文件元数据存储接口
type FileStore interface {
	SaveFile(file *SourceFile) error
	GetFile(repositoryID, path string) (*SourceFile, error)
	ListFiles(repositoryID string) ([]*SourceFile, error)
	DeleteFile(repositoryID, path string) error
	DeleteFilesByRepository(repositoryID string) error
}

// ChunkStore chunk 元数据存储接口
type ChunkStore interface {
	SaveChunks(chunks []*Chunk) error
	GetChunk(id string) (*Chunk, error)
	GetChunks(ids []string) ([]*Chunk, error)
	ListChunksByFile(repositoryID, path string) ([]*Chunk, error)
	DeleteChunksByFile(repositoryID, path string) error
	DeleteChunksByRepository(repositoryID string) error
}
