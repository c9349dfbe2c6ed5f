package rag

import (
	"errors"
	"fmt"
)

// 索引与检索管线的错误分类
// 可恢复错误用哨兵值表示，携带上下文的错误用包装类型表示
var (
	// ErrIndexUnavailable 向量索引不可达，调用方应重试
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrChunkMissing 检索返回的 chunk 在元数据存储中不存在
	// 软性不一致：记录日志并从提示词中排除，不中断回答
	ErrChunkMissing = errors.New("chunk not found in metadata store")

	// ErrRepositoryLocked 同一仓库已有索引作业在执行
	// 直接返回给重复提交的调用方，不重试
	ErrRepositoryLocked = errors.New("repository is already being indexed")

	// ErrRepositoryNotFound 仓库不存在或已被软删除
	ErrRepositoryNotFound = errors.New("repository not found")
)

// ScanError 仓库根目录不可读，对整个作业致命
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("failed to scan repository root %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ParseError 单文件解析失败
// 永不致命：记录后降级到窗口分块
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmbeddingError 一个批次在重试耗尽后向量化失败
// 对所在文件致命，对整个作业是部分失败
type EmbeddingError struct {
	BatchSize int
	Err       error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("failed to embed batch of %d texts: %v", e.BatchSize, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError 生成模型调用在重试耗尽后失败，对单个回答请求致命
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("failed to generate answer with %s: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
