package rag

import (
	"sync"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// RepositoryLocks 单进程内的仓库级互斥锁
// 保证同一仓库任何时刻只有一个索引任务在运行
type RepositoryLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewRepositoryLocks 创建仓库锁管理器
func NewRepositoryLocks() *RepositoryLocks {
	return &RepositoryLocks{
		held: make(map[string]bool),
	}
}

// TryAcquire 尝试获取仓库锁，已被占用时返回 ErrRepositoryLocked
func (l *RepositoryLocks) TryAcquire(repositoryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[repositoryID] {
		return domainRAG.ErrRepositoryLocked
	}
	l.held[repositoryID] = true

	return nil
}

// Release 释放仓库锁
func (l *RepositoryLocks) Release(repositoryID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, repositoryID)
}
