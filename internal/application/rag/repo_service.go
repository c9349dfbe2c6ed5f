package rag

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// RepositoryService 仓库注册与查询服务
type RepositoryService struct {
	repoStore domainRAG.RepositoryStore
	logger    *slog.Logger
}

// NewRepositoryService 创建仓库服务
func NewRepositoryService(repoStore domainRAG.RepositoryStore) *RepositoryService {
	return &RepositoryService{
		repoStore: repoStore,
		logger:    log.NewModuleLogger("rag", "repository"),
	}
}

// Register 注册一个本地仓库，初始状态为 pending，等待首次索引
func (s *RepositoryService) Register(name, url, localPath string) (*domainRAG.Repository, error) {
	absPath, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access repository path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository path is not a directory: %s", absPath)
	}

	if name == "" {
		name = filepath.Base(absPath)
	}

	now := time.Now().Unix()
	repo := &domainRAG.Repository{
		ID:        uuid.New().String(),
		Name:      name,
		URL:       url,
		LocalPath: absPath,
		Status:    domainRAG.RepoStatusPending,
		Phase:     domainRAG.PhaseQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repoStore.SaveRepository(repo); err != nil {
		return nil, fmt.Errorf("failed to save repository: %w", err)
	}

	s.logger.Info("Repository registered", "repository_id", repo.ID, "name", name, "path", absPath)

	return repo, nil
}

// Get 查询单个仓库
func (s *RepositoryService) Get(id string) (*domainRAG.Repository, error) {
	repo, err := s.repoStore.GetRepository(id)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, domainRAG.ErrRepositoryNotFound
	}

	return repo, nil
}

// List 列出全部未删除仓库
func (s *RepositoryService) List() ([]*domainRAG.Repository, error) {
	return s.repoStore.ListRepositories()
}
