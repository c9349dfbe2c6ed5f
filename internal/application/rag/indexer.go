package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// Indexer 仓库索引编排器
// 串联扫描、解析、向量化、写入四个阶段，按文件推进并保证每个文件
// 的向量与元数据一起提交，中途崩溃后可从已提交文件处续跑
type Indexer struct {
	repoStore   domainRAG.RepositoryStore
	fileStore   domainRAG.FileStore
	chunkStore  domainRAG.ChunkStore
	scanner     *Scanner
	chunkers    *ChunkerRegistry
	embedder    *Embedder
	vectorIndex domainRAG.VectorIndex
	locks       *RepositoryLocks
	logger      *slog.Logger
}

// NewIndexer 创建索引编排器
func NewIndexer(
	repoStore domainRAG.RepositoryStore,
	fileStore domainRAG.FileStore,
	chunkStore domainRAG.ChunkStore,
	scanner *Scanner,
	chunkers *ChunkerRegistry,
	embedder *Embedder,
	vectorIndex domainRAG.VectorIndex,
	locks *RepositoryLocks,
) *Indexer {
	return &Indexer{
		repoStore:   repoStore,
		fileStore:   fileStore,
		chunkStore:  chunkStore,
		scanner:     scanner,
		chunkers:    chunkers,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		locks:       locks,
		logger:      log.NewModuleLogger("rag", "indexer"),
	}
}

// IndexRepository 对仓库执行一次完整的增量索引
// 返回的报告包含逐文件失败明细；只有整体性故障（仓库不存在、
// 向量库不可用、上下文取消）才返回 error
func (idx *Indexer) IndexRepository(ctx context.Context, repositoryID string) (*domainRAG.IndexReport, error) {
	if err := idx.locks.TryAcquire(repositoryID); err != nil {
		return nil, err
	}
	defer idx.locks.Release(repositoryID)

	repo, err := idx.repoStore.GetRepository(repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load repository: %w", err)
	}
	if repo == nil {
		return nil, domainRAG.ErrRepositoryNotFound
	}

	prevStatus := repo.Status
	report := &domainRAG.IndexReport{
		RepositoryID: repositoryID,
		StartedAt:    time.Now().Unix(),
	}

	if err := idx.repoStore.UpdateStatus(repositoryID, domainRAG.RepoStatusIndexing, domainRAG.PhaseScanning); err != nil {
		return nil, fmt.Errorf("failed to update repository status: %w", err)
	}

	revision, err := idx.runIndex(ctx, repo, report)
	report.FinishedAt = time.Now().Unix()

	if err != nil {
		// 上下文取消不算失败，恢复进入前的状态以便重试
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if updateErr := idx.repoStore.UpdateStatus(repositoryID, prevStatus, domainRAG.PhaseQueued); updateErr != nil {
				idx.logger.Error("Failed to restore repository status after cancellation", "repository_id", repositoryID, "error", updateErr)
			}
			return report, err
		}

		idx.logger.Error("Indexing failed", "repository_id", repositoryID, "error", err)
		if updateErr := idx.repoStore.UpdateIndexResult(repositoryID, domainRAG.RepoStatusFailed, "", report.FilesIndexed, report.ChunksIndexed, err.Error()); updateErr != nil {
			idx.logger.Error("Failed to record indexing failure", "repository_id", repositoryID, "error", updateErr)
		}
		return report, err
	}

	if err := idx.repoStore.UpdateIndexResult(repositoryID, domainRAG.RepoStatusReady, revision, report.FilesScanned, report.ChunksIndexed, ""); err != nil {
		return report, fmt.Errorf("failed to record indexing result: %w", err)
	}

	idx.logger.Info("Indexing completed",
		"repository_id", repositoryID,
		"files_scanned", report.FilesScanned,
		"files_indexed", report.FilesIndexed,
		"files_skipped", report.FilesSkipped,
		"files_deleted", report.FilesDeleted,
		"chunks_indexed", report.ChunksIndexed,
		"failures", len(report.Failures),
	)

	return report, nil
}

// runIndex 执行扫描之后的各阶段，返回仓库修订号与整体性故障
func (idx *Indexer) runIndex(ctx context.Context, repo *domainRAG.Repository, report *domainRAG.IndexReport) (string, error) {
	scan, err := idx.scanner.ScanRepository(repo.LocalPath)
	if err != nil {
		return "", err
	}
	report.FilesScanned = len(scan.Files)
	report.Warnings = append(report.Warnings, scan.Warnings...)

	if err := idx.vectorIndex.EnsureCollection(ctx, repo.ID); err != nil {
		return "", err
	}

	stored, err := idx.fileStore.ListFiles(repo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list indexed files: %w", err)
	}
	storedByPath := make(map[string]*domainRAG.SourceFile, len(stored))
	for _, f := range stored {
		storedByPath[f.Path] = f
	}

	if err := idx.repoStore.UpdateStatus(repo.ID, domainRAG.RepoStatusIndexing, domainRAG.PhaseParsing); err != nil {
		return "", fmt.Errorf("failed to update repository status: %w", err)
	}

	scanned := make(map[string]bool, len(scan.Files))
	embeddingStarted := false
	for _, file := range scan.Files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		scanned[file.Path] = true

		prev := storedByPath[file.Path]
		if prev != nil && prev.Status == domainRAG.FileStatusIndexed && !prev.NeedsReindex(file.ContentHash) {
			report.FilesSkipped++
			continue
		}

		// 进入第一个需要重建的文件时切换到向量化阶段
		if !embeddingStarted {
			if err := idx.repoStore.UpdateStatus(repo.ID, domainRAG.RepoStatusIndexing, domainRAG.PhaseEmbedding); err != nil {
				return "", fmt.Errorf("failed to update repository status: %w", err)
			}
			embeddingStarted = true
		}

		if err := idx.indexFile(ctx, repo.ID, file); err != nil {
			// 向量库不可用视为整体故障，单文件问题只记入报告
			if errors.Is(err, domainRAG.ErrIndexUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			report.AddFailure(file.Path, failurePhase(err), err)
			idx.markFileFailed(repo.ID, file)
			continue
		}
		report.FilesIndexed++
	}

	if err := idx.repoStore.UpdateStatus(repo.ID, domainRAG.RepoStatusIndexing, domainRAG.PhaseUpserting); err != nil {
		return "", fmt.Errorf("failed to update repository status: %w", err)
	}

	// 清理上次索引过但本次不存在的文件
	for path := range storedByPath {
		if scanned[path] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := idx.removeFile(ctx, repo.ID, path); err != nil {
			return "", err
		}
		report.FilesDeleted++
	}

	files, err := idx.fileStore.ListFiles(repo.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list indexed files: %w", err)
	}
	chunkTotal := 0
	for _, f := range files {
		chunkTotal += f.ChunkCount
	}
	report.ChunksIndexed = chunkTotal

	return computeRevision(files), nil
}

// indexFile 索引单个文件：解析→向量化→写向量库→提交元数据
// 元数据最后提交，保证崩溃后该文件会被整体重做而不会半残
func (idx *Indexer) indexFile(ctx context.Context, repositoryID string, file *ScannedFile) error {
	content, err := os.ReadFile(file.AbsPath)
	if err != nil {
		return &domainRAG.ParseError{Path: file.Path, Err: err}
	}

	// 解析失败会降级为滑窗切分，parseErr 仅作记录
	chunks, parseErr := idx.chunkers.ChunkFile(repositoryID, file.Path, file.Language, string(content))
	if parseErr != nil {
		idx.logger.Warn("Parser degraded to window chunking", "path", file.Path, "error", parseErr)
	}
	if len(chunks) > 0 {
		vectors, err := idx.embedder.EmbedChunks(ctx, chunks)
		if err != nil {
			return err
		}

		// 先删旧向量再写新向量，避免残留已删除符号
		if err := idx.vectorIndex.DeleteByFile(ctx, repositoryID, file.Path); err != nil {
			return err
		}
		if err := idx.vectorIndex.UpsertChunks(ctx, repositoryID, chunks, vectors); err != nil {
			return err
		}
	}

	if err := idx.chunkStore.DeleteChunksByFile(repositoryID, file.Path); err != nil {
		return fmt.Errorf("failed to delete stale chunks: %w", err)
	}
	if err := idx.chunkStore.SaveChunks(chunks); err != nil {
		return fmt.Errorf("failed to save chunks: %w", err)
	}

	record := &domainRAG.SourceFile{
		RepositoryID: repositoryID,
		Path:         file.Path,
		ContentHash:  file.ContentHash,
		Language:     file.Language,
		ChunkCount:   len(chunks),
		Status:       domainRAG.FileStatusIndexed,
		IndexedAt:    time.Now().Unix(),
	}
	if err := idx.fileStore.SaveFile(record); err != nil {
		return fmt.Errorf("failed to save file record: %w", err)
	}

	return nil
}

// markFileFailed 记录文件级失败，下次索引时会重试该文件
func (idx *Indexer) markFileFailed(repositoryID string, file *ScannedFile) {
	record := &domainRAG.SourceFile{
		RepositoryID: repositoryID,
		Path:         file.Path,
		ContentHash:  "",
		Language:     file.Language,
		ChunkCount:   0,
		Status:       domainRAG.FileStatusFailed,
		IndexedAt:    time.Now().Unix(),
	}
	if err := idx.fileStore.SaveFile(record); err != nil {
		idx.logger.Error("Failed to record file failure", "path", file.Path, "error", err)
	}
}

// removeFile 清除已删除文件的向量与元数据
func (idx *Indexer) removeFile(ctx context.Context, repositoryID, path string) error {
	if err := idx.vectorIndex.DeleteByFile(ctx, repositoryID, path); err != nil {
		return err
	}
	if err := idx.chunkStore.DeleteChunksByFile(repositoryID, path); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := idx.fileStore.DeleteFile(repositoryID, path); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	return nil
}

// RemoveRepository 删除仓库的全部索引数据
func (idx *Indexer) RemoveRepository(ctx context.Context, repositoryID string) error {
	if err := idx.locks.TryAcquire(repositoryID); err != nil {
		return err
	}
	defer idx.locks.Release(repositoryID)

	if err := idx.vectorIndex.DeleteRepository(ctx, repositoryID); err != nil {
		return err
	}
	if err := idx.chunkStore.DeleteChunksByRepository(repositoryID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := idx.fileStore.DeleteFilesByRepository(repositoryID); err != nil {
		return fmt.Errorf("failed to delete file records: %w", err)
	}
	if err := idx.repoStore.SoftDeleteRepository(repositoryID); err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}

	idx.logger.Info("Repository removed", "repository_id", repositoryID)

	return nil
}

// failurePhase 按错误类型归类文件级失败发生的阶段
func failurePhase(err error) string {
	var parseErr *domainRAG.ParseError
	if errors.As(err, &parseErr) {
		return domainRAG.PhaseParsing
	}
	var embedErr *domainRAG.EmbeddingError
	if errors.As(err, &embedErr) {
		return domainRAG.PhaseEmbedding
	}
	return domainRAG.PhaseUpserting
}

// computeRevision 由文件路径与内容哈希计算仓库整体版本号
// 文件集合与内容完全一致时版本号一致
func computeRevision(files []*domainRAG.SourceFile) string {
	if len(files) == 0 {
		return ""
	}

	lines := make([]string, len(files))
	for i, f := range files {
		lines[i] = f.Path + "\x00" + f.ContentHash
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))

	return hex.EncodeToString(sum[:])
}
