package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// AnswerService 检索增强问答编排器
// 向量化问题→仓库内检索→取回片段→组装提示→生成回答并落库
type AnswerService struct {
	repoStore   domainRAG.RepositoryStore
	chunkStore  domainRAG.ChunkStore
	answerStore domainRAG.AnswerStore
	embedder    *Embedder
	vectorIndex domainRAG.VectorIndex
	completion  domainRAG.CompletionClient
	prompts     *PromptBuilder
	topK        int
	logger      *slog.Logger
}

// NewAnswerService 创建问答编排器
func NewAnswerService(
	repoStore domainRAG.RepositoryStore,
	chunkStore domainRAG.ChunkStore,
	answerStore domainRAG.AnswerStore,
	embedder *Embedder,
	vectorIndex domainRAG.VectorIndex,
	completion domainRAG.CompletionClient,
	prompts *PromptBuilder,
	topK int,
) *AnswerService {
	return &AnswerService{
		repoStore:   repoStore,
		chunkStore:  chunkStore,
		answerStore: answerStore,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		completion:  completion,
		prompts:     prompts,
		topK:        topK,
		logger:      log.NewModuleLogger("rag", "answer"),
	}
}

// Answer 对指定仓库回答一个问题
// topK<=0 时使用服务默认值；仓库必须至少完成过一次索引
func (s *AnswerService) Answer(ctx context.Context, repositoryID, question string, topK int) (*domainRAG.Answer, error) {
	repo, err := s.repoStore.GetRepository(repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load repository: %w", err)
	}
	if repo == nil {
		return nil, domainRAG.ErrRepositoryNotFound
	}
	// 索引重建期间允许基于旧索引检索；只拒绝从未完成过索引的仓库
	if repo.Status != domainRAG.RepoStatusReady && repo.LastRevision == "" {
		return nil, fmt.Errorf("repository %s has no usable index (status: %s)", repositoryID, repo.Status)
	}

	if topK <= 0 {
		topK = s.topK
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	scored, err := s.vectorIndex.Search(ctx, repositoryID, queryVector, topK)
	if err != nil {
		return nil, err
	}

	chunks, scores, err := s.resolveChunks(scored)
	if err != nil {
		return nil, err
	}

	system, user, included, err := s.prompts.Build(question, chunks)
	if err != nil {
		return nil, err
	}

	text, usage, err := s.completion.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}

	answer := &domainRAG.Answer{
		ID:           uuid.New().String(),
		RepositoryID: repositoryID,
		Question:     question,
		Text:         text,
		Citations:    buildCitations(included, scores),
		Model:        s.completion.Model(),
		CreatedAt:    time.Now().Unix(),
	}
	if usage != nil {
		answer.PromptTokens = usage.PromptTokens
		answer.OutputTokens = usage.CompletionTokens
	}

	if err := s.answerStore.SaveAnswer(answer); err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}

	s.logger.Info("Question answered",
		"repository_id", repositoryID,
		"retrieved", len(scored),
		"cited", len(answer.Citations),
		"prompt_tokens", answer.PromptTokens,
	)

	return answer, nil
}

// resolveChunks 按检索顺序取回片段正文
// 向量库中存在但元数据缺失的 chunk 记日志后跳过，不中断问答
func (s *AnswerService) resolveChunks(scored []*domainRAG.ScoredChunk) ([]*domainRAG.Chunk, map[string]float32, error) {
	if len(scored) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, len(scored))
	scores := make(map[string]float32, len(scored))
	for i, sc := range scored {
		ids[i] = sc.ChunkID
		scores[sc.ChunkID] = sc.Score
	}

	found, err := s.chunkStore.GetChunks(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	byID := make(map[string]*domainRAG.Chunk, len(found))
	for _, chunk := range found {
		byID[chunk.ID] = chunk
	}

	chunks := make([]*domainRAG.Chunk, 0, len(scored))
	for _, sc := range scored {
		chunk, ok := byID[sc.ChunkID]
		if !ok {
			s.logger.Warn("Chunk referenced by index is missing", "chunk_id", sc.ChunkID, "error", domainRAG.ErrChunkMissing)
			continue
		}
		chunks = append(chunks, chunk)
	}

	return chunks, scores, nil
}

// buildCitations 由纳入上下文的片段构建引用列表，保持检索排名顺序
func buildCitations(chunks []*domainRAG.Chunk, scores map[string]float32) []domainRAG.Citation {
	citations := make([]domainRAG.Citation, len(chunks))
	for i, chunk := range chunks {
		citations[i] = domainRAG.Citation{
			ChunkID:   chunk.ID,
			FilePath:  chunk.FilePath,
			Symbol:    chunk.Symbol,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
			Score:     scores[chunk.ID],
		}
	}

	return citations
}
