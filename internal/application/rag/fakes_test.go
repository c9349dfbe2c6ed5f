package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// 本文件提供应用层测试共用的内存实现与脚本化外部客户端

var (
	_ domainRAG.RepositoryStore     = (*memRepositoryStore)(nil)
	_ domainRAG.FileStore           = (*memFileStore)(nil)
	_ domainRAG.ChunkStore          = (*memChunkStore)(nil)
	_ domainRAG.EmbeddingCacheStore = (*memEmbeddingCache)(nil)
	_ domainRAG.AnswerStore         = (*memAnswerStore)(nil)
	_ domainRAG.VectorIndex         = (*fakeVectorIndex)(nil)
	_ domainRAG.EmbeddingClient     = (*fakeEmbeddingClient)(nil)
	_ domainRAG.CompletionClient    = (*fakeCompletionClient)(nil)
)

// memRepositoryStore 内存仓库存储
// phases 记录状态更新经过的索引阶段，供断言状态机顺序
type memRepositoryStore struct {
	mu     sync.Mutex
	repos  map[string]*domainRAG.Repository
	phases []string
}

func newMemRepositoryStore() *memRepositoryStore {
	return &memRepositoryStore{repos: make(map[string]*domainRAG.Repository)}
}

func (s *memRepositoryStore) SaveRepository(repo *domainRAG.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *repo
	s.repos[repo.ID] = &copied
	return nil
}

func (s *memRepositoryStore) GetRepository(id string) (*domainRAG.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[id]
	if !ok || repo.Deleted {
		return nil, nil
	}
	copied := *repo
	return &copied, nil
}

func (s *memRepositoryStore) ListRepositories() ([]*domainRAG.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domainRAG.Repository
	for _, repo := range s.repos {
		if !repo.Deleted {
			copied := *repo
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memRepositoryStore) UpdateStatus(id, status, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.repos[id]; ok {
		repo.Status = status
		repo.Phase = phase
	}
	s.phases = append(s.phases, phase)
	return nil
}

// phaseHistory 依次经过的索引阶段
func (s *memRepositoryStore) phaseHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.phases...)
}

func (s *memRepositoryStore) UpdateIndexResult(id, status, revision string, fileCount, chunkCount int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.repos[id]; ok {
		repo.Status = status
		repo.LastRevision = revision
		repo.FileCount = fileCount
		repo.ChunkCount = chunkCount
		repo.LastError = lastError
	}
	return nil
}

func (s *memRepositoryStore) SoftDeleteRepository(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.repos[id]; ok {
		repo.Deleted = true
	}
	return nil
}

// memFileStore 内存文件元数据存储
type memFileStore struct {
	mu    sync.Mutex
	files map[string]*domainRAG.SourceFile // key: repoID + "|" + path
}

func newMemFileStore() *memFileStore {
	return &memFileStore{files: make(map[string]*domainRAG.SourceFile)}
}

func fileKey(repositoryID, path string) string {
	return repositoryID + "|" + path
}

func (s *memFileStore) SaveFile(file *domainRAG.SourceFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *file
	s.files[fileKey(file.RepositoryID, file.Path)] = &copied
	return nil
}

func (s *memFileStore) GetFile(repositoryID, path string) (*domainRAG.SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileKey(repositoryID, path)]
	if !ok {
		return nil, nil
	}
	copied := *file
	return &copied, nil
}

func (s *memFileStore) ListFiles(repositoryID string) ([]*domainRAG.SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domainRAG.SourceFile
	for _, file := range s.files {
		if file.RepositoryID == repositoryID {
			copied := *file
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memFileStore) DeleteFile(repositoryID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileKey(repositoryID, path))
	return nil
}

func (s *memFileStore) DeleteFilesByRepository(repositoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, file := range s.files {
		if file.RepositoryID == repositoryID {
			delete(s.files, key)
		}
	}
	return nil
}

// memChunkStore 内存 chunk 存储
type memChunkStore struct {
	mu     sync.Mutex
	chunks map[string]*domainRAG.Chunk
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{chunks: make(map[string]*domainRAG.Chunk)}
}

func (s *memChunkStore) SaveChunks(chunks []*domainRAG.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		copied := *chunk
		s.chunks[chunk.ID] = &copied
	}
	return nil
}

func (s *memChunkStore) GetChunk(id string) (*domainRAG.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk, ok := s.chunks[id]
	if !ok {
		return nil, nil
	}
	copied := *chunk
	return &copied, nil
}

func (s *memChunkStore) GetChunks(ids []string) ([]*domainRAG.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domainRAG.Chunk
	for _, id := range ids {
		if chunk, ok := s.chunks[id]; ok {
			copied := *chunk
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memChunkStore) ListChunksByFile(repositoryID, path string) ([]*domainRAG.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domainRAG.Chunk
	for _, chunk := range s.chunks {
		if chunk.RepositoryID == repositoryID && chunk.FilePath == path {
			copied := *chunk
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memChunkStore) DeleteChunksByFile(repositoryID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, chunk := range s.chunks {
		if chunk.RepositoryID == repositoryID && chunk.FilePath == path {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *memChunkStore) DeleteChunksByRepository(repositoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, chunk := range s.chunks {
		if chunk.RepositoryID == repositoryID {
			delete(s.chunks, id)
		}
	}
	return nil
}

// memEmbeddingCache 内存 Embedding 缓存
type memEmbeddingCache struct {
	mu      sync.Mutex
	vectors map[string][]float32
}

func newMemEmbeddingCache() *memEmbeddingCache {
	return &memEmbeddingCache{vectors: make(map[string][]float32)}
}

func (s *memEmbeddingCache) GetEmbeddings(contentHashes []string) (map[string][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]float32)
	for _, hash := range contentHashes {
		if v, ok := s.vectors[hash]; ok {
			out[hash] = v
		}
	}
	return out, nil
}

func (s *memEmbeddingCache) SaveEmbeddings(embeddings []*domainRAG.CachedEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		s.vectors[e.ContentHash] = e.Vector
	}
	return nil
}

func (s *memEmbeddingCache) CountEmbeddings() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vectors), nil
}

// memAnswerStore 内存回答存储
type memAnswerStore struct {
	mu      sync.Mutex
	answers map[string]*domainRAG.Answer
}

func newMemAnswerStore() *memAnswerStore {
	return &memAnswerStore{answers: make(map[string]*domainRAG.Answer)}
}

func (s *memAnswerStore) SaveAnswer(answer *domainRAG.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *answer
	s.answers[answer.ID] = &copied
	return nil
}

func (s *memAnswerStore) GetAnswer(id string) (*domainRAG.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answer, ok := s.answers[id]
	if !ok {
		return nil, nil
	}
	copied := *answer
	return &copied, nil
}

func (s *memAnswerStore) ListAnswersByRepository(repositoryID string, limit int) ([]*domainRAG.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domainRAG.Answer
	for _, answer := range s.answers {
		if answer.RepositoryID == repositoryID {
			copied := *answer
			out = append(out, &copied)
		}
	}
	return out, nil
}

// fakePoint 内存向量索引中的一个点
type fakePoint struct {
	filePath string
	vector   []float32
}

// fakeVectorIndex 内存向量索引
// 默认对写入的向量做真实的余弦相似度检索；设置 searchHits 时改走脚本
type fakeVectorIndex struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]map[string]fakePoint // repoID → chunkID → point
	upsertCalls int
	searchHits  []*domainRAG.ScoredChunk
	failWith    error
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{
		collections: make(map[string]bool),
		points:      make(map[string]map[string]fakePoint),
	}
}

func (f *fakeVectorIndex) EnsureCollection(ctx context.Context, repositoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.collections[repositoryID] = true
	if f.points[repositoryID] == nil {
		f.points[repositoryID] = make(map[string]fakePoint)
	}
	return nil
}

func (f *fakeVectorIndex) UpsertChunks(ctx context.Context, repositoryID string, chunks []*domainRAG.Chunk, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d != %d", len(chunks), len(vectors))
	}
	f.upsertCalls++
	if f.points[repositoryID] == nil {
		f.points[repositoryID] = make(map[string]fakePoint)
	}
	for i, chunk := range chunks {
		f.points[repositoryID][chunk.ID] = fakePoint{filePath: chunk.FilePath, vector: vectors[i]}
	}
	return nil
}

func (f *fakeVectorIndex) DeleteByFile(ctx context.Context, repositoryID, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	for id, point := range f.points[repositoryID] {
		if point.filePath == filePath {
			delete(f.points[repositoryID], id)
		}
	}
	return nil
}

func (f *fakeVectorIndex) DeleteRepository(ctx context.Context, repositoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, repositoryID)
	delete(f.points, repositoryID)
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, repositoryID string, vector []float32, limit int) ([]*domainRAG.ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.searchHits != nil {
		if limit < len(f.searchHits) {
			return f.searchHits[:limit], nil
		}
		return f.searchHits, nil
	}

	// 只检索本仓库集合内的点
	var hits []*domainRAG.ScoredChunk
	for id, point := range f.points[repositoryID] {
		hits = append(hits, &domainRAG.ScoredChunk{
			ChunkID: id,
			Score:   cosineSimilarity(vector, point.vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineSimilarity 两个向量的余弦相似度，零向量返回 0
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// pointCount 当前仓库的向量点数
func (f *fakeVectorIndex) pointCount(repositoryID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points[repositoryID])
}

// fakeEmbeddingClient 计数用的向量化客户端
// 每个文本返回确定性的字母频率向量，词面重叠的文本余弦相似度更高
type fakeEmbeddingClient struct {
	mu       sync.Mutex
	calls    int
	embedded []string
	failWith error
}

// embedText 26 个字母 + 数字 + 其他字符的出现频率
func embedText(text string) []float32 {
	vector := make([]float32, 28)
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z':
			vector[r-'a']++
		case r >= '0' && r <= '9':
			vector[26]++
		default:
			vector[27]++
		}
	}
	return vector
}

func (f *fakeEmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.calls++
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		f.embedded = append(f.embedded, text)
		vectors[i] = embedText(text)
	}
	return vectors, nil
}

func (f *fakeEmbeddingClient) Model() string {
	return "fake-embedding"
}

func (f *fakeEmbeddingClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbeddingClient) embeddedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embedded)
}

// fakeCompletionClient 脚本化的生成客户端
type fakeCompletionClient struct {
	mu       sync.Mutex
	reply    string
	prompts  []string
	failWith error
}

func (f *fakeCompletionClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, *domainRAG.CompletionUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", nil, f.failWith
	}
	f.prompts = append(f.prompts, userPrompt)
	return f.reply, &domainRAG.CompletionUsage{PromptTokens: 100, CompletionTokens: 20}, nil
}

func (f *fakeCompletionClient) Model() string {
	return "fake-llm"
}
