package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// testChunk 构造一个测试 chunk
func testChunk(repoID, path, symbol string, ordinal int) *domainRAG.Chunk {
	return &domainRAG.Chunk{
		ID:           domainRAG.NewChunkID(repoID, path, symbol, ordinal),
		RepositoryID: repoID,
		FilePath:     path,
		Symbol:       symbol,
		Kind:         domainRAG.ChunkKindFunction,
		Ordinal:      ordinal,
		StartLine:    ordinal*10 + 1,
		EndLine:      ordinal*10 + 10,
		Text:         "def " + symbol + "(): pass",
		ContentHash:  "hash-" + symbol,
	}
}

func TestChunkStore_SaveAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewChunkStore(db)

	a := testChunk("repo-1", "a.py", "foo", 0)
	b := testChunk("repo-1", "a.py", "bar", 1)
	require.NoError(t, store.SaveChunks([]*domainRAG.Chunk{a, b}))

	got, err := store.GetChunk(a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "foo", got.Symbol)
	assert.Equal(t, a.Text, got.Text)
	assert.Equal(t, 1, got.StartLine)

	batch, err := store.GetChunks([]string{a.ID, b.ID, "no-such-id"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	missing, err := store.GetChunk("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChunkStore_ListByFileOrderedByOrdinal(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewChunkStore(db)

	// 乱序写入
	require.NoError(t, store.SaveChunks([]*domainRAG.Chunk{
		testChunk("repo-1", "a.py", "third", 2),
		testChunk("repo-1", "a.py", "first", 0),
		testChunk("repo-1", "a.py", "second", 1),
		testChunk("repo-1", "b.py", "other", 0),
	}))

	chunks, err := store.ListChunksByFile("repo-1", "a.py")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "first", chunks[0].Symbol)
	assert.Equal(t, "second", chunks[1].Symbol)
	assert.Equal(t, "third", chunks[2].Symbol)
}

func TestChunkStore_DeleteByFileAndRepository(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewChunkStore(db)
	require.NoError(t, store.SaveChunks([]*domainRAG.Chunk{
		testChunk("repo-1", "a.py", "foo", 0),
		testChunk("repo-1", "b.py", "bar", 0),
		testChunk("repo-2", "c.py", "baz", 0),
	}))

	require.NoError(t, store.DeleteChunksByFile("repo-1", "a.py"))

	chunks, err := store.ListChunksByFile("repo-1", "a.py")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = store.ListChunksByFile("repo-1", "b.py")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	require.NoError(t, store.DeleteChunksByRepository("repo-1"))

	chunks, err = store.ListChunksByFile("repo-1", "b.py")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// 其他仓库不受影响
	chunks, err = store.ListChunksByFile("repo-2", "c.py")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestFileStore_RoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFileStore(db)

	file := &domainRAG.SourceFile{
		RepositoryID: "repo-1",
		Path:         "src/app.py",
		ContentHash:  "abc123",
		Language:     "python",
		ChunkCount:   4,
		Status:       domainRAG.FileStatusIndexed,
		IndexedAt:    1700000000,
	}
	require.NoError(t, store.SaveFile(file))

	got, err := store.GetFile("repo-1", "src/app.py")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Equal(t, 4, got.ChunkCount)
	assert.False(t, got.NeedsReindex("abc123"))
	assert.True(t, got.NeedsReindex("def456"))

	// 同主键重复保存是更新
	file.ContentHash = "def456"
	require.NoError(t, store.SaveFile(file))
	got, err = store.GetFile("repo-1", "src/app.py")
	require.NoError(t, err)
	assert.Equal(t, "def456", got.ContentHash)

	require.NoError(t, store.DeleteFile("repo-1", "src/app.py"))
	got, err = store.GetFile("repo-1", "src/app.py")
	require.NoError(t, err)
	assert.Nil(t, got)
}
