package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

func TestEmbeddingCacheStore_SaveAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEmbeddingCacheStore(db)

	now := time.Now().Unix()
	require.NoError(t, store.SaveEmbeddings([]*domainRAG.CachedEmbedding{
		{ContentHash: "hash-a", Vector: []float32{0.1, -0.5, 2.75}, Model: "m1", CreatedAt: now},
		{ContentHash: "hash-b", Vector: []float32{1, 2, 3}, Model: "m1", CreatedAt: now},
	}))

	got, err := store.GetEmbeddings([]string{"hash-a", "hash-b", "hash-missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// 向量经 BLOB 编解码后逐元素一致
	assert.Equal(t, []float32{0.1, -0.5, 2.75}, got["hash-a"])
	assert.Equal(t, []float32{1, 2, 3}, got["hash-b"])
	assert.NotContains(t, got, "hash-missing")

	count, err := store.CountEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEmbeddingCacheStore_Idempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEmbeddingCacheStore(db)

	entry := &domainRAG.CachedEmbedding{ContentHash: "hash-a", Vector: []float32{1, 2}, Model: "m1"}
	require.NoError(t, store.SaveEmbeddings([]*domainRAG.CachedEmbedding{entry}))
	require.NoError(t, store.SaveEmbeddings([]*domainRAG.CachedEmbedding{entry}))

	count, err := store.CountEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEmbeddingCacheStore_EmptyQuery(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEmbeddingCacheStore(db)

	got, err := store.GetEmbeddings(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
