package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// promptChunk 构造一个带行号范围的测试 chunk
func promptChunk(path, symbol string, start, end int, text string) *domainRAG.Chunk {
	return &domainRAG.Chunk{
		ID:        domainRAG.NewChunkID("r1", path, symbol, 0),
		FilePath:  path,
		Symbol:    symbol,
		StartLine: start,
		EndLine:   end,
		Text:      text,
	}
}

func TestPromptBuilder_Provenance(t *testing.T) {
	builder := NewPromptBuilder(6000)

	chunks := []*domainRAG.Chunk{
		promptChunk("src/auth.py", "login", 10, 25, "def login():\n    pass"),
		promptChunk("src/db.py", "", 1, 60, "connection = None"),
	}

	system, user, included, err := builder.Build("how does login work?", chunks)
	require.NoError(t, err)
	require.Len(t, included, 2)

	assert.NotEmpty(t, system)
	assert.Contains(t, user, "how does login work?")

	// 每个片段带 path:start-end 来源标注
	assert.Contains(t, user, "src/auth.py:10-25")
	assert.Contains(t, user, "(login)")
	assert.Contains(t, user, "src/db.py:1-60")
}

func TestPromptBuilder_BudgetDropsLowestRanked(t *testing.T) {
	// 预算只够放下第一个片段
	builder := NewPromptBuilder(120)

	long := strings.Repeat("def helper(): return compute_something_useful()\n", 10)
	chunks := []*domainRAG.Chunk{
		promptChunk("a.py", "first", 1, 10, long),
		promptChunk("b.py", "second", 1, 10, long),
		promptChunk("c.py", "third", 1, 10, long),
	}

	_, user, included, err := builder.Build("question", chunks)
	require.NoError(t, err)

	require.Len(t, included, 1, "超预算时丢弃排名靠后的片段")
	assert.Equal(t, "first", included[0].Symbol)
	assert.Contains(t, user, "a.py:1-10")
	assert.NotContains(t, user, "c.py:1-10")
}

func TestPromptBuilder_TopChunkAlwaysIncluded(t *testing.T) {
	// 预算小于单个片段时仍保留排名第一的片段
	builder := NewPromptBuilder(10)

	chunks := []*domainRAG.Chunk{
		promptChunk("a.py", "big", 1, 100, strings.Repeat("line of code here\n", 50)),
	}

	_, user, included, err := builder.Build("question", chunks)
	require.NoError(t, err)
	require.Len(t, included, 1)
	assert.Contains(t, user, "a.py:1-100")
}

func TestPromptBuilder_NoChunks(t *testing.T) {
	builder := NewPromptBuilder(6000)

	system, user, included, err := builder.Build("anything indexed?", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, system)
	assert.Contains(t, user, "anything indexed?")
	assert.Empty(t, included)
}
