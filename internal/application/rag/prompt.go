package rag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// 在包初始化时设置离线加载器
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// systemPrompt 生成模型的系统提示词
const systemPrompt = `You are a code assistant. Answer the question using only the provided code context. ` +
	`Each context block is labeled with its source location as path:start-end. ` +
	`When you reference code, cite the source location. ` +
	`If the context does not contain enough information to answer, say so explicitly.`

// PromptBuilder 检索增强提示词构建器
// 按检索排名组装代码上下文，超出 token 预算时优先丢弃排名靠后的片段
type PromptBuilder struct {
	tokenBudget int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// NewPromptBuilder 创建提示词构建器
func NewPromptBuilder(tokenBudget int) *PromptBuilder {
	return &PromptBuilder{
		tokenBudget: tokenBudget,
	}
}

// encoding 惰性加载 cl100k_base 编码，避免重复读取编码文件
func (b *PromptBuilder) encoding() (*tiktoken.Tiktoken, error) {
	b.encOnce.Do(func() {
		b.enc, b.encErr = tiktoken.GetEncoding("cl100k_base")
	})

	return b.enc, b.encErr
}

// countTokens 计算文本的 token 数量
func (b *PromptBuilder) countTokens(text string) (int, error) {
	enc, err := b.encoding()
	if err != nil {
		return 0, fmt.Errorf("failed to load token encoding: %w", err)
	}

	return len(enc.Encode(text, nil, nil)), nil
}

// Build 组装系统提示与用户提示
// chunks 须按检索排名有序传入；返回实际纳入上下文的 chunk
func (b *PromptBuilder) Build(question string, chunks []*domainRAG.Chunk) (string, string, []*domainRAG.Chunk, error) {
	header := "Question: " + question + "\n\nCode context:\n"
	used, err := b.countTokens(header)
	if err != nil {
		return "", "", nil, err
	}

	var body strings.Builder
	var included []*domainRAG.Chunk
	for _, chunk := range chunks {
		block := formatContextBlock(chunk)
		blockTokens, err := b.countTokens(block)
		if err != nil {
			return "", "", nil, err
		}

		// 排名靠前的片段优先保留，预算耗尽后不再纳入更靠后的
		if len(included) > 0 && used+blockTokens > b.tokenBudget {
			break
		}
		used += blockTokens

		body.WriteString(block)
		included = append(included, chunk)
	}

	return systemPrompt, header + body.String(), included, nil
}

// formatContextBlock 格式化单个代码片段为带来源标注的上下文块
func formatContextBlock(chunk *domainRAG.Chunk) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("--- %s:%d-%d", chunk.FilePath, chunk.StartLine, chunk.EndLine))
	if chunk.Symbol != "" {
		sb.WriteString(" (" + chunk.Symbol + ")")
	}
	sb.WriteString(" ---\n")
	sb.WriteString(chunk.Text)
	if !strings.HasSuffix(chunk.Text, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
