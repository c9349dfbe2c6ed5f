package rag

import (
	"fmt"
	"strings"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// Piece 分块器的输出单元，尚未绑定仓库与文件元数据
type Piece struct {
	Symbol    string
	Kind      string
	StartLine int // 1-based，含
	EndLine   int // 含
	Text      string
}

// Chunker 分块能力接口
// 每种支持的语言一个实现，未覆盖的语言使用窗口分块兜底
type Chunker interface {
	Chunk(content string) ([]Piece, error)
}

// ChunkerRegistry 按语言标签选择分块器
type ChunkerRegistry struct {
	byLanguage map[string]Chunker
	fallback   Chunker
}

// NewChunkerRegistry 创建分块器注册表
// windowSize/windowOverlap 是窗口分块的行数与重叠行数
func NewChunkerRegistry(windowSize, windowOverlap int) *ChunkerRegistry {
	if windowSize <= 0 {
		windowSize = 60
	}
	if windowOverlap < 0 || windowOverlap >= windowSize {
		windowOverlap = windowSize / 6
	}

	fallback := &windowChunker{size: windowSize, overlap: windowOverlap}

	return &ChunkerRegistry{
		byLanguage: map[string]Chunker{
			"python": &pythonChunker{fallback: fallback},
			"go":     &goChunker{fallback: fallback},
		},
		fallback: fallback,
	}
}

// ChunkerFor 返回语言对应的分块器，无专用实现时返回窗口分块器
func (r *ChunkerRegistry) ChunkerFor(language string) Chunker {
	if c, ok := r.byLanguage[language]; ok {
		return c
	}
	return r.fallback
}

// ChunkFile 对一个文件执行分块并绑定元数据
// 语言分块器失败时降级到窗口分块，返回 ParseError 作为警告；
// 非空文件保证至少产生一个 chunk
func (r *ChunkerRegistry) ChunkFile(repositoryID, path, language, content string) ([]*domainRAG.Chunk, *domainRAG.ParseError) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var parseErr *domainRAG.ParseError

	pieces, err := r.ChunkerFor(language).Chunk(content)
	if err != nil || len(pieces) == 0 {
		if err != nil {
			parseErr = &domainRAG.ParseError{Path: path, Err: err}
		}
		pieces, _ = r.fallback.Chunk(content)
	}

	chunks := make([]*domainRAG.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &domainRAG.Chunk{
			ID:           domainRAG.NewChunkID(repositoryID, path, piece.Symbol, i),
			RepositoryID: repositoryID,
			FilePath:     path,
			Symbol:       piece.Symbol,
			Kind:         piece.Kind,
			Ordinal:      i,
			StartLine:    piece.StartLine,
			EndLine:      piece.EndLine,
			Text:         piece.Text,
			ContentHash:  HashText(piece.Text),
		}
	}

	return chunks, parseErr
}

// splitLines 按行拆分，保留每行原文（不含换行符）
func splitLines(content string) []string {
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
}

// boundary 语言分块器识别出的一个顶层定义起点
type boundary struct {
	line   int // 0-based 行号（含修饰行）
	symbol string
	kind   string
}

// piecesFromBoundaries 按边界切分行序列
// 第一个边界之前的内容作为模块级 block
func piecesFromBoundaries(lines []string, boundaries []boundary) []Piece {
	var pieces []Piece

	if len(boundaries) == 0 {
		text := strings.Join(lines, "\n")
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []Piece{{
			Kind:      domainRAG.ChunkKindBlock,
			StartLine: 1,
			EndLine:   len(lines),
			Text:      text,
		}}
	}

	if boundaries[0].line > 0 {
		text := strings.Join(lines[:boundaries[0].line], "\n")
		if strings.TrimSpace(text) != "" {
			pieces = append(pieces, Piece{
				Kind:      domainRAG.ChunkKindBlock,
				StartLine: 1,
				EndLine:   boundaries[0].line,
				Text:      text,
			})
		}
	}

	for i, b := range boundaries {
		end := len(lines)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].line
		}

		text := strings.Join(lines[b.line:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		pieces = append(pieces, Piece{
			Symbol:    b.symbol,
			Kind:      b.kind,
			StartLine: b.line + 1,
			EndLine:   end,
			Text:      text,
		})
	}

	return pieces
}

// pythonChunker Python 顶层 def/class 边界分块
type pythonChunker struct {
	fallback Chunker
}

// Chunk 按顶层 def/class 切分
// 紧邻的装饰器行并入其后的定义
func (c *pythonChunker) Chunk(content string) ([]Piece, error) {
	lines := splitLines(content)

	var boundaries []boundary
	decoratorStart := -1

	for i, line := range lines {
		if len(line) == 0 || line[0] == ' ' || line[0] == '\t' {
			continue
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "@") {
			if decoratorStart < 0 {
				decoratorStart = i
			}
			continue
		}

		symbol, kind := pythonDefinition(trimmed)
		if symbol == "" {
			decoratorStart = -1
			continue
		}

		start := i
		if decoratorStart >= 0 {
			start = decoratorStart
		}
		decoratorStart = -1

		boundaries = append(boundaries, boundary{line: start, symbol: symbol, kind: kind})
	}

	pieces := piecesFromBoundaries(lines, boundaries)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("no top-level definitions found")
	}

	return pieces, nil
}

// pythonDefinition 解析顶层定义行，返回符号名与类型
func pythonDefinition(line string) (symbol, kind string) {
	switch {
	case strings.HasPrefix(line, "def "):
		return pythonIdentifier(line[len("def "):]), domainRAG.ChunkKindFunction
	case strings.HasPrefix(line, "async def "):
		return pythonIdentifier(line[len("async def "):]), domainRAG.ChunkKindFunction
	case strings.HasPrefix(line, "class "):
		return pythonIdentifier(line[len("class "):]), domainRAG.ChunkKindClass
	}
	return "", ""
}

// pythonIdentifier 截取标识符，到 ( 或 : 为止
func pythonIdentifier(s string) string {
	for i, r := range s {
		if r == '(' || r == ':' || r == ' ' {
			return s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// goChunker Go 顶层 func/type 边界分块
type goChunker struct {
	fallback Chunker
}

// Chunk 按顶层 func/type 声明切分
// import/const/var 前导部分作为模块级 block
func (c *goChunker) Chunk(content string) ([]Piece, error) {
	lines := splitLines(content)

	var boundaries []boundary
	for i, line := range lines {
		if len(line) == 0 || line[0] == ' ' || line[0] == '\t' {
			continue
		}

		switch {
		case strings.HasPrefix(line, "func "):
			boundaries = append(boundaries, boundary{
				line:   i,
				symbol: goFuncName(line),
				kind:   domainRAG.ChunkKindFunction,
			})
		case strings.HasPrefix(line, "type "):
			rest := strings.TrimPrefix(line, "type ")
			if idx := strings.IndexAny(rest, " \t"); idx > 0 {
				boundaries = append(boundaries, boundary{
					line:   i,
					symbol: rest[:idx],
					kind:   domainRAG.ChunkKindClass,
				})
			}
		}
	}

	pieces := piecesFromBoundaries(lines, boundaries)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("no top-level declarations found")
	}

	return pieces, nil
}

// goFuncName 从函数声明行提取名字，方法名带接收者类型前缀
func goFuncName(line string) string {
	rest := strings.TrimPrefix(line, "func ")

	receiver := ""
	if strings.HasPrefix(rest, "(") {
		end := strings.Index(rest, ")")
		if end < 0 {
			return ""
		}
		recv := strings.TrimSpace(rest[1:end])
		recv = strings.TrimPrefix(recv[strings.LastIndex(recv, " ")+1:], "*")
		receiver = recv + "."
		rest = strings.TrimSpace(rest[end+1:])
	}

	for i, r := range rest {
		if r == '(' || r == '[' || r == ' ' {
			return receiver + rest[:i]
		}
	}
	return receiver + rest
}

// windowChunker 固定行窗口分块，作为所有语言的兜底策略
type windowChunker struct {
	size    int
	overlap int
}

// Chunk 按固定行窗口加重叠切分，任何非空输入至少产生一个 chunk
func (c *windowChunker) Chunk(content string) ([]Piece, error) {
	lines := splitLines(content)

	var pieces []Piece
	step := c.size - c.overlap

	for start := 0; start < len(lines); start += step {
		end := start + c.size
		if end > len(lines) {
			end = len(lines)
		}

		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			pieces = append(pieces, Piece{
				Kind:      domainRAG.ChunkKindWindow,
				StartLine: start + 1,
				EndLine:   end,
				Text:      text,
			})
		}

		if end == len(lines) {
			break
		}
	}

	return pieces, nil
}
